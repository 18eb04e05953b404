package app

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidPINFormat is returned when a submitted PIN is not exactly four digits.
	ErrInvalidPINFormat = errors.New("transaction pin must be exactly 4 digits")
	// ErrWalletNotSetup is returned when an operation requires a funded wallet
	// but the owner has never completed a successful deposit.
	ErrWalletNotSetup = errors.New("wallet is not set up")
)

// InsufficientBalanceError reports a withdrawal whose amount plus fee exceeds
// the available balance. Both figures are kobo so the caller can show the
// shortfall.
type InsufficientBalanceError struct {
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %d, available %d", e.Required, e.Available)
}

// InvalidPINError reports a failed PIN check along with how many attempts
// remain before lockout.
type InvalidPINError struct {
	AttemptsRemaining int
}

func (e *InvalidPINError) Error() string {
	return fmt.Sprintf("invalid transaction pin: %d attempts remaining", e.AttemptsRemaining)
}

// PINLockedError reports that PIN verification is locked out until RetryAfter.
type PINLockedError struct {
	RetryAfter time.Time
}

func (e *PINLockedError) Error() string {
	minutes := int(math.Ceil(time.Until(e.RetryAfter).Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("transaction pin locked: try again in %d minutes", minutes)
}

// LimitExceededError reports a withdrawal that violates the owner's limit
// policy. Scope is one of "transaction", "daily" or "monthly".
type LimitExceededError struct {
	Scope     string
	Used      int64
	Requested int64
	Max       int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s withdrawal limit exceeded: used %d, requested %d, max %d", e.Scope, e.Used, e.Requested, e.Max)
}

// PendingTransactionError reports that an open transaction blocks a new one,
// naming the blocking reference so the caller can resume or verify it.
type PendingTransactionError struct {
	Reference string
}

func (e *PendingTransactionError) Error() string {
	return fmt.Sprintf("a pending transaction exists: %s", e.Reference)
}

// RateLimitedError reports that the owner exceeded a request rate limit.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %d seconds", e.RetryAfterSeconds)
}

// GatewayError wraps a failure from the payment gateway so handlers can map
// it to a 502 without losing the underlying cause.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
