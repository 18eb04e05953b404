/**
 * @description
 * This file defines the transaction ledger domain model and the data
 * transfer objects (DTOs) used by the wallet-service API layer.
 *
 * @notes
 * - Every money movement is recorded as a Transaction before the payment
 *   gateway is called; the `Reference` is generated locally, is globally
 *   unique, and is never reused: a retried attempt always gets a fresh
 *   reference because the gateway rejects duplicates.
 * - Status transitions are monotonic forward: pending → processing →
 *   {successful | failed}. Terminal states are never left.
 */

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Transaction directions.
const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"
)

// Transaction categories.
const (
	CategoryDeposit    = "deposit"
	CategoryWithdrawal = "withdrawal"
	CategoryPurchase   = "purchase"
	CategoryRefund     = "refund"
)

// Transaction statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
)

// Transaction is the immutable ledger record for one money-movement attempt.
// This struct maps directly to the `transactions` table in the database.
type Transaction struct {
	ID               uuid.UUID       `json:"id"`
	WalletID         uuid.UUID       `json:"wallet_id"`
	OwnerID          uuid.UUID       `json:"owner_id"`
	Direction        string          `json:"direction"`
	Category         string          `json:"category"`
	Status           string          `json:"status"`
	Amount           int64           `json:"amount"`     // in kobo
	Fee              int64           `json:"fee"`        // in kobo
	NetAmount        int64           `json:"net_amount"` // in kobo
	Currency         string          `json:"currency"`
	Reference        string          `json:"reference"`
	GatewayReference *string         `json:"gateway_reference,omitempty"`
	GatewayPayload   json.RawMessage `json:"-"`
	FailureReason    *string         `json:"failure_reason,omitempty"`
	InitiatedAt      time.Time       `json:"initiated_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	FailedAt         *time.Time      `json:"failed_at,omitempty"`
}

// IsTerminal reports whether the transaction has reached a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == StatusSuccessful || t.Status == StatusFailed
}

// DepositRequest is the DTO for deposit initiation. Amount is in naira and
// is converted to kobo (rejecting sub-kobo precision) before any side effect.
type DepositRequest struct {
	Amount float64 `json:"amount"` // in naira
}

// WithdrawalRequest is the DTO for withdrawal initiation.
type WithdrawalRequest struct {
	Amount         float64   `json:"amount"` // in naira
	BankAccountID  uuid.UUID `json:"bank_account_id"`
	TransactionPIN string    `json:"transaction_pin"`
}

// SetPINRequest is the DTO for creating a transaction PIN.
type SetPINRequest struct {
	PIN string `json:"pin"`
}

// CreateBankAccountRequest is the DTO for saving a withdrawal destination.
type CreateBankAccountRequest struct {
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	AccountName   string `json:"account_name"`
}

// DepositInitResponse is returned once a deposit has been registered with
// the payment gateway; the client completes payment at AuthorizationURL.
type DepositInitResponse struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"` // in kobo
	Fee              int64  `json:"fee"`    // in kobo
	NetAmount        int64  `json:"net_amount"`
}

// WithdrawalInitResponse is returned once a transfer has been initiated.
type WithdrawalInitResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"` // in kobo
	Fee       int64  `json:"fee"`    // in kobo
	NetAmount int64  `json:"net_amount"`
}

// TransactionListOptions controls pagination for transaction history.
type TransactionListOptions struct {
	Limit    int
	Offset   int
	Category string
	Status   string
}

// ReconcileResult summarizes one reconciliation sweep over stale
// non-terminal transactions.
type ReconcileResult struct {
	Scanned   int `json:"scanned"`
	Settled   int `json:"settled"`
	Failed    int `json:"failed"`
	StillOpen int `json:"still_open"`
	Errors    int `json:"errors"`
}
