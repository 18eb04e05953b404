/**
 * @description
 * This file defines the wallet-side domain models for the wallet-service:
 * the wallet ledger row itself, the PIN security credential that gates
 * money movement, the per-role withdrawal limit policy, and saved bank
 * accounts used as transfer destinations.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (kobo),
 *   which avoids floating-point inaccuracies with financial data.
 * - A wallet is created lazily on the first money-movement request and
 *   is never hard-deleted.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Wallet roles mirror the marketplace user roles that own wallets.
const (
	RoleBuyer     = "buyer"
	RoleDeveloper = "developer"
	RoleCreator   = "creator"
)

// Wallet is the per-user ledger record. `AvailableBalance` holds funds the
// owner may withdraw or spend; `LockedBalance` holds funds reserved against
// in-flight withdrawals. Both are kobo and must never go negative.
type Wallet struct {
	ID               uuid.UUID `json:"id"`
	OwnerID          uuid.UUID `json:"owner_id"`
	Role             string    `json:"role"`
	AvailableBalance int64     `json:"available_balance"` // in kobo
	LockedBalance    int64     `json:"locked_balance"`    // in kobo
	IsSetup          bool      `json:"is_setup"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// WalletSecurityCredential stores server-owned transaction PIN security metadata.
type WalletSecurityCredential struct {
	OwnerID        uuid.UUID  `json:"owner_id"`
	PINHash        string     `json:"-"`
	FailedAttempts int        `json:"failed_attempts"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
}

// WithdrawalLimitPolicy is the per-role withdrawal ceiling configuration.
// A nil MaxMonthlyAmount means the role has no monthly ceiling.
type WithdrawalLimitPolicy struct {
	Role              string `json:"role"`
	MinAmount         int64  `json:"min_amount"`          // in kobo
	MaxPerTransaction int64  `json:"max_per_transaction"` // in kobo
	MaxDailyAmount    int64  `json:"max_daily_amount"`    // in kobo
	MaxMonthlyAmount  *int64 `json:"max_monthly_amount,omitempty"`
}

// BankAccount represents a user's saved external bank account. The
// RecipientCode is issued by the payment gateway on first use and cached so
// subsequent withdrawals skip re-registration.
type BankAccount struct {
	ID            uuid.UUID `json:"id"`
	OwnerID       uuid.UUID `json:"owner_id"`
	AccountNumber string    `json:"account_number"`
	BankCode      string    `json:"bank_code"`
	AccountName   string    `json:"account_name"`
	RecipientCode *string   `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// WalletBalance is the balance view returned to the dashboard.
type WalletBalance struct {
	AvailableBalance int64 `json:"available_balance"` // in kobo
	LockedBalance    int64 `json:"locked_balance"`    // in kobo
	IsSetup          bool  `json:"is_setup"`
}
