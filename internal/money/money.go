/**
 * @description
 * Pure currency conversion and fee calculation for the wallet-service.
 * All ledger arithmetic happens in int64 kobo; naira (float64) only exists
 * at the API edge, where it is converted and validated before any side
 * effect. Fee formulas match the platform's published schedule: deposits
 * pay 1.5% capped at ₦2,000; withdrawals pay ₦50 + 0.5% capped at ₦550.
 */

package money

import (
	"errors"
	"fmt"
	"math"
)

// Amount kinds for band validation.
type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
)

var (
	// ErrInvalidAmount covers non-positive, non-finite, and sub-kobo inputs.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrAmountOutOfRange covers amounts outside the kind-specific band.
	ErrAmountOutOfRange = errors.New("amount out of range")
)

const koboPerNaira = 100

// Validation bands, in kobo.
const (
	DepositMin    = 100 * koboPerNaira        // ₦100
	DepositMax    = 10_000_000 * koboPerNaira // ₦10,000,000
	WithdrawalMin = 1_000 * koboPerNaira      // ₦1,000
	WithdrawalMax = 5_000_000 * koboPerNaira  // ₦5,000,000
)

// Fee schedule, in kobo.
const (
	depositFeeCap     = 2_000 * koboPerNaira // ₦2,000
	withdrawalFeeBase = 50 * koboPerNaira    // ₦50
	withdrawalFeeCap  = 550 * koboPerNaira   // ₦550
)

// ToKobo converts a naira amount to kobo. It fails with ErrInvalidAmount on
// NaN/±Inf and on amounts carrying more than 2 decimal places, since those
// cannot be represented in the ledger without silent rounding.
func ToKobo(naira float64) (int64, error) {
	if math.IsNaN(naira) || math.IsInf(naira, 0) {
		return 0, fmt.Errorf("%w: amount is not a finite number", ErrInvalidAmount)
	}
	scaled := naira * koboPerNaira
	rounded := math.Round(scaled)
	if math.Abs(scaled-rounded) > 1e-6 {
		return 0, fmt.Errorf("%w: amount has more than 2 decimal places", ErrInvalidAmount)
	}
	if rounded > math.MaxInt64 || rounded < math.MinInt64 {
		return 0, fmt.Errorf("%w: amount overflows the ledger", ErrInvalidAmount)
	}
	return int64(rounded), nil
}

// ToNaira converts a kobo amount back to naira for display.
func ToNaira(kobo int64) float64 {
	return float64(kobo) / koboPerNaira
}

// ValidateAmount checks that a kobo amount is positive and within the band
// for the given kind of money movement.
func ValidateAmount(kobo int64, kind Kind) error {
	if kobo <= 0 {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}
	var min, max int64
	switch kind {
	case KindDeposit:
		min, max = DepositMin, DepositMax
	case KindWithdrawal:
		min, max = WithdrawalMin, WithdrawalMax
	default:
		return fmt.Errorf("%w: unknown amount kind %q", ErrInvalidAmount, kind)
	}
	if kobo < min || kobo > max {
		return fmt.Errorf("%w: %s amount must be between %d and %d kobo", ErrAmountOutOfRange, kind, min, max)
	}
	return nil
}

// DepositFee returns the platform fee for a deposit of the given kobo
// amount: 1.5%, rounded half up, capped at ₦2,000.
func DepositFee(kobo int64) int64 {
	fee := (kobo*15 + 500) / 1000
	if fee > depositFeeCap {
		fee = depositFeeCap
	}
	return fee
}

// WithdrawalFee returns the fee and net payout for a withdrawal of the
// given kobo amount: ₦50 + 0.5%, rounded half up, capped at ₦550. The net
// amount is what actually reaches the user's bank account.
func WithdrawalFee(kobo int64) (fee, net int64) {
	fee = withdrawalFeeBase + (kobo*5+500)/1000
	if fee > withdrawalFeeCap {
		fee = withdrawalFeeCap
	}
	return fee, kobo - fee
}
