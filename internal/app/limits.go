package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/terravault/wallet-service/internal/domain"
	"github.com/terravault/wallet-service/internal/store"
)

// Built-in withdrawal limit policies, applied when no row exists for the
// role. Amounts are kobo. Roles without their own entry get the buyer
// policy, the most restrictive of the three.
var defaultLimitPolicies = map[string]domain.WithdrawalLimitPolicy{
	domain.RoleBuyer: {
		Role:              domain.RoleBuyer,
		MinAmount:         100_000,                   // ₦1,000
		MaxPerTransaction: 50_000_000,                // ₦500,000
		MaxDailyAmount:    100_000_000,               // ₦1,000,000
		MaxMonthlyAmount:  monthlyCap(1_000_000_000), // ₦10,000,000
	},
	domain.RoleDeveloper: {
		Role:              domain.RoleDeveloper,
		MinAmount:         100_000,       // ₦1,000
		MaxPerTransaction: 500_000_000,   // ₦5,000,000
		MaxDailyAmount:    1_000_000_000, // ₦10,000,000
		MaxMonthlyAmount:  nil,           // unlimited
	},
	domain.RoleCreator: {
		Role:              domain.RoleCreator,
		MinAmount:         100_000,                   // ₦1,000
		MaxPerTransaction: 200_000_000,               // ₦2,000,000
		MaxDailyAmount:    500_000_000,               // ₦5,000,000
		MaxMonthlyAmount:  monthlyCap(5_000_000_000), // ₦50,000,000
	},
}

func monthlyCap(kobo int64) *int64 { return &kobo }

func defaultLimitPolicy(role string) *domain.WithdrawalLimitPolicy {
	policy, ok := defaultLimitPolicies[role]
	if !ok {
		policy = defaultLimitPolicies[domain.RoleBuyer]
	}
	return &policy
}

// CheckWithdrawalLimits enforces the owner's role-based withdrawal policy:
// per-transaction bounds, a daily ceiling since local midnight, and an
// optional monthly ceiling since the first of the month. Open withdrawals
// count toward both ceilings. Roles without a policy row get the built-in
// defaults; a missing row never waives the ceilings.
//
// When the usage query itself fails, the configured failure mode decides:
// fail-open lets the withdrawal proceed (availability over strictness),
// fail-closed rejects it.
func (s *Service) CheckWithdrawalLimits(ctx context.Context, ownerID uuid.UUID, role string, amount int64) error {
	policy, err := s.repo.GetWithdrawalLimitPolicy(ctx, role)
	if err != nil {
		if errors.Is(err, store.ErrLimitPolicyNotFound) {
			policy = defaultLimitPolicy(role)
		} else {
			pfErr := s.limitCheckFailure(ownerID, "policy", err)
			if pfErr != nil {
				return pfErr
			}
			policy = defaultLimitPolicy(role)
		}
	}

	if policy.MinAmount > 0 && amount < policy.MinAmount {
		return &LimitExceededError{Scope: "transaction", Requested: amount, Max: policy.MinAmount}
	}
	if policy.MaxPerTransaction > 0 && amount > policy.MaxPerTransaction {
		return &LimitExceededError{Scope: "transaction", Requested: amount, Max: policy.MaxPerTransaction}
	}

	now := s.now()

	if policy.MaxDailyAmount > 0 {
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		used, err := s.repo.SumWithdrawalsSince(ctx, ownerID, midnight)
		if err != nil {
			return s.limitCheckFailure(ownerID, "daily", err)
		}
		if used+amount > policy.MaxDailyAmount {
			return &LimitExceededError{Scope: "daily", Used: used, Requested: amount, Max: policy.MaxDailyAmount}
		}
	}

	if policy.MaxMonthlyAmount != nil && *policy.MaxMonthlyAmount > 0 {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		used, err := s.repo.SumWithdrawalsSince(ctx, ownerID, monthStart)
		if err != nil {
			return s.limitCheckFailure(ownerID, "monthly", err)
		}
		if used+amount > *policy.MaxMonthlyAmount {
			return &LimitExceededError{Scope: "monthly", Used: used, Requested: amount, Max: *policy.MaxMonthlyAmount}
		}
	}

	return nil
}

func (s *Service) limitCheckFailure(ownerID uuid.UUID, scope string, err error) error {
	if s.limitFailureMode == LimitFailureModeClosed {
		log.Printf("level=error component=wallet_service msg=\"limit check failed; rejecting (fail-closed)\" owner_id=%s scope=%s err=%v", ownerID, scope, err)
		return err
	}
	log.Printf("level=warn component=wallet_service msg=\"limit check failed; allowing (fail-open)\" owner_id=%s scope=%s err=%v", ownerID, scope, err)
	return nil
}
