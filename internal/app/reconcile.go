package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/terravault/wallet-service/internal/domain"
)

// outcome classifies the gateway's vocabulary into ledger transitions.
type outcome int

const (
	outcomeOpen outcome = iota
	outcomeSuccess
	outcomeFailure
)

func classifyGatewayStatus(status string) outcome {
	switch status {
	case "success", "successful":
		return outcomeSuccess
	case "failed", "abandoned", "reversed":
		return outcomeFailure
	default:
		// "pending", "ongoing", "send_otp", etc. stay open.
		return outcomeOpen
	}
}

// VerifyTransactionStatus asks the gateway for a transaction's authoritative
// state and applies it to the ledger. Safe to call any number of times and
// concurrently with webhook delivery: the status-guarded transition means
// balance effects apply exactly once.
func (s *Service) VerifyTransactionStatus(ctx context.Context, ownerID uuid.UUID, reference string) (*domain.Transaction, error) {
	tx, err := s.GetTransaction(ctx, ownerID, reference)
	if err != nil {
		return nil, err
	}
	if tx.IsTerminal() {
		return tx, nil
	}

	status, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, &GatewayError{Op: "verify", Err: err}
	}

	if err := s.applyGatewayStatus(ctx, tx, status); err != nil {
		return nil, err
	}
	return s.GetTransaction(ctx, ownerID, reference)
}

// HandleGatewayEvent processes a verified webhook event from the payment
// gateway. The caller has already checked the HMAC signature; here we only
// translate the event into a ledger transition. Unknown events and unknown
// references are ignored so the gateway never retries them forever.
func (s *Service) HandleGatewayEvent(ctx context.Context, eventType, reference string, payload json.RawMessage) error {
	var status string
	switch eventType {
	case "charge.success", "transfer.success":
		status = "success"
	case "transfer.failed":
		status = "failed"
	case "transfer.reversed":
		status = "reversed"
	default:
		log.Printf("level=info component=wallet_service msg=\"ignoring gateway event\" event=%s", eventType)
		return nil
	}

	tx, err := s.repo.FindTransactionByReference(ctx, reference)
	if err != nil {
		log.Printf("level=warn component=wallet_service msg=\"gateway event for unknown reference\" event=%s reference=%s err=%v", eventType, reference, err)
		return nil
	}
	if tx.IsTerminal() {
		return nil
	}

	return s.applyGatewayStatus(ctx, tx, &GatewayStatus{
		Status:        status,
		FailureReason: eventType,
		RawPayload:    payload,
	})
}

// applyGatewayStatus moves a transaction to its terminal state and applies
// the balance effect if this caller wins the transition.
func (s *Service) applyGatewayStatus(ctx context.Context, tx *domain.Transaction, status *GatewayStatus) error {
	switch classifyGatewayStatus(status.Status) {
	case outcomeSuccess:
		// A deposit must settle for the amount on the ledger row. A mismatch
		// leaves the row open for an operator to inspect rather than
		// crediting the wrong figure.
		if tx.Category == domain.CategoryDeposit && status.Amount > 0 && status.Amount != tx.Amount {
			log.Printf("level=error component=wallet_service msg=\"gateway amount mismatch; leaving transaction open\" reference=%s ledger=%d gateway=%d", tx.Reference, tx.Amount, status.Amount)
			return fmt.Errorf("gateway reported amount %d for %s, ledger has %d", status.Amount, tx.Reference, tx.Amount)
		}
		won, err := s.repo.MarkTransactionSuccessful(ctx, tx.Reference, status.RawPayload)
		if err != nil {
			return fmt.Errorf("failed to finalize transaction: %w", err)
		}
		if !won {
			return nil
		}
		switch tx.Category {
		case domain.CategoryDeposit:
			if err := s.repo.CreditWalletBalance(ctx, tx.WalletID, tx.NetAmount); err != nil {
				log.Printf("level=error component=wallet_service msg=\"deposit confirmed but credit failed\" reference=%s err=%v", tx.Reference, err)
				return fmt.Errorf("failed to credit wallet: %w", err)
			}
		case domain.CategoryWithdrawal:
			if err := s.repo.SettleWalletLock(ctx, tx.WalletID, tx.Amount); err != nil {
				log.Printf("level=error component=wallet_service msg=\"withdrawal settled but lock burn failed\" reference=%s err=%v", tx.Reference, err)
				return fmt.Errorf("failed to settle locked funds: %w", err)
			}
		}
		s.publishEvent(ctx, tx.OwnerID, tx.Reference, tx.Category, domain.StatusSuccessful, tx.Amount, tx.Fee)
		log.Printf("level=info component=wallet_service msg=\"transaction settled\" reference=%s category=%s amount=%d", tx.Reference, tx.Category, tx.Amount)

	case outcomeFailure:
		reason := status.FailureReason
		if reason == "" {
			reason = status.Status
		}
		won, err := s.repo.MarkTransactionFailed(ctx, tx.Reference, reason)
		if err != nil {
			return fmt.Errorf("failed to finalize transaction: %w", err)
		}
		if !won {
			return nil
		}
		if tx.Category == domain.CategoryWithdrawal {
			s.releaseLock(ctx, tx.WalletID, tx.Amount, tx.Reference)
		}
		s.publishEvent(ctx, tx.OwnerID, tx.Reference, tx.Category, domain.StatusFailed, tx.Amount, tx.Fee)
		log.Printf("level=info component=wallet_service msg=\"transaction failed\" reference=%s category=%s reason=%q", tx.Reference, tx.Category, reason)
	}
	return nil
}

// ReconcilePendingTransactions sweeps non-terminal transactions older than
// minAge, re-verifying each against the gateway. Run from the internal
// reconcile endpoint or a scheduler; it is the safety net for lost webhooks.
func (s *Service) ReconcilePendingTransactions(ctx context.Context, minAge time.Duration, limit int) (*domain.ReconcileResult, error) {
	if minAge <= 0 {
		minAge = PendingDepositWindow
	}
	open, err := s.repo.ListOpenTransactions(ctx, s.now().Add(-minAge), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list open transactions: %w", err)
	}

	result := &domain.ReconcileResult{Scanned: len(open)}
	for i := range open {
		tx := &open[i]
		status, err := s.gateway.VerifyTransaction(ctx, tx.Reference)
		if err != nil {
			log.Printf("level=warn component=wallet_service msg=\"reconcile verify failed\" reference=%s err=%v", tx.Reference, err)
			result.Errors++
			continue
		}
		switch classifyGatewayStatus(status.Status) {
		case outcomeSuccess:
			if err := s.applyGatewayStatus(ctx, tx, status); err != nil {
				result.Errors++
				continue
			}
			result.Settled++
		case outcomeFailure:
			if err := s.applyGatewayStatus(ctx, tx, status); err != nil {
				result.Errors++
				continue
			}
			result.Failed++
		default:
			result.StillOpen++
		}
	}

	log.Printf("level=info component=wallet_service msg=\"reconcile sweep complete\" scanned=%d settled=%d failed=%d open=%d errors=%d",
		result.Scanned, result.Settled, result.Failed, result.StillOpen, result.Errors)
	return result, nil
}
