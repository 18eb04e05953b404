package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/terravault/wallet-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

func validPINFormat(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// SetTransactionPIN creates the owner's transaction PIN. The PIN is
// set-once through this path; changing it goes through a separate verified
// flow outside this service.
func (s *Service) SetTransactionPIN(ctx context.Context, ownerID uuid.UUID, pin string) error {
	if !validPINFormat(pin) {
		return ErrInvalidPINFormat
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash pin: %w", err)
	}

	if err := s.repo.CreateWalletSecurityCredential(ctx, ownerID, string(hash)); err != nil {
		return err
	}
	log.Printf("level=info component=wallet_service msg=\"transaction pin set\" owner_id=%s", ownerID)
	return nil
}

// VerifyTransactionPIN checks the submitted PIN against the stored bcrypt
// hash, enforcing the attempt budget and lockout window. A malformed PIN is
// rejected before any counter moves; a wrong PIN consumes one attempt.
func (s *Service) VerifyTransactionPIN(ctx context.Context, ownerID uuid.UUID, pin string) error {
	if !validPINFormat(pin) {
		return ErrInvalidPINFormat
	}

	credential, err := s.repo.GetWalletSecurityCredential(ctx, ownerID)
	if err != nil {
		return err
	}

	now := s.now()
	if credential.LockedUntil != nil && credential.LockedUntil.After(now) {
		return &PINLockedError{RetryAfter: *credential.LockedUntil}
	}

	if bcrypt.CompareHashAndPassword([]byte(credential.PINHash), []byte(pin)) != nil {
		updated, recErr := s.repo.RecordFailedPINAttempt(ctx, ownerID, MaxPINAttempts, int(PINLockoutDuration.Seconds()))
		if recErr != nil {
			if errors.Is(recErr, store.ErrPINNotSet) {
				return recErr
			}
			log.Printf("level=error component=wallet_service msg=\"failed to record pin attempt\" owner_id=%s err=%v", ownerID, recErr)
			return &InvalidPINError{AttemptsRemaining: 0}
		}
		if updated.LockedUntil != nil && updated.LockedUntil.After(now) {
			log.Printf("level=warn component=wallet_service msg=\"transaction pin locked\" owner_id=%s until=%s", ownerID, updated.LockedUntil.UTC())
			return &PINLockedError{RetryAfter: *updated.LockedUntil}
		}
		remaining := MaxPINAttempts - updated.FailedAttempts
		if remaining < 0 {
			remaining = 0
		}
		return &InvalidPINError{AttemptsRemaining: remaining}
	}

	if err := s.repo.ResetPINFailureState(ctx, ownerID); err != nil {
		log.Printf("level=warn component=wallet_service msg=\"failed to reset pin counters\" owner_id=%s err=%v", ownerID, err)
	}
	return nil
}
