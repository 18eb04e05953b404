package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/terravault/wallet-service/internal/domain"
	"github.com/terravault/wallet-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

type pinRepoStub struct {
	store.Repository

	credential *domain.WalletSecurityCredential

	createdHash     string
	createCalled    bool
	recordCalled    bool
	resetCalled     bool
	recordedMax     int
	recordedSeconds int
}

func (s *pinRepoStub) GetWalletSecurityCredential(ctx context.Context, ownerID uuid.UUID) (*domain.WalletSecurityCredential, error) {
	if s.credential == nil {
		return nil, store.ErrPINNotSet
	}
	return s.credential, nil
}

func (s *pinRepoStub) CreateWalletSecurityCredential(ctx context.Context, ownerID uuid.UUID, pinHash string) error {
	if s.credential != nil {
		return store.ErrPINAlreadySet
	}
	s.createCalled = true
	s.createdHash = pinHash
	return nil
}

func (s *pinRepoStub) RecordFailedPINAttempt(ctx context.Context, ownerID uuid.UUID, maxAttempts int, lockoutSeconds int) (*domain.WalletSecurityCredential, error) {
	s.recordCalled = true
	s.recordedMax = maxAttempts
	s.recordedSeconds = lockoutSeconds
	s.credential.FailedAttempts++
	if s.credential.FailedAttempts >= maxAttempts {
		until := time.Now().Add(time.Duration(lockoutSeconds) * time.Second)
		s.credential.LockedUntil = &until
	}
	return s.credential, nil
}

func (s *pinRepoStub) ResetPINFailureState(ctx context.Context, ownerID uuid.UUID) error {
	s.resetCalled = true
	s.credential.FailedAttempts = 0
	s.credential.LockedUntil = nil
	return nil
}

func hashPIN(t *testing.T, pin string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash pin: %v", err)
	}
	return string(hash)
}

func TestSetTransactionPIN_RejectsBadFormat(t *testing.T) {
	repo := &pinRepoStub{}
	svc := NewService(repo, nil, nil, "", "open")

	for _, pin := range []string{"", "123", "12345", "12a4", "١٢٣٤"} {
		if err := svc.SetTransactionPIN(context.Background(), uuid.New(), pin); !errors.Is(err, ErrInvalidPINFormat) {
			t.Fatalf("pin %q: expected ErrInvalidPINFormat, got %v", pin, err)
		}
	}
	if repo.createCalled {
		t.Fatal("expected no credential to be created for malformed pins")
	}
}

func TestSetTransactionPIN_StoresHash(t *testing.T) {
	repo := &pinRepoStub{}
	svc := NewService(repo, nil, nil, "", "open")

	if err := svc.SetTransactionPIN(context.Background(), uuid.New(), "4321"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !repo.createCalled {
		t.Fatal("expected credential creation")
	}
	if repo.createdHash == "4321" {
		t.Fatal("pin must not be stored in plaintext")
	}
	if bcrypt.CompareHashAndPassword([]byte(repo.createdHash), []byte("4321")) != nil {
		t.Fatal("stored hash does not verify against the pin")
	}
}

func TestSetTransactionPIN_SetOnce(t *testing.T) {
	ownerID := uuid.New()
	repo := &pinRepoStub{
		credential: &domain.WalletSecurityCredential{OwnerID: ownerID, PINHash: hashPIN(t, "1111")},
	}
	svc := NewService(repo, nil, nil, "", "open")

	if err := svc.SetTransactionPIN(context.Background(), ownerID, "2222"); !errors.Is(err, store.ErrPINAlreadySet) {
		t.Fatalf("expected ErrPINAlreadySet, got %v", err)
	}
}

func TestVerifyTransactionPIN_CorrectPINResetsCounters(t *testing.T) {
	ownerID := uuid.New()
	repo := &pinRepoStub{
		credential: &domain.WalletSecurityCredential{
			OwnerID:        ownerID,
			PINHash:        hashPIN(t, "1234"),
			FailedAttempts: 2,
		},
	}
	svc := NewService(repo, nil, nil, "", "open")

	if err := svc.VerifyTransactionPIN(context.Background(), ownerID, "1234"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !repo.resetCalled {
		t.Fatal("expected failure counters to be reset after a correct pin")
	}
}

func TestVerifyTransactionPIN_WrongPINReportsAttemptsRemaining(t *testing.T) {
	ownerID := uuid.New()
	repo := &pinRepoStub{
		credential: &domain.WalletSecurityCredential{
			OwnerID: ownerID,
			PINHash: hashPIN(t, "1234"),
		},
	}
	svc := NewService(repo, nil, nil, "", "open")

	err := svc.VerifyTransactionPIN(context.Background(), ownerID, "9999")
	var invalid *InvalidPINError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidPINError, got %v", err)
	}
	if invalid.AttemptsRemaining != MaxPINAttempts-1 {
		t.Fatalf("expected %d attempts remaining, got %d", MaxPINAttempts-1, invalid.AttemptsRemaining)
	}
	if repo.recordedMax != MaxPINAttempts {
		t.Fatalf("expected max attempts %d, got %d", MaxPINAttempts, repo.recordedMax)
	}
	if repo.recordedSeconds != int(PINLockoutDuration.Seconds()) {
		t.Fatalf("expected lockout seconds %d, got %d", int(PINLockoutDuration.Seconds()), repo.recordedSeconds)
	}
}

func TestVerifyTransactionPIN_ThirdFailureLocks(t *testing.T) {
	ownerID := uuid.New()
	repo := &pinRepoStub{
		credential: &domain.WalletSecurityCredential{
			OwnerID:        ownerID,
			PINHash:        hashPIN(t, "1234"),
			FailedAttempts: MaxPINAttempts - 1,
		},
	}
	svc := NewService(repo, nil, nil, "", "open")

	err := svc.VerifyTransactionPIN(context.Background(), ownerID, "0000")
	var locked *PINLockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected PINLockedError on final attempt, got %v", err)
	}
	if !locked.RetryAfter.After(time.Now()) {
		t.Fatal("expected lockout expiry in the future")
	}
}

func TestPINLockedError_ReportsMinutesRemaining(t *testing.T) {
	err := &PINLockedError{RetryAfter: time.Now().Add(10 * time.Minute)}
	if !strings.Contains(err.Error(), "10 minutes") {
		t.Fatalf("expected the minutes remaining in the message, got %q", err.Error())
	}

	expired := &PINLockedError{RetryAfter: time.Now().Add(-time.Minute)}
	if !strings.Contains(expired.Error(), "1 minutes") {
		t.Fatalf("expected a floor of one minute, got %q", expired.Error())
	}
}

func TestVerifyTransactionPIN_LockedRejectsWithoutCounting(t *testing.T) {
	ownerID := uuid.New()
	until := time.Now().Add(10 * time.Minute)
	repo := &pinRepoStub{
		credential: &domain.WalletSecurityCredential{
			OwnerID:        ownerID,
			PINHash:        hashPIN(t, "1234"),
			FailedAttempts: MaxPINAttempts,
			LockedUntil:    &until,
		},
	}
	svc := NewService(repo, nil, nil, "", "open")

	// Even the correct pin is rejected while locked.
	err := svc.VerifyTransactionPIN(context.Background(), ownerID, "1234")
	var locked *PINLockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected PINLockedError, got %v", err)
	}
	if repo.recordCalled {
		t.Fatal("expected no attempt to be recorded while locked")
	}
}

func TestVerifyTransactionPIN_MalformedDoesNotConsumeAttempt(t *testing.T) {
	ownerID := uuid.New()
	repo := &pinRepoStub{
		credential: &domain.WalletSecurityCredential{OwnerID: ownerID, PINHash: hashPIN(t, "1234")},
	}
	svc := NewService(repo, nil, nil, "", "open")

	if err := svc.VerifyTransactionPIN(context.Background(), ownerID, "12ab"); !errors.Is(err, ErrInvalidPINFormat) {
		t.Fatalf("expected ErrInvalidPINFormat, got %v", err)
	}
	if repo.recordCalled {
		t.Fatal("malformed pin must not consume an attempt")
	}
}

func TestVerifyTransactionPIN_NoCredential(t *testing.T) {
	repo := &pinRepoStub{}
	svc := NewService(repo, nil, nil, "", "open")

	if err := svc.VerifyTransactionPIN(context.Background(), uuid.New(), "1234"); !errors.Is(err, store.ErrPINNotSet) {
		t.Fatalf("expected ErrPINNotSet, got %v", err)
	}
}
