package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/terravault/wallet-service/internal/domain"
	"github.com/terravault/wallet-service/internal/money"
	"github.com/terravault/wallet-service/internal/store"
)

type depositRepoStub struct {
	store.Repository

	wallet *domain.Wallet

	activeDeposit *domain.Transaction
	sweptCount    int64
	sweepCutoff   time.Time

	createdTx      *domain.Transaction
	markFailed     bool
	markProcessing bool
}

func (s *depositRepoStub) FindOrCreateWalletByOwner(ctx context.Context, ownerID uuid.UUID, role string) (*domain.Wallet, error) {
	if s.wallet == nil {
		s.wallet = &domain.Wallet{ID: uuid.New(), OwnerID: ownerID, Role: role}
	}
	return s.wallet, nil
}

func (s *depositRepoStub) FailStaleDeposits(ctx context.Context, ownerID uuid.UUID, cutoff time.Time) (int64, error) {
	s.sweepCutoff = cutoff
	// Sweep the active deposit if it predates the cutoff.
	if s.activeDeposit != nil && s.activeDeposit.InitiatedAt.Before(cutoff) {
		s.activeDeposit = nil
		return s.sweptCount + 1, nil
	}
	return s.sweptCount, nil
}

func (s *depositRepoStub) FindActiveDeposit(ctx context.Context, ownerID uuid.UUID, since time.Time) (*domain.Transaction, error) {
	if s.activeDeposit == nil || s.activeDeposit.InitiatedAt.Before(since) {
		return nil, store.ErrTransactionNotFound
	}
	return s.activeDeposit, nil
}

func (s *depositRepoStub) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.createdTx = tx
	return nil
}

func (s *depositRepoStub) MarkTransactionProcessing(ctx context.Context, reference, gatewayReference string) error {
	s.markProcessing = true
	return nil
}

func (s *depositRepoStub) MarkTransactionFailed(ctx context.Context, reference, failureReason string) (bool, error) {
	s.markFailed = true
	return true, nil
}

func TestInitiateDeposit_HappyPath(t *testing.T) {
	repo := &depositRepoStub{}
	gateway := &gatewayStub{}
	svc := NewService(repo, gateway, nil, "https://app.example/wallet/callback", "open")
	ownerID := uuid.New()

	resp, err := svc.InitiateDeposit(context.Background(), ownerID, domain.RoleBuyer, "ada@example.com", domain.DepositRequest{Amount: 200_000})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	// ₦200,000 = 20,000,000 kobo; 1.5% fee hits the ₦2,000 cap.
	if resp.Amount != 20_000_000 {
		t.Fatalf("expected amount 20000000 kobo, got %d", resp.Amount)
	}
	if resp.Fee != 200_000 {
		t.Fatalf("expected capped fee 200000 kobo, got %d", resp.Fee)
	}
	if resp.NetAmount != 19_800_000 {
		t.Fatalf("expected net 19800000 kobo, got %d", resp.NetAmount)
	}
	if resp.AuthorizationURL == "" {
		t.Fatal("expected a checkout url")
	}
	if repo.createdTx == nil || repo.createdTx.Direction != domain.DirectionCredit || repo.createdTx.Category != domain.CategoryDeposit {
		t.Fatal("expected a credit deposit ledger row")
	}
	if !repo.markProcessing {
		t.Fatal("expected transaction to move to processing")
	}
}

func TestInitiateDeposit_RejectsInvalidAmounts(t *testing.T) {
	svc := NewService(&depositRepoStub{}, &gatewayStub{}, nil, "", "open")
	ownerID := uuid.New()

	for _, amount := range []float64{0, -50, 10.555, 99.99} {
		_, err := svc.InitiateDeposit(context.Background(), ownerID, domain.RoleBuyer, "ada@example.com", domain.DepositRequest{Amount: amount})
		if err == nil {
			t.Fatalf("amount %v: expected rejection", amount)
		}
		if !errors.Is(err, money.ErrInvalidAmount) && !errors.Is(err, money.ErrAmountOutOfRange) {
			t.Fatalf("amount %v: expected amount validation error, got %v", amount, err)
		}
	}
}

func TestInitiateDeposit_BlockedByRecentPending(t *testing.T) {
	blocking := &domain.Transaction{
		Reference:   "wtx_blocking",
		Category:    domain.CategoryDeposit,
		Status:      domain.StatusProcessing,
		InitiatedAt: time.Now().Add(-2 * time.Minute),
	}
	repo := &depositRepoStub{activeDeposit: blocking}
	svc := NewService(repo, &gatewayStub{}, nil, "", "open")

	_, err := svc.InitiateDeposit(context.Background(), uuid.New(), domain.RoleBuyer, "ada@example.com", domain.DepositRequest{Amount: 5_000})
	var pending *PendingTransactionError
	if !errors.As(err, &pending) {
		t.Fatalf("expected PendingTransactionError, got %v", err)
	}
	if pending.Reference != "wtx_blocking" {
		t.Fatalf("error must name the blocking reference, got %q", pending.Reference)
	}
	if repo.createdTx != nil {
		t.Fatal("expected no new ledger row while blocked")
	}
}

func TestInitiateDeposit_StalePendingIsSweptAndAllowed(t *testing.T) {
	stale := &domain.Transaction{
		Reference:   "wtx_stale",
		Category:    domain.CategoryDeposit,
		Status:      domain.StatusPending,
		InitiatedAt: time.Now().Add(-6 * time.Minute),
	}
	repo := &depositRepoStub{activeDeposit: stale}
	svc := NewService(repo, &gatewayStub{}, nil, "", "open")

	resp, err := svc.InitiateDeposit(context.Background(), uuid.New(), domain.RoleBuyer, "ada@example.com", domain.DepositRequest{Amount: 5_000})
	if err != nil {
		t.Fatalf("expected stale deposit to be swept and a new one allowed, got %v", err)
	}
	if resp.Reference == "wtx_stale" {
		t.Fatal("a new attempt must get a fresh reference")
	}
}

func TestInitiateDeposit_GatewayFailureClosesLedgerRow(t *testing.T) {
	repo := &depositRepoStub{}
	gateway := &gatewayStub{initErr: errors.New("gateway down")}
	svc := NewService(repo, gateway, nil, "", "open")

	_, err := svc.InitiateDeposit(context.Background(), uuid.New(), domain.RoleBuyer, "ada@example.com", domain.DepositRequest{Amount: 5_000})
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if !repo.markFailed {
		t.Fatal("expected the pending row to be closed as failed")
	}
}

func TestInitiateDeposit_RateLimited(t *testing.T) {
	repo := &depositRepoStub{}
	svc := NewService(repo, &gatewayStub{}, nil, "", "open")
	svc.SetRateLimiter(NewMemoryRateLimiter())
	svc.ConfigureRateLimits(RateLimitConfig{WithdrawalLimit: 3, WithdrawalWindow: time.Hour, DepositLimit: 1, DepositWindow: 15 * time.Minute})
	ownerID := uuid.New()

	if _, err := svc.InitiateDeposit(context.Background(), ownerID, domain.RoleBuyer, "ada@example.com", domain.DepositRequest{Amount: 5_000}); err != nil {
		t.Fatalf("first deposit should pass, got %v", err)
	}

	_, err := svc.InitiateDeposit(context.Background(), ownerID, domain.RoleBuyer, "ada@example.com", domain.DepositRequest{Amount: 5_000})
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
}
