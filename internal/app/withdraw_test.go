package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/terravault/wallet-service/internal/domain"
	"github.com/terravault/wallet-service/internal/store"
)

type withdrawRepoStub struct {
	store.Repository

	wallet     *domain.Wallet
	credential *domain.WalletSecurityCredential
	account    *domain.BankAccount

	lockErr        error
	lockCalled     bool
	lockExpected   int64
	lockAmount     int64
	releaseCalled  bool
	releaseAmount  int64
	createdTx      *domain.Transaction
	markFailed     bool
	failReason     string
	markProcessing bool
	recipientSet   string
}

func (s *withdrawRepoStub) GetWalletSecurityCredential(ctx context.Context, ownerID uuid.UUID) (*domain.WalletSecurityCredential, error) {
	if s.credential == nil {
		return nil, store.ErrPINNotSet
	}
	return s.credential, nil
}

func (s *withdrawRepoStub) ResetPINFailureState(ctx context.Context, ownerID uuid.UUID) error {
	return nil
}

func (s *withdrawRepoStub) RecordFailedPINAttempt(ctx context.Context, ownerID uuid.UUID, maxAttempts, lockoutSeconds int) (*domain.WalletSecurityCredential, error) {
	s.credential.FailedAttempts++
	return s.credential, nil
}

func (s *withdrawRepoStub) FindBankAccountByID(ctx context.Context, accountID, ownerID uuid.UUID) (*domain.BankAccount, error) {
	if s.account == nil || s.account.ID != accountID {
		return nil, store.ErrBankAccountNotFound
	}
	return s.account, nil
}

func (s *withdrawRepoStub) GetWithdrawalLimitPolicy(ctx context.Context, role string) (*domain.WithdrawalLimitPolicy, error) {
	return nil, store.ErrLimitPolicyNotFound
}

func (s *withdrawRepoStub) SumWithdrawalsSince(ctx context.Context, ownerID uuid.UUID, since time.Time) (int64, error) {
	return 0, nil
}

func (s *withdrawRepoStub) FindWalletByOwner(ctx context.Context, ownerID uuid.UUID) (*domain.Wallet, error) {
	if s.wallet == nil {
		return nil, store.ErrWalletNotFound
	}
	return s.wallet, nil
}

func (s *withdrawRepoStub) LockWalletFunds(ctx context.Context, walletID uuid.UUID, expectedAvailable, amount int64) error {
	s.lockCalled = true
	s.lockExpected = expectedAvailable
	s.lockAmount = amount
	if s.lockErr != nil {
		return s.lockErr
	}
	s.wallet.AvailableBalance -= amount
	s.wallet.LockedBalance += amount
	return nil
}

func (s *withdrawRepoStub) ReleaseWalletFunds(ctx context.Context, walletID uuid.UUID, amount int64) error {
	s.releaseCalled = true
	s.releaseAmount = amount
	s.wallet.AvailableBalance += amount
	s.wallet.LockedBalance -= amount
	return nil
}

func (s *withdrawRepoStub) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.createdTx = tx
	return nil
}

func (s *withdrawRepoStub) MarkTransactionProcessing(ctx context.Context, reference, gatewayReference string) error {
	s.markProcessing = true
	return nil
}

func (s *withdrawRepoStub) MarkTransactionFailed(ctx context.Context, reference, failureReason string) (bool, error) {
	s.markFailed = true
	s.failReason = failureReason
	return true, nil
}

func (s *withdrawRepoStub) SetBankAccountRecipientCode(ctx context.Context, accountID uuid.UUID, recipientCode string) error {
	s.recipientSet = recipientCode
	return nil
}

type gatewayStub struct {
	initSession *DepositSession
	initErr     error

	verifyStatus map[string]*GatewayStatus
	verifyErr    error

	recipientCode string
	recipientErr  error

	transferCode   string
	transferErr    error
	transferAmount int64
	transferRef    string
	transferCalled bool
}

func (g *gatewayStub) InitializeDeposit(ctx context.Context, email string, amount int64, reference, callbackURL string) (*DepositSession, error) {
	if g.initErr != nil {
		return nil, g.initErr
	}
	if g.initSession != nil {
		return g.initSession, nil
	}
	return &DepositSession{AuthorizationURL: "https://checkout.example/" + reference, GatewayReference: reference}, nil
}

func (g *gatewayStub) VerifyTransaction(ctx context.Context, reference string) (*GatewayStatus, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	if st, ok := g.verifyStatus[reference]; ok {
		return st, nil
	}
	return &GatewayStatus{Status: "pending"}, nil
}

func (g *gatewayStub) CreateTransferRecipient(ctx context.Context, name, accountNumber, bankCode string) (string, error) {
	if g.recipientErr != nil {
		return "", g.recipientErr
	}
	if g.recipientCode != "" {
		return g.recipientCode, nil
	}
	return "RCP_test", nil
}

func (g *gatewayStub) InitiateTransfer(ctx context.Context, recipientCode string, amount int64, reference, reason string) (string, error) {
	g.transferCalled = true
	g.transferAmount = amount
	g.transferRef = reference
	if g.transferErr != nil {
		return "", g.transferErr
	}
	if g.transferCode != "" {
		return g.transferCode, nil
	}
	return "TRF_test", nil
}

func newWithdrawFixture(t *testing.T, available int64) (*withdrawRepoStub, *gatewayStub, *Service, uuid.UUID, domain.WithdrawalRequest) {
	t.Helper()
	ownerID := uuid.New()
	accountID := uuid.New()
	repo := &withdrawRepoStub{
		wallet: &domain.Wallet{
			ID:               uuid.New(),
			OwnerID:          ownerID,
			Role:             domain.RoleDeveloper,
			AvailableBalance: available,
			IsSetup:          true,
		},
		credential: &domain.WalletSecurityCredential{OwnerID: ownerID, PINHash: hashPIN(t, "1234")},
		account: &domain.BankAccount{
			ID:            accountID,
			OwnerID:       ownerID,
			AccountNumber: "0123456789",
			BankCode:      "058",
			AccountName:   "Ada Obi",
		},
	}
	gateway := &gatewayStub{}
	svc := NewService(repo, gateway, nil, "", "open")
	req := domain.WithdrawalRequest{
		Amount:         100_000, // ₦100,000
		BankAccountID:  accountID,
		TransactionPIN: "1234",
	}
	return repo, gateway, svc, ownerID, req
}

func TestInitiateWithdrawal_HappyPath(t *testing.T) {
	repo, gateway, svc, ownerID, req := newWithdrawFixture(t, 20_000_000)

	resp, err := svc.InitiateWithdrawal(context.Background(), ownerID, domain.RoleDeveloper, req)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	// ₦100,000 = 10,000,000 kobo; fee ₦550 = 55,000 kobo; net ₦99,450.
	if resp.Amount != 10_000_000 {
		t.Fatalf("expected amount 10000000 kobo, got %d", resp.Amount)
	}
	if resp.Fee != 55_000 {
		t.Fatalf("expected fee 55000 kobo, got %d", resp.Fee)
	}
	if resp.NetAmount != 9_945_000 {
		t.Fatalf("expected net 9945000 kobo, got %d", resp.NetAmount)
	}

	if !repo.lockCalled {
		t.Fatal("expected funds lock")
	}
	if repo.lockExpected != 20_000_000 {
		t.Fatalf("lock must carry the observed balance, got %d", repo.lockExpected)
	}
	if repo.lockAmount != 10_000_000 {
		t.Fatalf("expected gross amount locked, got %d", repo.lockAmount)
	}
	if !gateway.transferCalled {
		t.Fatal("expected transfer initiation")
	}
	if gateway.transferAmount != 9_945_000 {
		t.Fatalf("gateway must receive the net payout, got %d", gateway.transferAmount)
	}
	if repo.createdTx == nil || repo.createdTx.Direction != domain.DirectionDebit {
		t.Fatal("expected a debit ledger row")
	}
	if !repo.markProcessing {
		t.Fatal("expected transaction to move to processing")
	}
	if resp.Reference == "" || gateway.transferRef != resp.Reference {
		t.Fatalf("gateway must receive the ledger reference, got %q vs %q", gateway.transferRef, resp.Reference)
	}
}

func TestInitiateWithdrawal_InsufficientBalance(t *testing.T) {
	repo, _, svc, ownerID, req := newWithdrawFixture(t, 5_000_000)

	_, err := svc.InitiateWithdrawal(context.Background(), ownerID, domain.RoleDeveloper, req)
	var insufficient *InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if insufficient.Required != 10_000_000 || insufficient.Available != 5_000_000 {
		t.Fatalf("unexpected shortfall report: required=%d available=%d", insufficient.Required, insufficient.Available)
	}
	if repo.lockCalled {
		t.Fatal("expected no lock attempt when balance is short")
	}
}

func TestInitiateWithdrawal_CASLoserReportsDrainedBalance(t *testing.T) {
	repo, _, svc, ownerID, req := newWithdrawFixture(t, 20_000_000)
	repo.lockErr = store.ErrConcurrentModification
	// A concurrent withdrawal drained the wallet between read and lock.
	repo.wallet.AvailableBalance = 1_000_000

	_, err := svc.InitiateWithdrawal(context.Background(), ownerID, domain.RoleDeveloper, req)
	var insufficient *InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientBalanceError after losing the race, got %v", err)
	}
	if insufficient.Available != 1_000_000 {
		t.Fatalf("expected re-read balance 1000000, got %d", insufficient.Available)
	}
}

func TestInitiateWithdrawal_CASLoserWithFundsStillPresent(t *testing.T) {
	repo, _, svc, ownerID, req := newWithdrawFixture(t, 20_000_000)
	repo.lockErr = store.ErrConcurrentModification
	// Balance changed but still covers the amount: caller should retry.

	_, err := svc.InitiateWithdrawal(context.Background(), ownerID, domain.RoleDeveloper, req)
	if !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
}

func TestInitiateWithdrawal_GatewayFailureReleasesLock(t *testing.T) {
	repo, gateway, svc, ownerID, req := newWithdrawFixture(t, 20_000_000)
	gateway.transferErr = errors.New("transfer declined")

	_, err := svc.InitiateWithdrawal(context.Background(), ownerID, domain.RoleDeveloper, req)
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if !repo.releaseCalled || repo.releaseAmount != 10_000_000 {
		t.Fatalf("expected gross amount released, called=%v amount=%d", repo.releaseCalled, repo.releaseAmount)
	}
	if !repo.markFailed {
		t.Fatal("expected the ledger row to be closed as failed")
	}
	if repo.wallet.AvailableBalance != 20_000_000 || repo.wallet.LockedBalance != 0 {
		t.Fatalf("expected balance restored, got available=%d locked=%d", repo.wallet.AvailableBalance, repo.wallet.LockedBalance)
	}
}

func TestInitiateWithdrawal_WrongPINStopsBeforeFunds(t *testing.T) {
	repo, gateway, svc, ownerID, req := newWithdrawFixture(t, 20_000_000)
	req.TransactionPIN = "0000"

	_, err := svc.InitiateWithdrawal(context.Background(), ownerID, domain.RoleDeveloper, req)
	var invalid *InvalidPINError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidPINError, got %v", err)
	}
	if repo.lockCalled || gateway.transferCalled {
		t.Fatal("pin failure must stop the pipeline before any side effect")
	}
}

func TestInitiateWithdrawal_CachesRecipientCode(t *testing.T) {
	repo, gateway, svc, ownerID, req := newWithdrawFixture(t, 20_000_000)
	gateway.recipientCode = "RCP_fresh"

	if _, err := svc.InitiateWithdrawal(context.Background(), ownerID, domain.RoleDeveloper, req); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.recipientSet != "RCP_fresh" {
		t.Fatalf("expected recipient code cached, got %q", repo.recipientSet)
	}
}

func TestInitiateWithdrawal_FreshReferencePerAttempt(t *testing.T) {
	repo, gateway, svc, ownerID, req := newWithdrawFixture(t, 40_000_000)

	first, err := svc.InitiateWithdrawal(context.Background(), ownerID, domain.RoleDeveloper, req)
	if err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	// Settle the lock out of band so the second attempt has headroom.
	repo.wallet.LockedBalance = 0

	second, err := svc.InitiateWithdrawal(context.Background(), ownerID, domain.RoleDeveloper, req)
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if first.Reference == second.Reference {
		t.Fatalf("references must never be reused, got %q twice", first.Reference)
	}
	if gateway.transferRef != second.Reference {
		t.Fatalf("gateway must see the latest reference, got %q", gateway.transferRef)
	}
}

func TestInitiateWithdrawal_RateLimited(t *testing.T) {
	_, _, svc, ownerID, req := newWithdrawFixture(t, 40_000_000)
	svc.SetRateLimiter(NewMemoryRateLimiter())
	svc.ConfigureRateLimits(RateLimitConfig{WithdrawalLimit: 1, WithdrawalWindow: time.Hour, DepositLimit: 5, DepositWindow: 15 * time.Minute})

	if _, err := svc.InitiateWithdrawal(context.Background(), ownerID, domain.RoleDeveloper, req); err != nil {
		t.Fatalf("first attempt should pass, got %v", err)
	}
	_, err := svc.InitiateWithdrawal(context.Background(), ownerID, domain.RoleDeveloper, req)
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if limited.RetryAfterSeconds <= 0 {
		t.Fatalf("expected a positive retry hint, got %d", limited.RetryAfterSeconds)
	}
}
