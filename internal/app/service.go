/**
 * @description
 * This file contains the core business logic for the wallet-service. The
 * `Service` struct orchestrates all money movement, coordinating between the
 * database repository, the Paystack gateway client, and the message broker.
 *
 * Key features:
 * - Deposit initiation through the gateway's hosted checkout, with fee
 *   calculation and stale-pending sweeping.
 * - Withdrawal authorization: PIN check, limit checks, and the
 *   compare-and-swap funds lock before the gateway transfer is initiated.
 * - Publishes events to RabbitMQ for asynchronous processing by other services.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID and reference generation.
 * - internal/domain, internal/money, internal/store: Domain models, currency
 *   math, and data access.
 * - pkg/rabbitmq: For event publication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/terravault/wallet-service/internal/domain"
	"github.com/terravault/wallet-service/internal/money"
	"github.com/terravault/wallet-service/internal/store"
	"github.com/terravault/wallet-service/pkg/rabbitmq"
)

const (
	// MaxPINAttempts failed verifications in a row lock the PIN.
	MaxPINAttempts = 3
	// PINLockoutDuration is how long verification stays locked after the
	// attempt budget is exhausted.
	PINLockoutDuration = 30 * time.Minute
	// PendingDepositWindow is how long an open deposit blocks a new one
	// before it is swept to failed.
	PendingDepositWindow = 5 * time.Minute
)

// Limit check failure modes: what to do when the limit query itself errors.
const (
	LimitFailureModeOpen   = "open"
	LimitFailureModeClosed = "closed"
)

// RateLimitConfig holds the per-operation request budgets.
type RateLimitConfig struct {
	WithdrawalLimit  int
	WithdrawalWindow time.Duration
	DepositLimit     int
	DepositWindow    time.Duration
}

// Service provides the core business logic for the wallet ledger.
type Service struct {
	repo             store.Repository
	gateway          PaymentGateway
	eventProducer    rabbitmq.Publisher
	callbackURL      string
	limitFailureMode string

	rateLimiter RateLimiter
	rateLimits  RateLimitConfig

	now func() time.Time
}

// NewService creates a new wallet service instance.
func NewService(repo store.Repository, gateway PaymentGateway, producer rabbitmq.Publisher, callbackURL, limitFailureMode string) *Service {
	mode := strings.ToLower(strings.TrimSpace(limitFailureMode))
	if mode != LimitFailureModeClosed {
		mode = LimitFailureModeOpen
	}
	return &Service{
		repo:             repo,
		gateway:          gateway,
		eventProducer:    producer,
		callbackURL:      callbackURL,
		limitFailureMode: mode,
		rateLimits: RateLimitConfig{
			WithdrawalLimit:  3,
			WithdrawalWindow: time.Hour,
			DepositLimit:     5,
			DepositWindow:    15 * time.Minute,
		},
		now: time.Now,
	}
}

// SetRateLimiter installs a rate limiter. A nil limiter disables rate limiting.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.rateLimiter = limiter
}

// ConfigureRateLimits overrides the default per-operation request budgets.
func (s *Service) ConfigureRateLimits(cfg RateLimitConfig) {
	if cfg.WithdrawalLimit > 0 && cfg.WithdrawalWindow > 0 {
		s.rateLimits.WithdrawalLimit = cfg.WithdrawalLimit
		s.rateLimits.WithdrawalWindow = cfg.WithdrawalWindow
	}
	if cfg.DepositLimit > 0 && cfg.DepositWindow > 0 {
		s.rateLimits.DepositLimit = cfg.DepositLimit
		s.rateLimits.DepositWindow = cfg.DepositWindow
	}
}

// newReference mints a wallet transaction reference. References are never
// reused: a retried attempt gets a fresh one so gateway-side duplicate
// detection can never confuse two attempts.
func newReference() string {
	return "wtx_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// consumeRateLimit enforces the per-owner request budget for an operation.
func (s *Service) consumeRateLimit(ctx context.Context, scope string, ownerID uuid.UUID, limit int, window time.Duration) error {
	if s.rateLimiter == nil {
		return nil
	}
	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, scope, ownerID.String(), limit, window)
	if err != nil {
		// A broken limiter must not block money movement.
		log.Printf("level=warn component=wallet_service msg=\"rate limiter unavailable; allowing request\" scope=%s owner_id=%s err=%v", scope, ownerID, err)
		return nil
	}
	if count > limit {
		return &RateLimitedError{RetryAfterSeconds: retryAfter}
	}
	return nil
}

// GetBalance returns the owner's balance view, lazily creating the wallet.
func (s *Service) GetBalance(ctx context.Context, ownerID uuid.UUID, role string) (*domain.WalletBalance, error) {
	wallet, err := s.repo.FindOrCreateWalletByOwner(ctx, ownerID, role)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	return &domain.WalletBalance{
		AvailableBalance: wallet.AvailableBalance,
		LockedBalance:    wallet.LockedBalance,
		IsSetup:          wallet.IsSetup,
	}, nil
}

// InitiateDeposit registers a pending deposit and opens a hosted checkout
// session with the gateway. The wallet is only credited later, when the
// gateway confirms payment (webhook or verification poll).
func (s *Service) InitiateDeposit(ctx context.Context, ownerID uuid.UUID, role, email string, req domain.DepositRequest) (*domain.DepositInitResponse, error) {
	if err := s.consumeRateLimit(ctx, "wallet_deposit", ownerID, s.rateLimits.DepositLimit, s.rateLimits.DepositWindow); err != nil {
		return nil, err
	}

	amount, err := money.ToKobo(req.Amount)
	if err != nil {
		return nil, err
	}
	if err := money.ValidateAmount(amount, money.KindDeposit); err != nil {
		return nil, err
	}

	wallet, err := s.repo.FindOrCreateWalletByOwner(ctx, ownerID, role)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}

	// Sweep deposits that outlived the pending window, then check whether a
	// fresh one still blocks this request.
	cutoff := s.now().Add(-PendingDepositWindow)
	if swept, err := s.repo.FailStaleDeposits(ctx, ownerID, cutoff); err != nil {
		log.Printf("level=warn component=wallet_service msg=\"stale deposit sweep failed\" owner_id=%s err=%v", ownerID, err)
	} else if swept > 0 {
		log.Printf("level=info component=wallet_service msg=\"swept stale deposits\" owner_id=%s count=%d", ownerID, swept)
	}
	active, err := s.repo.FindActiveDeposit(ctx, ownerID, cutoff)
	if err != nil && !errors.Is(err, store.ErrTransactionNotFound) {
		return nil, fmt.Errorf("failed to check active deposits: %w", err)
	}
	if active != nil {
		return nil, &PendingTransactionError{Reference: active.Reference}
	}

	fee := money.DepositFee(amount)
	tx := &domain.Transaction{
		ID:        uuid.New(),
		WalletID:  wallet.ID,
		OwnerID:   ownerID,
		Direction: domain.DirectionCredit,
		Category:  domain.CategoryDeposit,
		Status:    domain.StatusPending,
		Amount:    amount,
		Fee:       fee,
		NetAmount: amount - fee,
		Currency:  "NGN",
		Reference: newReference(),
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to record deposit: %w", err)
	}

	session, err := s.gateway.InitializeDeposit(ctx, email, amount, tx.Reference, s.callbackURL)
	if err != nil {
		if _, markErr := s.repo.MarkTransactionFailed(ctx, tx.Reference, "gateway initialization failed"); markErr != nil {
			log.Printf("level=error component=wallet_service msg=\"failed to mark deposit failed after gateway error\" reference=%s err=%v", tx.Reference, markErr)
		}
		return nil, &GatewayError{Op: "initialize", Err: err}
	}

	if err := s.repo.MarkTransactionProcessing(ctx, tx.Reference, session.GatewayReference); err != nil {
		log.Printf("level=warn component=wallet_service msg=\"failed to mark deposit processing\" reference=%s err=%v", tx.Reference, err)
	}

	s.publishEvent(ctx, ownerID, tx.Reference, domain.CategoryDeposit, domain.StatusProcessing, amount, fee)
	log.Printf("level=info component=wallet_service msg=\"deposit initiated\" owner_id=%s reference=%s amount=%d fee=%d", ownerID, tx.Reference, amount, fee)

	return &domain.DepositInitResponse{
		Reference:        tx.Reference,
		AuthorizationURL: session.AuthorizationURL,
		Status:           domain.StatusProcessing,
		Amount:           amount,
		Fee:              fee,
		NetAmount:        amount - fee,
	}, nil
}

// InitiateWithdrawal runs the full authorization pipeline (PIN, amount
// validation, limit policy, funds lock) and then hands the transfer to the
// gateway. The gross amount (net payout + fee) is locked until the gateway
// confirms or rejects the transfer.
func (s *Service) InitiateWithdrawal(ctx context.Context, ownerID uuid.UUID, role string, req domain.WithdrawalRequest) (*domain.WithdrawalInitResponse, error) {
	if err := s.consumeRateLimit(ctx, "wallet_withdrawal", ownerID, s.rateLimits.WithdrawalLimit, s.rateLimits.WithdrawalWindow); err != nil {
		return nil, err
	}

	// PIN first: no other state is touched until the caller proves intent.
	if err := s.VerifyTransactionPIN(ctx, ownerID, req.TransactionPIN); err != nil {
		return nil, err
	}

	amount, err := money.ToKobo(req.Amount)
	if err != nil {
		return nil, err
	}
	if err := money.ValidateAmount(amount, money.KindWithdrawal); err != nil {
		return nil, err
	}

	account, err := s.repo.FindBankAccountByID(ctx, req.BankAccountID, ownerID)
	if err != nil {
		return nil, err
	}

	if err := s.CheckWithdrawalLimits(ctx, ownerID, role, amount); err != nil {
		return nil, err
	}

	wallet, err := s.repo.FindWalletByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrWalletNotFound) {
			return nil, ErrWalletNotSetup
		}
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	if !wallet.IsSetup {
		return nil, ErrWalletNotSetup
	}

	fee, net := money.WithdrawalFee(amount)
	if wallet.AvailableBalance < amount {
		return nil, &InsufficientBalanceError{Required: amount, Available: wallet.AvailableBalance}
	}

	// Compare-and-swap lock: loses against any concurrent balance change,
	// in which case we re-read to tell exhaustion from interleaving.
	if err := s.repo.LockWalletFunds(ctx, wallet.ID, wallet.AvailableBalance, amount); err != nil {
		if errors.Is(err, store.ErrConcurrentModification) {
			current, readErr := s.repo.FindWalletByOwner(ctx, ownerID)
			if readErr == nil && current.AvailableBalance < amount {
				return nil, &InsufficientBalanceError{Required: amount, Available: current.AvailableBalance}
			}
			return nil, store.ErrConcurrentModification
		}
		return nil, fmt.Errorf("failed to lock funds: %w", err)
	}

	tx := &domain.Transaction{
		ID:        uuid.New(),
		WalletID:  wallet.ID,
		OwnerID:   ownerID,
		Direction: domain.DirectionDebit,
		Category:  domain.CategoryWithdrawal,
		Status:    domain.StatusPending,
		Amount:    amount,
		Fee:       fee,
		NetAmount: net,
		Currency:  "NGN",
		Reference: newReference(),
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		s.releaseLock(ctx, wallet.ID, amount, tx.Reference)
		return nil, fmt.Errorf("failed to record withdrawal: %w", err)
	}

	recipientCode, err := s.ensureRecipientCode(ctx, account)
	if err != nil {
		s.failWithdrawal(ctx, wallet.ID, tx.Reference, amount, "recipient registration failed")
		return nil, &GatewayError{Op: "transferrecipient", Err: err}
	}

	transferCode, err := s.gateway.InitiateTransfer(ctx, recipientCode, net, tx.Reference, "wallet withdrawal")
	if err != nil {
		s.failWithdrawal(ctx, wallet.ID, tx.Reference, amount, "transfer initiation failed")
		return nil, &GatewayError{Op: "transfer", Err: err}
	}

	if err := s.repo.MarkTransactionProcessing(ctx, tx.Reference, transferCode); err != nil {
		log.Printf("level=warn component=wallet_service msg=\"failed to mark withdrawal processing\" reference=%s err=%v", tx.Reference, err)
	}

	s.publishEvent(ctx, ownerID, tx.Reference, domain.CategoryWithdrawal, domain.StatusProcessing, amount, fee)
	log.Printf("level=info component=wallet_service msg=\"withdrawal initiated\" owner_id=%s reference=%s amount=%d fee=%d net=%d", ownerID, tx.Reference, amount, fee, net)

	return &domain.WithdrawalInitResponse{
		Reference: tx.Reference,
		Status:    domain.StatusProcessing,
		Amount:    amount,
		Fee:       fee,
		NetAmount: net,
	}, nil
}

// failWithdrawal is the compensation path when the gateway rejects a
// withdrawal before it ever left: release the lock and close the ledger row.
func (s *Service) failWithdrawal(ctx context.Context, walletID uuid.UUID, reference string, amount int64, reason string) {
	s.releaseLock(ctx, walletID, amount, reference)
	if _, err := s.repo.MarkTransactionFailed(ctx, reference, reason); err != nil {
		log.Printf("level=error component=wallet_service msg=\"failed to mark withdrawal failed\" reference=%s err=%v", reference, err)
	}
}

func (s *Service) releaseLock(ctx context.Context, walletID uuid.UUID, amount int64, reference string) {
	if err := s.repo.ReleaseWalletFunds(ctx, walletID, amount); err != nil {
		// Reconciliation will re-release when it sees the failed row.
		log.Printf("level=error component=wallet_service msg=\"failed to release locked funds\" wallet_id=%s reference=%s amount=%d err=%v", walletID, reference, amount, err)
	}
}

// ensureRecipientCode returns the cached gateway recipient code for a bank
// account, registering the account with the gateway on first use.
func (s *Service) ensureRecipientCode(ctx context.Context, account *domain.BankAccount) (string, error) {
	if account.RecipientCode != nil && *account.RecipientCode != "" {
		return *account.RecipientCode, nil
	}
	code, err := s.gateway.CreateTransferRecipient(ctx, account.AccountName, account.AccountNumber, account.BankCode)
	if err != nil {
		return "", err
	}
	if err := s.repo.SetBankAccountRecipientCode(ctx, account.ID, code); err != nil {
		log.Printf("level=warn component=wallet_service msg=\"failed to cache recipient code\" bank_account_id=%s err=%v", account.ID, err)
	}
	return code, nil
}

// GetTransaction returns one of the owner's ledger rows by reference.
func (s *Service) GetTransaction(ctx context.Context, ownerID uuid.UUID, reference string) (*domain.Transaction, error) {
	tx, err := s.repo.FindTransactionByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if tx.OwnerID != ownerID {
		return nil, store.ErrTransactionNotFound
	}
	return tx, nil
}

// ListTransactions returns the owner's transaction history, newest first.
func (s *Service) ListTransactions(ctx context.Context, ownerID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	return s.repo.FindTransactionsByOwner(ctx, ownerID, opts)
}

// CreateBankAccount saves a new withdrawal destination for the owner.
func (s *Service) CreateBankAccount(ctx context.Context, ownerID uuid.UUID, req domain.CreateBankAccountRequest) (*domain.BankAccount, error) {
	number := strings.TrimSpace(req.AccountNumber)
	if len(number) != 10 || strings.Trim(number, "0123456789") != "" {
		return nil, fmt.Errorf("account number must be 10 digits")
	}
	account := &domain.BankAccount{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		AccountNumber: number,
		BankCode:      strings.TrimSpace(req.BankCode),
		AccountName:   strings.TrimSpace(req.AccountName),
	}
	if account.BankCode == "" || account.AccountName == "" {
		return nil, fmt.Errorf("bank code and account name are required")
	}
	if err := s.repo.CreateBankAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to save bank account: %w", err)
	}
	return account, nil
}

// ListBankAccounts returns the owner's saved withdrawal destinations.
func (s *Service) ListBankAccounts(ctx context.Context, ownerID uuid.UUID) ([]domain.BankAccount, error) {
	return s.repo.FindBankAccountsByOwner(ctx, ownerID)
}

func (s *Service) publishEvent(ctx context.Context, ownerID uuid.UUID, reference, category, status string, amount, fee int64) {
	if s.eventProducer == nil {
		return
	}
	event := rabbitmq.WalletEvent{
		OwnerID:   ownerID,
		Reference: reference,
		Category:  category,
		Status:    status,
		Amount:    amount,
		Fee:       fee,
		Timestamp: s.now().UTC(),
	}
	if err := s.eventProducer.PublishWalletEvent(ctx, event); err != nil {
		log.Printf("level=warn component=wallet_service msg=\"wallet event publish failed\" reference=%s err=%v", reference, err)
	}
}
