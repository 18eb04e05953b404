/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the wallet-service. By defining
 * an interface, we decouple the ledger's business logic from the specific
 * database implementation (PostgreSQL), making the code more modular and
 * easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation and handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/terravault/wallet-service/internal/domain"
)

var (
	// ErrWalletNotFound is returned when a wallet lookup yields no rows.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrTransactionNotFound is returned when a transaction reference does not exist.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrBankAccountNotFound is returned when a bank account lookup yields no rows.
	ErrBankAccountNotFound = errors.New("bank account not found")
	// ErrPINNotSet is returned when an owner has no security credential row yet.
	ErrPINNotSet = errors.New("transaction pin not set")
	// ErrPINAlreadySet is returned when a credential row already exists for the owner.
	ErrPINAlreadySet = errors.New("transaction pin already set")
	// ErrConcurrentModification is returned when a compare-and-swap balance
	// update affects zero rows because the wallet changed underneath us.
	ErrConcurrentModification = errors.New("wallet was modified concurrently")
	// ErrDuplicateReference is returned when inserting a transaction whose
	// reference collides with an existing row.
	ErrDuplicateReference = errors.New("transaction reference already exists")
	// ErrLimitPolicyNotFound is returned when no withdrawal limit policy
	// exists for the given role.
	ErrLimitPolicyNotFound = errors.New("withdrawal limit policy not found")
)

// Repository defines the set of methods for interacting with the database.
//
// The balance-mutation methods are the only place wallet balances change.
// LockWalletFunds is a compare-and-swap on available_balance; the other
// mutations are plain conditional updates (see each method's contract).
type Repository interface {
	// Wallet methods
	FindWalletByOwner(ctx context.Context, ownerID uuid.UUID) (*domain.Wallet, error)
	FindOrCreateWalletByOwner(ctx context.Context, ownerID uuid.UUID, role string) (*domain.Wallet, error)
	// LockWalletFunds moves amount from available to locked balance, but only
	// if available_balance still equals expectedAvailable (and covers the
	// amount). Zero rows affected is reported as ErrConcurrentModification;
	// the caller must re-read and restart the whole operation.
	LockWalletFunds(ctx context.Context, walletID uuid.UUID, expectedAvailable, amount int64) error
	// ReleaseWalletFunds moves amount back from locked to available balance.
	// Best-effort rollback path; deliberately not CAS-guarded.
	ReleaseWalletFunds(ctx context.Context, walletID uuid.UUID, amount int64) error
	// SettleWalletLock burns amount out of locked balance once the gateway
	// confirms the transfer landed.
	SettleWalletLock(ctx context.Context, walletID uuid.UUID, amount int64) error
	// CreditWalletBalance adds amount to available balance. Only invoked from
	// a transaction's single pending/processing → successful transition.
	CreditWalletBalance(ctx context.Context, walletID uuid.UUID, amount int64) error

	// Transaction PIN security methods
	GetWalletSecurityCredential(ctx context.Context, ownerID uuid.UUID) (*domain.WalletSecurityCredential, error)
	CreateWalletSecurityCredential(ctx context.Context, ownerID uuid.UUID, pinHash string) error
	RecordFailedPINAttempt(ctx context.Context, ownerID uuid.UUID, maxAttempts int, lockoutSeconds int) (*domain.WalletSecurityCredential, error)
	ResetPINFailureState(ctx context.Context, ownerID uuid.UUID) error

	// Withdrawal limit methods
	GetWithdrawalLimitPolicy(ctx context.Context, role string) (*domain.WithdrawalLimitPolicy, error)
	// SumWithdrawalsSince sums withdrawal amounts (pending, processing, and
	// successful) initiated at or after the given instant.
	SumWithdrawalsSince(ctx context.Context, ownerID uuid.UUID, since time.Time) (int64, error)

	// Transaction methods
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	FindTransactionsByOwner(ctx context.Context, ownerID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error)
	MarkTransactionProcessing(ctx context.Context, reference, gatewayReference string) error
	// MarkTransactionSuccessful flips a non-terminal transaction to
	// successful; the returned bool reports whether THIS call won the
	// transition (CAS on status). A false result means another observer
	// (webhook or reconciliation poll) already finalized it.
	MarkTransactionSuccessful(ctx context.Context, reference string, gatewayPayload []byte) (bool, error)
	// MarkTransactionFailed is the same CAS for the failed terminal state.
	MarkTransactionFailed(ctx context.Context, reference, failureReason string) (bool, error)
	// FailStaleDeposits sweeps pending/processing deposits initiated before
	// the cutoff to failed, returning how many were swept.
	FailStaleDeposits(ctx context.Context, ownerID uuid.UUID, cutoff time.Time) (int64, error)
	FindActiveDeposit(ctx context.Context, ownerID uuid.UUID, since time.Time) (*domain.Transaction, error)
	ListOpenTransactions(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error)

	// Bank account methods
	CreateBankAccount(ctx context.Context, account *domain.BankAccount) error
	FindBankAccountByID(ctx context.Context, accountID, ownerID uuid.UUID) (*domain.BankAccount, error)
	FindBankAccountsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.BankAccount, error)
	SetBankAccountRecipientCode(ctx context.Context, accountID uuid.UUID, recipientCode string) error
}
