/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL queries for wallets, transaction PIN credentials,
 * withdrawal limit policies, the transaction ledger, and saved bank accounts.
 *
 * All monetary columns are BIGINT kobo. Balance mutations are single-statement
 * conditional UPDATEs so that no row locks are held across gateway calls.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/terravault/wallet-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const walletColumns = `id, owner_id, role, available_balance, locked_balance, is_setup, created_at, updated_at`

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(
		&w.ID,
		&w.OwnerID,
		&w.Role,
		&w.AvailableBalance,
		&w.LockedBalance,
		&w.IsSetup,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// FindWalletByOwner retrieves a wallet by its owner's user ID.
func (r *PostgresRepository) FindWalletByOwner(ctx context.Context, ownerID uuid.UUID) (*domain.Wallet, error) {
	query := fmt.Sprintf(`SELECT %s FROM wallets WHERE owner_id = $1`, walletColumns)
	return scanWallet(r.db.QueryRow(ctx, query, ownerID))
}

// FindOrCreateWalletByOwner returns the owner's wallet, lazily creating a
// zero-balance row on first touch. The ON CONFLICT clause makes concurrent
// first touches converge on the same row.
func (r *PostgresRepository) FindOrCreateWalletByOwner(ctx context.Context, ownerID uuid.UUID, role string) (*domain.Wallet, error) {
	query := fmt.Sprintf(`
		INSERT INTO wallets (id, owner_id, role, available_balance, locked_balance, is_setup)
		VALUES ($1, $2, $3, 0, 0, FALSE)
		ON CONFLICT (owner_id) DO UPDATE SET updated_at = NOW()
		RETURNING %s
	`, walletColumns)
	return scanWallet(r.db.QueryRow(ctx, query, uuid.New(), ownerID, role))
}

// LockWalletFunds performs the compare-and-swap debit: funds move from
// available to locked only when available_balance still matches the value
// the caller observed. Zero affected rows means either the balance changed
// or it no longer covers the amount; the caller re-reads to tell which.
func (r *PostgresRepository) LockWalletFunds(ctx context.Context, walletID uuid.UUID, expectedAvailable, amount int64) error {
	query := `
		UPDATE wallets
		SET available_balance = available_balance - $3,
		    locked_balance = locked_balance + $3,
		    updated_at = NOW()
		WHERE id = $1 AND available_balance = $2 AND available_balance >= $3
	`
	tag, err := r.db.Exec(ctx, query, walletID, expectedAvailable, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// ReleaseWalletFunds returns locked funds to the available balance after a
// failed or reversed withdrawal.
func (r *PostgresRepository) ReleaseWalletFunds(ctx context.Context, walletID uuid.UUID, amount int64) error {
	query := `
		UPDATE wallets
		SET available_balance = available_balance + $2,
		    locked_balance = locked_balance - $2,
		    updated_at = NOW()
		WHERE id = $1 AND locked_balance >= $2
	`
	tag, err := r.db.Exec(ctx, query, walletID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// SettleWalletLock burns the locked portion once the gateway confirms the
// transfer settled.
func (r *PostgresRepository) SettleWalletLock(ctx context.Context, walletID uuid.UUID, amount int64) error {
	query := `
		UPDATE wallets
		SET locked_balance = locked_balance - $2,
		    updated_at = NOW()
		WHERE id = $1 AND locked_balance >= $2
	`
	tag, err := r.db.Exec(ctx, query, walletID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// CreditWalletBalance adds a confirmed deposit's net amount to the available
// balance and marks the wallet as set up.
func (r *PostgresRepository) CreditWalletBalance(ctx context.Context, walletID uuid.UUID, amount int64) error {
	query := `
		UPDATE wallets
		SET available_balance = available_balance + $2,
		    is_setup = TRUE,
		    updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, walletID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// GetWalletSecurityCredential returns transaction PIN security metadata for an owner.
func (r *PostgresRepository) GetWalletSecurityCredential(ctx context.Context, ownerID uuid.UUID) (*domain.WalletSecurityCredential, error) {
	var credential domain.WalletSecurityCredential
	query := `
		SELECT owner_id, pin_hash, failed_attempts, locked_until
		FROM wallet_security_credentials
		WHERE owner_id = $1
	`
	err := r.db.QueryRow(ctx, query, ownerID).Scan(
		&credential.OwnerID,
		&credential.PINHash,
		&credential.FailedAttempts,
		&credential.LockedUntil,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPINNotSet
		}
		return nil, err
	}
	if credential.PINHash == "" {
		return nil, ErrPINNotSet
	}

	return &credential, nil
}

// CreateWalletSecurityCredential stores the bcrypt hash of a newly chosen PIN.
// The PIN is set-once; a conflicting insert maps to ErrPINAlreadySet.
func (r *PostgresRepository) CreateWalletSecurityCredential(ctx context.Context, ownerID uuid.UUID, pinHash string) error {
	query := `
		INSERT INTO wallet_security_credentials (owner_id, pin_hash, failed_attempts)
		VALUES ($1, $2, 0)
	`
	_, err := r.db.Exec(ctx, query, ownerID, pinHash)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return ErrPINAlreadySet
		}
		return err
	}
	return nil
}

// RecordFailedPINAttempt atomically increments failed attempts and applies lockout.
// An expired lock resets the counter to 1 so the owner gets a fresh window.
func (r *PostgresRepository) RecordFailedPINAttempt(ctx context.Context, ownerID uuid.UUID, maxAttempts int, lockoutSeconds int) (*domain.WalletSecurityCredential, error) {
	var credential domain.WalletSecurityCredential
	query := `
		UPDATE wallet_security_credentials
		SET
			failed_attempts = CASE
				WHEN (locked_until IS NOT NULL AND locked_until <= NOW())
					OR (locked_until IS NULL AND failed_attempts >= $2) THEN 1
				ELSE failed_attempts + 1
			END,
			last_failed_at = NOW(),
			locked_until = CASE
				WHEN (
					CASE
						WHEN (locked_until IS NOT NULL AND locked_until <= NOW())
							OR (locked_until IS NULL AND failed_attempts >= $2) THEN 1
						ELSE failed_attempts + 1
					END
				) >= $2 THEN NOW() + ($3 * INTERVAL '1 second')
				ELSE NULL
			END
		WHERE owner_id = $1
		RETURNING owner_id, pin_hash, failed_attempts, locked_until
	`
	err := r.db.QueryRow(ctx, query, ownerID, maxAttempts, lockoutSeconds).Scan(
		&credential.OwnerID,
		&credential.PINHash,
		&credential.FailedAttempts,
		&credential.LockedUntil,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPINNotSet
		}
		return nil, err
	}

	return &credential, nil
}

// ResetPINFailureState clears failed-attempt counters after a successful PIN verification.
func (r *PostgresRepository) ResetPINFailureState(ctx context.Context, ownerID uuid.UUID) error {
	query := `
		UPDATE wallet_security_credentials
		SET failed_attempts = 0, last_failed_at = NULL, locked_until = NULL
		WHERE owner_id = $1
	`
	_, err := r.db.Exec(ctx, query, ownerID)
	return err
}

// GetWithdrawalLimitPolicy returns the per-role withdrawal constraints.
func (r *PostgresRepository) GetWithdrawalLimitPolicy(ctx context.Context, role string) (*domain.WithdrawalLimitPolicy, error) {
	var policy domain.WithdrawalLimitPolicy
	query := `
		SELECT role, min_amount, max_per_transaction, max_daily_amount, max_monthly_amount
		FROM withdrawal_limit_policies
		WHERE role = $1
	`
	err := r.db.QueryRow(ctx, query, role).Scan(
		&policy.Role,
		&policy.MinAmount,
		&policy.MaxPerTransaction,
		&policy.MaxDailyAmount,
		&policy.MaxMonthlyAmount,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrLimitPolicyNotFound
		}
		return nil, err
	}
	return &policy, nil
}

// SumWithdrawalsSince totals withdrawal amounts initiated at or after the
// given instant. Open (pending/processing) withdrawals count toward the
// limit, so in-flight requests cannot overshoot it.
func (r *PostgresRepository) SumWithdrawalsSince(ctx context.Context, ownerID uuid.UUID, since time.Time) (int64, error) {
	var total int64
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE owner_id = $1
		  AND category = 'withdrawal'
		  AND status IN ('pending', 'processing', 'successful')
		  AND initiated_at >= $2
	`
	err := r.db.QueryRow(ctx, query, ownerID, since).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

const transactionColumns = `id, wallet_id, owner_id, direction, category, status, amount, fee, net_amount,
	currency, reference, gateway_reference, gateway_payload, failure_reason,
	initiated_at, completed_at, failed_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(
		&tx.ID,
		&tx.WalletID,
		&tx.OwnerID,
		&tx.Direction,
		&tx.Category,
		&tx.Status,
		&tx.Amount,
		&tx.Fee,
		&tx.NetAmount,
		&tx.Currency,
		&tx.Reference,
		&tx.GatewayReference,
		&tx.GatewayPayload,
		&tx.FailureReason,
		&tx.InitiatedAt,
		&tx.CompletedAt,
		&tx.FailedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// CreateTransaction inserts a new ledger row in its initial pending state.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, wallet_id, owner_id, direction, category, status,
			amount, fee, net_amount, currency, reference, initiated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		RETURNING initiated_at
	`
	err := r.db.QueryRow(ctx, query,
		tx.ID, tx.WalletID, tx.OwnerID, tx.Direction, tx.Category, tx.Status,
		tx.Amount, tx.Fee, tx.NetAmount, tx.Currency, tx.Reference,
	).Scan(&tx.InitiatedAt)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

// FindTransactionByReference looks up a ledger row by its wallet reference.
func (r *PostgresRepository) FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE reference = $1`, transactionColumns)
	return scanTransaction(r.db.QueryRow(ctx, query, reference))
}

// FindTransactionsByOwner lists an owner's ledger rows, newest first, with
// optional category/status filters.
func (r *PostgresRepository) FindTransactionsByOwner(ctx context.Context, ownerID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT %s FROM transactions WHERE owner_id = $1`, transactionColumns)
	args := []interface{}{ownerID}
	if opts.Category != "" {
		args = append(args, opts.Category)
		fmt.Fprintf(&sb, ` AND category = $%d`, len(args))
	}
	if opts.Status != "" {
		args = append(args, opts.Status)
		fmt.Fprintf(&sb, ` AND status = $%d`, len(args))
	}
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	fmt.Fprintf(&sb, ` ORDER BY initiated_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	return transactions, rows.Err()
}

// MarkTransactionProcessing records the gateway's own reference once the
// deposit or transfer has been handed off.
func (r *PostgresRepository) MarkTransactionProcessing(ctx context.Context, reference, gatewayReference string) error {
	query := `
		UPDATE transactions
		SET status = 'processing', gateway_reference = $2
		WHERE reference = $1 AND status = 'pending'
	`
	_, err := r.db.Exec(ctx, query, reference, gatewayReference)
	return err
}

// MarkTransactionSuccessful flips a non-terminal transaction to successful.
// The status guard makes the webhook/poll race safe: only one caller sees
// a row affected, so balance effects apply exactly once.
func (r *PostgresRepository) MarkTransactionSuccessful(ctx context.Context, reference string, gatewayPayload []byte) (bool, error) {
	query := `
		UPDATE transactions
		SET status = 'successful', gateway_payload = $2, completed_at = NOW()
		WHERE reference = $1 AND status IN ('pending', 'processing')
	`
	tag, err := r.db.Exec(ctx, query, reference, gatewayPayload)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkTransactionFailed flips a non-terminal transaction to failed under the
// same status guard as MarkTransactionSuccessful.
func (r *PostgresRepository) MarkTransactionFailed(ctx context.Context, reference, failureReason string) (bool, error) {
	query := `
		UPDATE transactions
		SET status = 'failed', failure_reason = $2, failed_at = NOW()
		WHERE reference = $1 AND status IN ('pending', 'processing')
	`
	tag, err := r.db.Exec(ctx, query, reference, failureReason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FailStaleDeposits sweeps the owner's open deposits that predate the cutoff
// into the failed state. Deposits never hold locked funds, so no balance
// compensation is needed here.
func (r *PostgresRepository) FailStaleDeposits(ctx context.Context, ownerID uuid.UUID, cutoff time.Time) (int64, error) {
	query := `
		UPDATE transactions
		SET status = 'failed', failure_reason = 'expired: no gateway confirmation', failed_at = NOW()
		WHERE owner_id = $1
		  AND category = 'deposit'
		  AND status IN ('pending', 'processing')
		  AND initiated_at < $2
	`
	tag, err := r.db.Exec(ctx, query, ownerID, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// FindActiveDeposit returns the owner's most recent open deposit initiated at
// or after the given instant, if any.
func (r *PostgresRepository) FindActiveDeposit(ctx context.Context, ownerID uuid.UUID, since time.Time) (*domain.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE owner_id = $1
		  AND category = 'deposit'
		  AND status IN ('pending', 'processing')
		  AND initiated_at >= $2
		ORDER BY initiated_at DESC
		LIMIT 1
	`, transactionColumns)
	return scanTransaction(r.db.QueryRow(ctx, query, ownerID, since))
}

// ListOpenTransactions returns non-terminal ledger rows older than the given
// instant, oldest first, for reconciliation sweeps.
func (r *PostgresRepository) ListOpenTransactions(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE status IN ('pending', 'processing')
		  AND initiated_at < $1
		ORDER BY initiated_at ASC
		LIMIT $2
	`, transactionColumns)
	rows, err := r.db.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	return transactions, rows.Err()
}

// CreateBankAccount stores a saved payout destination for the owner.
func (r *PostgresRepository) CreateBankAccount(ctx context.Context, account *domain.BankAccount) error {
	query := `
		INSERT INTO bank_accounts (id, owner_id, account_number, bank_code, account_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		account.ID, account.OwnerID, account.AccountNumber, account.BankCode, account.AccountName,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
}

// FindBankAccountByID retrieves a bank account, scoped to its owner so one
// user cannot withdraw to another user's saved account.
func (r *PostgresRepository) FindBankAccountByID(ctx context.Context, accountID, ownerID uuid.UUID) (*domain.BankAccount, error) {
	var account domain.BankAccount
	query := `
		SELECT id, owner_id, account_number, bank_code, account_name, recipient_code, created_at, updated_at
		FROM bank_accounts
		WHERE id = $1 AND owner_id = $2
	`
	err := r.db.QueryRow(ctx, query, accountID, ownerID).Scan(
		&account.ID,
		&account.OwnerID,
		&account.AccountNumber,
		&account.BankCode,
		&account.AccountName,
		&account.RecipientCode,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBankAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// FindBankAccountsByOwner lists the owner's saved payout destinations.
func (r *PostgresRepository) FindBankAccountsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.BankAccount, error) {
	query := `
		SELECT id, owner_id, account_number, bank_code, account_name, recipient_code, created_at, updated_at
		FROM bank_accounts
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.BankAccount
	for rows.Next() {
		var account domain.BankAccount
		err := rows.Scan(
			&account.ID,
			&account.OwnerID,
			&account.AccountNumber,
			&account.BankCode,
			&account.AccountName,
			&account.RecipientCode,
			&account.CreatedAt,
			&account.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// SetBankAccountRecipientCode caches the gateway's transfer recipient code so
// later withdrawals to the same account skip recipient creation.
func (r *PostgresRepository) SetBankAccountRecipientCode(ctx context.Context, accountID uuid.UUID, recipientCode string) error {
	query := `UPDATE bank_accounts SET recipient_code = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, accountID, recipientCode)
	return err
}
