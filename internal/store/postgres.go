package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/accountledger/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// querier is the part of pgx shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps accounts and transactions in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
	pgRepos
}

func NewPostgresStore(ctx context.Context, connString string, maxConns int32) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return NewPostgresStoreFromPool(pool), nil
}

func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		db:      pool,
		pgRepos: pgRepos{q: pool, now: time.Now},
	}
}

// EnsureSchema creates the ledger tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

// InTx runs fn inside a database transaction. Account rows read through the
// transaction are locked FOR UPDATE until commit or rollback, owner rows FOR
// SHARE unless taken with LockOwner.
func (s *PostgresStore) InTx(ctx context.Context, fn func(r Repos) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(pgRepos{q: tx, now: s.now, locking: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

type pgRepos struct {
	q       querier
	now     func() time.Time
	locking bool
}

const accountColumns = `id, owner_id, account_number, status, balance, registered_at, unregistered_at, created_at, updated_at`

const transactionColumns = `id, transaction_id, account_id, account_number, kind, outcome, amount, balance_snapshot,
	cancelled_transaction_id, transacted_at, created_at, updated_at`

func (r pgRepos) FindOwnerByID(ctx context.Context, id int64) (*domain.AccountOwner, error) {
	return r.findOwner(ctx, id, ` FOR SHARE`)
}

func (r pgRepos) LockOwner(ctx context.Context, id int64) (*domain.AccountOwner, error) {
	return r.findOwner(ctx, id, ` FOR UPDATE`)
}

func (r pgRepos) findOwner(ctx context.Context, id int64, lockClause string) (*domain.AccountOwner, error) {
	query := `SELECT id, name, created_at, updated_at FROM account_owners WHERE id = $1`
	if r.locking {
		query += lockClause
	}

	var owner domain.AccountOwner
	err := r.q.QueryRow(ctx, query, id).Scan(&owner.ID, &owner.Name, &owner.CreatedAt, &owner.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &owner, nil
}

func (r pgRepos) CreateOwner(ctx context.Context, owner *domain.AccountOwner) error {
	now := r.now()
	err := r.q.QueryRow(ctx,
		`INSERT INTO account_owners (name, created_at, updated_at) VALUES ($1, $2, $2) RETURNING id`,
		owner.Name, now,
	).Scan(&owner.ID)
	if err != nil {
		return fmt.Errorf("owner insert failed: %w", err)
	}
	owner.CreatedAt, owner.UpdatedAt = now, now
	return nil
}

func (r pgRepos) FindAccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	return r.findAccount(ctx, `WHERE id = $1`, id)
}

func (r pgRepos) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	return r.findAccount(ctx, `WHERE account_number = $1`, accountNumber)
}

func (r pgRepos) findAccount(ctx context.Context, where string, arg any) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ` + where
	if r.locking {
		query += ` FOR UPDATE`
	}

	account, err := scanAccount(r.q.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, notFound(err)
	}
	return account, nil
}

func (r pgRepos) FindAccountsByOwner(ctx context.Context, ownerID int64) ([]domain.Account, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("account query failed: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("account scan failed: %w", err)
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

func (r pgRepos) CountAccountsByOwner(ctx context.Context, ownerID int64) (int, error) {
	var count int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE owner_id = $1`, ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("account count failed: %w", err)
	}
	return count, nil
}

func (r pgRepos) CreateAccount(ctx context.Context, account *domain.Account) error {
	now := r.now()
	err := r.q.QueryRow(ctx,
		`INSERT INTO accounts (owner_id, account_number, status, balance, registered_at, unregistered_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id`,
		account.OwnerID, account.AccountNumber, account.Status, account.Balance,
		account.RegisteredAt, account.UnregisteredAt, now,
	).Scan(&account.ID)
	if err != nil {
		return mapWriteError("account insert failed", err)
	}
	account.CreatedAt, account.UpdatedAt = now, now
	return nil
}

func (r pgRepos) UpdateAccount(ctx context.Context, account *domain.Account) error {
	now := r.now()
	tag, err := r.q.Exec(ctx,
		`UPDATE accounts SET status = $1, balance = $2, unregistered_at = $3, updated_at = $4 WHERE id = $5`,
		account.Status, account.Balance, account.UnregisteredAt, now, account.ID,
	)
	if err != nil {
		return mapWriteError("account update failed", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	account.UpdatedAt = now
	return nil
}

func (r pgRepos) FindTransactionByTransactionID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	txn, err := scanTransaction(r.q.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE transaction_id = $1`, transactionID))
	if err != nil {
		return nil, notFound(err)
	}
	return txn, nil
}

func (r pgRepos) FindCancelFor(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	txn, err := scanTransaction(r.q.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE cancelled_transaction_id = $1 AND kind = 'cancel' AND outcome = 'success'`, transactionID))
	if err != nil {
		return nil, notFound(err)
	}
	return txn, nil
}

func (r pgRepos) FindTransactionsByAccount(ctx context.Context, accountID int64) ([]domain.Transaction, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE account_id = $1 ORDER BY transacted_at, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("transaction query failed: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("transaction scan failed: %w", err)
		}
		txns = append(txns, *txn)
	}
	return txns, rows.Err()
}

func (r pgRepos) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	now := r.now()
	var cancelled *string
	if txn.CancelledTransactionID != "" {
		cancelled = &txn.CancelledTransactionID
	}

	err := r.q.QueryRow(ctx,
		`INSERT INTO transactions (transaction_id, account_id, account_number, kind, outcome, amount, balance_snapshot,
		                           cancelled_transaction_id, transacted_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10) RETURNING id`,
		txn.TransactionID, txn.AccountID, txn.AccountNumber, txn.Kind, txn.Outcome, txn.Amount,
		txn.BalanceSnapshot, cancelled, txn.TransactedAt, now,
	).Scan(&txn.ID)
	if err != nil {
		return mapWriteError("transaction insert failed", err)
	}
	txn.CreatedAt, txn.UpdatedAt = now, now
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.OwnerID, &a.AccountNumber, &a.Status, &a.Balance,
		&a.RegisteredAt, &a.UnregisteredAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	var cancelled *string
	err := row.Scan(&t.ID, &t.TransactionID, &t.AccountID, &t.AccountNumber, &t.Kind, &t.Outcome,
		&t.Amount, &t.BalanceSnapshot, &cancelled, &t.TransactedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if cancelled != nil {
		t.CancelledTransactionID = *cancelled
	}
	return &t, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// mapWriteError turns unique violations on the ledger's own constraints into
// domain errors and wraps everything else.
func mapWriteError(msg string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case "accounts_account_number_key":
			return domain.ErrDuplicateAccountNumber
		case "transactions_cancel_once_idx":
			return domain.ErrAlreadyCancelled
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
