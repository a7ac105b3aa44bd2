package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/accountledger/internal/domain"
	"github.com/punchamoorthee/accountledger/internal/store"
)

// TransactionEngine validates and applies balance changes to one account.
type TransactionEngine interface {
	Use(ctx context.Context, ownerID int64, accountNumber string, amount int64) (*domain.Transaction, error)
	RecordFailedUse(ctx context.Context, accountNumber string, amount int64) (*domain.Transaction, error)
	Cancel(ctx context.Context, transactionID, accountNumber string, amount int64) (*domain.Transaction, error)
	RecordFailedCancel(ctx context.Context, accountNumber string, amount int64) (*domain.Transaction, error)
	Query(ctx context.Context, transactionID string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, accountNumber string) ([]domain.Transaction, error)
}

// cancellationWindowYears is how far back a use transaction can still be cancelled.
const cancellationWindowYears = 1

// Engine runs every balance change and its transaction record as one unit of
// work on the store. It does no locking of its own; wrap it in a LockedEngine.
type Engine struct {
	store store.Store
	now   func() time.Time
	newID func() string
}

func NewEngine(s store.Store) *Engine {
	return &Engine{
		store: s,
		now:   time.Now,
		newID: newTransactionID,
	}
}

func newTransactionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (e *Engine) Use(ctx context.Context, ownerID int64, accountNumber string, amount int64) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	var txn *domain.Transaction
	err := e.store.InTx(ctx, func(r store.Repos) error {
		if _, err := r.FindOwnerByID(ctx, ownerID); err != nil {
			return missing(err, domain.ErrOwnerNotFound)
		}
		account, err := r.FindAccountByNumber(ctx, accountNumber)
		if err != nil {
			return missing(err, domain.ErrAccountNotFound)
		}
		if account.OwnerID != ownerID {
			return domain.ErrOwnerMismatch
		}
		if !account.IsActive() {
			return domain.ErrAccountClosed
		}
		if err := account.Withdraw(amount); err != nil {
			return err
		}
		if err := r.UpdateAccount(ctx, account); err != nil {
			return err
		}

		txn = e.newTransaction(account, domain.TransactionUse, domain.OutcomeSuccess, amount)
		return r.CreateTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	transactionsRecorded.WithLabelValues(string(txn.Kind), string(txn.Outcome)).Inc()
	return txn, nil
}

func (e *Engine) RecordFailedUse(ctx context.Context, accountNumber string, amount int64) (*domain.Transaction, error) {
	return e.recordFailure(ctx, domain.TransactionUse, accountNumber, amount)
}

// Cancel reverses a successful use transaction in full.
func (e *Engine) Cancel(ctx context.Context, transactionID, accountNumber string, amount int64) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	var txn *domain.Transaction
	err := e.store.InTx(ctx, func(r store.Repos) error {
		original, err := r.FindTransactionByTransactionID(ctx, transactionID)
		if err != nil {
			return missing(err, domain.ErrTransactionNotFound)
		}
		account, err := r.FindAccountByNumber(ctx, accountNumber)
		if err != nil {
			return missing(err, domain.ErrAccountNotFound)
		}
		if original.AccountID != account.ID {
			return domain.ErrTransactionAccountMismatch
		}
		if original.Amount != amount {
			return domain.ErrPartialCancelNotAllowed
		}
		if original.TransactedAt.Before(e.now().AddDate(-cancellationWindowYears, 0, 0)) {
			return domain.ErrCancellationWindowExpired
		}
		if original.Kind != domain.TransactionUse || !original.Succeeded() {
			return domain.ErrTransactionNotCancellable
		}
		if _, err := r.FindCancelFor(ctx, original.TransactionID); err == nil {
			return domain.ErrAlreadyCancelled
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if err := account.Deposit(amount); err != nil {
			return err
		}
		if err := r.UpdateAccount(ctx, account); err != nil {
			return err
		}

		txn = e.newTransaction(account, domain.TransactionCancel, domain.OutcomeSuccess, amount)
		txn.CancelledTransactionID = original.TransactionID
		return r.CreateTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	transactionsRecorded.WithLabelValues(string(txn.Kind), string(txn.Outcome)).Inc()
	return txn, nil
}

func (e *Engine) RecordFailedCancel(ctx context.Context, accountNumber string, amount int64) (*domain.Transaction, error) {
	return e.recordFailure(ctx, domain.TransactionCancel, accountNumber, amount)
}

// recordFailure writes a failure transaction carrying the untouched balance.
func (e *Engine) recordFailure(ctx context.Context, kind domain.TransactionKind, accountNumber string, amount int64) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	var txn *domain.Transaction
	err := e.store.InTx(ctx, func(r store.Repos) error {
		account, err := r.FindAccountByNumber(ctx, accountNumber)
		if err != nil {
			return missing(err, domain.ErrAccountNotFound)
		}
		txn = e.newTransaction(account, kind, domain.OutcomeFailure, amount)
		return r.CreateTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	transactionsRecorded.WithLabelValues(string(txn.Kind), string(txn.Outcome)).Inc()
	return txn, nil
}

func (e *Engine) Query(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	txn, err := e.store.FindTransactionByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, missing(err, domain.ErrTransactionNotFound)
	}
	return txn, nil
}

// ListTransactions returns the account's audit trail, oldest first.
func (e *Engine) ListTransactions(ctx context.Context, accountNumber string) ([]domain.Transaction, error) {
	account, err := e.store.FindAccountByNumber(ctx, accountNumber)
	if err != nil {
		return nil, missing(err, domain.ErrAccountNotFound)
	}
	return e.store.FindTransactionsByAccount(ctx, account.ID)
}

func (e *Engine) newTransaction(account *domain.Account, kind domain.TransactionKind, outcome domain.TransactionOutcome, amount int64) *domain.Transaction {
	return &domain.Transaction{
		TransactionID:   e.newID(),
		AccountID:       account.ID,
		AccountNumber:   account.AccountNumber,
		Kind:            kind,
		Outcome:         outcome,
		Amount:          amount,
		BalanceSnapshot: account.Balance,
		TransactedAt:    e.now(),
	}
}

// missing turns store.ErrNotFound into the given ledger error and passes
// infrastructure errors through.
func missing(err error, notFound error) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound
	}
	return err
}
