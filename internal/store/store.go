package store

import (
	"context"
	"errors"

	"github.com/punchamoorthee/accountledger/internal/domain"
)

// ErrNotFound is returned by every Find* method when no row matches.
var ErrNotFound = errors.New("record not found")

type OwnerStore interface {
	FindOwnerByID(ctx context.Context, id int64) (*domain.AccountOwner, error)
	// LockOwner reads the owner and, inside InTx, holds it exclusively until
	// the unit of work ends. Opens for one owner serialize on it.
	LockOwner(ctx context.Context, id int64) (*domain.AccountOwner, error)
	CreateOwner(ctx context.Context, owner *domain.AccountOwner) error
}

type AccountStore interface {
	FindAccountByID(ctx context.Context, id int64) (*domain.Account, error)
	FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error)
	FindAccountsByOwner(ctx context.Context, ownerID int64) ([]domain.Account, error)
	CountAccountsByOwner(ctx context.Context, ownerID int64) (int, error)
	// CreateAccount fails with domain.ErrDuplicateAccountNumber when the
	// number is already held by any account.
	CreateAccount(ctx context.Context, account *domain.Account) error
	UpdateAccount(ctx context.Context, account *domain.Account) error
}

type TransactionStore interface {
	FindTransactionByTransactionID(ctx context.Context, transactionID string) (*domain.Transaction, error)
	// FindTransactionsByAccount returns the account's history, oldest first.
	FindTransactionsByAccount(ctx context.Context, accountID int64) ([]domain.Transaction, error)
	// FindCancelFor returns the successful cancel of the given use transaction.
	FindCancelFor(ctx context.Context, transactionID string) (*domain.Transaction, error)
	CreateTransaction(ctx context.Context, txn *domain.Transaction) error
}

// Repos is the full set of repositories, either bound to the store or to a
// unit of work started by InTx.
type Repos interface {
	OwnerStore
	AccountStore
	TransactionStore
}

// Store is the ledger's single consistency domain.
type Store interface {
	Repos
	// InTx runs fn as one atomic unit of work: every write made through the
	// Repos passed to fn is committed together, or none is when fn fails.
	InTx(ctx context.Context, fn func(r Repos) error) error
	Close()
}
