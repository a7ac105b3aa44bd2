package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/punchamoorthee/accountledger/internal/domain"
)

// MemoryStore is a process-local Store. InTx holds the store mutex for the
// whole unit of work and replays an undo log when fn fails or panics.
type MemoryStore struct {
	mu  sync.RWMutex
	now func() time.Time

	nextOwnerID   int64
	nextAccountID int64
	nextTxnID     int64

	owners          map[int64]domain.AccountOwner
	accounts        map[int64]domain.Account
	accountByNumber map[string]int64
	txns            []domain.Transaction
	txnByID         map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:             time.Now,
		owners:          make(map[int64]domain.AccountOwner),
		accounts:        make(map[int64]domain.Account),
		accountByNumber: make(map[string]int64),
		txnByID:         make(map[string]int),
	}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) InTx(ctx context.Context, fn func(r Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *MemoryStore) FindOwnerByID(_ context.Context, id int64) (*domain.AccountOwner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findOwner(id)
}

func (s *MemoryStore) LockOwner(ctx context.Context, id int64) (*domain.AccountOwner, error) {
	return s.FindOwnerByID(ctx, id)
}

func (s *MemoryStore) CreateOwner(_ context.Context, owner *domain.AccountOwner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createOwner(owner)
	return nil
}

func (s *MemoryStore) FindAccountByID(_ context.Context, id int64) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findAccount(id)
}

func (s *MemoryStore) FindAccountByNumber(_ context.Context, accountNumber string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findAccountByNumber(accountNumber)
}

func (s *MemoryStore) FindAccountsByOwner(_ context.Context, ownerID int64) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountsByOwner(ownerID), nil
}

func (s *MemoryStore) CountAccountsByOwner(_ context.Context, ownerID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accountsByOwner(ownerID)), nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createAccount(account)
}

func (s *MemoryStore) UpdateAccount(_ context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.updateAccount(account)
	return err
}

func (s *MemoryStore) FindTransactionByTransactionID(_ context.Context, transactionID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findTransaction(transactionID)
}

func (s *MemoryStore) FindTransactionsByAccount(_ context.Context, accountID int64) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transactionsByAccount(accountID), nil
}

func (s *MemoryStore) FindCancelFor(_ context.Context, transactionID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findCancelFor(transactionID)
}

func (s *MemoryStore) CreateTransaction(_ context.Context, txn *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createTransaction(txn)
}

// The helpers below expect s.mu to be held.

func (s *MemoryStore) findOwner(id int64) (*domain.AccountOwner, error) {
	owner, ok := s.owners[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &owner, nil
}

func (s *MemoryStore) createOwner(owner *domain.AccountOwner) {
	now := s.now()
	s.nextOwnerID++
	owner.ID = s.nextOwnerID
	owner.CreatedAt, owner.UpdatedAt = now, now
	s.owners[owner.ID] = *owner
}

func (s *MemoryStore) findAccount(id int64) (*domain.Account, error) {
	account, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAccount(account), nil
}

func (s *MemoryStore) findAccountByNumber(accountNumber string) (*domain.Account, error) {
	id, ok := s.accountByNumber[accountNumber]
	if !ok {
		return nil, ErrNotFound
	}
	return s.findAccount(id)
}

func (s *MemoryStore) accountsByOwner(ownerID int64) []domain.Account {
	var out []domain.Account
	for _, account := range s.accounts {
		if account.OwnerID == ownerID {
			out = append(out, *copyAccount(account))
		}
	}
	slices.SortFunc(out, func(a, b domain.Account) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (s *MemoryStore) createAccount(account *domain.Account) error {
	if _, taken := s.accountByNumber[account.AccountNumber]; taken {
		return domain.ErrDuplicateAccountNumber
	}

	now := s.now()
	s.nextAccountID++
	account.ID = s.nextAccountID
	account.CreatedAt, account.UpdatedAt = now, now
	s.accounts[account.ID] = *copyAccount(*account)
	s.accountByNumber[account.AccountNumber] = account.ID
	return nil
}

// updateAccount returns the previous state of the account.
func (s *MemoryStore) updateAccount(account *domain.Account) (domain.Account, error) {
	prev, ok := s.accounts[account.ID]
	if !ok {
		return domain.Account{}, ErrNotFound
	}

	account.UpdatedAt = s.now()
	next := *copyAccount(*account)
	next.AccountNumber = prev.AccountNumber
	next.OwnerID = prev.OwnerID
	s.accounts[account.ID] = next
	return prev, nil
}

func (s *MemoryStore) findTransaction(transactionID string) (*domain.Transaction, error) {
	i, ok := s.txnByID[transactionID]
	if !ok {
		return nil, ErrNotFound
	}
	txn := s.txns[i]
	return &txn, nil
}

func (s *MemoryStore) findCancelFor(transactionID string) (*domain.Transaction, error) {
	for _, txn := range s.txns {
		if txn.Kind == domain.TransactionCancel && txn.Succeeded() && txn.CancelledTransactionID == transactionID {
			return &txn, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) transactionsByAccount(accountID int64) []domain.Transaction {
	var out []domain.Transaction
	for _, txn := range s.txns {
		if txn.AccountID == accountID {
			out = append(out, txn)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Transaction) int {
		return a.TransactedAt.Compare(b.TransactedAt)
	})
	return out
}

func (s *MemoryStore) createTransaction(txn *domain.Transaction) error {
	if _, ok := s.txnByID[txn.TransactionID]; ok {
		return fmt.Errorf("transaction %s already exists", txn.TransactionID)
	}
	if txn.Kind == domain.TransactionCancel && txn.Succeeded() {
		if _, err := s.findCancelFor(txn.CancelledTransactionID); err == nil {
			return domain.ErrAlreadyCancelled
		}
	}

	now := s.now()
	s.nextTxnID++
	txn.ID = s.nextTxnID
	txn.CreatedAt, txn.UpdatedAt = now, now
	s.txnByID[txn.TransactionID] = len(s.txns)
	s.txns = append(s.txns, *txn)
	return nil
}

func copyAccount(a domain.Account) *domain.Account {
	if a.UnregisteredAt != nil {
		at := *a.UnregisteredAt
		a.UnregisteredAt = &at
	}
	return &a
}

// memTx is the Repos view handed to fn by InTx. Every write registers its
// inverse so a failed unit of work leaves the store untouched.
type memTx struct {
	s    *MemoryStore
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

func (t *memTx) FindOwnerByID(_ context.Context, id int64) (*domain.AccountOwner, error) {
	return t.s.findOwner(id)
}

// LockOwner needs no extra locking: InTx already holds the store mutex.
func (t *memTx) LockOwner(_ context.Context, id int64) (*domain.AccountOwner, error) {
	return t.s.findOwner(id)
}

func (t *memTx) CreateOwner(_ context.Context, owner *domain.AccountOwner) error {
	prevID := t.s.nextOwnerID
	t.s.createOwner(owner)
	id := owner.ID
	t.undo = append(t.undo, func() {
		delete(t.s.owners, id)
		t.s.nextOwnerID = prevID
	})
	return nil
}

func (t *memTx) FindAccountByID(_ context.Context, id int64) (*domain.Account, error) {
	return t.s.findAccount(id)
}

func (t *memTx) FindAccountByNumber(_ context.Context, accountNumber string) (*domain.Account, error) {
	return t.s.findAccountByNumber(accountNumber)
}

func (t *memTx) FindAccountsByOwner(_ context.Context, ownerID int64) ([]domain.Account, error) {
	return t.s.accountsByOwner(ownerID), nil
}

func (t *memTx) CountAccountsByOwner(_ context.Context, ownerID int64) (int, error) {
	return len(t.s.accountsByOwner(ownerID)), nil
}

func (t *memTx) CreateAccount(_ context.Context, account *domain.Account) error {
	prevID := t.s.nextAccountID
	if err := t.s.createAccount(account); err != nil {
		return err
	}
	id, number := account.ID, account.AccountNumber
	t.undo = append(t.undo, func() {
		delete(t.s.accounts, id)
		delete(t.s.accountByNumber, number)
		t.s.nextAccountID = prevID
	})
	return nil
}

func (t *memTx) UpdateAccount(_ context.Context, account *domain.Account) error {
	prev, err := t.s.updateAccount(account)
	if err != nil {
		return err
	}
	t.undo = append(t.undo, func() {
		t.s.accounts[prev.ID] = prev
	})
	return nil
}

func (t *memTx) FindTransactionByTransactionID(_ context.Context, transactionID string) (*domain.Transaction, error) {
	return t.s.findTransaction(transactionID)
}

func (t *memTx) FindTransactionsByAccount(_ context.Context, accountID int64) ([]domain.Transaction, error) {
	return t.s.transactionsByAccount(accountID), nil
}

func (t *memTx) FindCancelFor(_ context.Context, transactionID string) (*domain.Transaction, error) {
	return t.s.findCancelFor(transactionID)
}

func (t *memTx) CreateTransaction(_ context.Context, txn *domain.Transaction) error {
	prevID := t.s.nextTxnID
	if err := t.s.createTransaction(txn); err != nil {
		return err
	}
	transactionID := txn.TransactionID
	t.undo = append(t.undo, func() {
		t.s.txns = t.s.txns[:len(t.s.txns)-1]
		delete(t.s.txnByID, transactionID)
		t.s.nextTxnID = prevID
	})
	return nil
}
