package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/punchamoorthee/accountledger/internal/domain"
	"github.com/punchamoorthee/accountledger/internal/lock"
	"github.com/punchamoorthee/accountledger/internal/store"
)

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu       sync.Mutex
	txns     []domain.Transaction
	accounts []string
}

func (p *recordingPublisher) PublishTransaction(_ context.Context, txn *domain.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txns = append(p.txns, *txn)
	return nil
}

func (p *recordingPublisher) PublishAccount(_ context.Context, routingKey string, account *domain.Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = append(p.accounts, routingKey+":"+account.AccountNumber)
	return nil
}

func (p *recordingPublisher) Close() {}

type fixture struct {
	store     *store.MemoryStore
	engine    *Engine
	locker    *lock.LocalLocker
	txns      *TransactionService
	publisher *recordingPublisher
	owner     int64
	other     int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s := store.NewMemoryStore()
	engine := NewEngine(s)
	engine.now = func() time.Time { return testNow }

	locker := lock.NewLocalLocker(time.Second)
	publisher := &recordingPublisher{}

	f := &fixture{
		store:     s,
		engine:    engine,
		locker:    locker,
		txns:      NewTransactionService(NewLockedEngine(engine, locker), publisher),
		publisher: publisher,
	}
	f.owner = f.createOwner(t, "alice")
	f.other = f.createOwner(t, "bob")
	return f
}

func (f *fixture) createOwner(t *testing.T, name string) int64 {
	t.Helper()
	owner := &domain.AccountOwner{Name: name}
	if err := f.store.CreateOwner(context.Background(), owner); err != nil {
		t.Fatalf("create owner: %v", err)
	}
	return owner.ID
}

func (f *fixture) createAccount(t *testing.T, ownerID int64, number string, balance int64) *domain.Account {
	t.Helper()
	account := &domain.Account{
		OwnerID:       ownerID,
		AccountNumber: number,
		Status:        domain.AccountActive,
		Balance:       balance,
		RegisteredAt:  testNow,
	}
	if err := f.store.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account
}

func (f *fixture) balance(t *testing.T, number string) int64 {
	t.Helper()
	account, err := f.store.FindAccountByNumber(context.Background(), number)
	if err != nil {
		t.Fatalf("find account %s: %v", number, err)
	}
	return account.Balance
}

func (f *fixture) history(t *testing.T, number string) []domain.Transaction {
	t.Helper()
	txns, err := f.engine.ListTransactions(context.Background(), number)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	return txns
}

// assertSnapshotMatchesBalance checks that the latest record of the account
// carries the balance the store holds.
func (f *fixture) assertSnapshotMatchesBalance(t *testing.T, number string) {
	t.Helper()
	txns := f.history(t, number)
	if len(txns) == 0 {
		return
	}
	last := txns[len(txns)-1]
	if got := f.balance(t, number); last.BalanceSnapshot != got {
		t.Fatalf("latest snapshot %d does not match balance %d", last.BalanceSnapshot, got)
	}
}
