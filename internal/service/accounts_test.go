package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/punchamoorthee/accountledger/internal/domain"
	"github.com/punchamoorthee/accountledger/internal/store"
)

type sequenceIssuer struct {
	mu      sync.Mutex
	numbers []string
	calls   int
}

func (i *sequenceIssuer) Issue(context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := i.numbers[min(i.calls, len(i.numbers)-1)]
	i.calls++
	return n, nil
}

func newAccountService(f *fixture, issuer Issuer) *AccountService {
	s := NewAccountService(f.store, issuer, f.locker, f.publisher)
	s.now = func() time.Time { return testNow }
	return s
}

func TestOpenAccount(t *testing.T) {
	f := newFixture(t)
	svc := newAccountService(f, NewNumberIssuer(f.store))

	account, err := svc.Open(context.Background(), f.owner, 2500)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(account.AccountNumber) != domain.AccountNumberLength || account.AccountNumber[0] == '0' {
		t.Fatalf("unexpected account number %q", account.AccountNumber)
	}
	if account.Status != domain.AccountActive || account.Balance != 2500 || !account.RegisteredAt.Equal(testNow) {
		t.Fatalf("unexpected account %+v", account)
	}
	if account.UnregisteredAt != nil {
		t.Fatal("new account must not have a closure time")
	}
	if len(f.publisher.accounts) != 1 || f.publisher.accounts[0] != "account.opened:"+account.AccountNumber {
		t.Fatalf("unexpected events %v", f.publisher.accounts)
	}
}

func TestOpenAccountPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := newAccountService(f, NewNumberIssuer(f.store))

	if _, err := svc.Open(ctx, 999, 0); !errors.Is(err, domain.ErrOwnerNotFound) {
		t.Fatalf("expected ErrOwnerNotFound, got %v", err)
	}
	if _, err := svc.Open(ctx, f.owner, -1); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	var last *domain.Account
	for i := 0; i < domain.MaxAccountsPerOwner; i++ {
		account, err := svc.Open(ctx, f.owner, 0)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		last = account
	}

	// closed accounts still count
	if _, err := svc.Close(ctx, f.owner, last.AccountNumber); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := svc.Open(ctx, f.owner, 0); !errors.Is(err, domain.ErrAccountLimitExceeded) {
		t.Fatalf("expected ErrAccountLimitExceeded, got %v", err)
	}
	if _, err := svc.Open(ctx, f.other, 0); err != nil {
		t.Fatalf("limit is per owner: %v", err)
	}
}

func TestOpenRetriesTakenNumber(t *testing.T) {
	f := newFixture(t)
	f.createAccount(t, f.other, "1111111111", 0)

	issuer := &sequenceIssuer{numbers: []string{"1111111111", "2222222222"}}
	svc := newAccountService(f, issuer)

	account, err := svc.Open(context.Background(), f.owner, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if account.AccountNumber != "2222222222" {
		t.Fatalf("expected 2222222222, got %s", account.AccountNumber)
	}
	if issuer.calls != 2 {
		t.Fatalf("expected 2 issues, got %d", issuer.calls)
	}
}

func TestOpenGivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t)
	f.createAccount(t, f.other, "1111111111", 0)

	issuer := &sequenceIssuer{numbers: []string{"1111111111"}}
	svc := newAccountService(f, issuer)

	_, err := svc.Open(context.Background(), f.owner, 0)
	if !errors.Is(err, domain.ErrDuplicateAccountNumber) {
		t.Fatalf("expected ErrDuplicateAccountNumber, got %v", err)
	}
	if issuer.calls != maxOpenAttempts {
		t.Fatalf("expected %d attempts, got %d", maxOpenAttempts, issuer.calls)
	}
}

func TestConcurrentOpenNeverDuplicatesNumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issuer := NewNumberIssuer(f.store)
	issuer.candidate = func() string {
		return fmt.Sprintf("%010d", 1_000_000_000+rand.IntN(1000))
	}
	svc := newAccountService(f, issuer)

	owners := []int64{f.owner, f.other}
	for i := 0; i < 3; i++ {
		owners = append(owners, f.createOwner(t, fmt.Sprintf("owner-%d", i)))
	}

	var wg sync.WaitGroup
	numbers := make(chan string, len(owners)*domain.MaxAccountsPerOwner)
	for _, ownerID := range owners {
		for i := 0; i < domain.MaxAccountsPerOwner; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				account, err := svc.Open(ctx, ownerID, 0)
				if err != nil {
					t.Errorf("open: %v", err)
					return
				}
				numbers <- account.AccountNumber
			}()
		}
	}
	wg.Wait()
	close(numbers)

	seen := make(map[string]bool)
	for n := range numbers {
		if seen[n] {
			t.Fatalf("account number %s issued twice", n)
		}
		seen[n] = true
	}
	if len(seen) != len(owners)*domain.MaxAccountsPerOwner {
		t.Fatalf("expected %d accounts, got %d", len(owners)*domain.MaxAccountsPerOwner, len(seen))
	}
}

// barrierIssuer holds every caller until parties callers are waiting, so all
// of them pass the pre-check before any account is created.
type barrierIssuer struct {
	mu      sync.Mutex
	parties int
	next    int
	release chan struct{}
}

func newBarrierIssuer(parties int) *barrierIssuer {
	return &barrierIssuer{parties: parties, release: make(chan struct{})}
}

func (i *barrierIssuer) Issue(ctx context.Context) (string, error) {
	i.mu.Lock()
	i.next++
	number := fmt.Sprintf("%d", 3_000_000_000+i.next)
	if i.next == i.parties {
		close(i.release)
	}
	i.mu.Unlock()

	select {
	case <-i.release:
		return number, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type ownerLockRepos struct {
	store.Repos
	locks *atomic.Int32
}

func (r ownerLockRepos) LockOwner(ctx context.Context, id int64) (*domain.AccountOwner, error) {
	r.locks.Add(1)
	return r.Repos.LockOwner(ctx, id)
}

// ownerLockStore counts owner locks taken inside units of work.
type ownerLockStore struct {
	*store.MemoryStore
	locks atomic.Int32
}

func (s *ownerLockStore) InTx(ctx context.Context, fn func(r store.Repos) error) error {
	return s.MemoryStore.InTx(ctx, func(r store.Repos) error {
		return fn(ownerLockRepos{Repos: r, locks: &s.locks})
	})
}

func TestConcurrentOpenAtLimitAllowsOne(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < domain.MaxAccountsPerOwner-1; i++ {
		f.createAccount(t, f.owner, fmt.Sprintf("%d", 2_000_000_000+i), 0)
	}

	st := &ownerLockStore{MemoryStore: f.store}
	svc := NewAccountService(st, newBarrierIssuer(2), f.locker, f.publisher)
	svc.now = func() time.Time { return testNow }

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Open(ctx, f.owner, 0)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var opened, limited int
	for err := range errs {
		switch {
		case err == nil:
			opened++
		case errors.Is(err, domain.ErrAccountLimitExceeded):
			limited++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if opened != 1 || limited != 1 {
		t.Fatalf("expected one open and one limit error, got %d and %d", opened, limited)
	}

	count, err := f.store.CountAccountsByOwner(ctx, f.owner)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != domain.MaxAccountsPerOwner {
		t.Fatalf("expected %d accounts, got %d", domain.MaxAccountsPerOwner, count)
	}
	if got := st.locks.Load(); got != 2 {
		t.Fatalf("expected both creates to lock the owner, got %d locks", got)
	}
}

func TestCloseAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := newAccountService(f, NewNumberIssuer(f.store))
	f.createAccount(t, f.owner, "1000000001", 50)

	if _, err := svc.Close(ctx, f.owner, "1000000001"); !errors.Is(err, domain.ErrBalanceNotEmpty) {
		t.Fatalf("expected ErrBalanceNotEmpty, got %v", err)
	}
	if _, err := f.txns.Use(ctx, f.owner, "1000000001", 50); err != nil {
		t.Fatalf("use: %v", err)
	}

	closed, err := svc.Close(ctx, f.owner, "1000000001")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != domain.AccountClosed || closed.UnregisteredAt == nil || !closed.UnregisteredAt.Equal(testNow) {
		t.Fatalf("unexpected account %+v", closed)
	}

	if _, err := svc.Close(ctx, f.owner, "1000000001"); !errors.Is(err, domain.ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed, got %v", err)
	}
	if _, err := f.txns.Use(ctx, f.owner, "1000000001", 10); !errors.Is(err, domain.ErrAccountClosed) {
		t.Fatalf("expected ErrAccountClosed, got %v", err)
	}
}

func TestCloseAccountPreconditionOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := newAccountService(f, NewNumberIssuer(f.store))
	f.createAccount(t, f.other, "1000000002", 0)

	cases := []struct {
		name    string
		ownerID int64
		number  string
		want    error
	}{
		{"unknown owner", 999, "9999999999", domain.ErrOwnerNotFound},
		{"unknown account", f.owner, "9999999999", domain.ErrAccountNotFound},
		{"someone else's account", f.owner, "1000000002", domain.ErrOwnerMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Close(ctx, tc.ownerID, tc.number); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCloseAccountWaitsForLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createAccount(t, f.owner, "1000000001", 0)

	svc := newAccountService(f, NewNumberIssuer(f.store))
	held, _ := f.locker.Lock(ctx, "1000000001")
	defer held.Unlock(ctx)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := svc.Close(short, f.owner, "1000000001"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the close to wait on the held lock, got %v", err)
	}
}

func TestListAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := newAccountService(f, NewNumberIssuer(f.store))
	f.createAccount(t, f.owner, "1000000001", 10)
	f.createAccount(t, f.owner, "1000000002", 20)
	f.createAccount(t, f.other, "1000000003", 30)

	if _, err := svc.ListAccounts(ctx, 999); !errors.Is(err, domain.ErrOwnerNotFound) {
		t.Fatalf("expected ErrOwnerNotFound, got %v", err)
	}

	accounts, err := svc.ListAccounts(ctx, f.owner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(accounts) != 2 || accounts[0].AccountNumber != "1000000001" || accounts[1].Balance != 20 {
		t.Fatalf("unexpected accounts %+v", accounts)
	}

	if _, err := svc.GetAccount(ctx, "9999999999"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}
