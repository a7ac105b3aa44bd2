package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/punchamoorthee/accountledger/internal/domain"
	"github.com/punchamoorthee/accountledger/internal/lock"
)

// LockedEngine runs every mutating engine call under the per-account lock,
// keyed by account number. Reads pass straight through.
type LockedEngine struct {
	next   TransactionEngine
	locker lock.Locker
}

func NewLockedEngine(next TransactionEngine, locker lock.Locker) *LockedEngine {
	return &LockedEngine{next: next, locker: locker}
}

func (e *LockedEngine) Use(ctx context.Context, ownerID int64, accountNumber string, amount int64) (txn *domain.Transaction, err error) {
	err = withAccountLock(ctx, e.locker, accountNumber, func() error {
		txn, err = e.next.Use(ctx, ownerID, accountNumber, amount)
		return err
	})
	return txn, err
}

func (e *LockedEngine) RecordFailedUse(ctx context.Context, accountNumber string, amount int64) (txn *domain.Transaction, err error) {
	err = withAccountLock(ctx, e.locker, accountNumber, func() error {
		txn, err = e.next.RecordFailedUse(ctx, accountNumber, amount)
		return err
	})
	return txn, err
}

func (e *LockedEngine) Cancel(ctx context.Context, transactionID, accountNumber string, amount int64) (txn *domain.Transaction, err error) {
	err = withAccountLock(ctx, e.locker, accountNumber, func() error {
		txn, err = e.next.Cancel(ctx, transactionID, accountNumber, amount)
		return err
	})
	return txn, err
}

func (e *LockedEngine) RecordFailedCancel(ctx context.Context, accountNumber string, amount int64) (txn *domain.Transaction, err error) {
	err = withAccountLock(ctx, e.locker, accountNumber, func() error {
		txn, err = e.next.RecordFailedCancel(ctx, accountNumber, amount)
		return err
	})
	return txn, err
}

func (e *LockedEngine) Query(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	return e.next.Query(ctx, transactionID)
}

func (e *LockedEngine) ListTransactions(ctx context.Context, accountNumber string) ([]domain.Transaction, error) {
	return e.next.ListTransactions(ctx, accountNumber)
}

// withAccountLock runs fn while holding the account's lock. The lease is
// released on every exit path, panics included, even when ctx is already done.
func withAccountLock(ctx context.Context, locker lock.Locker, accountNumber string, fn func() error) error {
	start := time.Now()
	lease, err := locker.Lock(ctx, accountNumber)
	lockWaitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			lockBusy.Inc()
			return domain.ErrAccountBusy
		}
		return fmt.Errorf("acquire account lock: %w", err)
	}

	defer func() {
		if err := lease.Unlock(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("account lock release failed", "account_number", accountNumber, "error", err)
		}
	}()

	return fn()
}
