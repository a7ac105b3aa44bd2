package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/punchamoorthee/accountledger/internal/domain"
	"github.com/punchamoorthee/accountledger/internal/events"
	"github.com/punchamoorthee/accountledger/internal/lock"
	"github.com/punchamoorthee/accountledger/internal/store"
)

const maxOpenAttempts = 5

// AccountService opens and closes accounts.
type AccountService struct {
	store     store.Store
	issuer    Issuer
	locker    lock.Locker
	publisher events.Publisher
	now       func() time.Time
}

func NewAccountService(s store.Store, issuer Issuer, locker lock.Locker, publisher events.Publisher) *AccountService {
	return &AccountService{
		store:     s,
		issuer:    issuer,
		locker:    locker,
		publisher: publisher,
		now:       time.Now,
	}
}

// Open creates an active account for the owner. A number taken concurrently
// by another Open is retried with a fresh one.
func (s *AccountService) Open(ctx context.Context, ownerID int64, initialBalance int64) (*domain.Account, error) {
	if initialBalance < 0 {
		return nil, domain.ErrInvalidAmount
	}
	if err := s.checkCanOpen(ctx, s.store, ownerID); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		number, err := s.issuer.Issue(ctx)
		if err != nil {
			return nil, err
		}

		account, err := s.create(ctx, ownerID, number, initialBalance)
		if err == nil {
			slog.Info("account opened", "account_number", account.AccountNumber, "owner_id", ownerID)
			s.publish(ctx, events.AccountOpened, account)
			return account, nil
		}
		if !errors.Is(err, domain.ErrDuplicateAccountNumber) || attempt == maxOpenAttempts {
			return nil, err
		}
		slog.Warn("account number taken, retrying", "account_number", number, "attempt", attempt)
	}
}

func (s *AccountService) checkCanOpen(ctx context.Context, r store.Repos, ownerID int64) error {
	if _, err := r.FindOwnerByID(ctx, ownerID); err != nil {
		return missing(err, domain.ErrOwnerNotFound)
	}
	return checkAccountLimit(ctx, r, ownerID)
}

func checkAccountLimit(ctx context.Context, r store.Repos, ownerID int64) error {
	count, err := r.CountAccountsByOwner(ctx, ownerID)
	if err != nil {
		return err
	}
	if count >= domain.MaxAccountsPerOwner {
		return domain.ErrAccountLimitExceeded
	}
	return nil
}

func (s *AccountService) create(ctx context.Context, ownerID int64, number string, initialBalance int64) (*domain.Account, error) {
	account := &domain.Account{
		OwnerID:       ownerID,
		AccountNumber: number,
		Status:        domain.AccountActive,
		Balance:       initialBalance,
		RegisteredAt:  s.now(),
	}

	// The owner row lock makes concurrent opens for one owner count one at a
	// time, so the limit cannot be overshot.
	err := s.store.InTx(ctx, func(r store.Repos) error {
		if _, err := r.LockOwner(ctx, ownerID); err != nil {
			return missing(err, domain.ErrOwnerNotFound)
		}
		if err := checkAccountLimit(ctx, r, ownerID); err != nil {
			return err
		}
		return r.CreateAccount(ctx, account)
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Close marks an empty account closed. It runs under the account lock so the
// balance it checks cannot change before the status is written.
func (s *AccountService) Close(ctx context.Context, ownerID int64, accountNumber string) (*domain.Account, error) {
	var account *domain.Account
	err := withAccountLock(ctx, s.locker, accountNumber, func() error {
		return s.store.InTx(ctx, func(r store.Repos) error {
			if _, err := r.FindOwnerByID(ctx, ownerID); err != nil {
				return missing(err, domain.ErrOwnerNotFound)
			}
			acc, err := r.FindAccountByNumber(ctx, accountNumber)
			if err != nil {
				return missing(err, domain.ErrAccountNotFound)
			}
			if acc.OwnerID != ownerID {
				return domain.ErrOwnerMismatch
			}
			if err := acc.Close(s.now()); err != nil {
				return err
			}
			if err := r.UpdateAccount(ctx, acc); err != nil {
				return err
			}
			account = acc
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slog.Info("account closed", "account_number", accountNumber, "owner_id", ownerID)
	s.publish(ctx, events.AccountClosed, account)
	return account, nil
}

// ListAccounts returns every account the owner holds, closed ones included.
func (s *AccountService) ListAccounts(ctx context.Context, ownerID int64) ([]domain.Account, error) {
	if _, err := s.store.FindOwnerByID(ctx, ownerID); err != nil {
		return nil, missing(err, domain.ErrOwnerNotFound)
	}
	return s.store.FindAccountsByOwner(ctx, ownerID)
}

func (s *AccountService) GetAccount(ctx context.Context, accountNumber string) (*domain.Account, error) {
	account, err := s.store.FindAccountByNumber(ctx, accountNumber)
	if err != nil {
		return nil, missing(err, domain.ErrAccountNotFound)
	}
	return account, nil
}

func (s *AccountService) publish(ctx context.Context, routingKey string, account *domain.Account) {
	if err := s.publisher.PublishAccount(context.WithoutCancel(ctx), routingKey, account); err != nil {
		slog.Warn("account event publish failed", "routing_key", routingKey, "account_number", account.AccountNumber, "error", err)
	}
}
