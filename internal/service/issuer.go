package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/punchamoorthee/accountledger/internal/store"
)

// Issuer hands out account numbers not held by any account.
type Issuer interface {
	Issue(ctx context.Context) (string, error)
}

// NumberIssuer draws random ten digit numbers and probes the store until it
// finds a free one. Two callers can still draw the same free number; the
// store's unique constraint catches that and AccountService retries.
type NumberIssuer struct {
	accounts  store.AccountStore
	candidate func() string
}

func NewNumberIssuer(accounts store.AccountStore) *NumberIssuer {
	return &NumberIssuer{accounts: accounts, candidate: randomAccountNumber}
}

func randomAccountNumber() string {
	return fmt.Sprintf("%d", 1_000_000_000+rand.Int64N(9_000_000_000))
}

func (i *NumberIssuer) Issue(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		number := i.candidate()
		_, err := i.accounts.FindAccountByNumber(ctx, number)
		if errors.Is(err, store.ErrNotFound) {
			return number, nil
		}
		if err != nil {
			return "", fmt.Errorf("check account number: %w", err)
		}
	}
}
