// Package events publishes ledger outcomes to a RabbitMQ topic exchange.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/punchamoorthee/accountledger/internal/domain"
)

const (
	AccountOpened = "account.opened"
	AccountClosed = "account.closed"
)

// TransactionEvent is published for every recorded transaction, success or failure.
type TransactionEvent struct {
	TransactionID          string                    `json:"transaction_id"`
	AccountNumber          string                    `json:"account_number"`
	Kind                   domain.TransactionKind    `json:"kind"`
	Outcome                domain.TransactionOutcome `json:"outcome"`
	Amount                 int64                     `json:"amount"`
	BalanceSnapshot        int64                     `json:"balance_snapshot"`
	CancelledTransactionID string                    `json:"cancelled_transaction_id,omitempty"`
	TransactedAt           time.Time                 `json:"transacted_at"`
}

type AccountEvent struct {
	OwnerID       int64                `json:"user_id"`
	AccountNumber string               `json:"account_number"`
	Status        domain.AccountStatus `json:"status"`
	Balance       int64                `json:"balance"`
	Timestamp     time.Time            `json:"timestamp"`
}

// Publisher is implemented by types that can publish ledger events.
type Publisher interface {
	PublishTransaction(ctx context.Context, txn *domain.Transaction) error
	PublishAccount(ctx context.Context, routingKey string, account *domain.Account) error
	Close()
}

// TransactionRoutingKey is transaction.<kind>.<outcome>.
func TransactionRoutingKey(txn *domain.Transaction) string {
	return fmt.Sprintf("transaction.%s.%s", txn.Kind, txn.Outcome)
}

func newTransactionEvent(txn *domain.Transaction) TransactionEvent {
	return TransactionEvent{
		TransactionID:          txn.TransactionID,
		AccountNumber:          txn.AccountNumber,
		Kind:                   txn.Kind,
		Outcome:                txn.Outcome,
		Amount:                 txn.Amount,
		BalanceSnapshot:        txn.BalanceSnapshot,
		CancelledTransactionID: txn.CancelledTransactionID,
		TransactedAt:           txn.TransactedAt,
	}
}

func newAccountEvent(account *domain.Account, at time.Time) AccountEvent {
	return AccountEvent{
		OwnerID:       account.OwnerID,
		AccountNumber: account.AccountNumber,
		Status:        account.Status,
		Balance:       account.Balance,
		Timestamp:     at,
	}
}
