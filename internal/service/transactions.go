package service

import (
	"context"
	"log/slog"

	"github.com/punchamoorthee/accountledger/internal/domain"
	"github.com/punchamoorthee/accountledger/internal/events"
)

// TransactionService is what request handlers call. A failed use or cancel
// with a recordable error leaves a failure transaction behind; the failure is
// recorded under a fresh account lock after the original one was released.
type TransactionService struct {
	engine    TransactionEngine
	publisher events.Publisher
}

func NewTransactionService(engine TransactionEngine, publisher events.Publisher) *TransactionService {
	return &TransactionService{engine: engine, publisher: publisher}
}

func (s *TransactionService) Use(ctx context.Context, ownerID int64, accountNumber string, amount int64) (*domain.Transaction, error) {
	txn, err := s.engine.Use(ctx, ownerID, accountNumber, amount)
	if err != nil {
		s.recordFailure(ctx, domain.TransactionUse, accountNumber, amount, err)
		return nil, err
	}

	s.publish(ctx, txn)
	return txn, nil
}

func (s *TransactionService) Cancel(ctx context.Context, transactionID, accountNumber string, amount int64) (*domain.Transaction, error) {
	txn, err := s.engine.Cancel(ctx, transactionID, accountNumber, amount)
	if err != nil {
		s.recordFailure(ctx, domain.TransactionCancel, accountNumber, amount, err)
		return nil, err
	}

	s.publish(ctx, txn)
	return txn, nil
}

func (s *TransactionService) Query(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	return s.engine.Query(ctx, transactionID)
}

func (s *TransactionService) ListTransactions(ctx context.Context, accountNumber string) ([]domain.Transaction, error) {
	return s.engine.ListTransactions(ctx, accountNumber)
}

// recordFailure is best effort: its own errors are logged and the caller
// still gets the original cause.
func (s *TransactionService) recordFailure(ctx context.Context, kind domain.TransactionKind, accountNumber string, amount int64, cause error) {
	if !domain.IsRecordable(cause) {
		return
	}

	var (
		failed *domain.Transaction
		err    error
	)
	switch kind {
	case domain.TransactionUse:
		failed, err = s.engine.RecordFailedUse(ctx, accountNumber, amount)
	case domain.TransactionCancel:
		failed, err = s.engine.RecordFailedCancel(ctx, accountNumber, amount)
	}
	if err != nil {
		slog.Error("failed to record failed transaction",
			"kind", kind,
			"account_number", accountNumber,
			"code", domain.CodeOf(cause),
			"error", err,
		)
		return
	}

	slog.Info("failed transaction recorded",
		"kind", kind,
		"account_number", accountNumber,
		"transaction_id", failed.TransactionID,
		"code", domain.CodeOf(cause),
	)
	s.publish(ctx, failed)
}

func (s *TransactionService) publish(ctx context.Context, txn *domain.Transaction) {
	if err := s.publisher.PublishTransaction(context.WithoutCancel(ctx), txn); err != nil {
		slog.Warn("transaction event publish failed", "transaction_id", txn.TransactionID, "error", err)
	}
}
