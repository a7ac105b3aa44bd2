package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/punchamoorthee/accountledger/internal/domain"
)

const (
	MinAmount = 10
	MaxAmount = 1_000_000_000
)

// ValidationError reports a request field that failed its syntactic check.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

func validateUserID(id int64) error {
	if id < 1 {
		return invalid("user_id", "must be at least 1")
	}
	return nil
}

func validateAccountNumber(n string) error {
	if len(n) != domain.AccountNumberLength {
		return invalid("account_number", fmt.Sprintf("must be %d digits", domain.AccountNumberLength))
	}
	for _, c := range n {
		if c < '0' || c > '9' {
			return invalid("account_number", fmt.Sprintf("must be %d digits", domain.AccountNumberLength))
		}
	}
	return nil
}

func validateAmount(amount int64) error {
	if amount < MinAmount || amount > MaxAmount {
		return invalid("amount", fmt.Sprintf("must be between %d and %d", MinAmount, MaxAmount))
	}
	return nil
}

// CreateAccountRequest is the payload for opening an account.
type CreateAccountRequest struct {
	UserID         int64 `json:"user_id"`
	InitialBalance int64 `json:"initial_balance"`
}

func (r CreateAccountRequest) Validate() error {
	if err := validateUserID(r.UserID); err != nil {
		return err
	}
	if r.InitialBalance < 0 {
		return invalid("initial_balance", "must not be negative")
	}
	return nil
}

// DeleteAccountRequest is the payload for closing an account.
type DeleteAccountRequest struct {
	UserID        int64  `json:"user_id"`
	AccountNumber string `json:"account_number"`
}

func (r DeleteAccountRequest) Validate() error {
	if err := validateUserID(r.UserID); err != nil {
		return err
	}
	return validateAccountNumber(r.AccountNumber)
}

type UseBalanceRequest struct {
	UserID        int64  `json:"user_id"`
	AccountNumber string `json:"account_number"`
	Amount        int64  `json:"amount"`
}

func (r UseBalanceRequest) Validate() error {
	if err := validateUserID(r.UserID); err != nil {
		return err
	}
	if err := validateAccountNumber(r.AccountNumber); err != nil {
		return err
	}
	return validateAmount(r.Amount)
}

type CancelBalanceRequest struct {
	TransactionID string `json:"transaction_id"`
	AccountNumber string `json:"account_number"`
	Amount        int64  `json:"amount"`
}

func (r CancelBalanceRequest) Validate() error {
	if strings.TrimSpace(r.TransactionID) == "" {
		return invalid("transaction_id", "must not be blank")
	}
	if err := validateAccountNumber(r.AccountNumber); err != nil {
		return err
	}
	return validateAmount(r.Amount)
}

// AccountResponse is returned when an account is opened or closed.
type AccountResponse struct {
	UserID         int64                `json:"user_id"`
	AccountNumber  string               `json:"account_number"`
	Status         domain.AccountStatus `json:"status"`
	Balance        int64                `json:"balance"`
	RegisteredAt   time.Time            `json:"registered_at"`
	UnregisteredAt *time.Time           `json:"unregistered_at,omitempty"`
}

func NewAccountResponse(a *domain.Account) AccountResponse {
	return AccountResponse{
		UserID:         a.OwnerID,
		AccountNumber:  a.AccountNumber,
		Status:         a.Status,
		Balance:        a.Balance,
		RegisteredAt:   a.RegisteredAt,
		UnregisteredAt: a.UnregisteredAt,
	}
}

// AccountSummary is one entry of an owner's account list.
type AccountSummary struct {
	AccountNumber string `json:"account_number"`
	Balance       int64  `json:"balance"`
}

func NewAccountSummaries(accounts []domain.Account) []AccountSummary {
	out := make([]AccountSummary, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, AccountSummary{AccountNumber: a.AccountNumber, Balance: a.Balance})
	}
	return out
}

type TransactionResponse struct {
	TransactionID          string                    `json:"transaction_id"`
	AccountNumber          string                    `json:"account_number"`
	Kind                   domain.TransactionKind    `json:"transaction_type"`
	Result                 domain.TransactionOutcome `json:"transaction_result"`
	Amount                 int64                     `json:"amount"`
	BalanceSnapshot        int64                     `json:"balance_snapshot"`
	CancelledTransactionID string                    `json:"cancelled_transaction_id,omitempty"`
	TransactedAt           time.Time                 `json:"transacted_at"`
}

func NewTransactionResponse(t *domain.Transaction) TransactionResponse {
	return TransactionResponse{
		TransactionID:          t.TransactionID,
		AccountNumber:          t.AccountNumber,
		Kind:                   t.Kind,
		Result:                 t.Outcome,
		Amount:                 t.Amount,
		BalanceSnapshot:        t.BalanceSnapshot,
		CancelledTransactionID: t.CancelledTransactionID,
		TransactedAt:           t.TransactedAt,
	}
}

func NewTransactionResponses(txns []domain.Transaction) []TransactionResponse {
	out := make([]TransactionResponse, 0, len(txns))
	for i := range txns {
		out = append(out, NewTransactionResponse(&txns[i]))
	}
	return out
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}
