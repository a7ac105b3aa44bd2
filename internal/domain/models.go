package domain

import "time"

// Audit holds the bookkeeping timestamps every persisted entity carries.
// The store sets both on insert and refreshes UpdatedAt on update.
type Audit struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AccountOwner is a person who may hold accounts. Owners are managed outside
// the ledger; the ledger only reads them by ID.
type AccountOwner struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Audit
}

type AccountStatus string

const (
	AccountActive AccountStatus = "active"
	AccountClosed AccountStatus = "closed"
)

// AccountNumberLength is the number of digits in an account number.
const AccountNumberLength = 10

// MaxAccountsPerOwner counts active and closed accounts alike.
const MaxAccountsPerOwner = 10

// Account represents a balance held by one owner.
// Balance is in the smallest currency unit and is never negative.
type Account struct {
	ID             int64         `json:"id"`
	OwnerID        int64         `json:"owner_id"`
	AccountNumber  string        `json:"account_number"`
	Status         AccountStatus `json:"status"`
	Balance        int64         `json:"balance"`
	RegisteredAt   time.Time     `json:"registered_at"`
	UnregisteredAt *time.Time    `json:"unregistered_at,omitempty"`
	Audit
}

func (a *Account) IsActive() bool {
	return a.Status == AccountActive
}

// Withdraw debits the balance. The caller has already checked the account state.
func (a *Account) Withdraw(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if a.Balance < amount {
		return ErrInsufficientBalance
	}
	a.Balance -= amount
	return nil
}

// Deposit credits the balance.
func (a *Account) Deposit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	a.Balance += amount
	return nil
}

// Close marks the account closed. Only an empty, active account can be closed.
func (a *Account) Close(at time.Time) error {
	if a.Status == AccountClosed {
		return ErrAlreadyClosed
	}
	if a.Balance != 0 {
		return ErrBalanceNotEmpty
	}
	a.Status = AccountClosed
	a.UnregisteredAt = &at
	return nil
}

type TransactionKind string

const (
	TransactionUse    TransactionKind = "use"
	TransactionCancel TransactionKind = "cancel"
)

type TransactionOutcome string

const (
	OutcomeSuccess TransactionOutcome = "success"
	OutcomeFailure TransactionOutcome = "failure"
)

// Transaction is the immutable record of one attempted balance change.
// BalanceSnapshot is the balance after the change, or the untouched balance
// when the attempt failed.
type Transaction struct {
	ID                     int64              `json:"-"`
	TransactionID          string             `json:"transaction_id"`
	AccountID              int64              `json:"account_id"`
	AccountNumber          string             `json:"account_number"`
	Kind                   TransactionKind    `json:"kind"`
	Outcome                TransactionOutcome `json:"outcome"`
	Amount                 int64              `json:"amount"`
	BalanceSnapshot        int64              `json:"balance_snapshot"`
	CancelledTransactionID string             `json:"cancelled_transaction_id,omitempty"`
	TransactedAt           time.Time          `json:"transacted_at"`
	Audit
}

func (t *Transaction) Succeeded() bool {
	return t.Outcome == OutcomeSuccess
}
