package domain

import "errors"

// ErrorClass groups ledger errors by how callers are expected to react.
type ErrorClass int

const (
	ClassMissingEntity ErrorClass = iota + 1
	ClassMismatch
	ClassBusinessRule
	ClassTransient
	ClassInvalidInput
)

func (c ErrorClass) String() string {
	switch c {
	case ClassMissingEntity:
		return "missing_entity"
	case ClassMismatch:
		return "mismatch"
	case ClassBusinessRule:
		return "business_rule"
	case ClassTransient:
		return "transient"
	case ClassInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error is a ledger error with a stable code. The package-level values below
// are compared by identity with errors.Is.
type Error struct {
	Code    string
	Class   ErrorClass
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(code string, class ErrorClass, msg string) *Error {
	return &Error{Code: code, Class: class, Message: msg}
}

var (
	ErrOwnerNotFound       = newError("OWNER_NOT_FOUND", ClassMissingEntity, "owner not found")
	ErrAccountNotFound     = newError("ACCOUNT_NOT_FOUND", ClassMissingEntity, "account not found")
	ErrTransactionNotFound = newError("TRANSACTION_NOT_FOUND", ClassMissingEntity, "transaction not found")

	ErrOwnerMismatch              = newError("OWNER_MISMATCH", ClassMismatch, "account is not owned by user")
	ErrTransactionAccountMismatch = newError("TRANSACTION_ACCOUNT_MISMATCH", ClassMismatch, "transaction does not belong to account")

	ErrAccountClosed             = newError("ACCOUNT_CLOSED", ClassBusinessRule, "account is closed")
	ErrAlreadyClosed             = newError("ALREADY_CLOSED", ClassBusinessRule, "account is already closed")
	ErrBalanceNotEmpty           = newError("BALANCE_NOT_EMPTY", ClassBusinessRule, "account balance is not empty")
	ErrInsufficientBalance       = newError("INSUFFICIENT_BALANCE", ClassBusinessRule, "amount exceeds balance")
	ErrPartialCancelNotAllowed   = newError("PARTIAL_CANCEL_NOT_ALLOWED", ClassBusinessRule, "cancel amount must equal the original amount")
	ErrCancellationWindowExpired = newError("CANCELLATION_WINDOW_EXPIRED", ClassBusinessRule, "transaction is older than one year")
	ErrAccountLimitExceeded      = newError("ACCOUNT_LIMIT_EXCEEDED", ClassBusinessRule, "owner already holds the maximum number of accounts")
	ErrTransactionNotCancellable = newError("TRANSACTION_NOT_CANCELLABLE", ClassBusinessRule, "only a successful use transaction can be cancelled")
	ErrAlreadyCancelled          = newError("ALREADY_CANCELLED", ClassBusinessRule, "transaction is already cancelled")

	ErrAccountBusy            = newError("ACCOUNT_BUSY", ClassTransient, "account is busy, try again")
	ErrDuplicateAccountNumber = newError("DUPLICATE_ACCOUNT_NUMBER", ClassTransient, "account number already taken")

	ErrInvalidAmount = newError("INVALID_AMOUNT", ClassInvalidInput, "amount must be positive")
)

// ClassOf reports the class of a ledger error anywhere in err's chain.
func ClassOf(err error) (ErrorClass, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Class, true
	}
	return 0, false
}

// CodeOf returns the ledger error code, or "INTERNAL_ERROR" for anything else.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL_ERROR"
}

// IsRecordable reports whether a failed use/cancel attempt with this error
// must leave a failure transaction behind.
func IsRecordable(err error) bool {
	class, ok := ClassOf(err)
	if !ok {
		return false
	}
	switch class {
	case ClassMissingEntity, ClassMismatch, ClassBusinessRule:
		return true
	}
	return false
}

// IsRetryable reports whether a fresh attempt may succeed.
func IsRetryable(err error) bool {
	class, ok := ClassOf(err)
	return ok && class == ClassTransient
}
