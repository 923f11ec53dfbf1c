package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// StatusClientClosedRequest reports a request abandoned by its client.
const StatusClientClosedRequest = 499

type ErrorCode string

const (
	InvalidInput         ErrorCode = "invalid_input"
	InvalidAmount        ErrorCode = "invalid_amount"
	InvalidAccountID     ErrorCode = "invalid_account_id"
	SameAccountTransfer  ErrorCode = "same_account_transfer"
	AccountNotFound      ErrorCode = "account_not_found"
	TransactionNotFound  ErrorCode = "transaction_not_found"
	InsufficientFunds    ErrorCode = "insufficient_funds"
	LockTimeout          ErrorCode = "lock_timeout"
	RequestCancelled     ErrorCode = "request_cancelled"
	DuplicateAccount     ErrorCode = "duplicate_account"
	DuplicateTransaction ErrorCode = "duplicate_transaction"
	InternalError        ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports a match on the error code alone, so a sentinel matches any
// message or details variant of the same kind.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithDetails returns a copy carrying details. Sentinels are shared, so the
// receiver is never modified.
func (e *AppError) WithDetails(details string) *AppError {
	clone := *e
	clone.Details = details
	return &clone
}

// HTTPStatus maps the error code to the response status used by the handlers.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case InvalidInput, InvalidAmount, InvalidAccountID, SameAccountTransfer:
		return http.StatusBadRequest
	case AccountNotFound, TransactionNotFound:
		return http.StatusNotFound
	case DuplicateAccount, DuplicateTransaction:
		return http.StatusConflict
	case InsufficientFunds:
		return http.StatusUnprocessableEntity
	case LockTimeout:
		return http.StatusServiceUnavailable
	case RequestCancelled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// Predefined errors for common cases
var (
	ErrInvalidAmount        = NewAppError(InvalidAmount, "amount must be greater than zero")
	ErrInvalidAccountID     = NewAppError(InvalidAccountID, "invalid account id")
	ErrSameAccountTransfer  = NewAppError(SameAccountTransfer, "source and destination accounts must differ")
	ErrAccountNotFound      = NewAppError(AccountNotFound, "account not found")
	ErrTransactionNotFound  = NewAppError(TransactionNotFound, "transaction not found")
	ErrInsufficientFunds    = NewAppError(InsufficientFunds, "insufficient funds")
	ErrLockTimeout          = NewAppError(LockTimeout, "timed out waiting for account lock")
	ErrRequestCancelled     = NewAppError(RequestCancelled, "request cancelled while waiting for lock")
	ErrDuplicateAccount     = NewAppError(DuplicateAccount, "account already exists")
	ErrDuplicateTransaction = NewAppError(DuplicateTransaction, "transaction already processed")
)

// LockWaitError classifies a failed lock acquisition: a cancelled context is
// reported as RequestCancelled, anything else as LockTimeout.
func LockWaitError(err error, details string) *AppError {
	if stderrors.Is(err, context.Canceled) {
		return ErrRequestCancelled.WithDetails(details)
	}
	return ErrLockTimeout.WithDetails(details)
}
