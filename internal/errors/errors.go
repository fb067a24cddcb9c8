package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ValidationFailed     ErrorCode = "validation_error"
	ItemNotFound         ErrorCode = "item_not_found"
	MatchNotFound        ErrorCode = "match_not_found"
	InvalidTransition    ErrorCode = "invalid_transition"
	InvalidState         ErrorCode = "invalid_state"
	PersistenceFailed    ErrorCode = "persistence_error"
	SettlementFailed     ErrorCode = "settlement_error"
	InsufficientBalance  ErrorCode = "insufficient_balance"
	DuplicateTransaction ErrorCode = "duplicate_transaction"
	Unauthorized         ErrorCode = "unauthorized"
	ServiceUnavailable   ErrorCode = "service_unavailable"
	InternalError        ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports code equality, so a detailed copy still matches its sentinel.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !stderrors.As(target, &t) {
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

// WithDetails returns a copy so the predefined errors below are never mutated.
func (e *AppError) WithDetails(details string) *AppError {
	c := *e
	c.Details = details
	return &c
}

func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ValidationFailed:
		return http.StatusBadRequest
	case ItemNotFound, MatchNotFound:
		return http.StatusNotFound
	case InvalidTransition, InvalidState, DuplicateTransaction:
		return http.StatusConflict
	case InsufficientBalance:
		return http.StatusUnprocessableEntity
	case Unauthorized:
		return http.StatusUnauthorized
	case ServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Predefined errors for common cases
var (
	ErrItemNotFound           = NewAppError(ItemNotFound, "queue item not found")
	ErrMatchNotFound          = NewAppError(MatchNotFound, "match not found")
	ErrInvalidTransition      = NewAppError(InvalidTransition, "status transition not permitted")
	ErrInvalidState           = NewAppError(InvalidState, "match is not in the required state")
	ErrPersistence            = NewAppError(PersistenceFailed, "failed to persist queue state")
	ErrSettlement             = NewAppError(SettlementFailed, "settlement failed")
	ErrInsufficientBalance    = NewAppError(InsufficientBalance, "insufficient balance")
	ErrDuplicateTransaction   = NewAppError(DuplicateTransaction, "transaction already recorded")
	ErrUnauthorized           = NewAppError(Unauthorized, "admin token required")
	ErrServiceStopped         = NewAppError(ServiceUnavailable, "queue service is not running")
	ErrCannotBeginTransaction = NewAppError(InternalError, "executor cannot begin a transaction")
)

// Validation builds a validation_error with the offending detail.
func Validation(format string, args ...interface{}) *AppError {
	return NewAppErrorf(ValidationFailed, format, args...)
}

// AsAppError unwraps err into an *AppError, wrapping unknown errors as internal.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return NewAppError(InternalError, "an unexpected error occurred").WithDetails(err.Error())
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}
