// Package apperr defines the typed error codes returned by every engine
// operation. Errors are always returned to the caller; nothing is silently
// caught and logged.
package apperr

import (
	"errors"
	"fmt"
)

// ErrCode classifies an error for callers and for HTTP status mapping.
type ErrCode string

const (
	// ErrCodeValidation is malformed or incomplete input, rejected before any
	// state mutation.
	ErrCodeValidation ErrCode = "VALIDATION"
	// ErrCodeNoApprovalRule means no active rule matches the invoice; a
	// configuration gap, never defaulted to auto-approve.
	ErrCodeNoApprovalRule ErrCode = "NO_APPROVAL_RULE"
	// ErrCodeChainIncomplete means no approver in the matched chain has
	// sufficient authority for the invoice amount.
	ErrCodeChainIncomplete ErrCode = "CHAIN_INCOMPLETE"
	// ErrCodeStepNotActive means the acted-on step is not the lowest pending
	// step, typically because another actor won the race. Safe to retry after
	// refreshing state.
	ErrCodeStepNotActive ErrCode = "STEP_NOT_ACTIVE"
	// ErrCodeUnauthorizedActor means the actor is neither the assigned
	// approver nor a permitted delegate.
	ErrCodeUnauthorizedActor ErrCode = "UNAUTHORIZED_ACTOR"
	// ErrCodeEmptyBatch means no eligible invoices for the batch criteria.
	ErrCodeEmptyBatch ErrCode = "EMPTY_BATCH"
	// ErrCodePaymentChannel means the external payment channel failed; the
	// batch rollback has already been applied and the operation is retryable.
	ErrCodePaymentChannel ErrCode = "PAYMENT_CHANNEL"

	ErrCodeNotFound     ErrCode = "NOT_FOUND"
	ErrCodeConflict     ErrCode = "CONFLICT"
	ErrCodeUnauthorized ErrCode = "UNAUTHORIZED"
	ErrCodeInternal     ErrCode = "INTERNAL"
)

// Error carries a machine-readable code alongside the message.
type Error struct {
	Code    ErrCode
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an error with a code and message.
func New(code ErrCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf creates an error with a code and a formatted message.
func Newf(code ErrCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code ErrCode, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// NotFound reports a missing record of the given kind.
func NotFound(kind, id string) *Error {
	return Newf(ErrCodeNotFound, "%s %q not found", kind, id)
}

// InvalidInput reports a validation failure on a named field.
func InvalidInput(field, msg string) *Error {
	return Newf(ErrCodeValidation, "%s: %s", field, msg)
}

// CodeOf extracts the ErrCode from err, or ErrCodeInternal for untyped errors.
func CodeOf(err error) ErrCode {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrCode) bool {
	return CodeOf(err) == code
}
