package types

import (
	"errors"
	"fmt"
)

// ErrorKind represents the category of a ledger failure
type ErrorKind string

const (
	KindNotFound      ErrorKind = "not_found"
	KindAlreadyExists ErrorKind = "already_exists"
	KindUnauthorized  ErrorKind = "unauthorized"
	KindInvalidState  ErrorKind = "invalid_state"
	KindInvalidInput  ErrorKind = "invalid_input"
	KindInternal      ErrorKind = "internal"
)

// Common error codes
const (
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeUserExists          = "USER_EXISTS"
	ErrCodePatientNotFound     = "PATIENT_NOT_FOUND"
	ErrCodePatientExists       = "PATIENT_EXISTS"
	ErrCodePermissionNotFound  = "PERMISSION_NOT_FOUND"
	ErrCodeRecordNotFound      = "RECORD_NOT_FOUND"
	ErrCodeAuditNotFound       = "AUDIT_ENTRY_NOT_FOUND"
	ErrCodeDuplicateDocument   = "DUPLICATE_DOCUMENT"
	ErrCodeViewerExists        = "VIEWER_EXISTS"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeAlreadyBootstrapped = "ALREADY_BOOTSTRAPPED"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeStorageFailure      = "STORAGE_FAILURE"
)

// LedgerError represents a structured error returned by every ledger operation
type LedgerError struct {
	Kind    ErrorKind              `json:"kind"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *LedgerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *LedgerError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a LedgerError of the same kind. A target
// carrying a code must match the code too.
func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// WithDetail attaches a key/value pair to the error and returns it
func (e *LedgerError) WithDetail(key string, value interface{}) *LedgerError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Kind sentinels for errors.Is
var (
	ErrNotFound      = &LedgerError{Kind: KindNotFound}
	ErrAlreadyExists = &LedgerError{Kind: KindAlreadyExists}
	ErrUnauthorized  = &LedgerError{Kind: KindUnauthorized}
	ErrInvalidState  = &LedgerError{Kind: KindInvalidState}
	ErrInvalidInput  = &LedgerError{Kind: KindInvalidInput}
	ErrInternal      = &LedgerError{Kind: KindInternal}
)

// NewNotFoundError creates a new not found error
func NewNotFoundError(code, message string) *LedgerError {
	return &LedgerError{Kind: KindNotFound, Code: code, Message: message}
}

// NewAlreadyExistsError creates a new duplicate error
func NewAlreadyExistsError(code, message string) *LedgerError {
	return &LedgerError{Kind: KindAlreadyExists, Code: code, Message: message}
}

// NewUnauthorizedError creates a new authorization error
func NewUnauthorizedError(message string) *LedgerError {
	return &LedgerError{Kind: KindUnauthorized, Code: ErrCodeForbidden, Message: message}
}

// NewInvalidStateError creates a new lifecycle error
func NewInvalidStateError(code, message string) *LedgerError {
	return &LedgerError{Kind: KindInvalidState, Code: code, Message: message}
}

// NewInvalidInputError creates a new validation error for a single field
func NewInvalidInputError(field, message string) *LedgerError {
	return &LedgerError{
		Kind:    KindInvalidInput,
		Code:    ErrCodeInvalidInput,
		Message: message,
		Details: map[string]interface{}{"field": field},
	}
}

// NewInternalError creates a new internal error
func NewInternalError(code, message string, cause error) *LedgerError {
	return &LedgerError{Kind: KindInternal, Code: code, Message: message, Cause: cause}
}

// KindOf returns the kind of a ledger error, or KindInternal for foreign errors.
// A nil error has no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindInternal
}

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }
func IsUnauthorized(err error) bool  { return errors.Is(err, ErrUnauthorized) }
func IsInvalidState(err error) bool  { return errors.Is(err, ErrInvalidState) }
func IsInvalidInput(err error) bool  { return errors.Is(err, ErrInvalidInput) }
