package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a semantic classification shared across transport layers.
type ErrorCode string

const (
	ErrCodeNotFound               ErrorCode = "NOT_FOUND"
	ErrCodeInvalid                ErrorCode = "INVALID"
	ErrCodeValidation             ErrorCode = "VALIDATION"
	ErrCodeDuplicate              ErrorCode = "DUPLICATE"
	ErrCodeInvalidVersion         ErrorCode = "INVALID_VERSION"
	ErrCodeVersionConflict        ErrorCode = "VERSION_CONFLICT"
	ErrCodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"
	ErrCodeStoreUnavailable       ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeForbidden              ErrorCode = "FORBIDDEN"
	ErrCodeUnauthorized           ErrorCode = "UNAUTHORIZED"
	ErrCodeInternal               ErrorCode = "INTERNAL"
)

// Error represents a domain-level error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any domain error carrying the same code, so errors.Is(err, ErrVersionConflict)
// holds for every version conflict regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// NewError builds a domain error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with a domain classification.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain errors.
var (
	ErrEntityNotFound         = NewError(ErrCodeNotFound, "entity not found")
	ErrEntityDeleted          = NewError(ErrCodeNotFound, "entity is deleted")
	ErrInvalidVersion         = NewError(ErrCodeInvalidVersion, "expected version is ahead of the current version")
	ErrVersionConflict        = NewError(ErrCodeVersionConflict, "expected version does not match the current version")
	ErrConcurrentModification = NewError(ErrCodeConcurrentModification, "entity is being modified concurrently, retry later")
	ErrUnauthorized           = NewError(ErrCodeUnauthorized, "unauthorized")
	ErrInvalidPayload         = NewError(ErrCodeInvalid, "invalid payload")
)

// IsDomainError helps checking error codes.
func IsDomainError(err error, code ErrorCode) bool {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}

// ValidationError reports a field payload that does not satisfy the record schema.
func ValidationError(field, reason string) *Error {
	if field == "" {
		return NewError(ErrCodeValidation, reason)
	}
	return NewError(ErrCodeValidation, fmt.Sprintf("field %q: %s", field, reason))
}

// DuplicateValue reports a unique field value already held by another active record.
func DuplicateValue(field string) *Error {
	return NewError(ErrCodeDuplicate, fmt.Sprintf("field %q: already used by another record", field))
}

// StoreUnavailable classifies a failure of the underlying event log.
func StoreUnavailable(err error) *Error {
	return WrapError(ErrCodeStoreUnavailable, "event log unavailable", err)
}
