package storage

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes storage errors.
type ErrorCode string

const (
	// ErrCodeMissingRevision: a write row document or its previous state has
	// no _rev.
	ErrCodeMissingRevision ErrorCode = "MISSING_REVISION"

	// ErrCodeInvalidWriteRow: a write row is malformed in another way, such
	// as a missing document or a last-write-time below the minimum.
	ErrCodeInvalidWriteRow ErrorCode = "INVALID_WRITE_ROW"

	// ErrCodeInvalidArgument: an operation argument is out of range.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// ErrCodeInstanceClosed: the instance is closing or closed.
	ErrCodeInstanceClosed ErrorCode = "INSTANCE_CLOSED"

	// ErrCodeInvalidPrimaryKey: the schema's primary key declaration is unusable.
	ErrCodeInvalidPrimaryKey ErrorCode = "INVALID_PRIMARY_KEY"

	// ErrCodeNotImplemented: the operation is not supported by this backend.
	ErrCodeNotImplemented ErrorCode = "NOT_IMPLEMENTED"

	// ErrCodeSchemaMismatch: the backend holds the collection under a
	// different schema hash.
	ErrCodeSchemaMismatch ErrorCode = "SCHEMA_MISMATCH"

	// ErrCodeBackend: the backend failed; the whole call had no effect.
	ErrCodeBackend ErrorCode = "BACKEND"
)

// Error is a structured storage error.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]any),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	e.Details[key] = value
	return e
}

// MissingRevision reports a write row without a revision token.
func MissingRevision(which string, row WriteRow, context string) *Error {
	return NewError(ErrCodeMissingRevision, fmt.Sprintf("%s has no _rev", which), nil).
		WithDetail("write_row", row).
		WithDetail("context", context)
}

// InvalidWriteRow reports a malformed write row.
func InvalidWriteRow(reason string, row WriteRow, context string) *Error {
	return NewError(ErrCodeInvalidWriteRow, reason, nil).
		WithDetail("write_row", row).
		WithDetail("context", context)
}

// InvalidArgument reports an out-of-range operation argument.
func InvalidArgument(message string) *Error {
	return NewError(ErrCodeInvalidArgument, message, nil)
}

// InstanceClosed reports an operation on an instance that is not open.
func InstanceClosed(database, collection, op string) *Error {
	return NewError(ErrCodeInstanceClosed, fmt.Sprintf("%s on closed instance %s/%s", op, database, collection), nil).
		WithDetail("database", database).
		WithDetail("collection", collection)
}

// NotImplemented reports an unsupported operation.
func NotImplemented(op string) *Error {
	return NewError(ErrCodeNotImplemented, op+" is not implemented", nil)
}

// SchemaMismatch reports a collection stored under another schema hash.
func SchemaMismatch(collection, stored, given string) *Error {
	return NewError(ErrCodeSchemaMismatch, fmt.Sprintf("collection %s was created with a different schema", collection), nil).
		WithDetail("stored_hash", stored).
		WithDetail("schema_hash", given)
}

// Backend wraps a backend failure.
func Backend(op string, cause error) *Error {
	return NewError(ErrCodeBackend, op, cause)
}

// GetCode extracts the error code from err, or ErrCodeBackend for errors
// that are not storage errors.
func GetCode(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeBackend
}

// IsClosed checks if err reports a closed instance.
func IsClosed(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == ErrCodeInstanceClosed
}

// IsProgrammerError checks if err is caused by the caller misusing the API
// rather than by data or the backend.
func IsProgrammerError(err error) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case ErrCodeMissingRevision, ErrCodeInvalidWriteRow, ErrCodeInvalidArgument,
		ErrCodeInstanceClosed, ErrCodeInvalidPrimaryKey:
		return true
	}
	return false
}
