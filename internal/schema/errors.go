package schema

import (
	"errors"
	"fmt"
)

// MissingFieldError is returned when a composite primary key cannot be
// composed because a constituent field is undefined.
type MissingFieldError struct {
	Field      string
	PrimaryKey string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("primary key %q: field %q is missing", e.PrimaryKey, e.Field)
}

// PrimaryKeyMismatchError is returned when a document already carries a
// primary key value that differs from the one composed from its fields.
type PrimaryKeyMismatchError struct {
	Field    string
	Existing string
	Composed string
}

func (e *PrimaryKeyMismatchError) Error() string {
	return fmt.Sprintf("primary key %q: document has %q but fields compose %q", e.Field, e.Existing, e.Composed)
}

// InvalidSchemaError reports a malformed schema document.
type InvalidSchemaError struct {
	Field   string
	Message string
}

func (e *InvalidSchemaError) Error() string {
	return fmt.Sprintf("invalid schema: %s: %s", e.Field, e.Message)
}

// IsMissingField checks if err is a MissingFieldError.
func IsMissingField(err error) bool {
	var target *MissingFieldError
	return errors.As(err, &target)
}

// IsPrimaryKeyMismatch checks if err is a PrimaryKeyMismatchError.
func IsPrimaryKeyMismatch(err error) bool {
	var target *PrimaryKeyMismatchError
	return errors.As(err, &target)
}
