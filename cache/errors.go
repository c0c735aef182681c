package cache

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownClass is returned for records or calls naming a class the
	// schema does not register.
	ErrUnknownClass = errors.New("cache: unknown entity class")

	// ErrEmptyID is returned for records without an id.
	ErrEmptyID = errors.New("cache: empty record id")

	// ErrRelationClassMismatch is returned when a nested record stored in a
	// relation field belongs to a class other than the relation's target.
	ErrRelationClassMismatch = errors.New("cache: nested record does not match relation target")

	// ErrInvalidRelation is returned when a relation field holds something
	// other than nil, a Ref or a Record.
	ErrInvalidRelation = errors.New("cache: invalid relation value")

	// ErrNotFound is returned by single-record reads that matched nothing.
	ErrNotFound = errors.New("cache: record not found")

	// ErrInvalidResultType is returned by GetOrFetch when the cached value
	// does not have the requested type.
	ErrInvalidResultType = errors.New("cache: invalid result type")
)

// MixedClassBatchError rejects a bulk call spanning more than one class.
type MixedClassBatchError struct {
	Classes []string
}

// Error implements the error interface.
func (e *MixedClassBatchError) Error() string {
	return "cache: batch mixes entity classes: " + strings.Join(e.Classes, ", ")
}

// TransientConflictError is returned by transaction runners once every
// retry of a step failed with a serialization conflict.
type TransientConflictError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *TransientConflictError) Error() string {
	return fmt.Sprintf("cache: transaction conflict after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the last conflict.
func (e *TransientConflictError) Unwrap() error {
	return e.Err
}

// IsUnknownClass reports whether err is caused by an unregistered class.
func IsUnknownClass(err error) bool {
	return errors.Is(err, ErrUnknownClass)
}

// IsNotFound reports whether err is a missing-record error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsMixedClassBatch reports whether err rejects a mixed-class batch.
func IsMixedClassBatch(err error) bool {
	var target *MixedClassBatchError
	return errors.As(err, &target)
}

// IsTransientConflict reports whether err exhausted conflict retries.
func IsTransientConflict(err error) bool {
	var target *TransientConflictError
	return errors.As(err, &target)
}
