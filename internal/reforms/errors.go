package reforms

import (
	"errors"
	"fmt"
)

// Sentinel errors for the reconciliation engine.
var (
	// ErrInvalidRecord marks an input record that is missing required data.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrUnknownReference marks a record pointing at a place, document,
	// reform type or source that does not exist.
	ErrUnknownReference = errors.New("unknown reference")

	// ErrIdentityConflict marks a write rejected by one of the reform
	// identity unique indexes. The engine and resolver recover from it.
	ErrIdentityConflict = errors.New("identity conflict")

	// ErrStore marks any other persistence failure.
	ErrStore = errors.New("store error")

	// ErrNotFound is returned by lookups by primary key.
	ErrNotFound = errors.New("not found")
)

// RecordError ties a per-record failure to its position in the input batch.
type RecordError struct {
	Index int
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// ValidationError describes which field of a record failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid record: field %s: %s", e.Field, e.Message)
	}
	return "invalid record: " + e.Message
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRecord
}

// ReferenceError names the missing referent.
type ReferenceError struct {
	Kind string
	Key  string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("unknown %s %s", e.Kind, e.Key)
}

// Is implements errors.Is support
func (e *ReferenceError) Is(target error) bool {
	return target == ErrUnknownReference
}

// ConflictError is returned by the store when a reform write violates an
// identity index.
type ConflictError struct {
	Constraint string
	Err        error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("identity conflict on %s: %v", e.Constraint, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// Is implements errors.Is support
func (e *ConflictError) Is(target error) bool {
	return target == ErrIdentityConflict
}

// StoreError wraps an unexpected persistence failure with the operation name.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is implements errors.Is support
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// storeErr wraps err unless it already belongs to the taxonomy.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrIdentityConflict) || errors.Is(err, ErrStore) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnknownReference) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
