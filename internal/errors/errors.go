// Package errors holds the error definitions shared by the archive pipeline.
//
// This file provides:
// - Sentinel errors, one per failure class of the pipeline
// - DataError, the typed record-level error stores log and discard
// - Error category checking functions
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Record-level data errors. The record is dropped or repaired and the
	// pipeline continues.
	ErrValidation   = errors.New("validation failed")
	ErrMissingField = errors.New("missing required field")
	ErrFieldCount   = errors.New("record field count does not match table")

	// Stream errors. The record is lost for the affected sub-stream.
	ErrStreamIO = errors.New("stream write failed")

	// Bulk-load errors. The file is kept for inspection.
	ErrBulkLoad          = errors.New("bulk load failed")
	ErrUnsupportedClause = errors.New("set clause not supported by dialect")
	ErrConnectionLost    = errors.New("database connection lost")

	// Lifecycle errors.
	ErrLifecycle        = errors.New("lifecycle violation")
	ErrStoreInactive    = fmt.Errorf("store inactive: %w", ErrLifecycle)
	ErrStoreStopped     = fmt.Errorf("store stopped: %w", ErrLifecycle)
	ErrAlreadyStarted   = fmt.Errorf("already started: %w", ErrLifecycle)
	ErrConnectionClosed = fmt.Errorf("connection closed: %w", ErrLifecycle)
	ErrQueueDraining    = fmt.Errorf("queue draining: %w", ErrLifecycle)

	// Configuration errors.
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrUnknownIdentifier = errors.New("unknown store identifier")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsValidation returns true if err is a record validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrFieldCount)
}

// IsLifecycle returns true if err is a lifecycle violation.
func IsLifecycle(err error) bool {
	return errors.Is(err, ErrLifecycle)
}

// IsStreamIO returns true if err came from writing an open stream.
func IsStreamIO(err error) bool {
	return errors.Is(err, ErrStreamIO)
}

// IsBulkLoad returns true if err came from executing a bulk load.
func IsBulkLoad(err error) bool {
	return errors.Is(err, ErrBulkLoad) ||
		errors.Is(err, ErrUnsupportedClause) ||
		errors.Is(err, ErrConnectionLost)
}

// IsConnectionLost returns true if the database stayed unreachable past
// the reconnect budget.
func IsConnectionLost(err error) bool {
	return errors.Is(err, ErrConnectionLost)
}

// ============================================================================
// DataError
// ============================================================================

// DataError is a record-level formatting failure. Stores log it with the
// store identifier and record key, then discard the record.
type DataError struct {
	Store string
	Key   string
	Err   error
}

// Error implements the error interface.
func (e *DataError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Store, e.Err)
	}
	return fmt.Sprintf("%s record %s: %v", e.Store, e.Key, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a DataError.
func NewDataError(store, key string, err error) error {
	return &DataError{Store: store, Key: key, Err: err}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates a validation error for a field value.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrValidation)
}

// NewInvalidConfig creates a configuration error for a key.
func NewInvalidConfig(key, reason string) error {
	return fmt.Errorf("%s: %s: %w", key, reason, ErrInvalidConfig)
}
