// LOCATION: internal/errors/errors.go
// VERSION: 2.0 - Consolidated error definitions for the entire project
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Typed errors carrying structural context (corrupt partitions)
// - ExitCode mapping for the command surface
// - Error wrapping utilities

package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Process exit codes - used by the command surface
// ============================================================================

const (
	ExitOK         = 0
	ExitInternal   = 1
	ExitLockHeld   = 2
	ExitValidation = 3
	ExitNotFound   = 4
	ExitCorrupt    = 5
)

// ExitName returns a human-readable name for an exit code.
func ExitName(code int) string {
	switch code {
	case ExitOK:
		return "OK"
	case ExitInternal:
		return "Internal"
	case ExitLockHeld:
		return "LockHeld"
	case ExitValidation:
		return "Validation"
	case ExitNotFound:
		return "NotFound"
	case ExitCorrupt:
		return "Corrupt"
	default:
		return fmt.Sprintf("Exit(%d)", code)
	}
}

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Not found errors
	ErrNotFound         = errors.New("not found")
	ErrVenueNotFound    = errors.New("venue not found")
	ErrIntervalNotFound = errors.New("interval not found")
	ErrPlanNotFound     = errors.New("migration plan not found")
	ErrTickerNotFound   = errors.New("ticker not found")

	// Already exists errors
	ErrAlreadyExists = errors.New("already exists")

	// Validation errors
	ErrInvalidTicker      = errors.New("invalid ticker")
	ErrInvalidInterval    = errors.New("invalid interval")
	ErrInvalidPath        = errors.New("invalid path")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrMissingField       = errors.New("missing required field")
	ErrUnsupportedVersion = errors.New("unsupported schema version")

	// State errors
	ErrLockHeld     = errors.New("run lock held by another process")
	ErrLockNotHeld  = errors.New("run lock not held")
	ErrClosed       = errors.New("already closed")
	ErrTickerCooled = errors.New("ticker is cooling down")

	// Data integrity errors
	ErrCorruptPartition = errors.New("corrupt partition")
	ErrRowCountMismatch = errors.New("row count mismatch")

	// Upstream source errors
	ErrTimeout          = errors.New("timeout")
	ErrConnectionFailed = errors.New("connection failed")
	ErrRateLimited      = errors.New("rate limited by upstream")
	ErrUpstream         = errors.New("upstream error")

	// Internal errors
	ErrInternal = errors.New("internal error")
	ErrDatabase = errors.New("database error")
)

// ============================================================================
// Typed errors carrying structural context
// ============================================================================

// CorruptPartitionError reports a partition file that could not be decoded.
// The file has already been deleted by the time this error is returned.
type CorruptPartitionError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *CorruptPartitionError) Error() string {
	return fmt.Sprintf("corrupt partition %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying decode error.
func (e *CorruptPartitionError) Unwrap() error {
	return e.Err
}

// Is reports whether this error matches the ErrCorruptPartition sentinel.
func (e *CorruptPartitionError) Is(target error) bool {
	return target == ErrCorruptPartition
}

// NewCorruptPartition creates a CorruptPartitionError for the given file.
func NewCorruptPartition(path string, err error) error {
	return &CorruptPartitionError{Path: path, Err: err}
}

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// New is a convenience wrapper for errors.New
var New = errors.New

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrVenueNotFound) ||
		errors.Is(err, ErrIntervalNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrTickerNotFound)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidTicker) ||
		errors.Is(err, ErrInvalidInterval) ||
		errors.Is(err, ErrInvalidPath) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrUnsupportedVersion)
}

// IsCorrupt returns true if err reports undecodable stored data.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorruptPartition) ||
		errors.Is(err, ErrRowCountMismatch)
}

// IsRetriable returns true if the error is potentially retriable.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUpstream)
}

// ============================================================================
// Error to exit code mapping
// ============================================================================

// ExitCode maps an error to the process exit code the command surface uses.
// Lock contention gets a distinct code so wrappers can tell "another run is
// active" apart from real failures.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	switch {
	case Is(err, ErrLockHeld):
		return ExitLockHeld
	case IsValidation(err):
		return ExitValidation
	case IsNotFound(err):
		return ExitNotFound
	case IsCorrupt(err):
		return ExitCorrupt
	default:
		return ExitInternal
	}
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

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

// NewUnsupportedVersion creates a schema version error naming both versions.
func NewUnsupportedVersion(got, supported int) error {
	return fmt.Errorf("schema version %d (supported: %d): %w", got, supported, ErrUnsupportedVersion)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the first error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v.Errors[0]
}
