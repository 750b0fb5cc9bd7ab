package shared

import (
	"errors"
	"fmt"
)

// DomainError is the base error type for all domain errors
type DomainError struct {
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

func NewDomainError(message string) *DomainError {
	return &DomainError{Message: message}
}

// Sentinel errors for the error kinds the pipeline distinguishes.
// Stage code wraps these with %w so callers can classify with errors.Is.
var (
	// ErrFTPTransient marks a recoverable network/FTP failure; the job retries
	ErrFTPTransient = errors.New("ftp transient failure")

	// ErrFTPUnavailable is returned while the circuit breaker is open
	ErrFTPUnavailable = errors.New("ftp unavailable: circuit open")

	// ErrFTPNotFound marks a 550-class reply for a path the provider has not
	// published; it is not a server failure and never feeds the breaker
	ErrFTPNotFound = errors.New("ftp path not found")

	// ErrNormalizationFailed marks a provider file that could not be decoded
	ErrNormalizationFailed = errors.New("normalization failed")

	// ErrCancelled marks cooperative cancellation; terminal status is skipped, not failed
	ErrCancelled = errors.New("operation cancelled")

	// ErrLockHeld is returned when another worker holds the per-line sync lock
	ErrLockHeld = errors.New("sync lock held")
)

// ValidationError carries the offending field for schema/input failures
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NormalizationError wraps ErrNormalizationFailed with the source path and a
// bounded prefix of the raw bytes for the log record. No partial write occurs.
type NormalizationError struct {
	Path      string
	RawPrefix string
	Cause     error
}

const rawPrefixLimit = 256

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalization failed for %s: %v (raw prefix: %q)", e.Path, e.Cause, e.RawPrefix)
}

func (e *NormalizationError) Unwrap() error {
	return ErrNormalizationFailed
}

// NewNormalizationError builds a NormalizationError, truncating raw to a bounded prefix
func NewNormalizationError(path string, raw []byte, cause error) *NormalizationError {
	prefix := raw
	if len(prefix) > rawPrefixLimit {
		prefix = prefix[:rawPrefixLimit]
	}
	return &NormalizationError{Path: path, RawPrefix: string(prefix), Cause: cause}
}

// RetryableError signals the worker to re-queue the job after Delay instead of
// counting a failure attempt (used for lock contention backoff).
type RetryableError struct {
	Cause error
	Delay int64 // milliseconds
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Cause)
}

func (e *RetryableError) Unwrap() error {
	return e.Cause
}
