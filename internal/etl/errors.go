package etl

import (
	"errors"
	"fmt"
)

// ConfigurationError is fatal: a bad job request, an unknown source or
// pipeline, or a malformed rule definition. Never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// TransientError wraps a network/timeout-class failure during extract or
// load. Transient errors are the only errors the retry policy applies to.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func Transient(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ValidationError is per-record: the record failed its rule set. Governed by
// the pipeline's OnValidationError policy, never retried.
type ValidationError struct {
	RecordID string
	Errors   []FieldError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record %s failed validation (%d errors)", e.RecordID, len(e.Errors))
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransformError is per-record: a required target field could not be
// resolved. Governed by OnTransformError, never retried.
type TransformError struct {
	RecordID string
	Field    string
	Reason   string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("record %s: transform failed on %s: %s", e.RecordID, e.Field, e.Reason)
}

func IsTransform(err error) bool {
	var te *TransformError
	return errors.As(err, &te)
}

// SourceFailure is a TransientError promoted after retries are exhausted for
// one source. It aborts the job when the source is required.
type SourceFailure struct {
	SourceID string
	Attempts int
	Err      error
}

func (e *SourceFailure) Error() string {
	return fmt.Sprintf("source %s failed after %d attempts: %v", e.SourceID, e.Attempts, e.Err)
}

func (e *SourceFailure) Unwrap() error { return e.Err }

func IsSourceFailure(err error) bool {
	var sf *SourceFailure
	return errors.As(err, &sf)
}
