package internalerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDuplicate        = errors.New("duplicate entry")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrUnsupportedMedia = errors.New("unsupported media type")
)

// TransientError marks a failure worth retrying: network errors, 5xx
// responses, timeouts.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that will not change on retry: missing
// documents, malformed payloads, validation failures.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: permanent: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// DataQualityError records a field that was recognized but had to be
// defaulted or discarded. It never fails the item it belongs to.
type DataQualityError struct {
	Field string
	Value string
	Msg   string
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("data quality: %s %q: %s", e.Field, e.Value, e.Msg)
}

// Transient wraps err as retryable.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// Permanent wraps err as non-retryable.
func Permanent(op string, err error) error {
	return &PermanentError{Op: op, Err: err}
}

// DataQuality builds a data-quality warning.
func DataQuality(field, value, msg string) *DataQualityError {
	return &DataQualityError{Field: field, Value: value, Msg: msg}
}

// IsTransient reports whether err, or anything it wraps, is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err, or anything it wraps, is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Kind classifies err for reports: "transient", "permanent", "data_quality" or "error".
func Kind(err error) string {
	var dq *DataQualityError
	switch {
	case err == nil:
		return ""
	case IsPermanent(err):
		return "permanent"
	case IsTransient(err):
		return "transient"
	case errors.As(err, &dq):
		return "data_quality"
	}
	return "error"
}
