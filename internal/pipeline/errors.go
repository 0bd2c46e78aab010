// Package pipeline defines the error taxonomy shared by the extraction
// pipeline. Failures are tagged with a Kind so the worker can route retry
// and dead-letter decisions without matching on message text.
package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. The values are stored verbatim in
// retry-log rows and dead-letter metadata.
type Kind string

const (
	KindOCR               Kind = "ocr_error"
	KindStructuredBackend Kind = "structured_backend_error"
	KindVisionBackend     Kind = "vision_backend_error"
	KindValidation        Kind = "validation_error" // response-schema mismatch
	KindBlob              Kind = "blob_error"
	KindStore             Kind = "store_error"
	KindEnqueue           Kind = "enqueue_error"
	KindUnsupportedType   Kind = "unsupported_type"
	KindUnknown           Kind = "unknown_error"
)

// Error is a classified pipeline failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error. A nil err returns nil. If err is
// already classified its original kind is preserved.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the Kind from an error chain, defaulting to
// unknown_error for unclassified errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// IsExtractorError reports whether the error came from an extraction
// backend, which is what the orchestrator's in-process vision fallback
// keys on.
func IsExtractorError(err error) bool {
	switch KindOf(err) {
	case KindStructuredBackend, KindVisionBackend, KindValidation:
		return true
	}
	return false
}
