package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned both for missing resources and for resources
	// owned by another user, so callers cannot probe for existence.
	ErrNotFound = errors.New("not found")

	// ErrRunInProgress is returned when a manual run is requested for an
	// instruction that is already executing.
	ErrRunInProgress = errors.New("run already in progress")

	// ErrRateLimited signals the caller to back off.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidTransition is returned for status changes the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNoDeliveryChannel is returned by a notifier when none of the
	// recipient's channels is enabled on this server. Retrying cannot help.
	ErrNoDeliveryChannel = errors.New("no delivery channel available")
)

// ValidationError reports bad caller input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ExternalKind identifies which collaborator failed.
type ExternalKind string

const (
	KindSynthesis  ExternalKind = "synthesis"
	KindRender     ExternalKind = "render"
	KindExtraction ExternalKind = "extraction"
	KindTimeout    ExternalKind = "timeout"
)

// ExternalError wraps a failure of an external dependency: the schema
// synthesizer, the page renderer or the extraction step.
type ExternalError struct {
	Kind ExternalKind
	Op   string
	Err  error
}

func (e *ExternalError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}

// NewSynthesisError wraps a schema synthesizer failure.
func NewSynthesisError(op string, err error) error {
	return &ExternalError{Kind: KindSynthesis, Op: op, Err: err}
}

// NewRenderError wraps a page fetch or render failure.
func NewRenderError(op string, err error) error {
	return &ExternalError{Kind: KindRender, Op: op, Err: err}
}

// NewExtractionError wraps a failure to extract records from a document.
func NewExtractionError(op string, err error) error {
	return &ExternalError{Kind: KindExtraction, Op: op, Err: err}
}

// NewTimeoutError wraps a deadline hit while talking to a dependency.
func NewTimeoutError(op string, err error) error {
	return &ExternalError{Kind: KindTimeout, Op: op, Err: err}
}

// ExternalKindOf returns the kind of the first ExternalError in err's chain.
func ExternalKindOf(err error) (ExternalKind, bool) {
	var ext *ExternalError
	if errors.As(err, &ext) {
		return ext.Kind, true
	}
	return "", false
}

// IsTransient reports whether err is worth retrying. Timeouts count as
// transient render failures.
func IsTransient(err error) bool {
	kind, ok := ExternalKindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case KindRender, KindExtraction, KindTimeout:
		return true
	}
	return false
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
