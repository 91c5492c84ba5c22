package sopflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/deepnoodle-ai/sopflow/retry"
)

// Error type constants for classification and routing
const (
	// ErrorTypeTransient marks failures worth a whole-graph restart:
	// inference call errors, rate limits, network flakes.
	ErrorTypeTransient = "transient"

	// ErrorTypeStructural marks failures no retry can fix: zero available
	// documents, model output that cannot be decoded. Structural failures
	// route to an escape-hatch response without touching the retry budget.
	ErrorTypeStructural = "structural"

	// ErrorTypeFatal marks failures that end the run with a degraded
	// answer immediately, such as caller cancellation.
	ErrorTypeFatal = "fatal"
)

// WorkflowError is a structured error with a classification used by the node
// executor wrapper to pick between retry, escape hatch, and degraded exit.
// It supports Go's error wrapping patterns with Unwrap().
type WorkflowError struct {
	Type    string `json:"type"`
	Cause   string `json:"cause"`
	Wrapped error  `json:"-"`
}

// Error implements the error interface
func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

// Unwrap implements the error unwrapping interface for errors.Is and errors.As
func (e *WorkflowError) Unwrap() error {
	return e.Wrapped
}

// NewTransientError wraps an error as transient.
func NewTransientError(err error) *WorkflowError {
	return &WorkflowError{Type: ErrorTypeTransient, Cause: err.Error(), Wrapped: err}
}

// NewStructuralError wraps an error as structural.
func NewStructuralError(err error) *WorkflowError {
	return &WorkflowError{Type: ErrorTypeStructural, Cause: err.Error(), Wrapped: err}
}

// NewFatalError wraps an error as fatal.
func NewFatalError(err error) *WorkflowError {
	return &WorkflowError{Type: ErrorTypeFatal, Cause: err.Error(), Wrapped: err}
}

// ClassifyError maps a raw error into a WorkflowError. Unknown errors default
// to transient so they stay retryable; errors known to be unrecoverable must
// be marked structural or fatal explicitly.
func ClassifyError(err error) *WorkflowError {
	var workflowError *WorkflowError
	if errors.As(err, &workflowError) {
		return workflowError
	}
	if errors.Is(err, ErrMalformedOutput) {
		return &WorkflowError{Type: ErrorTypeStructural, Cause: err.Error(), Wrapped: err}
	}
	if errors.Is(err, context.Canceled) {
		return &WorkflowError{Type: ErrorTypeFatal, Cause: err.Error(), Wrapped: err}
	}
	if retry.IsRecoverable(err) {
		return &WorkflowError{Type: ErrorTypeTransient, Cause: err.Error(), Wrapped: err}
	}
	// Default to transient so unknown inference failures stay retryable.
	return &WorkflowError{Type: ErrorTypeTransient, Cause: err.Error(), Wrapped: err}
}

// IsStructural reports whether an error classifies as structural.
func IsStructural(err error) bool {
	return ClassifyError(err).Type == ErrorTypeStructural
}

// IsTransient reports whether an error classifies as transient.
func IsTransient(err error) bool {
	return ClassifyError(err).Type == ErrorTypeTransient
}
