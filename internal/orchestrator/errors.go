package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass categorizes a worker invocation failure. The class decides how
// the escalation loop reacts: most classes consume an attempt and escalate,
// cancellation unwinds, and API-compatibility rejections are free retries.
type ErrorClass string

const (
	// ClassNetwork covers connection and transport failures.
	ClassNetwork ErrorClass = "network"
	// ClassRateLimit covers provider throttling.
	ClassRateLimit ErrorClass = "rate_limit"
	// ClassAuth covers authentication and authorization failures.
	ClassAuth ErrorClass = "auth"
	// ClassCancelled covers user-initiated cancellation.
	ClassCancelled ErrorClass = "cancelled"
	// ClassAPICompat covers requests a worker rejected before starting,
	// for example an unsupported parameter or model mismatch. These do
	// not consume the attempt budget: a worker that never started never
	// counts against the limit.
	ClassAPICompat ErrorClass = "api_compat"
	// ClassGeneric covers everything else.
	ClassGeneric ErrorClass = "generic"
)

// ClassifiedError wraps an error with its ErrorClass. Collaborator
// adapters wrap provider errors in this type so classification does not
// depend on string matching.
type ClassifiedError struct {
	// Class is the failure category.
	Class ErrorClass
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

// Unwrap returns the underlying error.
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// NewClassifiedError wraps err with the given class.
func NewClassifiedError(class ErrorClass, err error) *ClassifiedError {
	return &ClassifiedError{Class: class, Err: err}
}

// ErrorClassOf returns the class of an execution error. It honors an
// explicit ClassifiedError, then context cancellation, then falls back to
// message heuristics for unmanaged collaborators.
func ErrorClassOf(err error) ErrorClass {
	if err == nil {
		return ClassGeneric
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	if errors.Is(err, context.Canceled) {
		return ClassCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return ClassRateLimit
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "authentication") || strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return ClassAuth
	case strings.Contains(msg, "unsupported") || strings.Contains(msg, "not support") || strings.Contains(msg, "invalid model") || strings.Contains(msg, "incompatible"):
		return ClassAPICompat
	case strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") || strings.Contains(msg, "network"):
		return ClassNetwork
	default:
		return ClassGeneric
	}
}
