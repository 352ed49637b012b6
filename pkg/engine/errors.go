// Package engine holds the error taxonomy and collaborator contracts shared by the
// attribute resolution packages.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for callers deciding whether to
// retry, report or special-case it.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: bus publish timeouts, storage busy.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates a write collided with existing state.
	// Examples: duplicate edge, unique constraint violations.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: missing records, type mismatches, function execution failures.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is the error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the record id that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resource != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Code:    ErrCodeConflict,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError reports an absent record of the given kind (prop, func, component,
// schema, schema variant, system, prototype, value).
func NewNotFoundError(kind, id string) *EngineError {
	return &EngineError{
		Class:    ErrorClassPermanent,
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%s not found", kind),
		Resource: id,
		Details:  map[string]interface{}{"kind": kind},
	}
}

// NewEdgeExistsError reports a duplicate (head, tail, kind) edge.
func NewEdgeExistsError(head, tail, kind string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Code:    ErrCodeEdgeExists,
		Message: "edge already exists",
		Err:     err,
		Details: map[string]interface{}{
			"head": head,
			"tail": tail,
			"kind": kind,
		},
	}
}

// NewInvalidValueError reports a JSON value that does not match the declared kind.
func NewInvalidValueError(expected string, actual interface{}) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Code:    ErrCodeInvalidPropValue,
		Message: fmt.Sprintf("invalid prop value, expected %s", expected),
		Details: map[string]interface{}{
			"expected": expected,
			"actual":   actual,
		},
	}
}

// NewMissingValueError reports a proxy chain that found no ancestor value.
func NewMissingValueError(tenancyKey, visibility, prototypeID, parentValueID string) *EngineError {
	return &EngineError{
		Class:    ErrorClassPermanent,
		Code:     ErrCodeMissingValue,
		Message:  "missing attribute value for proxy target",
		Resource: prototypeID,
		Details: map[string]interface{}{
			"tenancy":      tenancyKey,
			"visibility":   visibility,
			"prototype_id": prototypeID,
			"parent_id":    parentValueID,
		},
	}
}

// NewExecutionError wraps a failed function execution.
func NewExecutionError(funcName string, err error) *EngineError {
	return &EngineError{
		Class:     ErrorClassPermanent,
		Code:      ErrCodeExecutionFailed,
		Message:   "function execution failed",
		Resource:  funcName,
		Operation: "execute",
		Err:       err,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// HasCode reports whether any EngineError in the chain carries code.
func HasCode(err error, code string) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsNotFound reports a missing record.
func IsNotFound(err error) bool { return HasCode(err, ErrCodeNotFound) }

// IsEdgeExists reports a duplicate edge.
func IsEdgeExists(err error) bool { return HasCode(err, ErrCodeEdgeExists) }

// IsInvalidValue reports a prop value type mismatch.
func IsInvalidValue(err error) bool { return HasCode(err, ErrCodeInvalidPropValue) }

// IsMissingValue reports a broken proxy chain.
func IsMissingValue(err error) bool { return HasCode(err, ErrCodeMissingValue) }

// IsExecutionFailure reports a failed function execution.
func IsExecutionFailure(err error) bool { return HasCode(err, ErrCodeExecutionFailed) }

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeEdgeExists       = "EDGE_EXISTS"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeInvalidPropValue = "INVALID_PROP_VALUE"
	ErrCodeMissingValue     = "MISSING_VALUE"
	ErrCodeExecutionFailed  = "EXECUTION_FAILED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)
