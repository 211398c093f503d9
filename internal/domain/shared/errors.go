// Package shared contains common domain types, errors, and broadcast messages
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")
	ErrClosed          = errors.New("closed")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "student", "course", "behavior", "realtime"
	Op      string // Operation that failed, e.g., "Create", "Publish"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Student domain errors
var (
	ErrStudentNotFound    = NewDomainError("student", "Find", ErrNotFound, "student not found")
	ErrStudentExists      = NewDomainError("student", "Create", ErrAlreadyExists, "student already exists")
	ErrStudentInactive    = NewDomainError("student", "CheckStatus", ErrInvalidState, "student is deactivated")
	ErrStudentWrongCourse = NewDomainError("student", "CheckCourse", ErrInvalidInput, "student does not belong to course")
)

// Course domain errors
var (
	ErrCourseNotFound   = NewDomainError("course", "Find", ErrNotFound, "course not found")
	ErrCourseExists     = NewDomainError("course", "Create", ErrAlreadyExists, "course already exists")
	ErrInvalidSettings  = NewDomainError("course", "Validate", ErrValidation, "invalid course settings")
	ErrNotCourseTeacher = NewDomainError("course", "Authorize", ErrForbidden, "caller does not teach this course")
)

// Behavior domain errors
var (
	ErrEventNotFound  = NewDomainError("behavior", "Find", ErrNotFound, "behavior event not found")
	ErrEmptyBatch     = NewDomainError("behavior", "QuickAction", ErrEmptyValue, "no students selected")
	ErrUnknownKind    = NewDomainError("behavior", "Decode", ErrInvalidFormat, "unknown behavior event kind")
	ErrRewardTooLarge = NewDomainError("behavior", "RedeemReward", ErrValueOutOfRange, "reward cost exceeds student XP")
)

// Realtime domain errors
var (
	ErrConnectionClosed = NewDomainError("realtime", "Send", ErrClosed, "connection is closed")
	ErrRegistryClosed   = NewDomainError("realtime", "Register", ErrClosed, "registry is shut down")
	ErrGiveUp           = NewDomainError("realtime", "Reconnect", ErrStateTransition, "retry budget exhausted")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsForbidden checks if the error is an authorization error.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden) || errors.Is(err, ErrUnauthorized)
}
