// Package shared contains common domain types, errors and events
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

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrFutureTimestamp = errors.New("timestamp cannot be in the future")

	// State errors
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrSkipped          = errors.New("skipped")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrOptimisticLock         = errors.New("optimistic lock failure")
	ErrLockNotAcquired        = errors.New("lock not acquired")

	// Storage errors
	ErrPersistence = errors.New("persistence failure")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "ledger", "promotion", "student"
	Op      string // Operation that failed, e.g., "ApplyCredit", "Promote"
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
	ErrUnknownStudent       = NewDomainError("student", "Find", ErrNotFound, "student not found")
	ErrStudentAlreadyExists = NewDomainError("student", "Create", ErrAlreadyExists, "student already exists")
	ErrInvalidStudentID     = NewDomainError("student", "Validate", ErrInvalidID, "invalid student ID")
	ErrAdmissionImmutable   = NewDomainError("student", "Update", ErrStateTransition, "admission date cannot change")
	ErrStaleStudent         = NewDomainError("student", "Save", ErrOptimisticLock, "student was modified concurrently")
)

// Ledger domain errors
var (
	ErrInvalidAmount     = NewDomainError("ledger", "ApplyCredit", ErrValidation, "amount must be positive")
	ErrAmountExceedsDue  = NewDomainError("ledger", "ApplyCredit", ErrValidation, "amount exceeds current due")
	ErrInvalidMethod     = NewDomainError("ledger", "RecordPayment", ErrValidation, "unsupported payment method")
	ErrFuturePaymentDate = NewDomainError("ledger", "RecordPayment", ErrFutureTimestamp, "payment date is in the future")
	ErrNegativeFee       = NewDomainError("ledger", "Validate", ErrNegativeValue, "fee amount cannot be negative")
)

// Installment and promotion errors
var (
	ErrAlreadySettled         = NewDomainError("installment", "Settle", ErrAlreadyProcessed, "installment already settled")
	ErrInstallmentNotFound    = NewDomainError("installment", "Settle", ErrNotFound, "no installment for cycle")
	ErrInvalidCycleTransition = NewDomainError("promotion", "Promote", ErrStateTransition, "source and target cycle are equal")
	ErrWrongCycle             = NewDomainError("promotion", "Promote", ErrSkipped, "student is not in the source cycle")
	ErrInvalidCycle           = NewDomainError("cycle", "Parse", ErrInvalidInput, "invalid billing cycle")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrFutureTimestamp)
}

// IsPersistence checks if the error came from the storage layer.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence) ||
		errors.Is(err, ErrOptimisticLock) ||
		errors.Is(err, ErrLockNotAcquired)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrOptimisticLock) ||
		errors.Is(err, ErrLockNotAcquired)
}

// Persistence wraps a storage failure so callers can classify it with IsPersistence.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return WrapError("storage", op, ErrPersistence, "storage operation failed", err)
}
