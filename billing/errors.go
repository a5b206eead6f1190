/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error kinds in one place. Invariant violations are detected before
  commit and raised synchronously; they are never silently coerced or
  auto-corrected. Structured error types carry context and unwrap to the
  matching sentinel so callers can branch with errors.Is.

ERROR CATEGORIES:
  1. Payer relationship violations (InvalidPayerError, ...)
  2. Immutability violations on billed records (ImmutableRecordError)
  3. Field-level validation (ValidationError)
  4. Storage failures (ErrPersistence) and missing entities (NotFoundError)
*/
package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidPayer is returned when a payer assignment breaks the
	// depth-1 payer relationship rules.
	ErrInvalidPayer = errors.New("invalid payer relationship")

	// ErrInvalidState is returned when a user change conflicts with its
	// current responsibilities (e.g. deactivating a payer with dependents).
	ErrInvalidState = errors.New("invalid user state")

	// ErrDependencyTransition is returned when switching a user from
	// self-paying to dependent while their account is not settled.
	ErrDependencyTransition = errors.New("account not settled for dependency transition")

	// ErrImmutableRecord is returned when mutating a purchase or payment
	// that is already attached to an invoice.
	ErrImmutableRecord = errors.New("record is billed and immutable")

	// ErrDependentPayment is returned when creating a payment for a user
	// who does not pay for themself.
	ErrDependentPayment = errors.New("payments require a self-paying user")

	// ErrDependentInvoice is returned when invoicing a user who does not
	// pay for themself.
	ErrDependentInvoice = errors.New("invoices require a self-paying user")

	// ErrPersistence is returned on storage-level failure. The enclosing
	// transaction is rolled back entirely.
	ErrPersistence = errors.New("persistence failure")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrValidation is returned on field-level validation failure.
	ErrValidation = errors.New("validation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidPayerError reports which payer assignment was rejected and why.
type InvalidPayerError struct {
	UserID  UserID
	PayerID UserID
	Reason  string
}

func (e *InvalidPayerError) Error() string {
	return fmt.Sprintf("invalid payer %s for user %s: %s", e.PayerID, e.UserID, e.Reason)
}

func (e *InvalidPayerError) Unwrap() error { return ErrInvalidPayer }

// InvalidStateError reports a user change that conflicts with current
// responsibilities.
type InvalidStateError struct {
	UserID UserID
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state for user %s: %s", e.UserID, e.Reason)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// DependencyTransitionError reports why a self-paying user cannot become a
// dependent right now.
type DependencyTransitionError struct {
	UserID              UserID
	Balance             decimal.Decimal
	HasUnbilledPayments bool
}

func (e *DependencyTransitionError) Error() string {
	if e.HasUnbilledPayments {
		return fmt.Sprintf("user %s has unbilled payments and cannot become a dependent", e.UserID)
	}
	return fmt.Sprintf("user %s has balance %s and cannot become a dependent", e.UserID, e.Balance)
}

func (e *DependencyTransitionError) Unwrap() error { return ErrDependencyTransition }

// ImmutableRecordError reports an attempted mutation of a billed record.
type ImmutableRecordError struct {
	Kind      string // "purchase" or "payment"
	ID        string
	InvoiceID InvoiceID
}

func (e *ImmutableRecordError) Error() string {
	return fmt.Sprintf("%s %s is billed by invoice %s and cannot change", e.Kind, e.ID, e.InvoiceID)
}

func (e *ImmutableRecordError) Unwrap() error { return ErrImmutableRecord }

// DependentPaymentError reports a payment created for a dependent.
type DependentPaymentError struct {
	UserID  UserID
	PayerID UserID
}

func (e *DependentPaymentError) Error() string {
	return fmt.Sprintf("user %s is paid for by %s and cannot have payments", e.UserID, e.PayerID)
}

func (e *DependentPaymentError) Unwrap() error { return ErrDependentPayment }

// DependentInvoiceError reports an invoice requested for a dependent.
type DependentInvoiceError struct {
	UserID  UserID
	PayerID UserID
}

func (e *DependentInvoiceError) Error() string {
	return fmt.Sprintf("user %s is paid for by %s and cannot be invoiced", e.UserID, e.PayerID)
}

func (e *DependentInvoiceError) Unwrap() error { return ErrDependentInvoice }

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError reports a field-level violation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// PersistenceError wraps a storage failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return ErrPersistence }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid input or a
// business rule violation, as opposed to a storage failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPayer) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrDependencyTransition) ||
		errors.Is(err, ErrImmutableRecord) ||
		errors.Is(err, ErrDependentPayment) ||
		errors.Is(err, ErrDependentInvoice) ||
		errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
