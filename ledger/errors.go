/*
errors.go - Centralized error types for the ledger and the billing sync

PURPOSE:
  All error types in one place for consistency and discoverability.
  The HTTP layer maps them to status codes with the helpers at the bottom.

ERROR CATEGORIES:
  1. Not found  - Referenced account, transaction, movement... is missing
  2. Validation - Client input violates a business rule (400)
  3. Conflict   - Constraint violation or concurrent modification (409)

  Anything else is an internal failure; the caller logs it and returns a
  generic message.

USAGE:
    if ledger.IsNotFound(err) {
        writeError(w, http.StatusNotFound, ...)
    }

SEE ALSO:
  - api/errors.go: Status mapping
  - billing/feed.go: CheckpointError
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrMovementNotFound     = errors.New("exportable movement not found")
	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrBillingAccountNotConfigured is returned when a billing-only operation
	// runs while no account carries the billing flag.
	ErrBillingAccountNotConfigured = errors.New("billing account not configured")

	// ErrInvalidInput is the parent of every ValidationError.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidCheckpoint is the parent of every CheckpointError.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")

	// ErrBillingAccountExists is returned when a second account is flagged as
	// billing without asking to replace the current one.
	ErrBillingAccountExists = errors.New("a billing account already exists")

	ErrDuplicateName = errors.New("name already in use")

	// ErrConstraintViolation is returned when the database rejects a write,
	// e.g. deleting a movement still referenced by transactions.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrConcurrentModification is returned when a checkpoint moved between
	// validation and update.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// Invalid builds a ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// CheckpointError reports a rejected acknowledgement.
type CheckpointError struct {
	Field     string
	Requested int64
	Current   int64
	Max       int64
	Reason    string
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("%s %d rejected: %s (confirmed %d, max %d)",
		e.Field, e.Requested, e.Reason, e.Current, e.Max)
}

func (e *CheckpointError) Unwrap() error {
	return ErrInvalidCheckpoint
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrMovementNotFound) ||
		errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrNotificationNotFound) ||
		errors.Is(err, ErrBillingAccountNotConfigured)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidCheckpoint) ||
		errors.Is(err, ErrBillingAccountExists) ||
		errors.Is(err, ErrDuplicateName)
}

// IsConflict returns true if the request clashed with existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConstraintViolation) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
