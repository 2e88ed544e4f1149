/*
errors.go - Centralized error types for the inventory ledger

PURPOSE:
  All error types in one place so callers can classify a failure without
  parsing messages. Adapters (HTTP, chat channel) map these categories to
  their own status codes.

ERROR CATEGORIES:
  1. Validation - bad input shape, nothing persisted
  2. Business rule - insufficient stock, workflow state, cancellation rules
  3. Not found - referenced record does not exist
  4. Concurrency conflict - lost a race for a balance row, retryable
  5. Storage unavailable - the durable store cannot be reached

USAGE:
  if errors.Is(err, ledger.ErrInsufficientUnit) { ... }
  if ledger.IsRetryable(err) { ... }

SEE ALSO:
  - validator.go: produces InsufficientStockError
  - ledger.go: cancellation errors
  - store/sqlite/sqlite.go: storage error mapping
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
	// ErrInvalidInput is wrapped by every ValidationError.
	ErrInvalidInput = errors.New("invalid input")

	// Stock rules.
	ErrInsufficientCase  = errors.New("insufficient case stock")
	ErrInsufficientUnit  = errors.New("insufficient unit stock")
	ErrNoInventoryRecord = errors.New("no inventory record")

	// ErrNegativeBalance guards the non-negative invariant at the point of
	// applying a delta. The validator should have rejected the movement first.
	ErrNegativeBalance = errors.New("balance would become negative")

	// Cancellation rules.
	ErrAlreadyCancelled          = errors.New("transaction already cancelled")
	ErrOutsideCancellationWindow = errors.New("transaction is outside the cancellation window")
	ErrHasSubsequentActivity     = errors.New("transaction has subsequent activity")
	ErrNotCancellable            = errors.New("transaction type cannot be cancelled")

	// Workflow state.
	ErrAlreadyProcessed = errors.New("adjustment already processed")
	ErrAlreadyCompleted = errors.New("stock take already completed")

	// ErrInactive is returned when a movement references a deactivated store or product.
	ErrInactive = errors.New("store or product is inactive")

	// Missing records.
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrStoreNotFound       = errors.New("store not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrAdjustmentNotFound  = errors.New("adjustment not found")
	ErrStockTakeNotFound   = errors.New("stock take not found")

	// ErrDuplicate is returned when a unique key (store code, SKU) already exists.
	ErrDuplicate = errors.New("duplicate record")

	// ErrConcurrentModification is returned when a balance row changed between
	// read and write, or a per-key lock could not be obtained.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrStorageUnavailable is returned when the durable store cannot be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Dimension names a stock-keeping unit.
type Dimension string

const (
	DimensionCase Dimension = "case"
	DimensionUnit Dimension = "unit"
)

// InsufficientStockError provides details about a shortfall in one dimension.
type InsufficientStockError struct {
	StoreID   StoreID
	ProductID ProductID
	Dimension Dimension
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient %s stock for store %d product %d: available %d, requested %d",
		e.Dimension, e.StoreID, e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	if e.Dimension == DimensionCase {
		return ErrInsufficientCase
	}
	return ErrInsufficientUnit
}

// ItemError attaches the failing line item to a workflow error.
type ItemError struct {
	ProductID ProductID
	Err       error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("product %d: %v", e.ProductID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

var businessRules = []error{
	ErrInsufficientCase,
	ErrInsufficientUnit,
	ErrNoInventoryRecord,
	ErrNegativeBalance,
	ErrAlreadyCancelled,
	ErrOutsideCancellationWindow,
	ErrHasSubsequentActivity,
	ErrNotCancellable,
	ErrAlreadyProcessed,
	ErrAlreadyCompleted,
	ErrInactive,
	ErrDuplicate,
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsValidation returns true for malformed input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsBusinessRule returns true if a ledger rule rejected the operation.
func IsBusinessRule(err error) bool {
	for _, target := range businessRules {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsClientError returns true if the error is due to the caller's input.
func IsClientError(err error) bool {
	return IsValidation(err) || IsBusinessRule(err)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrStoreNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrAdjustmentNotFound) ||
		errors.Is(err, ErrStockTakeNotFound)
}

// IsUnavailable returns true if the durable store could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// ReasonCode returns a stable machine-readable code for an error.
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return "validation_error"
	case errors.Is(err, ErrInsufficientCase):
		return "insufficient_case"
	case errors.Is(err, ErrInsufficientUnit):
		return "insufficient_unit"
	case errors.Is(err, ErrNoInventoryRecord):
		return "no_inventory_record"
	case errors.Is(err, ErrNegativeBalance):
		return "negative_balance"
	case errors.Is(err, ErrAlreadyCancelled):
		return "already_cancelled"
	case errors.Is(err, ErrOutsideCancellationWindow):
		return "outside_cancellation_window"
	case errors.Is(err, ErrHasSubsequentActivity):
		return "has_subsequent_activity"
	case errors.Is(err, ErrNotCancellable):
		return "not_cancellable"
	case errors.Is(err, ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, ErrAlreadyCompleted):
		return "already_completed"
	case errors.Is(err, ErrInactive):
		return "inactive"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case IsNotFound(err):
		return "not_found"
	case IsRetryable(err):
		return "concurrency_conflict"
	case IsUnavailable(err):
		return "storage_unavailable"
	}
	return "internal_error"
}
