package domain

import "errors"

var (
	// Validation errors, rejected before any lock is taken.
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrInvalidOwner  = errors.New("wallet owner must be exactly one of user or business")

	// Precondition errors, detected inside the locked critical section.
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientBalance = errors.New("insufficient balance")

	// AllocationImpossible means no cart line could be fulfilled at all.
	// Partial fulfillment is not an error; it is reported via shortages.
	ErrAllocationImpossible = errors.New("allocation impossible: no line can be fulfilled")

	// ErrResourceBusy means a row lock could not be acquired within the
	// bounded wait. The operation had no effect and may be retried.
	ErrResourceBusy = errors.New("resource busy")

	// State machine errors.
	ErrInvalidTransition    = errors.New("invalid transaction transition")
	ErrDuplicateApplication = errors.New("operation already applied for this order")

	// ErrCorruptedState means a stored record violates an invariant that
	// every committed write is supposed to preserve (for example a negative
	// wallet balance). Processing halts; no automatic repair is attempted.
	ErrCorruptedState = errors.New("corrupted state")

	// Not-found errors.
	ErrStockNotFound       = errors.New("stock record not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")
)
