package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/odyssey-erp/stocktransfer/internal/inventory"
)

var (
	// ErrInvalidTransition indicates the event is not legal from the current status.
	ErrInvalidTransition = errors.New("transfer: invalid transition")
	// ErrUnauthorized indicates the governance gate denied the actor.
	ErrUnauthorized = errors.New("transfer: unauthorized")
	// ErrInsufficientStock is matched by *InsufficientStockError.
	ErrInsufficientStock = errors.New("transfer: insufficient stock")
	// ErrMissingBranchConfiguration indicates a branch lacks its default cost center.
	ErrMissingBranchConfiguration = errors.New("transfer: missing branch configuration")
	// ErrStoreFailure is matched by *StoreError.
	ErrStoreFailure = errors.New("transfer: store failure")
	// ErrNotFound indicates the transfer does not exist in the actor's company.
	ErrNotFound = errors.New("transfer: not found")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("transfer: validation failed")
	// ErrUnknownStatus indicates a persisted status outside the known set.
	ErrUnknownStatus = errors.New("transfer: unknown status")
)

// InsufficientStockError lists every product the source cannot cover.
type InsufficientStockError struct {
	WarehouseID int64
	Shortfalls  []inventory.Shortfall
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("product %d: requested %s, available %s", s.ProductID, s.Requested, s.Available))
	}
	return fmt.Sprintf("transfer: insufficient stock at warehouse %d (%s)", e.WarehouseID, strings.Join(parts, "; "))
}

// Is matches ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// StoreError wraps a persistence failure that aborted a transition.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("transfer: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is matches ErrStoreFailure.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreFailure
}

func invalidTransition(from Status, ev Event) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev, from)
}

func unauthorized(ev Event) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, ev)
}

// isDomainError reports errors that must pass through the engine unwrapped.
func isDomainError(err error) bool {
	for _, target := range []error{
		ErrInvalidTransition, ErrUnauthorized, ErrInsufficientStock, ErrMissingBranchConfiguration,
		ErrNotFound, ErrValidation, ErrUnknownStatus, ErrStoreFailure,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// storeFailure classifies err: domain errors pass through, context errors are
// returned as-is, anything else becomes a StoreError.
func storeFailure(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
