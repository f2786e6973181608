package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/NurluhanKakpanAitu/order-manager/internal/storage"
	"github.com/NurluhanKakpanAitu/order-manager/pkg/types"
)

// Workflow errors
var (
	// ErrNotFound is storage.ErrNotFound so either package's sentinel matches
	ErrNotFound               = storage.ErrNotFound
	ErrPaymentFailed          = errors.New("payment failed")
	ErrContentionExceeded     = errors.New("contention retries exhausted")
	ErrTransactionFailure     = errors.New("transaction failure")
	ErrReconciliationRequired = errors.New("reconciliation required")
	ErrPaymentInProgress      = errors.New("payment already in progress")
	ErrRefundFailed           = errors.New("refund failed")
)

// ReconciliationError reports money that moved at the gateway while the
// local transaction did not commit. Retrying PayOrder for the order settles
// it without a second charge.
type ReconciliationError struct {
	OrderID string
	Amount  decimal.Decimal
	Err     error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation required for order %s (amount %s): %v", e.OrderID, e.Amount, e.Err)
}

// Is makes errors.Is(err, ErrReconciliationRequired) match
func (e *ReconciliationError) Is(target error) bool {
	return target == ErrReconciliationRequired
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// Outcome labels
const (
	OutcomeOK                     = "ok"
	OutcomeCancelled              = "cancelled"
	OutcomeValidation             = "validation"
	OutcomeNotFound               = "not_found"
	OutcomeInsufficientStock      = "insufficient_stock"
	OutcomeInvalidTransition      = "invalid_transition"
	OutcomePaymentFailed          = "payment_failed"
	OutcomePaymentInProgress      = "payment_in_progress"
	OutcomeRefundFailed           = "refund_failed"
	OutcomeContentionExceeded     = "contention_exceeded"
	OutcomeReconciliationRequired = "reconciliation_required"
	OutcomeTransactionFailure     = "transaction_failure"
	OutcomeError                  = "error"
)

// Outcome maps an error returned by Service to a stable label
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	case errors.Is(err, ErrReconciliationRequired):
		return OutcomeReconciliationRequired
	case errors.Is(err, ErrContentionExceeded):
		return OutcomeContentionExceeded
	case errors.Is(err, ErrTransactionFailure):
		return OutcomeTransactionFailure
	case errors.Is(err, types.ErrValidation):
		return OutcomeValidation
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, types.ErrInsufficientStock):
		return OutcomeInsufficientStock
	case errors.Is(err, types.ErrInvalidTransition):
		return OutcomeInvalidTransition
	case errors.Is(err, ErrPaymentInProgress):
		return OutcomePaymentInProgress
	case errors.Is(err, ErrPaymentFailed):
		return OutcomePaymentFailed
	case errors.Is(err, ErrRefundFailed):
		return OutcomeRefundFailed
	default:
		return OutcomeError
	}
}

// isConflict reports whether a transaction lost a race and may be retried
func isConflict(err error) bool {
	return errors.Is(err, storage.ErrConflict)
}

// storageFault classifies a storage error. Conflicts pass through so the
// caller can retry; not-found passes through; anything else is a
// transaction failure.
func storageFault(err error) error {
	if err == nil || isConflict(err) || errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransactionFailure, err)
}
