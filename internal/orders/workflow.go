package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/NurluhanKakpanAitu/order-manager/internal/events"
	"github.com/NurluhanKakpanAitu/order-manager/internal/payment"
	"github.com/NurluhanKakpanAitu/order-manager/internal/storage"
	"github.com/NurluhanKakpanAitu/order-manager/pkg/types"
)

// CreateOrder reserves stock for every line and persists a New order in one
// transaction. Lines are processed in the given order and the first failing
// line aborts the whole call.
func (s *Service) CreateOrder(ctx context.Context, lines []OrderLine) (order *types.Order, err error) {
	ctx, finish := s.instrument(ctx, OpCreate, attribute.Int("order.lines", len(lines)))
	defer func() { finish(err) }()

	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: order must contain at least one item", types.ErrValidation)
	}
	for i, line := range lines {
		if line.ProductID == "" {
			return nil, fmt.Errorf("%w: item %d: product id is required", types.ErrValidation, i+1)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %d: quantity must be greater than zero", types.ErrValidation, i+1)
		}
	}

	order, err = withContentionRetry(ctx, s, OpCreate, func() (*types.Order, error) {
		return s.createOnce(ctx, lines)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.Int("items", len(lines)),
		zap.String("total", order.Total().String()),
	)
	return order, nil
}

func (s *Service) createOnce(ctx context.Context, lines []OrderLine) (*types.Order, error) {
	ctx, tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	items := make([]types.OrderItem, 0, len(lines))
	for _, line := range lines {
		product, err := tx.GetProduct(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("product %s: %w", line.ProductID, ErrNotFound)
			}
			return nil, storageFault(fmt.Errorf("load product %s: %w", line.ProductID, err))
		}

		item, err := types.NewOrderItem(product.ID, line.Quantity, product.Price)
		if err != nil {
			return nil, err
		}
		if err := product.ReduceStock(line.Quantity); err != nil {
			return nil, err
		}
		if err := tx.UpdateProduct(ctx, product); err != nil {
			return nil, storageFault(fmt.Errorf("reserve stock for product %s: %w", product.ID, err))
		}
		items = append(items, *item)
	}

	order, err := types.NewOrder(items)
	if err != nil {
		return nil, err
	}
	if err := tx.CreateOrder(ctx, order); err != nil {
		return nil, storageFault(fmt.Errorf("save order: %w", err))
	}
	if err := s.enqueue(ctx, tx, events.EventOrderCreated, order); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storageFault(fmt.Errorf("commit order: %w", err))
	}
	return order, nil
}

// PayOrder charges the order total at the gateway and marks the order Paid.
// A charge that succeeded at the gateway but failed to commit is returned as
// a *ReconciliationError and remembered, so calling PayOrder again for the
// same order completes the transition without a second charge.
func (s *Service) PayOrder(ctx context.Context, orderID string) (order *types.Order, err error) {
	ctx, finish := s.instrument(ctx, OpPay, attribute.String("order.id", orderID))
	defer func() { finish(err) }()

	if !s.locks.TryAcquire(orderID) {
		return nil, fmt.Errorf("%w: order %s", ErrPaymentInProgress, orderID)
	}
	defer s.locks.Release(orderID)

	ctx, tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err = tx.GetOrder(ctx, orderID)
	if err != nil {
		return nil, s.orderLoadError(orderID, err)
	}
	if !order.CanPay() {
		return nil, fmt.Errorf("%w: only new orders can be paid (status %s)", types.ErrInvalidTransition, order.Status())
	}

	amount := order.Total()
	settlement, settled := s.settlements.Get(orderID)
	if settled && !settlement.Amount.Equal(amount) {
		settled = false
	}

	if settled {
		s.logger.Info("completing previously approved payment",
			zap.String("order_id", orderID),
			zap.String("amount", amount.String()),
			zap.Time("settled_at", settlement.SettledAt),
		)
	} else {
		approved, err := s.gateway.ProcessPayment(ctx, orderID, amount)
		if err != nil {
			return nil, fmt.Errorf("%w: order %s: %w", ErrPaymentFailed, orderID, err)
		}
		if !approved {
			return nil, fmt.Errorf("%w: order %s declined by %s", ErrPaymentFailed, orderID, s.gateway.Provider())
		}
		settlement = payment.Settlement{
			OrderID:   orderID,
			Amount:    amount,
			Provider:  s.gateway.Provider(),
			SettledAt: time.Now().UTC(),
		}
		s.settlements.Add(settlement)
	}

	if err := s.commitPayment(ctx, tx, order, settlement); err != nil {
		return nil, s.reconciliationRequired(OpPay, orderID, amount, err)
	}
	s.settlements.Remove(orderID)

	s.logger.Info("order paid",
		zap.String("order_id", orderID),
		zap.String("amount", amount.String()),
		zap.String("provider", settlement.Provider),
	)
	return order, nil
}

func (s *Service) commitPayment(ctx context.Context, tx storage.Tx, order *types.Order, settlement payment.Settlement) error {
	if err := order.Pay(); err != nil {
		return err
	}
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	if err := tx.RecordPayment(ctx, &storage.Payment{
		OrderID:    order.ID,
		Amount:     settlement.Amount,
		Status:     storage.PaymentCaptured,
		Provider:   settlement.Provider,
		CapturedAt: settlement.SettledAt,
	}); err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	if err := s.enqueue(ctx, tx, events.EventOrderPaid, order); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit payment: %w", err)
	}
	return nil
}

// CancelOrder returns every item's quantity to its product and marks the
// order Cancelled in one transaction. Items whose product no longer exists
// are skipped.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (order *types.Order, err error) {
	ctx, finish := s.instrument(ctx, OpCancel, attribute.String("order.id", orderID))
	defer func() { finish(err) }()

	order, err = withContentionRetry(ctx, s, OpCancel, func() (*types.Order, error) {
		return s.cancelOnce(ctx, orderID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order cancelled",
		zap.String("order_id", orderID),
		zap.Int("items", len(order.Items())),
	)
	return order, nil
}

func (s *Service) cancelOnce(ctx context.Context, orderID string) (*types.Order, error) {
	ctx, tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return nil, s.orderLoadError(orderID, err)
	}
	if err := order.Cancel(); err != nil {
		return nil, err
	}

	for _, item := range order.Items() {
		product, err := tx.GetProduct(ctx, item.ProductID)
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("product missing, stock not restored",
				zap.String("order_id", orderID),
				zap.String("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
			)
			continue
		}
		if err != nil {
			return nil, storageFault(fmt.Errorf("load product %s: %w", item.ProductID, err))
		}
		if err := product.RestoreStock(item.Quantity); err != nil {
			return nil, err
		}
		if err := tx.UpdateProduct(ctx, product); err != nil {
			return nil, storageFault(fmt.Errorf("restore stock for product %s: %w", product.ID, err))
		}
	}

	if err := tx.UpdateOrder(ctx, order); err != nil {
		return nil, storageFault(fmt.Errorf("save order: %w", err))
	}
	if err := s.enqueue(ctx, tx, events.EventOrderCancelled, order); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storageFault(fmt.Errorf("commit cancellation: %w", err))
	}
	return order, nil
}

// RefundOrder returns the captured payment of a Paid order through the
// gateway and marks the payment refunded. The order stays Paid.
func (s *Service) RefundOrder(ctx context.Context, orderID string) (refund *storage.Payment, err error) {
	ctx, finish := s.instrument(ctx, OpRefund, attribute.String("order.id", orderID))
	defer func() { finish(err) }()

	if !s.locks.TryAcquire(orderID) {
		return nil, fmt.Errorf("%w: order %s", ErrPaymentInProgress, orderID)
	}
	defer s.locks.Release(orderID)

	ctx, tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return nil, s.orderLoadError(orderID, err)
	}
	if order.Status() != types.StatusPaid {
		return nil, fmt.Errorf("%w: only paid orders can be refunded (status %s)", types.ErrInvalidTransition, order.Status())
	}

	captured, err := tx.GetPayment(ctx, orderID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: order %s has no captured payment", types.ErrInvalidTransition, orderID)
	}
	if err != nil {
		return nil, storageFault(fmt.Errorf("load payment: %w", err))
	}
	if captured.Status != storage.PaymentCaptured {
		return nil, fmt.Errorf("%w: payment for order %s is %s", types.ErrInvalidTransition, orderID, captured.Status)
	}

	approved, err := s.gateway.Refund(ctx, orderID, captured.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: order %s: %w", ErrRefundFailed, orderID, err)
	}
	if !approved {
		return nil, fmt.Errorf("%w: order %s declined by %s", ErrRefundFailed, orderID, s.gateway.Provider())
	}

	refundedAt := time.Now().UTC()
	captured.Status = storage.PaymentRefunded
	captured.RefundedAt = &refundedAt

	if err := s.commitRefund(ctx, tx, order, captured); err != nil {
		return nil, s.reconciliationRequired(OpRefund, orderID, captured.Amount, err)
	}

	s.logger.Info("order refunded",
		zap.String("order_id", orderID),
		zap.String("amount", captured.Amount.String()),
	)
	return captured, nil
}

func (s *Service) commitRefund(ctx context.Context, tx storage.Tx, order *types.Order, refund *storage.Payment) error {
	if err := tx.UpdatePayment(ctx, refund); err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	if err := s.enqueue(ctx, tx, events.EventPaymentRefunded, order); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit refund: %w", err)
	}
	return nil
}

// enqueue stages an outbox event in the same transaction as the change it describes
func (s *Service) enqueue(ctx context.Context, tx storage.Tx, eventType string, order *types.Order) error {
	event, err := events.NewOrderEvent(eventType, order)
	if err != nil {
		return fmt.Errorf("%w: build %s event: %w", ErrTransactionFailure, eventType, err)
	}
	if err := tx.EnqueueEvent(ctx, event); err != nil {
		return storageFault(fmt.Errorf("enqueue %s event: %w", eventType, err))
	}
	return nil
}

func (s *Service) reconciliationRequired(op, orderID string, amount decimal.Decimal, cause error) error {
	s.metrics.IncReconciliation()
	s.logger.Error("reconciliation required",
		zap.String("operation", op),
		zap.String("order_id", orderID),
		zap.String("amount", amount.String()),
		zap.Error(cause),
	)
	return &ReconciliationError{OrderID: orderID, Amount: amount, Err: cause}
}
