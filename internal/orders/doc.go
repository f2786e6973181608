// Package orders implements the order workflows: creating an order against
// product stock, paying it through a payment gateway, cancelling it with stock
// restoration, and refunding a paid order.
//
// Each workflow runs in one storage transaction. Stock and order rows carry a
// version, and CreateOrder and CancelOrder retry the whole transaction with
// backoff when a write loses to a concurrent one, failing with
// ErrContentionExceeded once attempts run out. PayOrder and RefundOrder never
// retry after the gateway call; a gateway success followed by a failed commit
// is returned as a *ReconciliationError.
//
// Usage:
//
//	svc := orders.New(store, gateway, orders.WithLogger(logger))
//	order, err := svc.CreateOrder(ctx, []orders.OrderLine{{ProductID: id, Quantity: 2}})
//	if errors.Is(err, types.ErrInsufficientStock) {
//		// nothing was reserved
//	}
package orders
