// Package types provides the domain model shared by the order manager.
//
// # Catalog
//
// Product is the stock ledger for a catalog entry. Stock only changes through
// ReduceStock and RestoreStock; ReduceStock refuses to go below zero and
// reports an *InsufficientStockError that names the product:
//
//	if err := product.ReduceStock(2); errors.Is(err, types.ErrInsufficientStock) {
//	    // abort the reservation
//	}
//
// Display text is multi-locale (kz, ru, en) and carried as a Translation.
//
// # Orders
//
// Order is an aggregate that owns its OrderItems. Its total is always the sum
// of price * quantity over the items, recomputed on every change. The state
// machine is
//
//	New -> Paid
//	New -> Cancelled
//
// Paid and Cancelled are terminal. Items can only be added or removed while
// the order is New. The aggregate never touches products; inventory effects
// belong to the orchestrator in internal/orders.
//
//	item, _ := types.NewOrderItem(productID, 2, decimal.RequireFromString("50"))
//	order, _ := types.NewOrder([]types.OrderItem{*item})
//	order.Total() // 100
//	_ = order.Pay()
//	err := order.Cancel() // errors.Is(err, types.ErrInvalidTransition)
//
// Orders read back from storage are rebuilt with RestoreOrder, which
// recomputes the total from the persisted items.
package types
