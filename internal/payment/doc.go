// Package payment provides the payment gateways used to charge and refund orders.
//
// # Providers
//
// Two providers implement Gateway:
//
//   - simulated: approves a configurable share of charges (0.9 by default)
//     after a fixed delay (100ms by default). Non-positive amounts are declined.
//   - http: posts {"order_id", "amount"} to {url}/payments and {url}/refunds
//     and reads {"approved": bool}. The order id is sent as Idempotency-Key.
//
// Charges are single-shot. A charge that times out may still have been
// captured by the processor, so it is surfaced as an error and never retried.
// Refunds retry transient failures with exponential backoff.
//
// # Basic Usage
//
//	gw, err := payment.New(payment.Config{Provider: "simulated"})
//	if err != nil {
//	    return err
//	}
//	defer gw.Close()
//
//	ok, err := gw.ProcessPayment(ctx, orderID, order.Total())
//
// # Settlements
//
// SettlementCache remembers approved charges that have not been committed
// locally yet. The order workflow consults it before charging so that a retry
// after a failed commit settles the order without charging twice.
package payment
