package orders

import "sync"

// paymentLocks provides non-blocking per-order lock semantics so that only
// one payment or refund runs for an order at a time in this process.
type paymentLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newPaymentLocks() *paymentLocks {
	return &paymentLocks{held: make(map[string]struct{})}
}

// TryAcquire attempts to lock the order without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *paymentLocks) TryAcquire(orderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[orderID]; ok {
		return false
	}
	l.held[orderID] = struct{}{}
	return true
}

// Release unlocks the order.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *paymentLocks) Release(orderID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, orderID)
}
