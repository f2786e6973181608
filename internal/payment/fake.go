package payment

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Fake is a scripted Gateway for tests
type Fake struct {
	mu sync.Mutex

	approve       bool
	err           error
	refundApprove bool
	refundErr     error
	delay         time.Duration

	charges []string
	refunds []string
}

// NewFake creates a fake that approves or declines every charge and approves refunds
func NewFake(approve bool) *Fake {
	return &Fake{approve: approve, refundApprove: true}
}

// SetResult changes the outcome of later charges
func (f *Fake) SetResult(approve bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approve = approve
	f.err = err
}

// SetRefundResult changes the outcome of later refunds
func (f *Fake) SetRefundResult(approve bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refundApprove = approve
	f.refundErr = err
}

// SetDelay makes each charge block for d or until ctx is done
func (f *Fake) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *Fake) ProcessPayment(ctx context.Context, orderID string, amount decimal.Decimal) (bool, error) {
	f.mu.Lock()
	f.charges = append(f.charges, orderID)
	approve, err, delay := f.approve, f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(delay):
		}
	}
	if !amount.IsPositive() {
		return false, err
	}
	return approve, err
}

func (f *Fake) Refund(ctx context.Context, orderID string, amount decimal.Decimal) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, orderID)
	return f.refundApprove, f.refundErr
}

// Charges returns the order ids charged so far
func (f *Fake) Charges() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.charges...)
}

// Refunds returns the order ids refunded so far
func (f *Fake) Refunds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.refunds...)
}

func (f *Fake) Provider() string {
	return "fake"
}

func (f *Fake) Close() error {
	return nil
}
