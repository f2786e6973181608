package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/NurluhanKakpanAitu/order-manager/internal/observability"
	"github.com/NurluhanKakpanAitu/order-manager/internal/payment"
	"github.com/NurluhanKakpanAitu/order-manager/internal/retry"
	"github.com/NurluhanKakpanAitu/order-manager/internal/storage"
	"github.com/NurluhanKakpanAitu/order-manager/pkg/types"
)

func setupTestDB(t *testing.T) *storage.SQLiteStorage {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createTestProduct(t *testing.T, s storage.Storage, price string, qty int) *types.Product {
	t.Helper()
	ctx := context.Background()
	category, err := types.NewCategory(types.Translation{En: "Stock"}, nil)
	require.NoError(t, err)
	require.NoError(t, s.CreateCategory(ctx, category))

	product, err := types.NewProduct(types.Translation{En: "Widget"}, nil, decimal.RequireFromString(price), qty, category.ID)
	require.NoError(t, err)
	require.NoError(t, s.CreateProduct(ctx, product))
	return product
}

func fastRetry(attempts int) retry.Config {
	return retry.Config{
		MaxRetries: attempts,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
		Multiplier: 2,
	}
}

// faultyStore injects errors into transactions opened through it. Each queued
// error is consumed by one call.
type faultyStore struct {
	storage.Storage

	mu                sync.Mutex
	commitErrs        []error
	updateProductErrs []error
	updateOrderErrs   []error
}

func (f *faultyStore) BeginTx(ctx context.Context) (storage.Tx, error) {
	tx, err := f.Storage.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTx{Tx: tx, store: f}, nil
}

func (f *faultyStore) next(queue *[]error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

type faultyTx struct {
	storage.Tx
	store *faultyStore
}

func (t *faultyTx) Commit() error {
	if err := t.store.next(&t.store.commitErrs); err != nil {
		_ = t.Tx.Rollback()
		return err
	}
	return t.Tx.Commit()
}

func (t *faultyTx) UpdateProduct(ctx context.Context, product *types.Product) error {
	if err := t.store.next(&t.store.updateProductErrs); err != nil {
		return err
	}
	return t.Tx.UpdateProduct(ctx, product)
}

func (t *faultyTx) UpdateOrder(ctx context.Context, order *types.Order) error {
	if err := t.store.next(&t.store.updateOrderErrs); err != nil {
		return err
	}
	return t.Tx.UpdateOrder(ctx, order)
}

func conflict() error {
	return fmt.Errorf("%w: injected", storage.ErrConflict)
}

func TestCreateOrder_NoOversellUnderConcurrency(t *testing.T) {
	store := setupTestDB(t)
	product := createTestProduct(t, store, "10", 30)
	svc := New(store, payment.NewFake(true))

	const callers = 25
	const perCall = 3

	var (
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			_, err := svc.CreateOrder(context.Background(), []OrderLine{{ProductID: product.ID, Quantity: perCall}})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, types.ErrInsufficientStock):
				rejected++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 30/perCall, succeeded)
	assert.Equal(t, callers-30/perCall, rejected)

	final, err := store.GetProduct(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, 30-perCall*succeeded, final.Quantity)
	assert.GreaterOrEqual(t, final.Quantity, 0)

	page, err := svc.ListOrders(context.Background(), 1, types.MaxPageSize, nil)
	require.NoError(t, err)
	assert.Equal(t, succeeded, page.TotalCount)
}

func TestCreateOrder_RetriesOnConflict(t *testing.T) {
	store := setupTestDB(t)
	product := createTestProduct(t, store, "10", 5)
	faulty := &faultyStore{Storage: store, updateProductErrs: []error{conflict(), conflict()}}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	svc := New(faulty, payment.NewFake(true), WithMetrics(metrics), WithRetryConfig(fastRetry(3)))

	order, err := svc.CreateOrder(context.Background(), []OrderLine{{ProductID: product.ID, Quantity: 2}})
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)

	final, err := store.GetProduct(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, final.Quantity)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ContentionRetry.WithLabelValues(OpCreate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Operations.WithLabelValues(OpCreate, OutcomeOK)))
}

func TestCreateOrder_ContentionExceeded(t *testing.T) {
	store := setupTestDB(t)
	product := createTestProduct(t, store, "10", 5)
	faulty := &faultyStore{Storage: store, updateProductErrs: []error{conflict(), conflict(), conflict()}}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	svc := New(faulty, payment.NewFake(true), WithMetrics(metrics), WithRetryConfig(fastRetry(3)))

	_, err := svc.CreateOrder(context.Background(), []OrderLine{{ProductID: product.ID, Quantity: 2}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContentionExceeded)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, OutcomeContentionExceeded, Outcome(err))

	final, err := store.GetProduct(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, final.Quantity)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ContentionRetry.WithLabelValues(OpCreate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Operations.WithLabelValues(OpCreate, OutcomeContentionExceeded)))
}

func TestWithContentionRetries(t *testing.T) {
	store := setupTestDB(t)
	product := createTestProduct(t, store, "10", 5)
	faulty := &faultyStore{Storage: store, updateProductErrs: []error{conflict()}}

	svc := New(faulty, payment.NewFake(true), WithRetryConfig(fastRetry(3)), WithContentionRetries(1))
	_, err := svc.CreateOrder(context.Background(), []OrderLine{{ProductID: product.ID, Quantity: 1}})
	assert.ErrorIs(t, err, ErrContentionExceeded)

	_, err = svc.CreateOrder(context.Background(), []OrderLine{{ProductID: product.ID, Quantity: 1}})
	assert.NoError(t, err)
}

func TestCreateOrder_CommitFailure(t *testing.T) {
	store := setupTestDB(t)
	product := createTestProduct(t, store, "10", 5)
	faulty := &faultyStore{Storage: store, commitErrs: []error{errors.New("disk I/O error")}}

	core, logs := observer.New(zap.WarnLevel)
	svc := New(faulty, payment.NewFake(true), WithLogger(zap.New(core)))

	_, err := svc.CreateOrder(context.Background(), []OrderLine{{ProductID: product.ID, Quantity: 2}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransactionFailure)
	assert.Equal(t, OutcomeTransactionFailure, Outcome(err))

	final, err := store.GetProduct(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, final.Quantity)

	failed := logs.FilterMessage("order operation failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zap.ErrorLevel, failed[0].Level)
}

func TestCancelOrder_RetriesOnConflict(t *testing.T) {
	store := setupTestDB(t)
	product := createTestProduct(t, store, "10", 8)
	faulty := &faultyStore{Storage: store}
	svc := New(faulty, payment.NewFake(true), WithRetryConfig(fastRetry(3)))

	order, err := svc.CreateOrder(context.Background(), []OrderLine{{ProductID: product.ID, Quantity: 2}})
	require.NoError(t, err)

	faulty.mu.Lock()
	faulty.updateOrderErrs = []error{conflict()}
	faulty.mu.Unlock()

	cancelled, err := svc.CancelOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, cancelled.Status())

	final, err := store.GetProduct(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, final.Quantity, "stock restored exactly once")
}

func TestPayOrder_ReconciliationRequired(t *testing.T) {
	store := setupTestDB(t)
	product := createTestProduct(t, store, "42.50", 3)
	faulty := &faultyStore{Storage: store}
	gateway := payment.NewFake(true)

	core, logs := observer.New(zap.InfoLevel)
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	svc := New(faulty, gateway, WithLogger(zap.New(core)), WithMetrics(metrics))

	order, err := svc.CreateOrder(context.Background(), []OrderLine{{ProductID: product.ID, Quantity: 2}})
	require.NoError(t, err)

	faulty.mu.Lock()
	faulty.commitErrs = []error{errors.New("database disk image is malformed")}
	faulty.mu.Unlock()

	_, err = svc.PayOrder(context.Background(), order.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReconciliationRequired)
	assert.NotErrorIs(t, err, ErrPaymentFailed)

	var recErr *ReconciliationError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, order.ID, recErr.OrderID)
	assert.True(t, decimal.RequireFromString("85").Equal(recErr.Amount))

	entries := logs.FilterMessage("reconciliation required").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
	assert.Equal(t, order.ID, entries[0].ContextMap()["order_id"])
	assert.Equal(t, "85", entries[0].ContextMap()["amount"])
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Reconciliations))

	loaded, err := store.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusNew, loaded.Status())
	assert.Equal(t, []string{order.ID}, svc.PendingSettlements())

	// Retrying settles without charging again
	paid, err := svc.PayOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPaid, paid.Status())
	assert.Len(t, gateway.Charges(), 1)
	assert.Empty(t, svc.PendingSettlements())
	assert.Equal(t, 1, logs.FilterMessage("completing previously approved payment").Len())

	captured, err := store.GetPayment(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.PaymentCaptured, captured.Status)
}

func TestRefundOrder_ReconciliationRequired(t *testing.T) {
	store := setupTestDB(t)
	product := createTestProduct(t, store, "20", 3)
	faulty := &faultyStore{Storage: store}
	gateway := payment.NewFake(true)
	svc := New(faulty, gateway)

	order, err := svc.CreateOrder(context.Background(), []OrderLine{{ProductID: product.ID, Quantity: 1}})
	require.NoError(t, err)
	_, err = svc.PayOrder(context.Background(), order.ID)
	require.NoError(t, err)

	faulty.mu.Lock()
	faulty.commitErrs = []error{errors.New("database is closed")}
	faulty.mu.Unlock()

	_, err = svc.RefundOrder(context.Background(), order.ID)
	assert.ErrorIs(t, err, ErrReconciliationRequired)
	assert.Len(t, gateway.Refunds(), 1)

	captured, err := store.GetPayment(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.PaymentCaptured, captured.Status)
}

func TestPayOrder_ConcurrentCallsChargeOnce(t *testing.T) {
	store := setupTestDB(t)
	product := createTestProduct(t, store, "10", 3)
	gateway := payment.NewFake(true)
	gateway.SetDelay(20 * time.Millisecond)
	svc := New(store, gateway)

	order, err := svc.CreateOrder(context.Background(), []OrderLine{{ProductID: product.ID, Quantity: 1}})
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		paid   int
		denied int
	)
	var g errgroup.Group
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			_, err := svc.PayOrder(context.Background(), order.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				paid++
			case errors.Is(err, ErrPaymentInProgress), errors.Is(err, types.ErrInvalidTransition):
				denied++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, paid)
	assert.Equal(t, 4, denied)
	assert.Len(t, gateway.Charges(), 1)
}

func TestGetOrder_NotFound(t *testing.T) {
	store := setupTestDB(t)
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	svc := New(store, payment.NewFake(true), WithMetrics(metrics))

	_, err := svc.GetOrder(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Operations.WithLabelValues(OpGet, OutcomeNotFound)))
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, OutcomeOK},
		{"cancelled", context.Canceled, OutcomeCancelled},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), OutcomeCancelled},
		{"validation", fmt.Errorf("%w: bad", types.ErrValidation), OutcomeValidation},
		{"not found", fmt.Errorf("order x: %w", ErrNotFound), OutcomeNotFound},
		{"stock", &types.InsufficientStockError{ProductID: "p"}, OutcomeInsufficientStock},
		{"transition", types.ErrInvalidTransition, OutcomeInvalidTransition},
		{"payment", ErrPaymentFailed, OutcomePaymentFailed},
		{"in progress", ErrPaymentInProgress, OutcomePaymentInProgress},
		{"refund", ErrRefundFailed, OutcomeRefundFailed},
		{"contention", fmt.Errorf("%w: %w", ErrContentionExceeded, storage.ErrConflict), OutcomeContentionExceeded},
		{"reconciliation", &ReconciliationError{OrderID: "o", Err: errors.New("commit")}, OutcomeReconciliationRequired},
		{"transaction", fmt.Errorf("%w: boom", ErrTransactionFailure), OutcomeTransactionFailure},
		{"other", errors.New("boom"), OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Outcome(tt.err))
		})
	}
}

func TestStorageFault(t *testing.T) {
	assert.NoError(t, storageFault(nil))
	assert.True(t, isConflict(storageFault(conflict())))
	assert.ErrorIs(t, storageFault(fmt.Errorf("x: %w", storage.ErrNotFound)), storage.ErrNotFound)

	err := storageFault(errors.New("disk full"))
	assert.ErrorIs(t, err, ErrTransactionFailure)
}

func TestReconciliationError(t *testing.T) {
	cause := errors.New("commit failed")
	err := &ReconciliationError{OrderID: "o1", Amount: decimal.RequireFromString("9.99"), Err: cause}

	assert.Contains(t, err.Error(), "o1")
	assert.Contains(t, err.Error(), "9.99")
	assert.ErrorIs(t, err, ErrReconciliationRequired)
	assert.ErrorIs(t, err, cause)
}

func TestPaymentLocks(t *testing.T) {
	locks := newPaymentLocks()
	assert.True(t, locks.TryAcquire("a"))
	assert.False(t, locks.TryAcquire("a"))
	assert.True(t, locks.TryAcquire("b"))
	locks.Release("a")
	assert.True(t, locks.TryAcquire("a"))
}
