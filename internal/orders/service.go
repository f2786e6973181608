package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NurluhanKakpanAitu/order-manager/internal/observability"
	"github.com/NurluhanKakpanAitu/order-manager/internal/payment"
	"github.com/NurluhanKakpanAitu/order-manager/internal/retry"
	"github.com/NurluhanKakpanAitu/order-manager/internal/storage"
	"github.com/NurluhanKakpanAitu/order-manager/pkg/types"
)

// Operation names used for spans, metrics and logs
const (
	OpCreate = "create"
	OpPay    = "pay"
	OpCancel = "cancel"
	OpRefund = "refund"
	OpGet    = "get"
	OpList   = "list"
)

// Service coordinates order workflows over a Storage unit of work and a
// payment Gateway
type Service struct {
	store       storage.Storage
	gateway     payment.Gateway
	logger      *zap.Logger
	tracer      trace.Tracer
	metrics     *observability.Metrics
	retry       retry.Config
	settlements *payment.SettlementCache
	locks       *paymentLocks
}

// OrderLine is one requested (product, quantity) pair
type OrderLine struct {
	ProductID string
	Quantity  int
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer sets the tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRetryConfig replaces the contention retry policy
func WithRetryConfig(cfg retry.Config) Option {
	return func(s *Service) { s.retry = cfg }
}

// WithContentionRetries sets how many attempts a conflicting transaction gets
func WithContentionRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.retry.MaxRetries = n
		}
	}
}

// WithSettlementCache sets the cache of approved but uncommitted charges
func WithSettlementCache(c *payment.SettlementCache) Option {
	return func(s *Service) {
		if c != nil {
			s.settlements = c
		}
	}
}

// New creates an order service
func New(store storage.Storage, gateway payment.Gateway, opts ...Option) *Service {
	s := &Service{
		store:       store,
		gateway:     gateway,
		logger:      zap.NewNop(),
		tracer:      observability.Tracer("orders"),
		retry:       retry.DefaultConfig(),
		settlements: payment.NewSettlementCache(payment.DefaultSettlementCacheSize),
		locks:       newPaymentLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PendingSettlements returns order ids charged at the gateway but not yet
// committed as paid
func (s *Service) PendingSettlements() []string {
	return s.settlements.Keys()
}

// GetOrder loads an order with its items
func (s *Service) GetOrder(ctx context.Context, orderID string) (order *types.Order, err error) {
	ctx, finish := s.instrument(ctx, OpGet, attribute.String("order.id", orderID))
	defer func() { finish(err) }()

	order, err = s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, s.orderLoadError(orderID, err)
	}
	return order, nil
}

// ListOrders returns one page of orders, newest first, optionally filtered by status
func (s *Service) ListOrders(ctx context.Context, page, pageSize int, status *types.OrderStatus) (result types.Page[*types.Order], err error) {
	ctx, finish := s.instrument(ctx, OpList,
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)
	defer func() { finish(err) }()

	req, err := types.PageRequest{Number: page, Size: pageSize}.Normalize()
	if err != nil {
		return result, err
	}

	orders, total, err := s.store.ListOrders(ctx, storage.OrderFilter{
		Status: status,
		Limit:  req.Size,
		Offset: req.Offset(),
	})
	if err != nil {
		return result, storageFault(err)
	}
	return types.NewPage(orders, req, total), nil
}

// instrument opens a span for op and returns a finish func that records the
// outcome on the span, in metrics and in the log
func (s *Service) instrument(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "orders."+op, trace.WithAttributes(attrs...))
	start := time.Now()

	return ctx, func(err error) {
		outcome := Outcome(err)
		s.metrics.ObserveOperation(op, outcome, time.Since(start))
		span.SetAttributes(attribute.String("outcome", outcome))

		if err == nil {
			span.SetStatus(codes.Ok, "")
			span.End()
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()

		fields := make([]zap.Field, 0, len(attrs)+3)
		fields = append(fields, zap.String("operation", op), zap.String("outcome", outcome))
		for _, kv := range attrs {
			fields = append(fields, zap.String(string(kv.Key), kv.Value.Emit()))
		}
		fields = append(fields, zap.Error(err))

		switch outcome {
		case OutcomeReconciliationRequired:
			// logged with full detail where it happened
		case OutcomeTransactionFailure, OutcomeError:
			s.logger.Error("order operation failed", fields...)
		default:
			s.logger.Warn("order operation failed", fields...)
		}
	}
}

// beginTx checks ctx and opens a transaction on a context detached from
// cancellation. Everything inside the transaction must use the returned context.
func (s *Service) beginTx(ctx context.Context) (context.Context, storage.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	txCtx := context.WithoutCancel(ctx)
	tx, err := s.store.BeginTx(txCtx)
	if err != nil {
		return nil, nil, storageFault(fmt.Errorf("begin transaction: %w", err))
	}
	return txCtx, tx, nil
}

func (s *Service) orderLoadError(orderID string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return storageFault(fmt.Errorf("load order %s: %w", orderID, err))
}

// withContentionRetry runs fn until it succeeds, fails with a non-conflict
// error, or runs out of attempts
func withContentionRetry[T any](ctx context.Context, s *Service, op string, fn func() (T, error)) (T, error) {
	cfg := s.retry
	cfg.OnRetry = func(attempt int, err error) {
		s.metrics.IncContentionRetry(op)
		s.logger.Debug("retrying conflicting transaction",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	result, err := retry.Do(ctx, cfg, isConflict, func(int) (T, error) {
		return fn()
	})
	if err != nil && isConflict(err) {
		return result, fmt.Errorf("%w: %w", ErrContentionExceeded, err)
	}
	return result, err
}
