package events

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/NurluhanKakpanAitu/order-manager/internal/observability"
	"github.com/NurluhanKakpanAitu/order-manager/internal/storage"
)

// Relay defaults
const (
	DefaultInterval  = time.Second
	DefaultBatchSize = 100
)

// Relay moves committed outbox rows to a Publisher
type Relay struct {
	store     storage.Storage
	publisher Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	batchSize int
}

// RelayOption configures a Relay
type RelayOption func(*Relay)

// WithRelayLogger sets the logger
func WithRelayLogger(logger *zap.Logger) RelayOption {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRelayMetrics sets the metrics sink
func WithRelayMetrics(m *observability.Metrics) RelayOption {
	return func(r *Relay) { r.metrics = m }
}

// WithInterval sets the polling interval
func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBatchSize sets how many rows are read per poll
func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// NewRelay creates a relay
func NewRelay(store storage.Storage, publisher Publisher, opts ...RelayOption) *Relay {
	r := &Relay{
		store:     store,
		publisher: publisher,
		logger:    zap.NewNop(),
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RelayOnce publishes one batch of pending events in id order. It stops at the
// first publish failure so later events for the same order never overtake
// an earlier one; the failed row stays pending for the next poll.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	pending, err := r.store.FetchPendingEvents(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending events: %w", err)
	}

	published := 0
	for _, event := range pending {
		if err := ctx.Err(); err != nil {
			return published, err
		}

		if err := r.publisher.Publish(ctx, event); err != nil {
			r.metrics.IncOutboxFailure(event.Topic)
			r.logger.Error("outbox publish failed",
				zap.Int64("outbox_id", event.ID),
				zap.String("event_id", event.EventID),
				zap.String("topic", event.Topic),
				zap.Error(err),
			)
			return published, fmt.Errorf("publish event %s: %w", event.EventID, err)
		}

		if err := r.store.MarkEventSent(ctx, event.ID); err != nil {
			return published, fmt.Errorf("mark event %s sent: %w", event.EventID, err)
		}
		r.metrics.IncOutboxPublished(event.Topic)
		published++
	}

	return published, nil
}

// Run polls until ctx is cancelled
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started",
		zap.Duration("interval", r.interval),
		zap.Int("batch_size", r.batchSize),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
			n, err := r.RelayOnce(ctx)
			if err != nil && ctx.Err() == nil {
				r.logger.Warn("outbox relay pass incomplete", zap.Int("published", n), zap.Error(err))
			} else if n > 0 {
				r.logger.Debug("outbox relay pass", zap.Int("published", n))
			}
		}
	}
}
