package payment

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Simulated provider defaults
const (
	DefaultSuccessRate = 0.9
	DefaultLatency     = 100 * time.Millisecond
)

// SimulatedProvider approves a fixed share of charges after a fixed delay.
// Non-positive amounts are always declined.
type SimulatedProvider struct {
	successRate float64
	latency     time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedProvider creates a simulated gateway. A success rate outside
// [0, 1] falls back to DefaultSuccessRate; a negative latency to DefaultLatency.
func NewSimulatedProvider(successRate float64, latency time.Duration, seed uint64) *SimulatedProvider {
	if successRate < 0 || successRate > 1 {
		successRate = DefaultSuccessRate
	}
	if latency < 0 {
		latency = DefaultLatency
	}
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &SimulatedProvider{
		successRate: successRate,
		latency:     latency,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (p *SimulatedProvider) ProcessPayment(ctx context.Context, orderID string, amount decimal.Decimal) (bool, error) {
	return p.decide(ctx, amount)
}

func (p *SimulatedProvider) Refund(ctx context.Context, orderID string, amount decimal.Decimal) (bool, error) {
	return p.decide(ctx, amount)
}

func (p *SimulatedProvider) decide(ctx context.Context, amount decimal.Decimal) (bool, error) {
	if !amount.IsPositive() {
		return false, nil
	}

	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	p.mu.Lock()
	roll := p.rng.Float64()
	p.mu.Unlock()

	return roll < p.successRate, nil
}

func (p *SimulatedProvider) Provider() string {
	return ProviderSimulated
}

func (p *SimulatedProvider) Close() error {
	return nil
}
