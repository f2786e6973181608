package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
)

// Provider names
const (
	ProviderSimulated = "simulated"
	ProviderHTTP      = "http"
)

// Common errors
var (
	ErrGatewayFailed        = errors.New("payment gateway failed")
	ErrNoProviderConfigured = errors.New("payment provider not configured")
	ErrUnsupportedProvider  = errors.New("unsupported payment provider")
)

// Gateway charges and refunds orders against an external processor.
// A false result with a nil error is a decline; an error means the outcome
// of the call is unknown or the call never reached the processor.
type Gateway interface {
	// ProcessPayment charges amount for the order
	ProcessPayment(ctx context.Context, orderID string, amount decimal.Decimal) (bool, error)

	// Refund returns a previously captured amount for the order
	Refund(ctx context.Context, orderID string, amount decimal.Decimal) (bool, error)

	// Provider returns the provider name
	Provider() string

	// Close releases any resources held by the gateway
	Close() error
}

// Config holds gateway configuration
type Config struct {
	Provider    string
	URL         string
	APIKey      string
	SuccessRate float64
	Latency     time.Duration
	Seed        uint64 // 0 picks a random seed
	Timeout     time.Duration
}

// New creates a gateway with explicit configuration
func New(cfg Config) (Gateway, error) {
	provider := strings.ToLower(cfg.Provider)
	switch provider {
	case "", ProviderSimulated:
		return NewSimulatedProvider(cfg.SuccessRate, cfg.Latency, cfg.Seed), nil
	case ProviderHTTP:
		return NewHTTPProvider(cfg.URL, cfg.APIKey, cfg.Timeout)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
}

// Settlement is a charge the gateway approved for an order
type Settlement struct {
	OrderID   string
	Amount    decimal.Decimal
	Provider  string
	SettledAt time.Time
}

// SettlementCache remembers approved charges whose local commit has not
// completed, so a later PayOrder for the same order does not charge again.
type SettlementCache struct {
	cache *lru.Cache[string, Settlement]
}

// DefaultSettlementCacheSize is used when NewSettlementCache gets a non-positive size
const DefaultSettlementCacheSize = 1024

// NewSettlementCache creates a settlement cache with LRU eviction
func NewSettlementCache(maxLen int) *SettlementCache {
	if maxLen <= 0 {
		maxLen = DefaultSettlementCacheSize
	}
	cache, err := lru.New[string, Settlement](maxLen)
	if err != nil {
		// Should never happen with positive size
		cache, _ = lru.New[string, Settlement](DefaultSettlementCacheSize)
	}
	return &SettlementCache{cache: cache}
}

// Get returns the pending settlement for an order
func (c *SettlementCache) Get(orderID string) (Settlement, bool) {
	return c.cache.Get(orderID)
}

// Add records an approved charge
func (c *SettlementCache) Add(s Settlement) {
	c.cache.Add(s.OrderID, s)
}

// Remove forgets the settlement once the order is committed as paid
func (c *SettlementCache) Remove(orderID string) {
	c.cache.Remove(orderID)
}

// Len returns the number of pending settlements
func (c *SettlementCache) Len() int {
	return c.cache.Len()
}

// Keys returns the order ids with pending settlements, oldest first
func (c *SettlementCache) Keys() []string {
	return c.cache.Keys()
}
