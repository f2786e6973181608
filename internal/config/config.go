// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/NurluhanKakpanAitu/order-manager/internal/events"
	"github.com/NurluhanKakpanAitu/order-manager/internal/observability"
	"github.com/NurluhanKakpanAitu/order-manager/internal/payment"
	"github.com/NurluhanKakpanAitu/order-manager/internal/retry"
)

// Environment variable names
const (
	EnvDBPath            = "ORDERMANAGER_DB_PATH"
	EnvLogLevel          = "ORDERMANAGER_LOG_LEVEL"
	EnvLogFormat         = "ORDERMANAGER_LOG_FORMAT"
	EnvPaymentProvider   = "ORDERMANAGER_PAYMENT_PROVIDER"
	EnvPaymentURL        = "ORDERMANAGER_PAYMENT_URL"
	EnvPaymentAPIKey     = "ORDERMANAGER_PAYMENT_API_KEY"
	EnvPaymentSuccess    = "ORDERMANAGER_PAYMENT_SUCCESS_RATE"
	EnvPaymentLatency    = "ORDERMANAGER_PAYMENT_LATENCY"
	EnvPaymentTimeout    = "ORDERMANAGER_PAYMENT_TIMEOUT"
	EnvContentionRetries = "ORDERMANAGER_CONTENTION_RETRIES"
	EnvSettlementCache   = "ORDERMANAGER_SETTLEMENT_CACHE_SIZE"
	EnvKafkaBrokers      = "ORDERMANAGER_KAFKA_BROKERS"
	EnvOutboxInterval    = "ORDERMANAGER_OUTBOX_INTERVAL"
	EnvOutboxBatch       = "ORDERMANAGER_OUTBOX_BATCH"
	EnvMetricsAddr       = "ORDERMANAGER_METRICS_ADDR"
	EnvOtelEndpoint      = "OTEL_ENDPOINT"
	EnvOtelAuthHeader    = "OTEL_AUTH_HEADER"
	EnvOtelInsecure      = "OTEL_INSECURE"
)

// DefaultDBDir is created under the user's home directory when no path is set
const DefaultDBDir = ".ordermanager"

// DefaultDBFile is the database file name inside DefaultDBDir
const DefaultDBFile = "orders.db"

// Config is the full service configuration
type Config struct {
	DBPath    string
	LogLevel  string
	LogFormat string

	Payment           payment.Config
	ContentionRetries int
	SettlementCache   int

	KafkaBrokers   string
	OutboxInterval time.Duration
	OutboxBatch    int

	MetricsAddr string
	Telemetry   observability.TelemetryConfig
}

// Load reads the configuration from the process environment
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads the configuration through lookup, applies defaults and validates
func LoadFrom(lookup func(string) (string, bool)) (*Config, error) {
	env := source{lookup: lookup}

	cfg := &Config{
		DBPath:    env.str(EnvDBPath, ""),
		LogLevel:  env.str(EnvLogLevel, "info"),
		LogFormat: env.str(EnvLogFormat, observability.FormatJSON),
		Payment: payment.Config{
			Provider:    env.str(EnvPaymentProvider, payment.ProviderSimulated),
			URL:         env.str(EnvPaymentURL, ""),
			APIKey:      env.str(EnvPaymentAPIKey, ""),
			SuccessRate: env.float(EnvPaymentSuccess, payment.DefaultSuccessRate),
			Latency:     env.duration(EnvPaymentLatency, payment.DefaultLatency),
			Timeout:     env.duration(EnvPaymentTimeout, 0),
		},
		ContentionRetries: env.int(EnvContentionRetries, retry.DefaultMaxRetries),
		SettlementCache:   env.int(EnvSettlementCache, payment.DefaultSettlementCacheSize),
		KafkaBrokers:      env.str(EnvKafkaBrokers, ""),
		OutboxInterval:    env.duration(EnvOutboxInterval, events.DefaultInterval),
		OutboxBatch:       env.int(EnvOutboxBatch, events.DefaultBatchSize),
		MetricsAddr:       env.str(EnvMetricsAddr, ""),
		Telemetry: observability.TelemetryConfig{
			Endpoint:   env.str(EnvOtelEndpoint, ""),
			AuthHeader: env.str(EnvOtelAuthHeader, ""),
			Insecure:   env.bool(EnvOtelInsecure, false),
		},
	}
	if env.err != nil {
		return nil, env.err
	}

	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		cfg.DBPath = filepath.Join(home, DefaultDBDir, DefaultDBFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field requirements
func (c *Config) Validate() error {
	var errs []error

	if _, err := observability.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", EnvLogLevel, err))
	}
	switch c.LogFormat {
	case observability.FormatJSON, observability.FormatConsole:
	default:
		errs = append(errs, fmt.Errorf("%s: unsupported format %q", EnvLogFormat, c.LogFormat))
	}

	switch strings.ToLower(c.Payment.Provider) {
	case payment.ProviderSimulated:
		if c.Payment.SuccessRate < 0 || c.Payment.SuccessRate > 1 {
			errs = append(errs, fmt.Errorf("%s must be between 0 and 1", EnvPaymentSuccess))
		}
		if c.Payment.Latency < 0 {
			errs = append(errs, fmt.Errorf("%s cannot be negative", EnvPaymentLatency))
		}
	case payment.ProviderHTTP:
		if c.Payment.URL == "" {
			errs = append(errs, fmt.Errorf("%s is required for the http provider", EnvPaymentURL))
		}
	default:
		errs = append(errs, fmt.Errorf("%s: %w: %s", EnvPaymentProvider, payment.ErrUnsupportedProvider, c.Payment.Provider))
	}

	if c.ContentionRetries < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1", EnvContentionRetries))
	}
	if c.SettlementCache < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1", EnvSettlementCache))
	}
	if c.OutboxInterval <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", EnvOutboxInterval))
	}
	if c.OutboxBatch < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1", EnvOutboxBatch))
	}

	return errors.Join(errs...)
}

// source reads typed values and keeps the first parse error
type source struct {
	lookup func(string) (string, bool)
	err    error
}

func (s *source) raw(key string) (string, bool) {
	v, ok := s.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (s *source) fail(key string, err error) {
	if s.err == nil {
		s.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (s *source) str(key, def string) string {
	if v, ok := s.raw(key); ok {
		return v
	}
	return def
}

func (s *source) int(key string, def int) int {
	v, ok := s.raw(key)
	if !ok {
		return def
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		s.fail(key, err)
		return def
	}
	return n
}

func (s *source) float(key string, def float64) float64 {
	v, ok := s.raw(key)
	if !ok {
		return def
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		s.fail(key, err)
		return def
	}
	return f
}

func (s *source) duration(key string, def time.Duration) time.Duration {
	v, ok := s.raw(key)
	if !ok {
		return def
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		s.fail(key, err)
		return def
	}
	return d
}

func (s *source) bool(key string, def bool) bool {
	v, ok := s.raw(key)
	if !ok {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		s.fail(key, err)
		return def
	}
	return b
}
