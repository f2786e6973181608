package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NurluhanKakpanAitu/order-manager/internal/payment"
)

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(mapLookup(map[string]string{EnvDBPath: "/tmp/orders.db"}))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/orders.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, payment.ProviderSimulated, cfg.Payment.Provider)
	assert.Equal(t, 0.9, cfg.Payment.SuccessRate)
	assert.Equal(t, 100*time.Millisecond, cfg.Payment.Latency)
	assert.Equal(t, 3, cfg.ContentionRetries)
	assert.Equal(t, 1024, cfg.SettlementCache)
	assert.Equal(t, "", cfg.KafkaBrokers)
	assert.Equal(t, time.Second, cfg.OutboxInterval)
	assert.Equal(t, 100, cfg.OutboxBatch)
	assert.Equal(t, "", cfg.MetricsAddr)
	assert.False(t, cfg.Telemetry.Enabled())
}

func TestLoadFrom_DefaultDBPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	cfg, err := LoadFrom(mapLookup(nil))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/tester", DefaultDBDir, DefaultDBFile), cfg.DBPath)
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(mapLookup(map[string]string{
		EnvDBPath:            "/data/om.db",
		EnvLogLevel:          "debug",
		EnvLogFormat:         "console",
		EnvPaymentProvider:   "http",
		EnvPaymentURL:        "https://pay.example.com",
		EnvPaymentAPIKey:     "secret",
		EnvPaymentTimeout:    "5s",
		EnvContentionRetries: " 7 ",
		EnvSettlementCache:   "64",
		EnvKafkaBrokers:      "k1:9092,k2:9092",
		EnvOutboxInterval:    "250ms",
		EnvOutboxBatch:       "10",
		EnvMetricsAddr:       ":9100",
		EnvOtelEndpoint:      "otel.example.com",
		EnvOtelAuthHeader:    "Basic abc",
		EnvOtelInsecure:      "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, "http", cfg.Payment.Provider)
	assert.Equal(t, "https://pay.example.com", cfg.Payment.URL)
	assert.Equal(t, "secret", cfg.Payment.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Payment.Timeout)
	assert.Equal(t, 7, cfg.ContentionRetries)
	assert.Equal(t, 64, cfg.SettlementCache)
	assert.Equal(t, "k1:9092,k2:9092", cfg.KafkaBrokers)
	assert.Equal(t, 250*time.Millisecond, cfg.OutboxInterval)
	assert.Equal(t, 10, cfg.OutboxBatch)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	assert.True(t, cfg.Telemetry.Enabled())
	assert.True(t, cfg.Telemetry.Insecure)
}

func TestLoadFrom_ParseErrors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"retries", EnvContentionRetries, "many"},
		{"success rate", EnvPaymentSuccess, "high"},
		{"latency", EnvPaymentLatency, "soon"},
		{"insecure", EnvOtelInsecure, "perhaps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(mapLookup(map[string]string{EnvDBPath: "/tmp/x.db", tt.key: tt.val}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"log level", map[string]string{EnvLogLevel: "loud"}, EnvLogLevel},
		{"log format", map[string]string{EnvLogFormat: "xml"}, EnvLogFormat},
		{"provider", map[string]string{EnvPaymentProvider: "stripe"}, EnvPaymentProvider},
		{"http without url", map[string]string{EnvPaymentProvider: "http"}, EnvPaymentURL},
		{"success rate range", map[string]string{EnvPaymentSuccess: "1.5"}, EnvPaymentSuccess},
		{"retries", map[string]string{EnvContentionRetries: "0"}, EnvContentionRetries},
		{"cache", map[string]string{EnvSettlementCache: "-1"}, EnvSettlementCache},
		{"interval", map[string]string{EnvOutboxInterval: "-1s"}, EnvOutboxInterval},
		{"batch", map[string]string{EnvOutboxBatch: "0"}, EnvOutboxBatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.env[EnvDBPath] = "/tmp/x.db"
			_, err := LoadFrom(mapLookup(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
