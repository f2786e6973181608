package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NurluhanKakpanAitu/order-manager/internal/retry"
)

// HTTP provider configuration
const (
	DefaultHTTPTimeout = 30 * time.Second

	// Refund retry configuration
	RefundMaxRetries        = 3
	RefundInitialBackoffMs  = 100
	RefundMaxBackoffMs      = 5000
	RefundBackoffMultiplier = 2.0
)

// HTTPProvider implements Gateway against a JSON payment API
type HTTPProvider struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	retryConfig retry.Config
}

// NewHTTPProvider creates a gateway that posts to {baseURL}/payments and {baseURL}/refunds
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) (*HTTPProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: payment URL not set", ErrNoProviderConfigured)
	}
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}

	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retryConfig: retry.Config{
			MaxRetries: RefundMaxRetries,
			BaseDelay:  time.Duration(RefundInitialBackoffMs) * time.Millisecond,
			MaxDelay:   time.Duration(RefundMaxBackoffMs) * time.Millisecond,
			Multiplier: RefundBackoffMultiplier,
		},
	}, nil
}

// ProcessPayment makes exactly one charge attempt. A transport failure is
// reported as an error and never retried, since the charge may have landed.
func (h *HTTPProvider) ProcessPayment(ctx context.Context, orderID string, amount decimal.Decimal) (bool, error) {
	if !amount.IsPositive() {
		return false, nil
	}
	return h.callAPI(ctx, "/payments", orderID, amount)
}

// Refund retries with exponential backoff; refunds are keyed by order id on
// the processor side.
func (h *HTTPProvider) Refund(ctx context.Context, orderID string, amount decimal.Decimal) (bool, error) {
	if !amount.IsPositive() {
		return false, nil
	}
	approved, err := retry.Do(ctx, h.retryConfig, isTransient, func(int) (bool, error) {
		return h.callAPI(ctx, "/refunds", orderID, amount)
	})
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrGatewayFailed, err)
	}
	return approved, nil
}

// statusError is a non-200 response from the processor
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.code, e.body)
}

// isTransient reports whether a failed call is worth retrying
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return true
}

func (h *HTTPProvider) callAPI(ctx context.Context, path, orderID string, amount decimal.Decimal) (bool, error) {
	reqBody := map[string]interface{}{
		"order_id": orderID,
		"amount":   amount.String(),
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return false, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", h.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", orderID)
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return false, &statusError{code: resp.StatusCode, body: string(bodyBytes)}
	}

	var apiResp struct {
		Approved bool `json:"approved"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}

	return apiResp.Approved, nil
}

func (h *HTTPProvider) Provider() string {
	return ProviderHTTP
}

func (h *HTTPProvider) Close() error {
	h.httpClient.CloseIdleConnections()
	return nil
}
