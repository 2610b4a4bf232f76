// Package webhook posts JSON payloads to chat webhooks and handles their rate
// limiting.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	// DefaultTimeout bounds one delivery including a rate-limit retry.
	DefaultTimeout = 15 * time.Second

	// maxRetryAfter caps how long a 429 may hold a delivery.
	maxRetryAfter = 5 * time.Second
)

// APIError is a non-2xx webhook response.
type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API %d: %s", e.Provider, e.Status, e.Body)
}

// NewClient returns an HTTP client for webhook delivery.
func NewClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// PostJSON sends payload to url. A 429 is retried once after its Retry-After
// delay when that delay is short; otherwise it is returned as an *APIError.
func PostJSON(ctx context.Context, client *http.Client, provider, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s marshal: %w", provider, err)
	}

	for attempt := 0; ; attempt++ {
		status, respBody, retryAfter, err := post(ctx, client, url, body)
		if err != nil {
			return fmt.Errorf("%s send: %w", provider, err)
		}
		if status < http.StatusBadRequest {
			return nil
		}
		if status != http.StatusTooManyRequests || attempt > 0 || retryAfter > maxRetryAfter {
			return &APIError{Provider: provider, Status: status, Body: respBody}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryAfter):
		}
	}
}

func post(ctx context.Context, client *http.Client, url string, body []byte) (int, string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return 0, "", 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, "", 0, nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return resp.StatusCode, string(data), parseRetryAfter(resp.Header.Get("Retry-After")), nil
}

// parseRetryAfter reads the delay-seconds form. Discord sends fractional
// seconds.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
