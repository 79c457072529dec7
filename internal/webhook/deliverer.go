// Package webhook pushes monitor run payloads to caller-configured endpoints.
// Delivery is attempted exactly once per run.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catchall/internal/models"
)

// DefaultTimeout bounds a single delivery
const DefaultTimeout = 15 * time.Second

// DeliveryError means the endpoint was unreachable or answered non-2xx.
// It is logged by callers and never fails a run.
type DeliveryError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook delivery to %s failed: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("webhook delivery to %s failed: %v", e.URL, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Deliverer sends payloads to webhooks
type Deliverer struct {
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewDeliverer creates a deliverer with the given per-request timeout
func NewDeliverer(timeout time.Duration, logger arbor.ILogger) *Deliverer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Deliverer{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Deliver sends payload as JSON using the webhook's method, headers, query
// parameters and basic auth. Any failure is returned as *DeliveryError.
func (d *Deliverer) Deliver(ctx context.Context, hook models.Webhook, payload interface{}) error {
	target, err := url.Parse(hook.URL)
	if err != nil {
		return &DeliveryError{URL: hook.URL, Err: fmt.Errorf("invalid url: %w", err)}
	}
	if len(hook.Params) > 0 {
		q := target.Query()
		for k, v := range hook.Params {
			q.Set(k, v)
		}
		target.RawQuery = q.Encode()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &DeliveryError{URL: hook.URL, Err: fmt.Errorf("failed to encode payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, hook.HTTPMethod(), target.String(), bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{URL: hook.URL, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "catchall-monitor")
	for k, v := range hook.Headers {
		req.Header.Set(k, v)
	}
	if hook.Auth != nil {
		req.SetBasicAuth(hook.Auth.Username, hook.Auth.Password)
	}

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return &DeliveryError{URL: hook.URL, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{URL: hook.URL, StatusCode: resp.StatusCode}
	}

	d.logger.Debug().
		Str("url", hook.URL).
		Str("method", hook.HTTPMethod()).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Webhook delivered")
	return nil
}
