// Package webhook POSTs stream completion events to an HTTP endpoint.
//
// Network errors, 5xx and 429 responses are retried under the adapter's
// RetryPolicy. Any other non-2xx status ends the publish at once.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/endlesschasey-ai/agent-template/adapter"
	"github.com/endlesschasey-ai/agent-template/iox"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 10 * time.Second

// Config configures the webhook publisher.
type Config struct {
	// URL receives the POST. Required.
	URL string
	// Headers are set on every request, after Content-Type.
	Headers map[string]string
	// Timeout bounds each attempt, not the whole retry sequence.
	Timeout time.Duration
	Retry   adapter.RetryPolicy
}

// Publisher implements adapter.Adapter over HTTP POST.
type Publisher struct {
	url     string
	headers http.Header
	retry   adapter.RetryPolicy
	client  *http.Client
}

// New validates cfg and prepares the HTTP client.
func New(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("webhook adapter: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	headers := make(http.Header, len(cfg.Headers)+1)
	headers.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		headers.Set(k, v)
	}
	return &Publisher{
		url:     cfg.URL,
		headers: headers,
		retry:   cfg.Retry,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Retriable reports whether the same request may succeed later.
func (e *StatusError) Retriable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Publish POSTs event as JSON.
func (p *Publisher) Publish(ctx context.Context, event *adapter.StreamCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	attempts, err := p.retry.Do(ctx, func(ctx context.Context) error {
		err := p.post(ctx, body)
		var status *StatusError
		if errors.As(err, &status) && !status.Retriable() {
			return adapter.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("webhook: post failed after %d attempt(s): %w", attempts, err)
	}
	return nil
}

func (p *Publisher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header = p.headers.Clone()

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close drops idle connections.
func (p *Publisher) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Publisher)(nil)
