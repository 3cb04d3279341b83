// Package redis publishes stream completion events on a Redis pub/sub
// channel.
//
// Each event is one JSON message. Connection failures are retried under
// the adapter's RetryPolicy; a closed client is not.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/endlesschasey-ai/agent-template/adapter"
)

// DefaultChannel receives events when Config.Channel is empty.
const DefaultChannel = "agent-template:stream_completed"

// DefaultTimeout bounds a single PUBLISH.
const DefaultTimeout = 5 * time.Second

// Config configures the pub/sub publisher.
type Config struct {
	// URL is redis://[:password@]host:port[/db]. Required.
	URL     string
	Channel string
	// Timeout bounds each attempt, not the whole retry sequence.
	Timeout time.Duration
	Retry   adapter.RetryPolicy
}

// Publisher implements adapter.Adapter over PUBLISH.
type Publisher struct {
	channel string
	timeout time.Duration
	retry   adapter.RetryPolicy
	client  *goredis.Client
}

// New parses cfg.URL and creates the client. No connection is made until
// the first Publish.
func New(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("redis adapter: %w", err)
	}

	p := &Publisher{
		channel: cfg.Channel,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		client:  goredis.NewClient(opts),
	}
	if p.channel == "" {
		p.channel = DefaultChannel
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	return p, nil
}

// Channel is the channel events go to.
func (p *Publisher) Channel() string { return p.channel }

// Publish sends event to the channel. The number of subscribers that
// received it is not checked.
func (p *Publisher) Publish(ctx context.Context, event *adapter.StreamCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	attempts, err := p.retry.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		err := p.client.Publish(attemptCtx, p.channel, body).Err()
		if errors.Is(err, goredis.ErrClosed) {
			return adapter.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("redis: publish to %s failed after %d attempt(s): %w", p.channel, attempts, err)
	}
	return nil
}

// Close closes the client; later publishes fail without retrying.
func (p *Publisher) Close() error {
	return p.client.Close()
}

var _ adapter.Adapter = (*Publisher)(nil)
