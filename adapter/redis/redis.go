// Package redis publishes fleet completion events over Redis pub/sub.
//
// Events are JSON-encoded and sent with PUBLISH to a configurable channel,
// retrying with exponential backoff on connection errors. With a record
// prefix set, the same body is also stored under <prefix><run_id> in the
// same transaction, so consumers that were not subscribed can still look
// the outcome up.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/swarm/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "swarm:fleet_completed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default swarm:fleet_completed).
	Channel string
	// Timeout bounds each PUBLISH (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
	// RecordPrefix, when set, keeps each event under RecordPrefix+run_id.
	RecordPrefix string
	// RecordTTL expires stored events. Zero keeps them.
	RecordTTL time.Duration
}

// Adapter publishes fleet completion events via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis pub/sub adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	return &Adapter{config: cfg, client: goredis.NewClient(opts)}, nil
}

// Publish sends the event as JSON to the configured channel.
func (a *Adapter) Publish(ctx context.Context, event *adapter.FleetCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	return adapter.Retry(ctx, "redis", a.config.Retries, func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		if a.config.RecordPrefix == "" {
			return a.client.Publish(pctx, a.config.Channel, body).Err()
		}
		_, err := a.client.TxPipelined(pctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(pctx, a.config.RecordPrefix+event.RunID, body, a.config.RecordTTL)
			pipe.Publish(pctx, a.config.Channel, body)
			return nil
		})
		return err
	}, func(err error) bool {
		return errors.Is(err, goredis.ErrClosed)
	})
}

// Record returns the stored event for runID. It fails with
// goredis.Nil when nothing was recorded.
func (a *Adapter) Record(ctx context.Context, runID string) (*adapter.FleetCompletedEvent, error) {
	if a.config.RecordPrefix == "" {
		return nil, errors.New("redis adapter: records are disabled")
	}
	body, err := a.client.Get(ctx, a.config.RecordPrefix+runID).Bytes()
	if err != nil {
		return nil, err
	}
	var ev adapter.FleetCompletedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("redis adapter: decode record: %w", err)
	}
	return &ev, nil
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
