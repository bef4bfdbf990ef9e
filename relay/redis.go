package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultKeyPrefix namespaces tombstone lists in Redis.
const DefaultKeyPrefix = "swarm:tombstone:"

// RedisConfig configures a Redis-backed tombstone store.
type RedisConfig struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// KeyPrefix namespaces keys (default swarm:tombstone:).
	KeyPrefix string
	// TTL is set on each list when it is written. Zero leaves keys persistent
	// and relies on Expire.
	TTL time.Duration
}

// RedisTombstones keeps tombstones in Redis lists so they survive a relay
// restart. Each list holds msgpack-encoded tombstones for one recipient.
type RedisTombstones struct {
	config RedisConfig
	client *goredis.Client
}

// NewRedisTombstones connects a store from cfg.
func NewRedisTombstones(cfg RedisConfig) (*RedisTombstones, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis tombstones require a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis tombstones: invalid URL: %w", err)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	return &RedisTombstones{config: cfg, client: goredis.NewClient(opts)}, nil
}

func (r *RedisTombstones) key(recipient string) string {
	return r.config.KeyPrefix + recipient
}

// Put implements TombstoneStore.
func (r *RedisTombstones) Put(ctx context.Context, ts Tombstone) error {
	body, err := msgpack.Marshal(&ts)
	if err != nil {
		return fmt.Errorf("redis tombstones: encode: %w", err)
	}
	key := r.key(ts.Recipient)
	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.RPush(ctx, key, body)
		if r.config.TTL > 0 {
			pipe.Expire(ctx, key, r.config.TTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis tombstones: put %s: %w", key, err)
	}
	return nil
}

// Take implements TombstoneStore. The read and delete run in one
// transaction so concurrent relays never deliver the same tombstone twice.
func (r *RedisTombstones) Take(ctx context.Context, recipient string) ([]Tombstone, error) {
	key := r.key(recipient)
	var lr *goredis.StringSliceCmd
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		lr = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis tombstones: take %s: %w", key, err)
	}
	return decodeAll(lr.Val())
}

// Expire implements TombstoneStore.
func (r *RedisTombstones) Expire(ctx context.Context, cutoff time.Time) (int, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.config.KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis tombstones: scan: %w", err)
	}

	expired := 0
	for _, key := range keys {
		raw, err := r.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return expired, fmt.Errorf("redis tombstones: read %s: %w", key, err)
		}
		list, err := decodeAll(raw)
		if err != nil {
			return expired, err
		}
		var kept []any
		for i, ts := range list {
			if ts.BuriedAt.Before(cutoff) {
				continue
			}
			kept = append(kept, raw[i])
		}
		if len(kept) == len(list) {
			continue
		}
		_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key)
			if len(kept) > 0 {
				pipe.RPush(ctx, key, kept...)
			}
			return nil
		})
		if err != nil {
			return expired, fmt.Errorf("redis tombstones: rewrite %s: %w", key, err)
		}
		expired += len(list) - len(kept)
	}
	return expired, nil
}

// Close implements TombstoneStore.
func (r *RedisTombstones) Close() error {
	return r.client.Close()
}

func decodeAll(raw []string) ([]Tombstone, error) {
	out := make([]Tombstone, 0, len(raw))
	for _, s := range raw {
		var ts Tombstone
		if err := msgpack.NewDecoder(strings.NewReader(s)).Decode(&ts); err != nil {
			return nil, fmt.Errorf("redis tombstones: decode: %w", err)
		}
		out = append(out, ts)
	}
	return out, nil
}

// Verify RedisTombstones implements TombstoneStore.
var _ TombstoneStore = (*RedisTombstones)(nil)
