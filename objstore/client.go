package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"

	"github.com/pithecene-io/swarm/iox"
	"github.com/pithecene-io/swarm/metrics"
)

// Storage backends.
const (
	BackendFS     = "fs"
	BackendMemory = "memory"
	BackendS3     = "s3"
)

// Config selects and configures a backend.
type Config struct {
	// Backend is one of fs, memory or s3.
	Backend string
	// Root is the base directory of the fs backend. Buckets are subdirectories.
	Root string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers.
	Endpoint string
	// UsePathStyle forces path-style addressing.
	UsePathStyle bool
}

// Validate checks that the backend is known and configured.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFS:
		if c.Root == "" {
			return errors.New("fs storage requires a root directory")
		}
	case BackendMemory, BackendS3:
	default:
		return fmt.Errorf("unknown storage backend %q (want fs, memory or s3)", c.Backend)
	}
	return nil
}

// BucketFactory opens the store holding one bucket.
type BucketFactory func(bucket string) (lode.Store, error)

// Client resolves buckets to lode stores, lazily and once per bucket.
// Safe for concurrent use.
type Client struct {
	backend   string
	factory   BucketFactory
	collector *metrics.Collector

	mu     sync.Mutex
	stores map[string]lode.Store
}

// New creates a client for cfg. The s3 backend uses the AWS SDK default
// credential chain (env vars, shared config, IAM role).
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendFS:
		root := cfg.Root
		return NewWithFactory(BackendFS, func(bucket string) (lode.Store, error) {
			dir := filepath.Join(root, bucket)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
			return lode.NewFSFactory(dir)()
		}), nil
	case BackendMemory:
		return NewMemory(), nil
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, wrap("init", "", fmt.Errorf("load AWS config: %w", err))
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	s3Client := s3.NewFromConfig(awsConfig, s3Opts...)

	return NewWithFactory(BackendS3, func(bucket string) (lode.Store, error) {
		return lodes3.New(s3Client, lodes3.Config{Bucket: bucket})
	}), nil
}

// NewMemory creates a client over in-memory stores, one per bucket.
func NewMemory() *Client {
	return NewWithFactory(BackendMemory, func(string) (lode.Store, error) {
		return lode.NewMemory(), nil
	})
}

// NewWithFactory creates a client over a custom bucket factory.
func NewWithFactory(backend string, f BucketFactory) *Client {
	return &Client{
		backend: backend,
		factory: f,
		stores:  make(map[string]lode.Store),
	}
}

// WithCollector counts every operation's outcome in m.
func (c *Client) WithCollector(m *metrics.Collector) *Client {
	c.collector = m
	return c
}

// Backend returns the backend name.
func (c *Client) Backend() string { return c.backend }

func (c *Client) store(bucket string) (lode.Store, error) {
	if bucket == "" {
		return nil, &StorageError{Kind: ErrNotFound, Op: "init", Err: errors.New("empty bucket name")}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.stores[bucket]; ok {
		return s, nil
	}
	s, err := c.factory(bucket)
	if err != nil {
		return nil, wrap("init", bucket, err)
	}
	c.stores[bucket] = s
	return s, nil
}

// StoreFactory returns a lode store factory for bucket, sharing the
// client's cached store.
func (c *Client) StoreFactory(bucket string) lode.StoreFactory {
	return func() (lode.Store, error) {
		return c.store(bucket)
	}
}

func (c *Client) record(err error) error {
	c.collector.IncStorageOp(err == nil)
	return err
}

// Get reads one object.
func (c *Client) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	s, err := c.store(bucket)
	if err != nil {
		return nil, c.record(err)
	}
	rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, c.record(wrap("get", bucket+"/"+key, err))
	}
	defer iox.DiscardClose(rc)
	data, err := io.ReadAll(rc)
	return data, c.record(wrap("get", bucket+"/"+key, err))
}

// Put writes one object, replacing any previous value.
func (c *Client) Put(ctx context.Context, bucket, key string, data []byte) error {
	s, err := c.store(bucket)
	if err != nil {
		return c.record(err)
	}
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return c.record(wrap("put", bucket+"/"+key, err))
	}
	if exists {
		if err := s.Delete(ctx, key); err != nil {
			return c.record(wrap("put", bucket+"/"+key, err))
		}
	}
	return c.record(wrap("put", bucket+"/"+key, s.Put(ctx, key, bytes.NewReader(data))))
}

// Download copies an object into a local file, atomically.
func (c *Client) Download(ctx context.Context, bucket, key, filename string) error {
	data, err := c.Get(ctx, bucket, key)
	if err != nil {
		return err
	}
	if err := iox.WriteFileAtomic(filename, data, 0o644); err != nil {
		return wrap("get", filename, err)
	}
	return nil
}

// Upload copies a local file into an object.
func (c *Client) Upload(ctx context.Context, bucket, key, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return wrap("put", filename, err)
	}
	return c.Put(ctx, bucket, key, data)
}

// List returns the keys under prefix, sorted as the backend returns them.
func (c *Client) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	s, err := c.store(bucket)
	if err != nil {
		return nil, c.record(err)
	}
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return nil, c.record(wrap("list", bucket+"/"+prefix, err))
	}
	c.record(nil)
	out := keys[:0:0]
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

// ParseURI splits s3://bucket/prefix. Other schemes are rejected.
func ParseURI(uri string) (bucket, prefix string, err error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return "", "", fmt.Errorf("malformed storage uri %q", uri)
	}
	if scheme != "s3" {
		return "", "", fmt.Errorf("unknown protocol: %s", scheme)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("storage uri %q has no bucket", uri)
	}
	return bucket, strings.TrimRight(prefix, "/"), nil
}
