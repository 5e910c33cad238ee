package cache

import (
	"context"
	"time"
)

// Backend names reported in Stats.
const (
	BackendInProcess   = "in-process"
	BackendDistributed = "distributed"
)

// Store is a key/value backend with per-key expiry. Implementations are safe
// for concurrent use. Errors are returned to the Manager, which absorbs them.
type Store interface {
	// Name identifies the backend (BackendInProcess or BackendDistributed).
	Name() string
	// Get returns the live value for key. Expired entries are reported as absent.
	Get(ctx context.Context, key string) (any, bool, error)
	// Set stores val until now+ttl, replacing any previous value.
	// A ttl <= 0 leaves key absent.
	Set(ctx context.Context, key string, val any, ttl time.Duration) error
	// Delete removes key and reports whether it was present.
	Delete(ctx context.Context, key string) (bool, error)
	// Clear removes every entry and returns how many were removed.
	Clear(ctx context.Context) (int, error)
	// ScanExpired removes entries whose expiry has passed. Backends with
	// native expiry return 0.
	ScanExpired(ctx context.Context) (int, error)
	// Len returns the number of resident entries.
	Len(ctx context.Context) (int, error)
	// Ping checks reachability.
	Ping(ctx context.Context) error
	// Close releases resources held by the store.
	Close() error
}

// Raw is an encoded value read back from a serializing backend. Use Decode to
// turn it into a typed value.
type Raw []byte

// DefaultTTL is used when Set is called with a zero ttl.
const DefaultTTL = 5 * time.Minute

// DefaultQueryTimeout bounds each round trip to the distributed backend.
const DefaultQueryTimeout = 2 * time.Second

// DefaultConnectTimeout bounds dialing the distributed backend.
const DefaultConnectTimeout = 5 * time.Second

// config holds the resolved configuration for a Store implementation.
type config struct {
	queryTimeout   time.Duration
	connectTimeout time.Duration
	expiryCheck    time.Duration
	prefix         string
	codec          Codec
}

// Option configures a Store implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		queryTimeout:   DefaultQueryTimeout,
		connectTimeout: DefaultConnectTimeout,
		prefix:         "transit",
		codec:          JSONCodec{},
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithQueryTimeout sets the per-operation timeout for the distributed
// backend. Defaults to DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.queryTimeout = d
		}
	}
}

// WithConnectTimeout sets the dial timeout for the distributed backend.
// Values above DefaultConnectTimeout are clamped.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.connectTimeout = min(d, DefaultConnectTimeout)
		}
	}
}

// WithExpiryCheck enables a background sweep of expired entries in the
// in-process backend at the given interval. Disabled by default.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithPrefix sets the key prefix used to namespace the distributed backend.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithCodec sets the codec used by the distributed backend. Defaults to JSONCodec.
func WithCodec(codec Codec) Option {
	return func(c *config) {
		if codec != nil {
			c.codec = codec
		}
	}
}
