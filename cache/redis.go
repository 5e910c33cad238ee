package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 500

type redisStore struct {
	client *redis.Client
	cfg    config
}

var _ Store = (*redisStore)(nil)

// NewRedis returns a Store backed by Redis. Values are encoded with the
// configured Codec and expire through native Redis TTLs. Keys live under the
// configured prefix so Clear only touches this cache's keys.
// The caller owns the redis.Client lifecycle; Close is a no-op on the client.
func NewRedis(client *redis.Client, opts ...Option) Store {
	return &redisStore{client: client, cfg: applyOptions(opts)}
}

// NewRedisClient parses a redis:// URL and returns a client tuned for cache
// use: bounded dial and read/write timeouts and no command retries, so a
// failing backend is reported quickly and the caller can fall back.
// No connection is made until the first command.
func NewRedisClient(url string, opts ...Option) (*redis.Client, error) {
	cfg := applyOptions(opts)
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: invalid redis url: %w", err)
	}
	options.DialTimeout = cfg.connectTimeout
	options.ReadTimeout = cfg.queryTimeout
	options.WriteTimeout = cfg.queryTimeout
	options.MaxRetries = -1
	return redis.NewClient(options), nil
}

func (c *redisStore) Name() string { return BackendDistributed }

func (c *redisStore) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *redisStore) prefixKey(key string) string {
	if c.cfg.prefix == "" {
		return key
	}
	return c.cfg.prefix + ":" + key
}

func (c *redisStore) pattern() string {
	if c.cfg.prefix == "" {
		return "*"
	}
	return c.cfg.prefix + ":*"
}

func (c *redisStore) Get(ctx context.Context, key string) (any, bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	data, err := c.client.Get(qctx, c.prefixKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return Raw(data), true, nil
}

func (c *redisStore) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	if ttl <= 0 {
		_, err := c.Delete(ctx, key)
		return err
	}
	data, err := c.cfg.codec.Marshal(val)
	if err != nil {
		return err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	return c.client.Set(qctx, c.prefixKey(key), data, ttl).Err()
}

func (c *redisStore) Delete(ctx context.Context, key string) (bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	n, err := c.client.Del(qctx, c.prefixKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// scan walks every key under the prefix in batches.
func (c *redisStore) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		qctx, cancel := c.queryCtx(ctx)
		keys, next, err := c.client.Scan(qctx, cursor, c.pattern(), scanBatch).Result()
		cancel()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (c *redisStore) Clear(ctx context.Context) (int, error) {
	var removed int
	err := c.scan(ctx, func(keys []string) error {
		qctx, cancel := c.queryCtx(ctx)
		defer cancel()
		n, err := c.client.Del(qctx, keys...).Result()
		removed += int(n)
		return err
	})
	return removed, err
}

// ScanExpired is a no-op; Redis expires keys natively.
func (c *redisStore) ScanExpired(_ context.Context) (int, error) {
	return 0, nil
}

func (c *redisStore) Len(ctx context.Context) (int, error) {
	var count int
	err := c.scan(ctx, func(keys []string) error {
		count += len(keys)
		return nil
	})
	return count, err
}

func (c *redisStore) Ping(ctx context.Context) error {
	qctx, cancel := context.WithTimeout(ctx, c.cfg.connectTimeout)
	defer cancel()
	return c.client.Ping(qctx).Err()
}

// Close is a no-op. The caller owns the redis.Client lifecycle.
func (c *redisStore) Close() error {
	return nil
}
