package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentuity/transit-live/logger"
	"github.com/agentuity/transit-live/resilience"
	"github.com/redis/go-redis/v9"
)

// ReconnectPolicy controls demotion to the in-process backend and the
// attempts to get back to the distributed one.
type ReconnectPolicy struct {
	// FailureThreshold is the number of consecutive distributed failures
	// that demotes the manager to in-process only. Defaults to 3.
	FailureThreshold int
	// InitialBackoff is the wait before the first reconnect attempt. Defaults to 1s.
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between attempts. Defaults to 60s.
	MaxBackoff time.Duration
	// Disabled keeps the manager in-process for the rest of its life once demoted.
	Disabled bool
}

// Config configures a Manager.
type Config struct {
	// RedisURL selects the distributed backend (redis://host:port/db).
	// Empty means in-process only.
	RedisURL string
	// DefaultTTL applies when Set is called with a zero ttl. Defaults to DefaultTTL.
	DefaultTTL time.Duration
	// ConnectTimeout bounds dialing and pinging Redis (at most 5s).
	ConnectTimeout time.Duration
	// QueryTimeout bounds each Redis round trip.
	QueryTimeout time.Duration
	// Prefix namespaces keys inside Redis.
	Prefix string
	// Namespace versions every generated key.
	Namespace string
	// SweepInterval enables periodic cleanup of the in-process backend.
	SweepInterval time.Duration
	// Codec encodes values for Redis. Defaults to JSONCodec.
	Codec     Codec
	Reconnect ReconnectPolicy
}

func (c Config) withDefaults() Config {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	if c.Prefix == "" {
		c.Prefix = "transit"
	}
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.Codec == nil {
		c.Codec = JSONCodec{}
	}
	if c.Reconnect.FailureThreshold <= 0 {
		c.Reconnect.FailureThreshold = 3
	}
	if c.Reconnect.InitialBackoff <= 0 {
		c.Reconnect.InitialBackoff = time.Second
	}
	if c.Reconnect.MaxBackoff <= 0 {
		c.Reconnect.MaxBackoff = time.Minute
	}
	return c
}

// Manager fronts an in-process Store and an optional Redis Store. Redis is
// used while it is reachable; any Redis failure is served from the
// in-process store instead, and repeated failures demote the manager until a
// background reconnect succeeds. Cache problems never reach callers.
type Manager struct {
	cfg    Config
	logger logger.Logger
	keys   KeyBuilder
	local  Store
	remote Store
	client *redis.Client

	distributed       atomic.Bool
	consecutive       atomic.Int32
	failures          atomic.Int64
	hits              atomic.Int64
	misses            atomic.Int64
	reconnecting      atomic.Bool
	reconnectAttempts atomic.Int32
	nextReconnect     atomic.Int64
	pendingClear      atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
}

// NewManager builds the cache and tries to bring up Redis. It never fails:
// when Redis is misconfigured or unreachable a warning is logged and the
// manager runs on the in-process store.
func NewManager(parent context.Context, cfg Config, log logger.Logger) *Manager {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(parent)
	m := &Manager{
		cfg:    cfg,
		logger: log.WithPrefix("[cache]"),
		keys:   KeyBuilder{Namespace: cfg.Namespace},
		local:  NewInMemory(ctx, WithExpiryCheck(cfg.SweepInterval)),
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.RedisURL == "" {
		m.logger.Info("no redis url configured, using in-process cache")
		return m
	}
	opts := []Option{
		WithConnectTimeout(cfg.ConnectTimeout),
		WithQueryTimeout(cfg.QueryTimeout),
		WithPrefix(cfg.Prefix),
		WithCodec(cfg.Codec),
	}
	client, err := NewRedisClient(cfg.RedisURL, opts...)
	if err != nil {
		m.logger.Warn("%s. Using in-process cache.", err)
		return m
	}
	m.client = client
	m.remote = NewRedis(client, opts...)
	if err := m.remote.Ping(ctx); err != nil {
		m.logger.Warn("failed to connect to redis at %s: %s. Using in-process cache.", client.Options().Addr, err)
		m.startReconnect()
		return m
	}
	m.distributed.Store(true)
	m.logger.Info("redis cache connected at %s", client.Options().Addr)
	return m
}

// Backend returns the name of the active backend.
func (m *Manager) Backend() string {
	if m.distributed.Load() {
		return BackendDistributed
	}
	return BackendInProcess
}

// Codec returns the codec used for the distributed backend.
func (m *Manager) Codec() Codec {
	return m.cfg.Codec
}

// DefaultTTL returns the ttl used when none is given.
func (m *Manager) DefaultTTL() time.Duration {
	return m.cfg.DefaultTTL
}

// Key builds a cache key in the manager's namespace.
func (m *Manager) Key(operation string, positional []Keyable, keyword map[string]Keyable) string {
	return m.keys.Build(operation, positional, keyword)
}

// Get returns the live value for key. Values read from Redis are Raw; use
// Decode or the package level Get to obtain a typed value.
func (m *Manager) Get(ctx context.Context, key string) (any, bool) {
	if m.distributed.Load() {
		val, found, err := m.remote.Get(ctx, key)
		if err == nil {
			m.recordSuccess()
			m.count(key, found)
			return val, found
		}
		m.recordFailure("GET", key, err)
	}
	val, found, _ := m.local.Get(ctx, key)
	m.count(key, found)
	return val, found
}

// Set stores val for ttl (DefaultTTL when zero) and reports whether it was
// stored. A negative ttl removes the key.
func (m *Manager) Set(ctx context.Context, key string, val any, ttl time.Duration) bool {
	if ttl == 0 {
		ttl = m.cfg.DefaultTTL
	}
	if ttl < 0 {
		m.Delete(ctx, key)
		return false
	}
	if m.distributed.Load() {
		err := m.remote.Set(ctx, key, val, ttl)
		if err == nil {
			m.recordSuccess()
			m.logger.Trace("redis cache SET for key: %s (TTL: %s)", shortKey(key), ttl)
			return true
		}
		if errors.Is(err, ErrEncode) {
			m.logger.Warn("cannot serialize value for key %s: %s", shortKey(key), err)
			return false
		}
		m.recordFailure("SET", key, err)
	}
	_ = m.local.Set(ctx, key, val, ttl)
	m.logger.Trace("memory cache SET for key: %s (TTL: %s)", shortKey(key), ttl)
	return true
}

// Delete removes key from both backends.
func (m *Manager) Delete(ctx context.Context, key string) bool {
	found, _ := m.local.Delete(ctx, key)
	if m.distributed.Load() {
		ok, err := m.remote.Delete(ctx, key)
		if err != nil {
			m.recordFailure("DEL", key, err)
		}
		found = found || ok
	}
	return found
}

// Clear removes every entry and returns how many were removed. While demoted
// the Redis keys are cleared as soon as Redis is reachable again.
func (m *Manager) Clear(ctx context.Context) int {
	removed, _ := m.local.Clear(ctx)
	if m.remote != nil {
		if m.distributed.Load() {
			n, err := m.remote.Clear(ctx)
			if err != nil {
				m.pendingClear.Store(true)
				m.recordFailure("CLEAR", "*", err)
			}
			removed += n
		} else {
			m.pendingClear.Store(true)
		}
	}
	m.logger.Info("cache cleared (%d items removed)", removed)
	return removed
}

// CleanupExpired sweeps expired entries from the in-process store. Redis
// expires keys on its own and contributes nothing.
func (m *Manager) CleanupExpired(ctx context.Context) int {
	removed, _ := m.local.ScanExpired(ctx)
	if removed > 0 {
		m.logger.Info("cleaned up %d expired cache entries", removed)
	}
	return removed
}

// Stats returns a snapshot of the counters and backend state.
func (m *Manager) Stats(ctx context.Context) Stats {
	s := Stats{
		Hits:              m.hits.Load(),
		Misses:            m.misses.Load(),
		Backend:           m.Backend(),
		Failures:          m.failures.Load(),
		Demoted:           m.remote != nil && !m.distributed.Load(),
		Reconnecting:      m.reconnecting.Load(),
		ReconnectAttempts: int(m.reconnectAttempts.Load()),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	if next := m.nextReconnect.Load(); next > 0 && s.Reconnecting {
		s.NextReconnect = time.Unix(0, next)
	}
	s.ResidentSize, _ = m.local.Len(ctx)
	if m.distributed.Load() {
		n, err := m.remote.Len(ctx)
		if err != nil {
			m.recordFailure("SCAN", "*", err)
		} else {
			s.DistributedKeyCount = &n
			s.ResidentSize = n
		}
	}
	return s
}

// Close stops background work and closes the Redis client.
func (m *Manager) Close() error {
	var err error
	m.once.Do(func() {
		m.cancel()
		m.waitGroup.Wait()
		m.local.Close()
		if m.client != nil {
			err = m.client.Close()
		}
	})
	return err
}

func (m *Manager) count(key string, found bool) {
	if found {
		m.hits.Add(1)
		m.logger.Trace("cache HIT for key: %s", shortKey(key))
		return
	}
	m.misses.Add(1)
	m.logger.Trace("cache MISS for key: %s", shortKey(key))
}

func (m *Manager) recordSuccess() {
	m.consecutive.Store(0)
}

func (m *Manager) recordFailure(op, key string, err error) {
	m.failures.Add(1)
	n := m.consecutive.Add(1)
	m.logger.Warn("redis error on %s for key %s, falling back to memory: %s", op, shortKey(key), err)
	if int(n) >= m.cfg.Reconnect.FailureThreshold && m.distributed.CompareAndSwap(true, false) {
		m.logger.Warn("redis demoted after %d consecutive failures, serving from memory", n)
		m.startReconnect()
	}
}

func (m *Manager) startReconnect() {
	if m.remote == nil || m.cfg.Reconnect.Disabled {
		return
	}
	if !m.reconnecting.CompareAndSwap(false, true) {
		return
	}
	m.waitGroup.Add(1)
	go m.reconnect()
}

func (m *Manager) reconnect() {
	defer m.waitGroup.Done()
	backoff := resilience.RetryConfig{
		InitialBackoff:    m.cfg.Reconnect.InitialBackoff,
		MaxBackoff:        m.cfg.Reconnect.MaxBackoff,
		BackoffMultiplier: 2,
		Jitter:            true,
	}
	for attempt := 0; ; attempt++ {
		wait := backoff.Backoff(attempt)
		m.reconnectAttempts.Store(int32(attempt))
		m.nextReconnect.Store(time.Now().Add(wait).UnixNano())
		timer := time.NewTimer(wait)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			m.reconnecting.Store(false)
			return
		case <-timer.C:
		}
		if err := m.remote.Ping(m.ctx); err != nil {
			m.logger.Debug("redis reconnect attempt %d failed: %s", attempt+1, err)
			continue
		}
		if m.pendingClear.Swap(false) {
			if _, err := m.remote.Clear(m.ctx); err != nil {
				m.pendingClear.Store(true)
				m.logger.Debug("redis reconnect attempt %d could not clear stale keys: %s", attempt+1, err)
				continue
			}
		}
		m.consecutive.Store(0)
		m.nextReconnect.Store(0)
		m.reconnectAttempts.Store(int32(attempt + 1))
		m.reconnecting.Store(false)
		m.distributed.Store(true)
		m.logger.Info("redis cache reachable again after %d attempts, promoted", attempt+1)
		return
	}
}

func shortKey(key string) string {
	if len(key) > 50 {
		return key[:50] + "..."
	}
	return key
}
