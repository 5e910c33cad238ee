package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	object  any
	expires time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !now.Before(e.expires)
}

type inMemoryStore struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cache     map[string]*entry
	mutex     sync.Mutex
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
	now       func() time.Time
}

var _ Store = (*inMemoryStore)(nil)

func (c *inMemoryStore) Name() string { return BackendInProcess }

func (c *inMemoryStore) Get(_ context.Context, key string) (any, bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	val, ok := c.cache[key]
	if !ok {
		return nil, false, nil
	}
	if val.expired(c.now()) {
		delete(c.cache, key)
		return nil, false, nil
	}
	return val.object, true, nil
}

func (c *inMemoryStore) Set(_ context.Context, key string, val any, ttl time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if ttl <= 0 {
		delete(c.cache, key)
		return nil
	}
	c.cache[key] = &entry{object: val, expires: c.now().Add(ttl)}
	return nil
}

func (c *inMemoryStore) Delete(_ context.Context, key string) (bool, error) {
	c.mutex.Lock()
	_, ok := c.cache[key]
	delete(c.cache, key)
	c.mutex.Unlock()
	return ok, nil
}

func (c *inMemoryStore) Clear(_ context.Context) (int, error) {
	c.mutex.Lock()
	count := len(c.cache)
	c.cache = make(map[string]*entry)
	c.mutex.Unlock()
	return count, nil
}

func (c *inMemoryStore) ScanExpired(_ context.Context) (int, error) {
	return c.sweep(), nil
}

func (c *inMemoryStore) sweep() int {
	now := c.now()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var removed int
	for key, val := range c.cache {
		if val.expired(now) {
			delete(c.cache, key)
			removed++
		}
	}
	return removed
}

func (c *inMemoryStore) Len(_ context.Context) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.cache), nil
}

func (c *inMemoryStore) Ping(_ context.Context) error {
	return nil
}

func (c *inMemoryStore) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
	})
	return nil
}

func (c *inMemoryStore) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// NewInMemory returns a Store backed by a mutex-guarded map. It never
// depends on an external service. With WithExpiryCheck a background
// goroutine sweeps expired entries until Close.
func NewInMemory(parent context.Context, opts ...Option) Store {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	c := &inMemoryStore{
		ctx:    ctx,
		cancel: cancel,
		cache:  make(map[string]*entry),
		cfg:    cfg,
		now:    time.Now,
	}
	if cfg.expiryCheck > 0 {
		c.waitGroup.Add(1)
		go c.run()
	}
	return c
}
