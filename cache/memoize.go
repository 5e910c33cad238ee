package cache

import (
	"context"
	"reflect"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Get retrieves a typed value. An entry that cannot be decoded into T is
// dropped and reported as a miss.
func Get[T any](ctx context.Context, m *Manager, key string) (T, bool) {
	var zero T
	val, found := m.Get(ctx, key)
	if !found {
		return zero, false
	}
	typed, err := Decode[T](m.Codec(), val)
	if err != nil {
		m.logger.Warn("discarding cache entry %s: %s", shortKey(key), err)
		m.Delete(ctx, key)
		return zero, false
	}
	return typed, true
}

// Invoker is a function that produces a value of type T.
// The bool return indicates whether a value was found. Return false to signal
// "not found" without caching a zero value.
type Invoker[T any] func(ctx context.Context) (T, bool, error)

// Exec is a cache-aside helper. On a hit it returns the cached value without
// calling invoke. On a miss it calls invoke and, when invoke reports a value,
// stores it for ttl (the manager default when zero). Errors from invoke are
// returned unchanged and nothing is cached. Cache failures are never returned.
func Exec[T any](ctx context.Context, m *Manager, key string, ttl time.Duration, invoke Invoker[T]) (bool, T, error) {
	if val, found := Get[T](ctx, m, key); found {
		return true, val, nil
	}

	result, ok, err := invoke(ctx)
	if err != nil {
		var zero T
		return false, zero, err
	}
	if !ok {
		var zero T
		return false, zero, nil
	}

	// Caching is advisory; the caller gets the value either way.
	m.Set(ctx, key, result, ttl)
	return true, result, nil
}

// Fetcher fetches R for the arguments A.
type Fetcher[A any, R any] interface {
	Fetch(ctx context.Context, args A) (R, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc[A any, R any] func(ctx context.Context, args A) (R, error)

func (f FetcherFunc[A, R]) Fetch(ctx context.Context, args A) (R, error) {
	return f(ctx, args)
}

// CachedFetcher memoizes another Fetcher through a Manager. It has the same
// contract as the wrapped Fetcher: a hit never calls it, a failed fetch is
// returned as is and never cached, nil results are passed through uncached.
// Concurrent misses on the same key share one upstream call.
type CachedFetcher[A Arguments, R any] struct {
	manager   *Manager
	operation string
	ttl       time.Duration
	inner     Fetcher[A, R]
	group     singleflight.Group
	tracer    trace.Tracer
}

var _ Fetcher[Arguments, any] = (*CachedFetcher[Arguments, any])(nil)

// NewCachedFetcher wraps inner. operation names the call in keys and spans;
// ttl of zero uses the manager default.
func NewCachedFetcher[A Arguments, R any](m *Manager, operation string, ttl time.Duration, inner Fetcher[A, R]) *CachedFetcher[A, R] {
	return &CachedFetcher[A, R]{
		manager:   m,
		operation: operation,
		ttl:       ttl,
		inner:     inner,
		tracer:    otel.Tracer("github.com/agentuity/transit-live/cache"),
	}
}

// Key returns the cache key used for args.
func (f *CachedFetcher[A, R]) Key(args A) string {
	positional, keyword := args.CacheArgs()
	return f.manager.Key(f.operation, positional, keyword)
}

func (f *CachedFetcher[A, R]) Fetch(ctx context.Context, args A) (R, error) {
	key := f.Key(args)
	ctx, span := f.tracer.Start(ctx, "cache.fetch "+f.operation,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("cache.operation", f.operation)),
	)
	defer span.End()

	hit := true
	_, result, err := Exec(ctx, f.manager, key, f.ttl, func(ctx context.Context) (R, bool, error) {
		hit = false
		v, err, shared := f.group.Do(key, func() (any, error) {
			return f.inner.Fetch(ctx, args)
		})
		span.SetAttributes(attribute.Bool("cache.shared", shared))
		if err != nil {
			var zero R
			return zero, false, err
		}
		r, _ := v.(R)
		return r, !isNil(r), nil
	})
	span.SetAttributes(attribute.Bool("cache.hit", hit))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return false
}
