// Package cache provides the read-through cache that shields callers from
// upstream latency and failures.
//
// # Stores
//
// The [Store] interface is a key/value backend with per-key expiry. Two
// implementations are provided:
//
//   - [NewInMemory]: in-process map guarded by a single mutex. Values are
//     stored as-is (no copying). Expired entries are removed when read, by
//     [Store.ScanExpired], or by an optional background sweep
//     ([WithExpiryCheck]). Never depends on an external service.
//
//   - [NewRedis]: backed by Redis using [github.com/redis/go-redis/v9].
//     Values are encoded with a [Codec] ([JSONCodec] by default, [MsgpackCodec]
//     on request) and expire through native Redis TTLs. Keys live under a
//     prefix so [Store.Clear] never touches unrelated keys. Every round trip
//     carries its own timeout. Reads return [Raw] bytes; use [Decode].
//
// # Manager
//
// [Manager] owns both stores. It uses Redis while Redis answers and serves
// from the in-process store whenever a Redis call fails. After
// [ReconnectPolicy.FailureThreshold] consecutive failures it demotes itself
// to in-process only and pings Redis in the background with capped
// exponential backoff, promoting itself back on success. Cache errors are
// logged and never returned: a cache problem degrades to recomputing.
//
// Values written before a demotion are not visible from the in-process store
// and values written during it are not visible after promotion.
//
// # Keys
//
// [KeyBuilder] derives "<namespace>:<operation>:<md5 hex>" keys from an
// operation name, positional [Keyable] arguments and keyword arguments.
// Keyword arguments are sorted by name, so their order never matters.
//
// # Memoization
//
// [Exec] is a cache-aside helper:
//
//	found, departures, err := cache.Exec(ctx, manager, key, 30*time.Second,
//	    func(ctx context.Context) (Departures, bool, error) {
//	        d, err := client.Departures(ctx, query)
//	        return d, err == nil, err
//	    })
//
// [CachedFetcher] wraps any [Fetcher] whose arguments implement [Arguments]
// and exposes the same Fetch method, so call sites pick the cached or the
// raw variant explicitly. Hits never reach the wrapped fetcher, failures are
// never cached, and concurrent misses on one key share a single call.
package cache
