package transit

import (
	"context"
	"time"

	"github.com/agentuity/transit-live/cache"
)

// TTLs sets how long each operation's results are cached.
type TTLs struct {
	Stations   time.Duration
	Departures time.Duration
	Radar      time.Duration
}

// DefaultTTLs returns the cache lifetimes used when none are configured.
// Station names rarely change while departures and vehicle positions go stale fast.
func DefaultTTLs() TTLs {
	return TTLs{
		Stations:   300 * time.Second,
		Departures: 30 * time.Second,
		Radar:      15 * time.Second,
	}
}

func (t TTLs) withDefaults() TTLs {
	d := DefaultTTLs()
	if t.Stations <= 0 {
		t.Stations = d.Stations
	}
	if t.Departures <= 0 {
		t.Departures = d.Departures
	}
	if t.Radar <= 0 {
		t.Radar = d.Radar
	}
	return t
}

// CachedClient memoizes a Service through a cache.Manager. Invalid queries
// are rejected before the cache is consulted.
type CachedClient struct {
	stations   *cache.CachedFetcher[StationQuery, []Station]
	departures *cache.CachedFetcher[DeparturesQuery, *DeparturesResponse]
	radar      *cache.CachedFetcher[RadarQuery, *RadarResponse]
}

var _ Service = (*CachedClient)(nil)

func NewCachedClient(inner Service, m *cache.Manager, ttls TTLs) *CachedClient {
	ttls = ttls.withDefaults()
	return &CachedClient{
		stations: cache.NewCachedFetcher(m, "search_stations", ttls.Stations,
			cache.FetcherFunc[StationQuery, []Station](inner.SearchStations)),
		departures: cache.NewCachedFetcher(m, "get_departures", ttls.Departures,
			cache.FetcherFunc[DeparturesQuery, *DeparturesResponse](inner.Departures)),
		radar: cache.NewCachedFetcher(m, "get_radar", ttls.Radar,
			cache.FetcherFunc[RadarQuery, *RadarResponse](inner.Radar)),
	}
}

func (c *CachedClient) SearchStations(ctx context.Context, q StationQuery) ([]Station, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return c.stations.Fetch(ctx, q.withDefaults())
}

func (c *CachedClient) Departures(ctx context.Context, q DeparturesQuery) (*DeparturesResponse, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return c.departures.Fetch(ctx, q.withDefaults())
}

func (c *CachedClient) Radar(ctx context.Context, q RadarQuery) (*RadarResponse, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return c.radar.Fetch(ctx, q.withDefaults())
}
