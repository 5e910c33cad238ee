package transit

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentuity/transit-live/cache"
	"github.com/agentuity/transit-live/logger"
	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingService struct {
	calls atomic.Int32
	err   error
}

func (s *countingService) SearchStations(ctx context.Context, q StationQuery) ([]Station, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return []Station{{ID: "1", Name: q.Query, Type: "stop"}}, nil
}

func (s *countingService) Departures(ctx context.Context, q DeparturesQuery) (*DeparturesResponse, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	delay := 120
	return &DeparturesResponse{
		Station:    StationInfo(q.StationID),
		Departures: []Departure{{Line: Line{Name: "S7", Type: "S"}, Direction: "Potsdam Hbf", Delay: &delay, Remarks: []string{}}},
	}, nil
}

func (s *countingService) Radar(ctx context.Context, q RadarQuery) (*RadarResponse, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &RadarResponse{Movements: []Movement{}, RealtimeDataUpdatedAt: "2024-01-01T00:00:00Z"}, nil
}

func newManager(t *testing.T, redisURL string) *cache.Manager {
	t.Helper()
	m := cache.NewManager(context.Background(), cache.Config{RedisURL: redisURL}, logger.NewTestLogger())
	t.Cleanup(func() { m.Close() })
	return m
}

func TestCachedClientMemoizes(t *testing.T) {
	ctx := context.Background()
	inner := &countingService{}
	c := NewCachedClient(inner, newManager(t, ""), TTLs{})

	for i := 0; i < 3; i++ {
		stations, err := c.SearchStations(ctx, StationQuery{Query: "zoo"})
		require.NoError(t, err)
		assert.Equal(t, "zoo", stations[0].Name)
	}
	assert.Equal(t, int32(1), inner.calls.Load())

	// defaults and explicit values share an entry
	_, err := c.SearchStations(ctx, StationQuery{Query: "zoo", Results: DefaultStationResults})
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())

	_, err = c.Departures(ctx, DeparturesQuery{StationID: "900000100003"})
	require.NoError(t, err)
	_, err = c.Departures(ctx, DeparturesQuery{StationID: "900000100003", Duration: 60})
	require.NoError(t, err)
	_, err = c.Departures(ctx, DeparturesQuery{StationID: "900000100003", Duration: 30})
	require.NoError(t, err)
	assert.Equal(t, int32(3), inner.calls.Load())

	_, err = c.Radar(ctx, RadarQuery{North: 52.55, South: 52.48, West: 13.35, East: 13.45})
	require.NoError(t, err)
	_, err = c.Radar(ctx, RadarQuery{North: 52.55, South: 52.48, West: 13.35, East: 13.45})
	require.NoError(t, err)
	assert.Equal(t, int32(4), inner.calls.Load())
}

func TestCachedClientDoesNotCacheFailures(t *testing.T) {
	ctx := context.Background()
	inner := &countingService{err: errors.Mark(errors.New("boom"), ErrUnavailable)}
	c := NewCachedClient(inner, newManager(t, ""), TTLs{})

	_, err := c.Departures(ctx, DeparturesQuery{StationID: "1"})
	assert.True(t, errors.Is(err, ErrUnavailable))
	_, err = c.Departures(ctx, DeparturesQuery{StationID: "1"})
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedClientRejectsInvalidQueries(t *testing.T) {
	inner := &countingService{}
	c := NewCachedClient(inner, newManager(t, ""), TTLs{})
	_, err := c.SearchStations(context.Background(), StationQuery{Query: "x"})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.Equal(t, int32(0), inner.calls.Load())
}

func TestCachedClientOverRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	inner := &countingService{}
	c := NewCachedClient(inner, newManager(t, "redis://"+mr.Addr()+"/0"), TTLs{Departures: 10 * time.Second})

	first, err := c.Departures(ctx, DeparturesQuery{StationID: "900000100003"})
	require.NoError(t, err)
	second, err := c.Departures(ctx, DeparturesQuery{StationID: "900000100003"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, first, second)

	mr.FastForward(11 * time.Second)
	_, err = c.Departures(ctx, DeparturesQuery{StationID: "900000100003"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedClientWithUpstream(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, `[{"type":"stop","id":"900000100001","name":"S+U Zoologischer Garten"}]`)
	})
	c := NewCachedClient(client, newManager(t, ""), DefaultTTLs())
	for i := 0; i < 5; i++ {
		stations, err := c.SearchStations(ctx, StationQuery{Query: "zoo"})
		require.NoError(t, err)
		require.Len(t, stations, 1)
	}
	assert.Equal(t, int32(1), calls.Load())
}
