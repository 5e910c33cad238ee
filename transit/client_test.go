package transit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentuity/transit-live/logger"
	"github.com/agentuity/transit-live/resilience"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Client, *logger.TestLogger) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	log := logger.NewTestLogger()
	opts = append([]Option{WithRetry(fastRetry())}, opts...)
	return New(log, srv.URL, time.Second, opts...), log
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestSearchStations(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/locations", r.URL.Path)
		assert.Equal(t, "alexanderplatz", r.URL.Query().Get("query"))
		assert.Equal(t, "10", r.URL.Query().Get("results"))
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "transit-live/"))
		writeJSON(w, http.StatusOK, `[
			{"type":"stop","id":"900000100003","name":"S+U Alexanderplatz","location":{"latitude":52.521508,"longitude":13.411267}},
			{"type":"location","address":"Alexanderplatz 1","latitude":52.52,"longitude":13.41},
			"garbage",
			{"type":"stop","id":"900000100024","name":"Alexanderplatz Bhf/Memhardstr."}
		]`)
	})

	stations, err := client.SearchStations(context.Background(), StationQuery{Query: " alexanderplatz "})
	require.NoError(t, err)
	require.Len(t, stations, 2)
	assert.Equal(t, "900000100003", stations[0].ID)
	assert.Equal(t, "S+U Alexanderplatz", stations[0].Name)
	require.NotNil(t, stations[0].Location)
	assert.InDelta(t, 52.521508, stations[0].Location.Latitude, 1e-9)
	assert.Nil(t, stations[1].Location)
}

func TestSearchStationsEmptyResultIsNotNil(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[]`)
	})
	stations, err := client.SearchStations(context.Background(), StationQuery{Query: "xyz"})
	require.NoError(t, err)
	assert.NotNil(t, stations)
	assert.Empty(t, stations)
}

func TestDeparturesNormalization(t *testing.T) {
	client, log := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stops/900000100003/departures", r.URL.Path)
		assert.Equal(t, "30", r.URL.Query().Get("duration"))
		writeJSON(w, http.StatusOK, `{
			"departures": [
				{"tripId":"1|2","line":{"name":"U2","product":{"short":"U"},"color":{"bg":"#ff3300"}},"direction":"Pankow","when":"2024-03-01T08:00:00+01:00","delay":60,"platform":"1","remarks":[{"text":"barrier-free"},"x"]},
				{"line":"bogus","when":"2024-03-01T08:05:00+01:00"},
				{"line":{"product":"bogus"}},
				42
			],
			"realtimeDataUpdatedAt": 1709276400
		}`)
	})

	resp, err := client.Departures(context.Background(), DeparturesQuery{StationID: "900000100003", Duration: 30})
	require.NoError(t, err)
	assert.Equal(t, Station{ID: "900000100003", Name: "Station 900000100003", Type: "stop"}, resp.Station)
	assert.Equal(t, "2024-03-01T07:00:00Z", resp.RealtimeDataUpdatedAt)
	require.Len(t, resp.Departures, 3)

	first := resp.Departures[0]
	assert.Equal(t, Line{Name: "U2", Type: "U", Color: "#ff3300"}, first.Line)
	assert.Equal(t, "Pankow", first.Direction)
	require.NotNil(t, first.Delay)
	assert.Equal(t, 60, *first.Delay)
	require.NotNil(t, first.Platform)
	assert.Equal(t, "1", *first.Platform)
	assert.Equal(t, []string{"barrier-free"}, first.Remarks)

	second := resp.Departures[1]
	assert.Equal(t, Line{Name: "Unknown", Type: "unknown"}, second.Line)
	assert.Equal(t, "Unknown", second.Direction)
	assert.Nil(t, second.Delay)
	assert.Empty(t, second.Remarks)

	third := resp.Departures[2]
	assert.Equal(t, "unknown", third.Line.Type)
	assert.Equal(t, "", third.When)

	assert.True(t, log.Contains("WARNING", "skipping non-object departure"))
}

func TestDeparturesStationName(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"departures":[],"stop":{"id":"900000003201","name":"S+U Potsdamer Platz"}}`)
	})
	resp, err := client.Departures(context.Background(), DeparturesQuery{StationID: "900000003201"})
	require.NoError(t, err)
	assert.Equal(t, "S+U Potsdamer Platz", resp.Station.Name)
	assert.NotNil(t, resp.Departures)
	assert.Empty(t, resp.RealtimeDataUpdatedAt)
}

func TestRadar(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/radar", r.URL.Path)
		assert.Equal(t, "52.55", q.Get("north"))
		assert.Equal(t, "13.35", q.Get("west"))
		assert.Equal(t, "60", q.Get("duration"))
		assert.Equal(t, "10", q.Get("frames"))
		assert.Equal(t, "50", q.Get("results"))
		assert.Equal(t, "true", q.Get("polylines"))
		writeJSON(w, http.StatusOK, `{
			"movements": [
				{"tripId":"t1","line":{"name":"M10","product":{"short":"Tram"}},"direction":"Hauptbahnhof",
				 "location":{"latitude":52.53,"longitude":13.41},
				 "nextStopovers":[{"stop":{"id":"1","name":"Eberswalder Str."},"arrival":"2024-03-01T08:01:00+01:00"}],
				 "polyline":{"type":"FeatureCollection","features":[]}},
				{"tripId":"t2","line":{"name":"100"}},
				null
			],
			"realtimeDataUpdatedAt": 1700000000000
		}`)
	})

	resp, err := client.Radar(context.Background(), RadarQuery{North: 52.55, South: 52.48, West: 13.35, East: 13.45})
	require.NoError(t, err)
	assert.Equal(t, "2023-11-14T22:13:20Z", resp.RealtimeDataUpdatedAt)
	require.Len(t, resp.Movements, 1, "movements without a location are dropped")
	m := resp.Movements[0]
	assert.Equal(t, "M10", m.Line.Name)
	assert.Equal(t, "Tram", m.Line.Type)
	assert.Equal(t, Location{Latitude: 52.53, Longitude: 13.41}, m.Location)
	require.Len(t, m.NextStopovers, 1)
	assert.Equal(t, "Eberswalder Str.", m.NextStopovers[0].Station.Name)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[]}`, string(m.Polyline))
}

func TestRetryOnServiceUnavailable(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusServiceUnavailable, `{"message":"busy"}`)
			return
		}
		writeJSON(w, http.StatusOK, `[]`)
	})
	_, err := client.SearchStations(context.Background(), StationQuery{Query: "zoo"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetryGivesUp(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadGateway, `{}`)
	})
	_, err := client.SearchStations(context.Background(), StationQuery{Query: "zoo"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, int32(3), calls.Load())

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}

func TestNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusNotFound, `{"message":"stop not found"}`)
	})
	_, err := client.Departures(context.Background(), DeparturesQuery{StationID: "123"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, int32(1), calls.Load())
}

func TestServerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := client.Departures(context.Background(), DeparturesQuery{StationID: "123"})
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, int32(1), calls.Load())
}

func TestMalformedPayload(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `"nope"`)
	})
	_, err := client.Radar(context.Background(), RadarQuery{North: 1, South: 0, West: 0, East: 1})
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestInvalidQueriesMakeNoRequest(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})
	ctx := context.Background()
	_, err := client.SearchStations(ctx, StationQuery{Query: "a"})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	_, err = client.SearchStations(ctx, StationQuery{Query: "alex", Results: 51})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	_, err = client.Departures(ctx, DeparturesQuery{StationID: "1", Duration: 5})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	_, err = client.Departures(ctx, DeparturesQuery{StationID: "../admin"})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	_, err = client.Radar(ctx, RadarQuery{North: 1, South: 2, West: 0, East: 1})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.Equal(t, int32(0), calls.Load())
}

func TestCircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		MaxFailures:           1,
		Timeout:               time.Hour,
		MaxConcurrentRequests: 1,
		SuccessThreshold:      1,
	})
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithCircuitBreaker(breaker))
	ctx := context.Background()

	_, err := client.SearchStations(ctx, StationQuery{Query: "zoo"})
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, resilience.StateOpen, client.Breaker().State())

	before := calls.Load()
	_, err = client.SearchStations(ctx, StationQuery{Query: "zoo"})
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.True(t, errors.Is(err, resilience.ErrCircuitBreakerOpen))
	assert.Equal(t, before, calls.Load())
}

func TestRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()
	client := New(logger.NewTestLogger(), srv.URL, 50*time.Millisecond, WithRetry(resilience.RetryConfig{}))
	_, err := client.SearchStations(context.Background(), StationQuery{Query: "zoo"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.True(t, errors.Is(err, resilience.ErrCircuitBreakerTimeout))
}

func TestCallerCancellation(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := client.SearchStations(ctx, StationQuery{Query: "zoo"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTimestampToUTC(t *testing.T) {
	log := logger.NewTestLogger()
	assert.Equal(t, "2023-11-14T22:13:20Z", timestampToUTC(log, []byte("1700000000000")))
	assert.Equal(t, "2023-11-14T22:13:20Z", timestampToUTC(log, []byte("1700000000")))
	assert.Equal(t, "2024-01-01T00:00:00Z", timestampToUTC(log, []byte(`"2024-01-01T00:00:00Z"`)))
	assert.Equal(t, "", timestampToUTC(log, []byte("null")))
	assert.Equal(t, "", timestampToUTC(log, nil))
	assert.Equal(t, "", timestampToUTC(log, []byte("{}")))
	assert.True(t, log.Contains("WARNING", "failed to convert timestamp"))
}

func TestFeaturedStations(t *testing.T) {
	stations := FeaturedStations([]string{"900000100003", "42"})
	require.Len(t, stations, 2)
	assert.Equal(t, "S+U Alexanderplatz", stations[0].Name)
	assert.Equal(t, "major_hub", stations[0].Type)
	assert.Equal(t, Station{ID: "42", Name: "Station 42", Type: "stop"}, stations[1])
	assert.Len(t, FeaturedStations(DefaultFeaturedStationIDs), 5)
}
