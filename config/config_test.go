package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentuity/transit-live/cache"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	fn := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(fn, []byte(content), 0644))
	return fn
}

func TestDefaults(t *testing.T) {
	c, err := Load("", "", lookupFrom(nil))
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	assert.Equal(t, "0.0.0.0:8000", c.Listen)
	assert.Equal(t, "https://v6.bvg.transport.rest", c.UpstreamURL)
	assert.Equal(t, 10*time.Second, c.UpstreamTimeout.Std())
	assert.Equal(t, 5*time.Minute, c.CacheTTL.Std())
	assert.Equal(t, "redis://localhost:6379/0", c.ResolvedRedisURL())
	assert.Len(t, c.FeaturedStationIDs, 5)

	ttls := c.TTLs()
	assert.Equal(t, 300*time.Second, ttls.Stations)
	assert.Equal(t, 30*time.Second, ttls.Departures)
	assert.Equal(t, 15*time.Second, ttls.Radar)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"300", 300 * time.Second},
		{"1.5", 1500 * time.Millisecond},
		{"90s", 90 * time.Second},
		{"5m", 5 * time.Minute},
		{"1d", 24 * time.Hour},
		{"1w2d", 9 * 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseDuration(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Std())
		})
	}
	for _, bad := range []string{"", "soon", "NaN", "+Inf"} {
		_, err := ParseDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadFile(t *testing.T) {
	fn := writeFile(t, "transit.yaml", `
listen: 127.0.0.1:9000
cache_ttl: 120
sweep_interval: 2m
departures_ttl: 10s
redis_url: redis://cache:6379/3
cache_codec: msgpack
featured_station_ids:
  - "900000100003"
log_format: json
`)
	c, err := Load(fn, "", lookupFrom(nil))
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	assert.Equal(t, "127.0.0.1:9000", c.Listen)
	assert.Equal(t, 2*time.Minute, c.CacheTTL.Std())
	assert.Equal(t, 10*time.Second, c.DeparturesTTL.Std())
	assert.Equal(t, []string{"900000100003"}, c.FeaturedStationIDs)

	cc := c.Cache()
	assert.Equal(t, "redis://cache:6379/3", cc.RedisURL)
	assert.Equal(t, 2*time.Minute, cc.DefaultTTL)
	assert.Equal(t, time.Minute*2, cc.SweepInterval)
	assert.IsType(t, cache.MsgpackCodec{}, cc.Codec)
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	fn := writeFile(t, "transit.yaml", "cache_tll: 10\n")
	_, err := Load(fn, "", lookupFrom(nil))
	assert.Error(t, err)

	fn = writeFile(t, "transit.yaml", "cache_ttl: forever\n")
	_, err = Load(fn, "", lookupFrom(nil))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), "", lookupFrom(nil))
	assert.Error(t, err)
}

func TestEmptyFile(t *testing.T) {
	fn := writeFile(t, "transit.yaml", "")
	c, err := Load(fn, "", lookupFrom(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestEnvPrecedence(t *testing.T) {
	fn := writeFile(t, "transit.yaml", "cache_ttl: 1m\nlisten: \":7000\"\n")
	dotenv := writeFile(t, ".env", `
REDIS_HOST=redis.internal
REDIS_PORT=6380
REDIS_PASSWORD=s3cret
CACHE_TTL=2m
TRANSIT_LISTEN=:7001
`)
	c, err := Load(fn, dotenv, lookupFrom(map[string]string{
		"TRANSIT_CACHE_TTL":             "3m",
		"FEATURED_STATION_IDS":          "1, 2,,3",
		"BVG_API_BASE_URL":              "http://localhost:3000",
		"TRANSIT_UPSTREAM_URL":          "http://upstream:3000",
		"TRANSIT_REDIS_QUERY_TIMEOUT":   "500ms",
		"TRANSIT_DEPARTURES_TTL":        "45",
		"TRANSIT_FAILURE_THRESHOLD":     "5",
		"TRANSIT_RECONNECT_MAX_BACKOFF": "1d",
		"OTEL_EXPORTER_OTLP_ENDPOINT":   "http://collector:4318",
		"TRANSIT_OTEL_SAMPLE_RATIO":     "0.25",
	}))
	require.NoError(t, err)
	assert.Equal(t, ":7001", c.Listen, "dotenv overrides the file")
	assert.Equal(t, 3*time.Minute, c.CacheTTL.Std(), "environment overrides dotenv")
	assert.Equal(t, "http://upstream:3000", c.UpstreamURL, "canonical name wins over alias")
	assert.Equal(t, []string{"1", "2", "3"}, c.FeaturedStationIDs)
	assert.Equal(t, "redis://:s3cret@redis.internal:6380/0", c.ResolvedRedisURL())
	assert.Equal(t, "s3c***", c.RedisPassword.String())
	assert.Equal(t, 45*time.Second, c.DeparturesTTL.Std())

	cc := c.Cache()
	assert.Equal(t, 500*time.Millisecond, cc.QueryTimeout)
	assert.Equal(t, 5, cc.Reconnect.FailureThreshold)
	assert.Equal(t, 24*time.Hour, cc.Reconnect.MaxBackoff)

	tc := c.Telemetry()
	assert.Equal(t, "http://collector:4318", tc.Endpoint)
	assert.Equal(t, 0.25, tc.SampleRatio)
}

func TestEnvErrors(t *testing.T) {
	_, err := Load("", "", lookupFrom(map[string]string{"REDIS_PORT": "abc"}))
	assert.ErrorContains(t, err, "REDIS_PORT")
	_, err = Load("", "", lookupFrom(map[string]string{"CACHE_TTL": "later"}))
	assert.ErrorContains(t, err, "CACHE_TTL")
	_, err = Load("", "", lookupFrom(map[string]string{"TRANSIT_OTEL_SAMPLE_RATIO": "2"}))
	assert.ErrorContains(t, err, "TRANSIT_OTEL_SAMPLE_RATIO")
}

func TestRedisDisabled(t *testing.T) {
	c, err := Load("", "", lookupFrom(map[string]string{"REDIS_HOST": ""}))
	require.NoError(t, err)
	assert.Equal(t, "", c.ResolvedRedisURL())
	assert.Equal(t, "", c.Cache().RedisURL)
}

func TestApplyFlags(t *testing.T) {
	c := Default()
	cmd := &cobra.Command{Use: "serve"}
	cmd.Flags().String("listen", "", "")
	cmd.Flags().String("redis-url", "", "")
	cmd.Flags().String("cache-ttl", "", "")
	cmd.Flags().String("log-level", "info", "")
	require.NoError(t, cmd.Flags().Set("listen", ":9999"))
	require.NoError(t, cmd.Flags().Set("cache-ttl", "1d"))

	require.NoError(t, c.ApplyFlags(cmd))
	assert.Equal(t, ":9999", c.Listen)
	assert.Equal(t, 24*time.Hour, c.CacheTTL.Std())
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "", c.RedisURL, "unset flags leave settings alone")

	require.NoError(t, cmd.Flags().Set("cache-ttl", "nope"))
	assert.Error(t, c.ApplyFlags(cmd))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no listen", func(c *Config) { c.Listen = "" }},
		{"relative upstream", func(c *Config) { c.UpstreamURL = "/api" }},
		{"zero timeout", func(c *Config) { c.UpstreamTimeout = 0 }},
		{"bad port", func(c *Config) { c.RedisPort = 70000 }},
		{"zero ttl", func(c *Config) { c.CacheTTL = 0 }},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }},
		{"bad codec", func(c *Config) { c.CacheCodec = "gob" }},
		{"bad sample ratio", func(c *Config) { c.OtelSampleRatio = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
