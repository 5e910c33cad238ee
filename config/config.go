// Package config loads the service settings from defaults, an optional YAML
// file, a dotenv file, the process environment and command line flags, in
// that order of precedence (later wins).
package config

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agentuity/transit-live/cache"
	"github.com/agentuity/transit-live/env"
	"github.com/agentuity/transit-live/mask"
	"github.com/agentuity/transit-live/telemetry"
	"github.com/agentuity/transit-live/transit"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Duration accepts Go durations ("90s"), day and week units ("1d") or a
// plain number of seconds.
type Duration time.Duration

func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration")
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, errors.Newf("invalid duration %q", s)
		}
		return Duration(secs * float64(time.Second)), nil
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration %q", s)
	}
	return Duration(d), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return str2duration.String(time.Duration(d)) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseDuration(node.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", node.Line)
	}
	*d = v
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

type Config struct {
	AppName     string `yaml:"app_name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`

	Listen          string   `yaml:"listen"`
	UpstreamURL     string   `yaml:"upstream_url"`
	UpstreamTimeout Duration `yaml:"upstream_timeout"`

	RedisURL      string      `yaml:"redis_url"`
	RedisHost     string      `yaml:"redis_host"`
	RedisPort     int         `yaml:"redis_port"`
	RedisDB       int         `yaml:"redis_db"`
	RedisPassword mask.String `yaml:"redis_password"`

	CacheTTL            Duration `yaml:"cache_ttl"`
	CacheNamespace      string   `yaml:"cache_namespace"`
	CachePrefix         string   `yaml:"cache_prefix"`
	CacheCodec          string   `yaml:"cache_codec"`
	SweepInterval       Duration `yaml:"sweep_interval"`
	RedisConnectTimeout Duration `yaml:"redis_connect_timeout"`
	RedisQueryTimeout   Duration `yaml:"redis_query_timeout"`
	FailureThreshold    int      `yaml:"failure_threshold"`
	ReconnectMaxBackoff Duration `yaml:"reconnect_max_backoff"`

	StationsTTL   Duration `yaml:"stations_ttl"`
	DeparturesTTL Duration `yaml:"departures_ttl"`
	RadarTTL      Duration `yaml:"radar_ttl"`

	FeaturedStationIDs []string `yaml:"featured_station_ids"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// OtelEndpoint enables span export when set.
	OtelEndpoint    string      `yaml:"otel_endpoint"`
	OtelToken       mask.String `yaml:"otel_token"`
	OtelSampleRatio float64     `yaml:"otel_sample_ratio"`
}

// Default returns the built in settings.
func Default() *Config {
	ttls := transit.DefaultTTLs()
	return &Config{
		AppName:             "Berlin Transport Live",
		Version:             "1.0.0",
		Environment:         "development",
		Listen:              "0.0.0.0:8000",
		UpstreamURL:         transit.DefaultBaseURL,
		UpstreamTimeout:     Duration(transit.DefaultTimeout),
		RedisHost:           "localhost",
		RedisPort:           6379,
		CacheTTL:            Duration(cache.DefaultTTL),
		CacheNamespace:      cache.DefaultNamespace,
		CachePrefix:         "transit",
		CacheCodec:          "json",
		SweepInterval:       Duration(time.Minute),
		RedisConnectTimeout: Duration(cache.DefaultConnectTimeout),
		RedisQueryTimeout:   Duration(cache.DefaultQueryTimeout),
		FailureThreshold:    3,
		ReconnectMaxBackoff: Duration(time.Minute),
		StationsTTL:         Duration(ttls.Stations),
		DeparturesTTL:       Duration(ttls.Departures),
		RadarTTL:            Duration(ttls.Radar),
		FeaturedStationIDs:  append([]string(nil), transit.DefaultFeaturedStationIDs...),
		LogLevel:            "info",
		LogFormat:           "console",
	}
}

// LoadFile merges a YAML file over c. Unknown keys are rejected.
func (c *Config) LoadFile(filename string) error {
	buf, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrapf(err, "reading config file %s", filename)
	}
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrapf(err, "parsing config file %s", filename)
	}
	return nil
}

type binding struct {
	names []string
	set   func(c *Config, val string) error
}

func str(p func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error { *p(c) = v; return nil }
}

func secret(p func(*Config) *mask.String) func(*Config, string) error {
	return func(c *Config, v string) error { *p(c) = mask.String(v); return nil }
}

func num(p func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "invalid number %q", v)
		}
		*p(c) = n
		return nil
	}
}

func dur(p func(*Config) *Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := ParseDuration(v)
		if err != nil {
			return err
		}
		*p(c) = d
		return nil
	}
}

func ratio(p func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || f < 0 || f > 1 {
			return errors.Newf("invalid ratio %q", v)
		}
		*p(c) = f
		return nil
	}
}

func list(p func(*Config) *[]string) func(*Config, string) error {
	return func(c *Config, v string) error {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*p(c) = out
		return nil
	}
}

// bindings maps environment variables to settings. The first name of each
// entry is the canonical one.
var bindings = []binding{
	{[]string{"TRANSIT_APP_NAME", "APP_NAME"}, str(func(c *Config) *string { return &c.AppName })},
	{[]string{"TRANSIT_ENVIRONMENT", "ENVIRONMENT"}, str(func(c *Config) *string { return &c.Environment })},
	{[]string{"TRANSIT_LISTEN"}, str(func(c *Config) *string { return &c.Listen })},
	{[]string{"TRANSIT_UPSTREAM_URL", "BVG_API_BASE_URL"}, str(func(c *Config) *string { return &c.UpstreamURL })},
	{[]string{"TRANSIT_UPSTREAM_TIMEOUT", "API_TIMEOUT"}, dur(func(c *Config) *Duration { return &c.UpstreamTimeout })},
	{[]string{"TRANSIT_REDIS_URL", "REDIS_URL"}, str(func(c *Config) *string { return &c.RedisURL })},
	{[]string{"TRANSIT_REDIS_HOST", "REDIS_HOST"}, str(func(c *Config) *string { return &c.RedisHost })},
	{[]string{"TRANSIT_REDIS_PORT", "REDIS_PORT"}, num(func(c *Config) *int { return &c.RedisPort })},
	{[]string{"TRANSIT_REDIS_DB", "REDIS_DB"}, num(func(c *Config) *int { return &c.RedisDB })},
	{[]string{"TRANSIT_REDIS_PASSWORD", "REDIS_PASSWORD"}, secret(func(c *Config) *mask.String { return &c.RedisPassword })},
	{[]string{"TRANSIT_CACHE_TTL", "CACHE_TTL"}, dur(func(c *Config) *Duration { return &c.CacheTTL })},
	{[]string{"TRANSIT_CACHE_NAMESPACE"}, str(func(c *Config) *string { return &c.CacheNamespace })},
	{[]string{"TRANSIT_CACHE_PREFIX"}, str(func(c *Config) *string { return &c.CachePrefix })},
	{[]string{"TRANSIT_CACHE_CODEC"}, str(func(c *Config) *string { return &c.CacheCodec })},
	{[]string{"TRANSIT_SWEEP_INTERVAL"}, dur(func(c *Config) *Duration { return &c.SweepInterval })},
	{[]string{"TRANSIT_REDIS_CONNECT_TIMEOUT"}, dur(func(c *Config) *Duration { return &c.RedisConnectTimeout })},
	{[]string{"TRANSIT_REDIS_QUERY_TIMEOUT"}, dur(func(c *Config) *Duration { return &c.RedisQueryTimeout })},
	{[]string{"TRANSIT_FAILURE_THRESHOLD"}, num(func(c *Config) *int { return &c.FailureThreshold })},
	{[]string{"TRANSIT_RECONNECT_MAX_BACKOFF"}, dur(func(c *Config) *Duration { return &c.ReconnectMaxBackoff })},
	{[]string{"TRANSIT_STATIONS_TTL"}, dur(func(c *Config) *Duration { return &c.StationsTTL })},
	{[]string{"TRANSIT_DEPARTURES_TTL"}, dur(func(c *Config) *Duration { return &c.DeparturesTTL })},
	{[]string{"TRANSIT_RADAR_TTL"}, dur(func(c *Config) *Duration { return &c.RadarTTL })},
	{[]string{"TRANSIT_FEATURED_STATION_IDS", "FEATURED_STATION_IDS"}, list(func(c *Config) *[]string { return &c.FeaturedStationIDs })},
	{[]string{"TRANSIT_LOG_LEVEL", "LOG_LEVEL"}, str(func(c *Config) *string { return &c.LogLevel })},
	{[]string{"TRANSIT_LOG_FORMAT"}, str(func(c *Config) *string { return &c.LogFormat })},
	{[]string{"TRANSIT_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}, str(func(c *Config) *string { return &c.OtelEndpoint })},
	{[]string{"TRANSIT_OTEL_TOKEN"}, secret(func(c *Config) *mask.String { return &c.OtelToken })},
	{[]string{"TRANSIT_OTEL_SAMPLE_RATIO"}, ratio(func(c *Config) *float64 { return &c.OtelSampleRatio })},
}

// ApplyEnv applies variables found by lookup. For each setting the first
// name present wins.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, b := range bindings {
		for _, name := range b.names {
			val, ok := lookup(name)
			if !ok {
				continue
			}
			if err := b.set(c, val); err != nil {
				return errors.Wrapf(err, "%s", name)
			}
			break
		}
	}
	return nil
}

// ApplyFlags applies the flags that were set on the command line.
func (c *Config) ApplyFlags(cmd *cobra.Command) error {
	flags := map[string]func(*Config, string) error{
		"listen":       str(func(c *Config) *string { return &c.Listen }),
		"upstream-url": str(func(c *Config) *string { return &c.UpstreamURL }),
		"redis-url":    str(func(c *Config) *string { return &c.RedisURL }),
		"cache-ttl":    dur(func(c *Config) *Duration { return &c.CacheTTL }),
		"log-level":    str(func(c *Config) *string { return &c.LogLevel }),
		"log-format":   str(func(c *Config) *string { return &c.LogFormat }),
	}
	for name, set := range flags {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := set(c, f.Value.String()); err != nil {
			return errors.Wrapf(err, "--%s", name)
		}
	}
	return nil
}

// Load builds the configuration. configFile and envFile are optional; a
// missing envFile is ignored. lookup reads the process environment when nil.
func Load(configFile, envFile string, lookup func(string) (string, bool)) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	c := Default()
	if configFile != "" {
		if err := c.LoadFile(configFile); err != nil {
			return nil, err
		}
	}
	if envFile != "" {
		vars, err := env.LoadEnvFile(envFile)
		if err != nil {
			return nil, errors.Wrapf(err, "reading env file %s", envFile)
		}
		err = c.ApplyEnv(func(name string) (string, bool) {
			v, ok := vars[name]
			return v, ok
		})
		if err != nil {
			return nil, errors.Wrapf(err, "env file %s", envFile)
		}
	}
	if err := c.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	return c, nil
}

// ResolvedRedisURL returns RedisURL, or one composed from the host settings.
// Empty means the cache runs in-process only.
func (c *Config) ResolvedRedisURL() string {
	if c.RedisURL != "" {
		return c.RedisURL
	}
	if c.RedisHost == "" {
		return ""
	}
	u := url.URL{
		Scheme: "redis",
		Host:   net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort)),
		Path:   fmt.Sprintf("/%d", c.RedisDB),
	}
	if c.RedisPassword != "" {
		u.User = url.UserPassword("", c.RedisPassword.Text())
	}
	return u.String()
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Listen == "":
		return errors.New("listen address is required")
	case c.UpstreamURL == "":
		return errors.New("upstream_url is required")
	case c.UpstreamTimeout <= 0:
		return errors.New("upstream_timeout must be positive")
	case c.RedisURL == "" && c.RedisHost != "" && (c.RedisPort < 1 || c.RedisPort > 65535):
		return errors.Newf("redis_port %d out of range", c.RedisPort)
	case c.CacheTTL <= 0:
		return errors.New("cache_ttl must be positive")
	case c.SweepInterval < 0:
		return errors.New("sweep_interval must not be negative")
	case c.LogFormat != "console" && c.LogFormat != "json":
		return errors.Newf("log_format must be console or json, got %q", c.LogFormat)
	case c.CacheCodec != "json" && c.CacheCodec != "msgpack":
		return errors.Newf("cache_codec must be json or msgpack, got %q", c.CacheCodec)
	case c.OtelSampleRatio < 0 || c.OtelSampleRatio > 1:
		return errors.Newf("otel_sample_ratio must be between 0 and 1, got %v", c.OtelSampleRatio)
	}
	if u, err := url.Parse(c.UpstreamURL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Newf("upstream_url %q is not an absolute url", c.UpstreamURL)
	}
	return nil
}

// Cache returns the cache manager settings.
func (c *Config) Cache() cache.Config {
	var codec cache.Codec = cache.JSONCodec{}
	if c.CacheCodec == "msgpack" {
		codec = cache.MsgpackCodec{}
	}
	return cache.Config{
		RedisURL:       c.ResolvedRedisURL(),
		DefaultTTL:     c.CacheTTL.Std(),
		ConnectTimeout: c.RedisConnectTimeout.Std(),
		QueryTimeout:   c.RedisQueryTimeout.Std(),
		Prefix:         c.CachePrefix,
		Namespace:      c.CacheNamespace,
		SweepInterval:  c.SweepInterval.Std(),
		Codec:          codec,
		Reconnect: cache.ReconnectPolicy{
			FailureThreshold: c.FailureThreshold,
			MaxBackoff:       c.ReconnectMaxBackoff.Std(),
		},
	}
}

// Telemetry returns the span export settings. Export is off when the
// endpoint is empty.
func (c *Config) Telemetry() telemetry.Config {
	return telemetry.Config{
		Endpoint:    c.OtelEndpoint,
		AuthToken:   c.OtelToken.Text(),
		ServiceName: "transit-live",
		Version:     c.Version,
		SampleRatio: c.OtelSampleRatio,
	}
}

// TTLs returns the per operation cache lifetimes.
func (c *Config) TTLs() transit.TTLs {
	return transit.TTLs{
		Stations:   c.StationsTTL.Std(),
		Departures: c.DeparturesTTL.Std(),
		Radar:      c.RadarTTL.Std(),
	}
}
