package transit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"github.com/agentuity/transit-live/logger"
	"github.com/agentuity/transit-live/resilience"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

const (
	DefaultBaseURL = "https://v6.bvg.transport.rest"
	DefaultTimeout = 10 * time.Second
)

// Service is the set of upstream operations. Client calls the upstream on
// every request; CachedClient memoizes them.
type Service interface {
	SearchStations(ctx context.Context, q StationQuery) ([]Station, error)
	Departures(ctx context.Context, q DeparturesQuery) (*DeparturesResponse, error)
	Radar(ctx context.Context, q RadarQuery) (*RadarResponse, error)
}

// Client talks to the public transit REST API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  logger.Logger
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

var _ Service = (*Client)(nil)

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithRetry replaces the retry policy. The retry classification is always
// the client's own.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(cl *Client) { cl.retry = cfg }
}

// WithCircuitBreaker replaces the circuit breaker shared by all calls.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(cl *Client) { cl.breaker = cb }
}

// New returns a Client for baseURL (DefaultBaseURL when empty). Each request
// is bounded by timeout (DefaultTimeout when zero).
func New(log logger.Logger, baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retry := resilience.DefaultRetryConfig()
	retry.MaxRetries = 2
	retry.InitialBackoff = 150 * time.Millisecond
	breaker := resilience.DefaultCircuitBreakerConfig()
	breaker.RequestTimeout = timeout
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		logger:  log.WithPrefix("[transit]"),
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(breaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the upstream base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Breaker returns the circuit breaker guarding the upstream.
func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

func UserAgent() string {
	gitSHA := Commit
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				gitSHA = setting.Value
			}
		}
	}
	return "transit-live/" + Version + " (" + gitSHA + ")"
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func shouldRetry(err error) bool {
	switch {
	case err == nil, resilience.IsPermanent(err):
		return false
	case errors.Is(err, resilience.ErrCircuitBreakerOpen):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// bodyPreview returns a short preview of body for logs. Non-text bodies are
// reported by size and fingerprint only.
func bodyPreview(body []byte, contentType string, maxChars int) string {
	ct := strings.ToLower(contentType)
	if ct != "" && !strings.Contains(ct, "json") && !strings.HasPrefix(ct, "text/") {
		return fmt.Sprintf("<%s: %d bytes, xxhash=%016x>", ct, len(body), xxhash.Sum64(body))
	}
	if len(body) > maxChars {
		return string(body[:maxChars]) + fmt.Sprintf("[truncated, total: %d chars]", len(body))
	}
	return string(body)
}

// get performs a GET and returns the body of a 2xx response.
func (c *Client) get(ctx context.Context, pathParam string, query url.Values) ([]byte, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, NewError(c.baseURL, 0, "", errors.Wrap(err, "error parsing base url"))
	}
	u.Path = path.Join("/", u.Path, pathParam)
	u.RawQuery = query.Encode()
	target := u.String()

	cfg := c.retry
	cfg.RetryableErrors = func(err error) bool {
		return ctx.Err() == nil && shouldRetry(err)
	}

	var body []byte
	attempt := 0
	err = resilience.RetryWithCircuitBreaker(ctx, cfg, c.breaker, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			c.logger.Debug("retrying %s (attempt %d)", target, attempt)
		}
		b, err := c.do(ctx, target)
		body = b
		return err
	})
	if err == nil {
		return body, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr) && (errors.Is(apiErr, ErrNotFound) || errors.Is(apiErr, ErrUnavailable)):
		return nil, apiErr
	case errors.Is(err, resilience.ErrCircuitBreakerOpen):
		return nil, NewError(target, 0, "", errors.Mark(err, ErrUnavailable))
	case errors.Is(err, resilience.ErrCircuitBreakerTimeout):
		return nil, NewError(target, 0, "", errors.Mark(errors.Wrap(err, "request timed out"), ErrUnavailable))
	}
	return nil, NewError(target, 0, "", errors.Mark(err, ErrUnavailable))
}

func (c *Client) do(ctx context.Context, target string) ([]byte, error) {
	c.logger.Trace("sending request: GET %s", target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, resilience.Permanent(NewError(target, 0, "", errors.Wrap(err, "error creating request")))
	}
	req.Header.Set("User-Agent", UserAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewError(target, 0, "", errors.Mark(errors.Wrap(err, "error sending request"), ErrUnavailable))
	}
	defer resp.Body.Close()
	c.logger.Debug("response status: %s", resp.Status)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(target, resp.StatusCode, "", errors.Mark(errors.Wrap(err, "error reading response body"), ErrUnavailable))
	}
	if resp.StatusCode < 300 {
		return body, nil
	}

	preview := bodyPreview(body, resp.Header.Get("Content-Type"), 200)
	c.logger.Debug("upstream error body: %s", preview)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, resilience.Permanent(NewError(target, resp.StatusCode, preview, ErrNotFound))
	case retryableStatus(resp.StatusCode):
		return nil, NewError(target, resp.StatusCode, preview, errors.Wrapf(ErrUnavailable, "request failed with status (%s)", resp.Status))
	}
	return nil, resilience.Permanent(NewError(target, resp.StatusCode, preview, errors.Wrapf(ErrUnavailable, "request failed with status (%s)", resp.Status)))
}

// SearchStations looks up stops matching q.Query. Only items of type "stop" are returned.
func (c *Client) SearchStations(ctx context.Context, q StationQuery) ([]Station, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	q = q.withDefaults()
	c.logger.Info("searching stations: %s", q.Query)
	body, err := c.get(ctx, "/locations", url.Values{
		"query":   {q.Query},
		"results": {fmt.Sprint(q.Results)},
	})
	if err != nil {
		c.logger.Error("station search failed: %s", err)
		return nil, err
	}
	return normalizeStations(c.logger, body)
}

// Departures returns the upcoming departures of a stop.
func (c *Client) Departures(ctx context.Context, q DeparturesQuery) (*DeparturesResponse, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	q = q.withDefaults()
	c.logger.Info("getting departures for station: %s", q.StationID)
	body, err := c.get(ctx, "/stops/"+q.StationID+"/departures", url.Values{
		"duration": {fmt.Sprint(q.Duration)},
	})
	if err != nil {
		c.logger.Error("departures request failed: %s", err)
		return nil, err
	}
	return normalizeDepartures(c.logger, q.StationID, body)
}

// Radar returns vehicle movements inside the bounding box.
func (c *Client) Radar(ctx context.Context, q RadarQuery) (*RadarResponse, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	q = q.withDefaults()
	c.logger.Info("getting radar data for bounds: N=%s, S=%s, W=%s, E=%s",
		formatFloat(q.North), formatFloat(q.South), formatFloat(q.West), formatFloat(q.East))
	body, err := c.get(ctx, "/radar", url.Values{
		"north":     {formatFloat(q.North)},
		"south":     {formatFloat(q.South)},
		"west":      {formatFloat(q.West)},
		"east":      {formatFloat(q.East)},
		"duration":  {fmt.Sprint(q.Duration)},
		"frames":    {fmt.Sprint(q.Frames)},
		"results":   {fmt.Sprint(q.Results)},
		"polylines": {fmt.Sprint(!q.NoPolylines)},
	})
	if err != nil {
		c.logger.Error("radar request failed: %s", err)
		return nil, err
	}
	return normalizeRadar(c.logger, body)
}
