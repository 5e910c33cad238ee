package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/agentuity/transit-live/cache"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "transit_live"

// Metrics holds the Prometheus collectors for one server. Each server gets its
// own registry so tests can build many.
type Metrics struct {
	registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

func NewMetrics(m *cache.Manager) *Metrics {
	reg := prometheus.NewRegistry()
	met := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
	}
	reg.MustRegister(met.RequestsTotal, met.RequestDuration)
	if m != nil {
		reg.MustRegister(newCacheCollector(m))
	}
	return met
}

// Handler serves the registry in the Prometheus text format.
func (met *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(met.registry, promhttp.HandlerOpts{})
}

func (met *Metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		met.RequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		met.RequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(started).Seconds())
	}
}

// cacheCollector reads one Stats snapshot per scrape.
type cacheCollector struct {
	manager  *cache.Manager
	hits     *prometheus.Desc
	misses   *prometheus.Desc
	failures *prometheus.Desc
	entries  *prometheus.Desc
	hitRate  *prometheus.Desc
	demoted  *prometheus.Desc
}

func newCacheCollector(m *cache.Manager) *cacheCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, labels, nil)
	}
	return &cacheCollector{
		manager:  m,
		hits:     desc("hits_total", "Total number of cache hits"),
		misses:   desc("misses_total", "Total number of cache misses"),
		failures: desc("backend_failures_total", "Total number of distributed backend errors"),
		entries:  desc("entries", "Number of entries held by the active backend", "backend"),
		hitRate:  desc("hit_rate", "Ratio of hits to lookups"),
		demoted:  desc("demoted", "1 while the distributed backend is demoted"),
	}
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.failures
	ch <- c.entries
	ch <- c.hitRate
	ch <- c.demoted
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st := c.manager.Stats(ctx)
	var demoted float64
	if st.Demoted {
		demoted = 1
	}
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(st.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(st.Misses))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(st.Failures))
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(st.ResidentSize), st.Backend)
	ch <- prometheus.MustNewConstMetric(c.hitRate, prometheus.GaugeValue, st.HitRate)
	ch <- prometheus.MustNewConstMetric(c.demoted, prometheus.GaugeValue, demoted)
}
