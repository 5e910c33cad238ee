// Package server exposes the transit operations and the cache administration
// endpoints over HTTP.
package server

import (
	"net/http"

	"github.com/agentuity/transit-live/cache"
	"github.com/agentuity/transit-live/logger"
	"github.com/agentuity/transit-live/transit"
	"github.com/gin-gonic/gin"
)

// Info describes the running service for the health and info endpoints.
type Info struct {
	Name        string
	Version     string
	Environment string
	UpstreamURL string
	// FeaturedStationIDs backs /api/stations/featured.
	FeaturedStationIDs []string
}

type Server struct {
	engine  *gin.Engine
	svc     transit.Service
	cache   *cache.Manager
	logger  logger.Logger
	info    Info
	metrics *Metrics
}

// New builds the router. svc is usually a transit.CachedClient sharing m.
func New(log logger.Logger, svc transit.Service, m *cache.Manager, info Info) *Server {
	gin.SetMode(gin.ReleaseMode)
	if len(info.FeaturedStationIDs) == 0 {
		info.FeaturedStationIDs = transit.DefaultFeaturedStationIDs
	}
	s := &Server{
		engine:  gin.New(),
		svc:     svc,
		cache:   m,
		logger:  log.WithPrefix("[server]"),
		info:    info,
		metrics: NewMetrics(m),
	}
	s.engine.Use(gin.Recovery(), requestID(), tracing(), s.requestLogger(), s.metrics.middleware())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := s.engine.Group("/api")
	api.GET("/health", s.health)
	api.GET("/info", s.apiInfo)

	api.GET("/stations/search", s.searchStations)
	api.GET("/stations/featured", s.featuredStations)
	api.GET("/stations/:station_id", s.stationInfo)
	api.GET("/departures/:station_id", s.departures)
	api.GET("/radar", s.radar)
	api.GET("/radar/vehicles", s.radar)

	api.GET("/cache/stats", s.cacheStats)
	api.POST("/cache/clear", s.cacheClear)
	api.POST("/cache/cleanup", s.cacheCleanup)
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Metrics returns the Prometheus collectors served on /metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
