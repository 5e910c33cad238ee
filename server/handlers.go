package server

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/agentuity/transit-live/transit"
	"github.com/gin-gonic/gin"
)

const (
	radarVehicleDuration = 30
	radarNextStopovers   = 3
)

func (s *Server) health(c *gin.Context) {
	s.respond(c, http.StatusOK, gin.H{
		"status":        "healthy",
		"service":       s.info.Name,
		"version":       s.info.Version,
		"environment":   s.info.Environment,
		"bvg_api":       s.info.UpstreamURL,
		"cache_backend": s.cache.Backend(),
	})
}

func (s *Server) apiInfo(c *gin.Context) {
	s.respond(c, http.StatusOK, gin.H{
		"name":        s.info.Name,
		"version":     s.info.Version,
		"environment": s.info.Environment,
		"endpoints": gin.H{
			"stations_search":   "/api/stations/search?q={query}",
			"stations_featured": "/api/stations/featured",
			"station_info":      "/api/stations/{station_id}",
			"departures":        "/api/departures/{station_id}?duration={minutes}",
			"radar":             "/api/radar?north={lat}&south={lat}&west={lon}&east={lon}",
			"cache_stats":       "/api/cache/stats",
			"health":            "/api/health",
		},
	})
}

func (s *Server) searchStations(c *gin.Context) {
	results, err := queryInt(c, "results", 0)
	if err != nil {
		s.fail(c, err)
		return
	}
	if results == 0 {
		// older clients send limit
		if results, err = queryInt(c, "limit", 0); err != nil {
			s.fail(c, err)
			return
		}
	}
	q := transit.StationQuery{Query: c.Query("q"), Results: results}
	if err := q.Validate(); err != nil {
		s.fail(c, err)
		return
	}
	stations, err := s.svc.SearchStations(c.Request.Context(), q)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusOK, gin.H{"stations": stations, "query": q.Query})
}

func (s *Server) featuredStations(c *gin.Context) {
	s.respond(c, http.StatusOK, gin.H{"stations": transit.FeaturedStations(s.info.FeaturedStationIDs)})
}

func (s *Server) stationInfo(c *gin.Context) {
	id := c.Param("station_id")
	if err := (transit.DeparturesQuery{StationID: id}).Validate(); err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusOK, transit.StationInfo(id))
}

func (s *Server) departures(c *gin.Context) {
	duration, err := queryInt(c, "duration", transit.DefaultDepartureMinutes)
	if err != nil {
		s.fail(c, err)
		return
	}
	q := transit.DeparturesQuery{StationID: c.Param("station_id"), Duration: duration}
	if err := q.Validate(); err != nil {
		s.fail(c, err)
		return
	}
	resp, err := s.svc.Departures(c.Request.Context(), q)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusOK, resp)
}

// radar answers with the current vehicle positions. Unless asked otherwise it
// requests a single frame without polylines.
func (s *Server) radar(c *gin.Context) {
	var (
		q   transit.RadarQuery
		err error
	)
	for _, p := range []struct {
		name string
		dst  *float64
	}{{"north", &q.North}, {"south", &q.South}, {"west", &q.West}, {"east", &q.East}} {
		if *p.dst, err = queryFloat(c, p.name); err != nil {
			s.fail(c, err)
			return
		}
	}
	if q.Duration, err = queryInt(c, "duration", radarVehicleDuration); err != nil {
		s.fail(c, err)
		return
	}
	if q.Frames, err = queryInt(c, "frames", 1); err != nil {
		s.fail(c, err)
		return
	}
	if q.Results, err = queryInt(c, "results", transit.DefaultRadarResults); err != nil {
		s.fail(c, err)
		return
	}
	polylines, err := queryBool(c, "polylines", false)
	if err != nil {
		s.fail(c, err)
		return
	}
	q.NoPolylines = !polylines
	if err := q.Validate(); err != nil {
		s.fail(c, err)
		return
	}

	resp, err := s.svc.Radar(c.Request.Context(), q)
	if err != nil {
		s.fail(c, err)
		return
	}
	vehicles := make([]transit.Movement, 0, len(resp.Movements))
	for _, m := range resp.Movements {
		if len(m.NextStopovers) > radarNextStopovers {
			m.NextStopovers = m.NextStopovers[:radarNextStopovers]
		}
		vehicles = append(vehicles, m)
	}
	s.respond(c, http.StatusOK, gin.H{
		"vehicles": vehicles,
		"count":    len(vehicles),
		"bounds": gin.H{
			"north": q.North,
			"south": q.South,
			"west":  q.West,
			"east":  q.East,
		},
		"realtimeDataUpdatedAt": resp.RealtimeDataUpdatedAt,
	})
}

func (s *Server) cacheStats(c *gin.Context) {
	s.respond(c, http.StatusOK, gin.H{
		"cache":       s.cache.Stats(c.Request.Context()),
		"description": "Cache statistics for BVG API requests",
	})
}

func (s *Server) cacheClear(c *gin.Context) {
	removed := s.cache.Clear(c.Request.Context())
	s.respond(c, http.StatusOK, gin.H{
		"message": "Cache cleared successfully",
		"removed": removed,
	})
}

func (s *Server) cacheCleanup(c *gin.Context) {
	removed := s.cache.CleanupExpired(c.Request.Context())
	s.respond(c, http.StatusOK, gin.H{
		"message":       fmt.Sprintf("Removed %d expired entries", removed),
		"removed_count": removed,
	})
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	v, ok := c.GetQuery(name)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, transit.InvalidArgument(name, "must be an integer")
	}
	return n, nil
}

func queryFloat(c *gin.Context, name string) (float64, error) {
	v, ok := c.GetQuery(name)
	if !ok || v == "" {
		return 0, transit.InvalidArgument(name, "is required")
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, transit.InvalidArgument(name, "must be a number")
	}
	return f, nil
}

func queryBool(c *gin.Context, name string, def bool) (bool, error) {
	v, ok := c.GetQuery(name)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, transit.InvalidArgument(name, "must be true or false")
	}
	return b, nil
}
