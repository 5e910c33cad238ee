package transit

import (
	"strconv"
	"strings"

	"github.com/agentuity/transit-live/cache"
)

const (
	DefaultStationResults   = 10
	DefaultDepartureMinutes = 60
	DefaultRadarDuration    = 60
	DefaultRadarFrames      = 10
	DefaultRadarResults     = 50
)

// StationQuery searches stops by name.
type StationQuery struct {
	Query   string
	Results int
}

func (q StationQuery) withDefaults() StationQuery {
	q.Query = strings.TrimSpace(q.Query)
	if q.Results == 0 {
		q.Results = DefaultStationResults
	}
	return q
}

// Validate rejects queries the upstream would not answer meaningfully.
func (q StationQuery) Validate() error {
	q = q.withDefaults()
	if len(q.Query) < 2 {
		return InvalidArgument("q", "query must be at least 2 characters")
	}
	if q.Results < 1 || q.Results > 50 {
		return InvalidArgument("results", "must be between 1 and 50")
	}
	return nil
}

func (q StationQuery) CacheArgs() ([]cache.Keyable, map[string]cache.Keyable) {
	q = q.withDefaults()
	return []cache.Keyable{cache.String(q.Query)}, map[string]cache.Keyable{
		"results": cache.Int(q.Results),
	}
}

// DeparturesQuery asks for the departures of one stop over the next Duration minutes.
type DeparturesQuery struct {
	StationID string
	Duration  int
}

func (q DeparturesQuery) withDefaults() DeparturesQuery {
	q.StationID = strings.TrimSpace(q.StationID)
	if q.Duration == 0 {
		q.Duration = DefaultDepartureMinutes
	}
	return q
}

func (q DeparturesQuery) Validate() error {
	q = q.withDefaults()
	if q.StationID == "" {
		return InvalidArgument("station_id", "must not be empty")
	}
	if strings.ContainsAny(q.StationID, "/?#") || q.StationID == "." || q.StationID == ".." {
		return InvalidArgument("station_id", "contains reserved characters")
	}
	if q.Duration < 10 || q.Duration > 240 {
		return InvalidArgument("duration", "must be between 10 and 240")
	}
	return nil
}

func (q DeparturesQuery) CacheArgs() ([]cache.Keyable, map[string]cache.Keyable) {
	q = q.withDefaults()
	return []cache.Keyable{cache.String(q.StationID)}, map[string]cache.Keyable{
		"duration": cache.Int(q.Duration),
	}
}

// RadarQuery asks for vehicle movements inside a bounding box.
type RadarQuery struct {
	North, South, West, East float64
	Duration                 int
	Frames                   int
	Results                  int
	// Polylines defaults to true; set NoPolylines to leave them out.
	NoPolylines bool
}

func (q RadarQuery) withDefaults() RadarQuery {
	if q.Duration == 0 {
		q.Duration = DefaultRadarDuration
	}
	if q.Frames == 0 {
		q.Frames = DefaultRadarFrames
	}
	if q.Results == 0 {
		q.Results = DefaultRadarResults
	}
	return q
}

func (q RadarQuery) Validate() error {
	q = q.withDefaults()
	switch {
	case q.North < -90 || q.North > 90 || q.South < -90 || q.South > 90:
		return InvalidArgument("north/south", "latitude out of range")
	case q.West < -180 || q.West > 180 || q.East < -180 || q.East > 180:
		return InvalidArgument("west/east", "longitude out of range")
	case q.North <= q.South:
		return InvalidArgument("north", "must be greater than south")
	case q.East <= q.West:
		return InvalidArgument("east", "must be greater than west")
	case q.Duration < 10 || q.Duration > 120:
		return InvalidArgument("duration", "must be between 10 and 120")
	case q.Frames < 1:
		return InvalidArgument("frames", "must be positive")
	case q.Results < 1 || q.Results > 256:
		return InvalidArgument("results", "must be between 1 and 256")
	}
	return nil
}

func (q RadarQuery) CacheArgs() ([]cache.Keyable, map[string]cache.Keyable) {
	q = q.withDefaults()
	return []cache.Keyable{
			cache.Float(q.North), cache.Float(q.South), cache.Float(q.West), cache.Float(q.East),
		}, map[string]cache.Keyable{
			"duration":  cache.Int(q.Duration),
			"frames":    cache.Int(q.Frames),
			"results":   cache.Int(q.Results),
			"polylines": cache.Bool(!q.NoPolylines),
		}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
