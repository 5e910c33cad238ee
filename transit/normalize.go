package transit

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/agentuity/transit-live/logger"
	"github.com/cockroachdb/errors"
)

// decodeObject unmarshals raw into v when raw holds a JSON object.
func decodeObject(raw json.RawMessage, v any) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// decodeArray splits raw into its elements when raw holds a JSON array.
func decodeArray(raw json.RawMessage) ([]json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}

func stringOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

func normalizeLine(raw json.RawMessage) Line {
	var rl rawLine
	decodeObject(raw, &rl)
	line := Line{Name: stringOr(rl.Name, "Unknown"), Type: "unknown"}
	var product rawProduct
	if decodeObject(rl.Product, &product) && product.Short != nil {
		line.Type = *product.Short
	}
	var color rawColor
	if decodeObject(rl.Color, &color) {
		line.Color = color.BG
	}
	return line
}

func normalizeLocation(raw json.RawMessage) *Location {
	var rl rawLocation
	if !decodeObject(raw, &rl) || (rl.Latitude == nil && rl.Longitude == nil) {
		return nil
	}
	loc := &Location{}
	if rl.Latitude != nil {
		loc.Latitude = *rl.Latitude
	}
	if rl.Longitude != nil {
		loc.Longitude = *rl.Longitude
	}
	return loc
}

func normalizeStation(raw json.RawMessage, id string) Station {
	var rs rawStop
	decodeObject(raw, &rs)
	if rs.ID != "" && id == "" {
		id = rs.ID
	}
	st := Station{ID: id, Name: stringOr(rs.Name, "Station "+id), Type: "stop", Location: normalizeLocation(rs.Location)}
	return st
}

// normalizeStations keeps only items of type "stop".
func normalizeStations(log logger.Logger, body []byte) ([]Station, error) {
	items, ok := decodeArray(body)
	if !ok {
		return nil, errors.Mark(errors.New("unexpected station search payload"), ErrUnavailable)
	}
	stations := make([]Station, 0, len(items))
	for _, item := range items {
		var rs rawStop
		if !decodeObject(item, &rs) {
			log.Warn("skipping non-object station search item")
			continue
		}
		if rs.Type != "stop" {
			continue
		}
		stations = append(stations, Station{
			ID:       rs.ID,
			Name:     stringOr(rs.Name, ""),
			Type:     "stop",
			Location: normalizeLocation(rs.Location),
		})
	}
	return stations, nil
}

func normalizeDepartures(log logger.Logger, stationID string, body []byte) (*DeparturesResponse, error) {
	var rd rawDepartures
	if !decodeObject(body, &rd) {
		return nil, errors.Mark(errors.New("unexpected departures payload"), ErrUnavailable)
	}
	resp := &DeparturesResponse{
		Station:               normalizeStation(rd.Stop, stationID),
		Departures:            []Departure{},
		RealtimeDataUpdatedAt: timestampToUTC(log, rd.RealtimeDataUpdatedAt),
	}
	items, _ := decodeArray(rd.Departures)
	for _, item := range items {
		var dep rawDeparture
		if !decodeObject(item, &dep) {
			log.Warn("skipping non-object departure for station %s", stationID)
			continue
		}
		d := Departure{
			TripID:      dep.TripID,
			Line:        normalizeLine(dep.Line),
			Direction:   stringOr(dep.Direction, "Unknown"),
			When:        stringOr(dep.When, ""),
			PlannedWhen: stringOr(dep.PlannedWhen, ""),
			Delay:       dep.Delay,
			Platform:    dep.Platform,
			Remarks:     []string{},
		}
		for _, r := range dep.Remarks {
			var remark rawRemark
			if decodeObject(r, &remark) && remark.Text != "" {
				d.Remarks = append(d.Remarks, remark.Text)
			}
		}
		resp.Departures = append(resp.Departures, d)
	}
	return resp, nil
}

func normalizeRadar(log logger.Logger, body []byte) (*RadarResponse, error) {
	var rr rawRadar
	if !decodeObject(body, &rr) {
		return nil, errors.Mark(errors.New("unexpected radar payload"), ErrUnavailable)
	}
	resp := &RadarResponse{
		Movements:             []Movement{},
		RealtimeDataUpdatedAt: timestampToUTC(log, rr.RealtimeDataUpdatedAt),
	}
	items, _ := decodeArray(rr.Movements)
	for _, item := range items {
		var rm rawMovement
		if !decodeObject(item, &rm) {
			log.Warn("skipping non-object radar movement")
			continue
		}
		loc := normalizeLocation(rm.Location)
		if loc == nil {
			continue
		}
		m := Movement{
			TripID:        rm.TripID,
			Line:          normalizeLine(rm.Line),
			Direction:     stringOr(rm.Direction, "Unknown"),
			Location:      *loc,
			NextStopovers: []Stopover{},
		}
		if len(bytes.TrimSpace(rm.Polyline)) > 0 && !bytes.Equal(bytes.TrimSpace(rm.Polyline), []byte("null")) {
			m.Polyline = rm.Polyline
		}
		for _, s := range rm.NextStopovers {
			var rs rawStopover
			if !decodeObject(s, &rs) {
				continue
			}
			m.NextStopovers = append(m.NextStopovers, Stopover{
				Station:   normalizeStation(rs.Stop, ""),
				Arrival:   stringOr(rs.Arrival, ""),
				Departure: stringOr(rs.Departure, ""),
			})
		}
		resp.Movements = append(resp.Movements, m)
	}
	return resp, nil
}

// timestampToUTC renders an upstream update timestamp as RFC3339 in UTC.
// Numbers below 1e12 are unix seconds, larger ones milliseconds. Strings are
// passed through. Anything else yields "".
func timestampToUTC(log logger.Logger, raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	n, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		log.Warn("failed to convert timestamp %s: %s", raw, err)
		return ""
	}
	var t time.Time
	if n < 1e12 {
		t = time.Unix(0, int64(n*float64(time.Second)))
	} else {
		t = time.UnixMilli(int64(n))
	}
	return t.UTC().Format(time.RFC3339)
}
