package transit

import "encoding/json"

type Location struct {
	Latitude  float64 `json:"latitude" msgpack:"latitude"`
	Longitude float64 `json:"longitude" msgpack:"longitude"`
}

// Line is a transport line. Type is the product short name ("U", "S", "Bus", ...).
type Line struct {
	Name  string `json:"name" msgpack:"name"`
	Type  string `json:"type" msgpack:"type"`
	Color string `json:"color,omitempty" msgpack:"color,omitempty"`
}

type Station struct {
	ID       string    `json:"id" msgpack:"id"`
	Name     string    `json:"name" msgpack:"name"`
	Location *Location `json:"location,omitempty" msgpack:"location,omitempty"`
	Type     string    `json:"type" msgpack:"type"`
}

type Departure struct {
	TripID      string   `json:"tripId,omitempty" msgpack:"tripId,omitempty"`
	Line        Line     `json:"line" msgpack:"line"`
	Direction   string   `json:"direction" msgpack:"direction"`
	When        string   `json:"when" msgpack:"when"`
	PlannedWhen string   `json:"plannedWhen,omitempty" msgpack:"plannedWhen,omitempty"`
	Delay       *int     `json:"delay" msgpack:"delay"`
	Platform    *string  `json:"platform" msgpack:"platform"`
	Remarks     []string `json:"remarks" msgpack:"remarks"`
}

type DeparturesResponse struct {
	Station               Station     `json:"station" msgpack:"station"`
	Departures            []Departure `json:"departures" msgpack:"departures"`
	RealtimeDataUpdatedAt string      `json:"realtimeDataUpdatedAt,omitempty" msgpack:"realtimeDataUpdatedAt,omitempty"`
}

type Stopover struct {
	Station   Station `json:"stop" msgpack:"stop"`
	Arrival   string  `json:"arrival,omitempty" msgpack:"arrival,omitempty"`
	Departure string  `json:"departure,omitempty" msgpack:"departure,omitempty"`
}

// Movement is a vehicle position reported by the radar.
type Movement struct {
	TripID        string          `json:"tripId,omitempty" msgpack:"tripId,omitempty"`
	Line          Line            `json:"line" msgpack:"line"`
	Direction     string          `json:"direction" msgpack:"direction"`
	Location      Location        `json:"location" msgpack:"location"`
	NextStopovers []Stopover      `json:"nextStopovers" msgpack:"nextStopovers"`
	Polyline      json.RawMessage `json:"polyline,omitempty" msgpack:"polyline,omitempty"`
}

type RadarResponse struct {
	Movements             []Movement `json:"movements" msgpack:"movements"`
	RealtimeDataUpdatedAt string     `json:"realtimeDataUpdatedAt,omitempty" msgpack:"realtimeDataUpdatedAt,omitempty"`
}

// loosely typed upstream payloads; every field may be missing or of the wrong shape

type rawLine struct {
	Name    *string         `json:"name"`
	Product json.RawMessage `json:"product"`
	Color   json.RawMessage `json:"color"`
}

type rawProduct struct {
	Short *string `json:"short"`
}

type rawColor struct {
	BG string `json:"bg"`
}

type rawLocation struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type rawStop struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Name     *string         `json:"name"`
	Location json.RawMessage `json:"location"`
}

type rawRemark struct {
	Text    string `json:"text"`
	Summary string `json:"summary"`
}

type rawDeparture struct {
	TripID      string            `json:"tripId"`
	Line        json.RawMessage   `json:"line"`
	Direction   *string           `json:"direction"`
	When        *string           `json:"when"`
	PlannedWhen *string           `json:"plannedWhen"`
	Delay       *int              `json:"delay"`
	Platform    *string           `json:"platform"`
	Remarks     []json.RawMessage `json:"remarks"`
}

type rawDepartures struct {
	Departures            json.RawMessage `json:"departures"`
	Stop                  json.RawMessage `json:"stop"`
	RealtimeDataUpdatedAt json.RawMessage `json:"realtimeDataUpdatedAt"`
}

type rawStopover struct {
	Stop      json.RawMessage `json:"stop"`
	Arrival   *string         `json:"arrival"`
	Departure *string         `json:"departure"`
}

type rawMovement struct {
	TripID        string            `json:"tripId"`
	Line          json.RawMessage   `json:"line"`
	Direction     *string           `json:"direction"`
	Location      json.RawMessage   `json:"location"`
	NextStopovers []json.RawMessage `json:"nextStopovers"`
	Polyline      json.RawMessage   `json:"polyline"`
}

type rawRadar struct {
	Movements             json.RawMessage `json:"movements"`
	RealtimeDataUpdatedAt json.RawMessage `json:"realtimeDataUpdatedAt"`
}
