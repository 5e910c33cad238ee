package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stats is a snapshot of cache counters.
type Stats struct {
	// ResidentSize is the number of entries held by the active backend.
	ResidentSize int
	Hits         int64
	Misses       int64
	// HitRate is hits / (hits + misses), 0 when nothing was looked up.
	HitRate float64
	Backend string
	// DistributedKeyCount is set while Redis is the active backend.
	DistributedKeyCount *int
	// Failures counts every Redis error since start.
	Failures          int64
	Demoted           bool
	Reconnecting      bool
	ReconnectAttempts int
	NextReconnect     time.Time
}

// HitRatePercent renders the hit rate as a percentage with two decimals.
func (s Stats) HitRatePercent() string {
	return fmt.Sprintf("%.2f%%", s.HitRate*100)
}

type statsJSON struct {
	ResidentSize        int        `json:"resident_size"`
	Hits                int64      `json:"hits"`
	Misses              int64      `json:"misses"`
	HitRate             string     `json:"hit_rate"`
	Backend             string     `json:"backend"`
	DistributedKeyCount *int       `json:"distributed_key_count,omitempty"`
	Failures            int64      `json:"failures"`
	Demoted             bool       `json:"demoted"`
	Reconnecting        bool       `json:"reconnecting"`
	ReconnectAttempts   int        `json:"reconnect_attempts,omitempty"`
	NextReconnect       *time.Time `json:"next_reconnect,omitempty"`
}

func (s Stats) MarshalJSON() ([]byte, error) {
	out := statsJSON{
		ResidentSize:        s.ResidentSize,
		Hits:                s.Hits,
		Misses:              s.Misses,
		HitRate:             s.HitRatePercent(),
		Backend:             s.Backend,
		DistributedKeyCount: s.DistributedKeyCount,
		Failures:            s.Failures,
		Demoted:             s.Demoted,
		Reconnecting:        s.Reconnecting,
		ReconnectAttempts:   s.ReconnectAttempts,
	}
	if !s.NextReconnect.IsZero() {
		t := s.NextReconnect.UTC()
		out.NextReconnect = &t
	}
	return json.Marshal(out)
}
