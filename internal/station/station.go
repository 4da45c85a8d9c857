// Package station defines the canonical station record and the pure
// normalizer that maps raw upstream registry records onto it.
package station

import "time"

// Level is the charger classification, ordered by capability.
type Level string

const (
	Level1 Level = "level1"
	Level2 Level = "level2"
	DCFast Level = "dcfast"
)

// Connector identifies a physical plug type.
type Connector string

const (
	ConnectorTesla      Connector = "TESLA"
	ConnectorJ1772      Connector = "J1772"
	ConnectorJ1772Combo Connector = "J1772COMBO"
	ConnectorCHAdeMO    Connector = "CHADEMO"
	ConnectorOther      Connector = "other"
)

// Station is the canonical record produced by Normalize. It is never
// mutated in place; a refreshed record with the same ID replaces the old
// one wholesale.
type Station struct {
	ID            string
	Name          string
	Lat           float64
	Lng           float64
	StreetAddress string
	State         string
	Zip           string // 5-digit, or "" when absent
	Level         Level
	NumPorts      int
	Connectors    map[Connector]bool
	Network       string
	CreatedAt     time.Time
}

// ConnectorSet returns the station's connectors as a sorted-independent set
// for multiset-agnostic comparison (see change.stationsDiffer).
func (s Station) ConnectorSet() map[Connector]bool {
	if s.Connectors == nil {
		return map[Connector]bool{}
	}
	return s.Connectors
}

// HasConnector reports whether the station exposes the given connector.
func (s Station) HasConnector(c Connector) bool {
	return s.Connectors[c]
}

// USEnvelope bounds latitude/longitude accepted for a station (§3).
const (
	MinLat = 24.5
	MaxLat = 71.5
	MinLng = -179.0
	MaxLng = -66.0
)

// WithinUSEnvelope reports whether the coordinates fall inside the
// accepted U.S. bounding envelope.
func WithinUSEnvelope(lat, lng float64) bool {
	return lat >= MinLat && lat <= MaxLat && lng >= MinLng && lng <= MaxLng
}
