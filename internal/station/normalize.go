package station

import (
	"strconv"
	"strings"
	"time"
)

// RawRecord is the shape of one entry in the upstream registry's
// fuel_stations array (§6).
type RawRecord struct {
	ID                string
	StationName       string
	Latitude          float64
	Longitude         float64
	StreetAddress     string
	City              string
	State             string
	Zip               string
	EVConnectorTypes  []string
	EVDCFastNum       int
	EVLevel2EVSENum   int
	EVLevel1EVSENum   int
	EVNetwork         string
}

// RejectionReason names why Normalize refused a raw record.
type RejectionReason string

const (
	ReasonMissingCoordinates RejectionReason = "missing-coordinates"
	ReasonMissingName        RejectionReason = "missing-name"
	ReasonOutsideUSEnvelope  RejectionReason = "outside-us-envelope"
)

// RejectionError reports a per-record validation failure (§7
// validation-error). It is counted by the caller but never aborts a cycle.
type RejectionError struct {
	Reason RejectionReason
}

func (e *RejectionError) Error() string {
	return "station: rejected: " + string(e.Reason)
}

func reject(reason RejectionReason) (Station, error) {
	return Station{}, &RejectionError{Reason: reason}
}

// Normalize maps a raw upstream record onto the canonical Station, or
// returns a *RejectionError naming why the record was refused. It is pure
// and side-effect-free; normalizing the canonical projection of its output
// back into a RawRecord yields the same Station (a fixed point).
func Normalize(raw RawRecord, now time.Time) (Station, error) {
	if strings.TrimSpace(raw.StationName) == "" {
		return reject(ReasonMissingName)
	}
	if raw.Latitude == 0 && raw.Longitude == 0 {
		return reject(ReasonMissingCoordinates)
	}
	if !WithinUSEnvelope(raw.Latitude, raw.Longitude) {
		return reject(ReasonOutsideUSEnvelope)
	}

	connectors := make(map[Connector]bool, len(raw.EVConnectorTypes))
	for _, c := range raw.EVConnectorTypes {
		connectors[classifyConnector(c)] = true
	}

	level, numPorts := classifyLevel(raw, connectors)

	return Station{
		ID:            raw.ID,
		Name:          strings.TrimSpace(raw.StationName),
		Lat:           raw.Latitude,
		Lng:           raw.Longitude,
		StreetAddress: strings.TrimSpace(raw.StreetAddress),
		State:         strings.ToUpper(strings.TrimSpace(raw.State)),
		Zip:           cleanZip(raw.Zip),
		Level:         level,
		NumPorts:      numPorts,
		Connectors:    connectors,
		Network:       strings.TrimSpace(raw.EVNetwork),
		CreatedAt:     now,
	}, nil
}

func classifyConnector(raw string) Connector {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(ConnectorTesla):
		return ConnectorTesla
	case string(ConnectorJ1772):
		return ConnectorJ1772
	case string(ConnectorJ1772Combo):
		return ConnectorJ1772Combo
	case string(ConnectorCHAdeMO):
		return ConnectorCHAdeMO
	default:
		return ConnectorOther
	}
}

// classifyLevel implements §4.B's level rule: dcfast iff a DC-fast port is
// reported or the connector set carries J1772COMBO/CHAdeMO/Tesla; else
// level2 iff any level-2 port; else level1. num_ports is at least 1.
func classifyLevel(raw RawRecord, connectors map[Connector]bool) (Level, int) {
	isDCFast := raw.EVDCFastNum > 0 ||
		connectors[ConnectorJ1772Combo] ||
		connectors[ConnectorCHAdeMO] ||
		connectors[ConnectorTesla]

	if isDCFast {
		return DCFast, maxInt(1, raw.EVDCFastNum)
	}
	if raw.EVLevel2EVSENum > 0 {
		return Level2, maxInt(1, raw.EVLevel2EVSENum)
	}
	return Level1, maxInt(1, raw.EVLevel1EVSENum)
}

// cleanZip returns the first 5 characters of a trimmed ZIP if they are all
// numeric, otherwise "".
func cleanZip(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) < 5 {
		return ""
	}
	prefix := trimmed[:5]
	if _, err := strconv.Atoi(prefix); err != nil {
		return ""
	}
	return prefix
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
