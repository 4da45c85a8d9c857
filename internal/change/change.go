// Package change diffs the staging and serving station sets and derives
// the affected-region sets that drive the aggregation engine (component D).
package change

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/ev-readiness/pipeline/internal/db"
	"github.com/ev-readiness/pipeline/internal/geo"
	"github.com/ev-readiness/pipeline/internal/station"
)

// Totals carries the post-filter sizes of a Detect call.
type Totals struct {
	States   int
	Counties int
	Zips     int
}

// Result is the outcome of Detect (§4.D).
type Result struct {
	AffectedStates   map[string]bool
	AffectedCounties map[string]bool // FIPS codes
	AffectedZips     map[string]bool
	Totals           Totals
}

// Detector reads the staging and serving station tables and diffs them.
type Detector struct {
	pool     db.Pool
	counties []geo.County
}

// New constructs a Detector. counties is the loaded county boundary
// fixture, used to resolve ZIP/station coordinates to a county FIPS when
// the static map in internal/geo doesn't carry an entry.
func New(pool db.Pool, counties []geo.County) *Detector {
	return &Detector{pool: pool, counties: counties}
}

// Detect reads both station tables, computes added/removed/modified sets,
// and returns the three affected-region sets with already-current ZIPs
// filtered out (§4.D).
func (d *Detector) Detect(ctx context.Context) (Result, error) {
	staging, err := d.loadStations(ctx, "staging.stations")
	if err != nil {
		return Result{}, eris.Wrap(err, "change: load staging stations")
	}
	serving, err := d.loadStations(ctx, "stations")
	if err != nil {
		return Result{}, eris.Wrap(err, "change: load serving stations")
	}

	affectedStates, affectedZips := diff(staging, serving)

	if err := d.filterCurrentZips(ctx, staging, affectedZips); err != nil {
		return Result{}, eris.Wrap(err, "change: filter current zips")
	}

	affectedCounties, err := d.deriveAffectedCounties(staging, affectedZips)
	if err != nil {
		return Result{}, eris.Wrap(err, "change: derive affected counties")
	}

	return Result{
		AffectedStates:   affectedStates,
		AffectedCounties: affectedCounties,
		AffectedZips:     affectedZips,
		Totals: Totals{
			States:   len(affectedStates),
			Counties: len(affectedCounties),
			Zips:     len(affectedZips),
		},
	}, nil
}

// diff computes added/removed/modified station changes and, for each,
// records the affected state and ZIP (and, for a move, the station's
// previous state/ZIP too).
func diff(staging, serving map[string]station.Station) (states, zips map[string]bool) {
	states = map[string]bool{}
	zips = map[string]bool{}

	mark := func(s station.Station) {
		if s.State != "" {
			states[s.State] = true
		}
		if s.Zip != "" {
			zips[s.Zip] = true
		}
	}

	for id, s := range staging {
		if old, ok := serving[id]; !ok {
			mark(s) // added
		} else if stationsDiffer(s, old) {
			mark(s)   // modified, new location
			mark(old) // modified, previous location (covers moves)
		}
	}
	for id, s := range serving {
		if _, ok := staging[id]; !ok {
			mark(s) // removed
		}
	}

	return states, zips
}

// stationsDiffer reports whether two station snapshots of the same ID
// represent a meaningful change per §4.D: level, connector multiset,
// coordinates (> 0.001 degree delta), state, or ZIP.
func stationsDiffer(a, b station.Station) bool {
	if a.Level != b.Level {
		return true
	}
	if a.State != b.State || a.Zip != b.Zip {
		return true
	}
	if abs(a.Lat-b.Lat) > 0.001 || abs(a.Lng-b.Lng) > 0.001 {
		return true
	}
	return !connectorSetsEqual(a.ConnectorSet(), b.ConnectorSet())
}

func connectorSetsEqual(a, b map[station.Connector]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for c := range a {
		if !b[c] {
			return false
		}
	}
	return true
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func (d *Detector) loadStations(ctx context.Context, table string) (map[string]station.Station, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, name, lat, lng, street_address, state, zip, level, num_ports, connectors, network, created_at
		FROM `+table)
	if err != nil {
		return nil, eris.Wrapf(err, "change: query %s", table)
	}
	defer rows.Close()

	result := make(map[string]station.Station)
	for rows.Next() {
		var s station.Station
		var level string
		var connectors []string
		if err := rows.Scan(&s.ID, &s.Name, &s.Lat, &s.Lng, &s.StreetAddress, &s.State, &s.Zip,
			&level, &s.NumPorts, &connectors, &s.Network, &s.CreatedAt); err != nil {
			return nil, eris.Wrapf(err, "change: scan row from %s", table)
		}
		s.Level = station.Level(level)
		s.Connectors = make(map[station.Connector]bool, len(connectors))
		for _, c := range connectors {
			s.Connectors[station.Connector(c)] = true
		}
		result[s.ID] = s
	}
	return result, rows.Err()
}

// SortedKeys returns a set's members in lexicographic order, used by G to
// make chunk resumption deterministic.
func SortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
