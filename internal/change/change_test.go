package change

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ev-readiness/pipeline/internal/station"
)

func mkStation(id, state, zip string, level station.Level, lat, lng float64, connectors ...station.Connector) station.Station {
	cs := make(map[station.Connector]bool, len(connectors))
	for _, c := range connectors {
		cs[c] = true
	}
	return station.Station{
		ID: id, State: state, Zip: zip, Level: level, Lat: lat, Lng: lng,
		NumPorts: 1, Connectors: cs, CreatedAt: time.Now(),
	}
}

func TestDiff_Added(t *testing.T) {
	staging := map[string]station.Station{
		"1": mkStation("1", "CA", "94110", station.DCFast, 37.75, -122.41),
	}
	serving := map[string]station.Station{}

	states, zips := diff(staging, serving)
	assert.True(t, states["CA"])
	assert.True(t, zips["94110"])
}

func TestDiff_Removed(t *testing.T) {
	staging := map[string]station.Station{}
	serving := map[string]station.Station{
		"1": mkStation("1", "NV", "89109", station.DCFast, 36.11, -115.17),
	}

	states, zips := diff(staging, serving)
	assert.True(t, states["NV"])
	assert.True(t, zips["89109"])
}

func TestDiff_ModifiedConnectorSet(t *testing.T) {
	staging := map[string]station.Station{
		"1": mkStation("1", "CA", "94110", station.DCFast, 37.75, -122.41, station.ConnectorTesla, station.ConnectorJ1772Combo),
	}
	serving := map[string]station.Station{
		"1": mkStation("1", "CA", "94110", station.DCFast, 37.75, -122.41, station.ConnectorTesla),
	}

	states, zips := diff(staging, serving)
	assert.True(t, states["CA"])
	assert.True(t, zips["94110"])
}

func TestDiff_UnchangedProducesNoAffectedRegions(t *testing.T) {
	s := mkStation("1", "CA", "94110", station.DCFast, 37.75, -122.41, station.ConnectorTesla)
	staging := map[string]station.Station{"1": s}
	serving := map[string]station.Station{"1": s}

	states, zips := diff(staging, serving)
	assert.Empty(t, states)
	assert.Empty(t, zips)
}

func TestDiff_CoordinateDriftBelowThresholdIsNotAChange(t *testing.T) {
	staging := map[string]station.Station{
		"1": mkStation("1", "CA", "94110", station.DCFast, 37.75001, -122.41, station.ConnectorTesla),
	}
	serving := map[string]station.Station{
		"1": mkStation("1", "CA", "94110", station.DCFast, 37.75, -122.41, station.ConnectorTesla),
	}

	states, zips := diff(staging, serving)
	assert.Empty(t, states)
	assert.Empty(t, zips)
}

func TestDiff_CoordinateDriftAboveThresholdIsAChange(t *testing.T) {
	staging := map[string]station.Station{
		"1": mkStation("1", "CA", "94110", station.DCFast, 37.80, -122.41, station.ConnectorTesla),
	}
	serving := map[string]station.Station{
		"1": mkStation("1", "CA", "94110", station.DCFast, 37.75, -122.41, station.ConnectorTesla),
	}

	states, zips := diff(staging, serving)
	assert.True(t, states["CA"])
	assert.True(t, zips["94110"])
}

// TestDiff_Symmetry exercises spec.md §8's change-detector symmetry
// property: the added set of Detect(A, B) equals the removed set of
// Detect(B, A).
func TestDiff_Symmetry(t *testing.T) {
	a := map[string]station.Station{
		"1": mkStation("1", "CA", "94110", station.DCFast, 37.75, -122.41),
		"2": mkStation("2", "NV", "89109", station.DCFast, 36.11, -115.17),
	}
	b := map[string]station.Station{
		"2": mkStation("2", "NV", "89109", station.DCFast, 36.11, -115.17),
	}

	statesAB, zipsAB := diff(a, b) // a is "staging", b is "serving": 1 is added
	statesBA, zipsBA := diff(b, a) // b is "staging", a is "serving": 1 is removed

	assert.Equal(t, statesAB, statesBA)
	assert.Equal(t, zipsAB, zipsBA)
}

func TestStationsDiffer_LevelChange(t *testing.T) {
	a := mkStation("1", "CA", "94110", station.DCFast, 37.75, -122.41)
	b := mkStation("1", "CA", "94110", station.Level2, 37.75, -122.41)
	assert.True(t, stationsDiffer(a, b))
}

func TestSortedKeys_Deterministic(t *testing.T) {
	set := map[string]bool{"89109": true, "94110": true, "10001": true}
	assert.Equal(t, []string{"10001", "89109", "94110"}, SortedKeys(set))
}
