// Package aggregate groups staging stations into state, county, and ZIP
// region rows and scores each one (component E).
package aggregate

import (
	"github.com/ev-readiness/pipeline/internal/station"
)

// RegionLevel discriminates the three aggregate variants sharing one schema.
type RegionLevel string

const (
	LevelState  RegionLevel = "state"
	LevelCounty RegionLevel = "county"
	LevelZip    RegionLevel = "zip"
)

// ZoomRange tags which display tier a region row is intended for.
type ZoomRange string

const (
	ZoomState  ZoomRange = "0-4"
	ZoomCounty ZoomRange = "5-8"
	ZoomZip    ZoomRange = "9-15"
)

// Region is the shared schema for state/county/ZIP aggregates (§3).
type Region struct {
	Level RegionLevel

	StateCode  string // two-letter, always populated
	CountyFIPS string // county only
	CountyName string // county only
	ZipCode    string // zip only

	CenterLat float64
	CenterLng float64

	Population          float64
	PopulationEstimated bool

	Total  int
	DCFast int
	Level2 int
	Level1 int

	ConnectorTesla   int
	ConnectorCCS     int
	ConnectorJ1772   int
	ConnectorCHAdeMO int

	PortTesla   int
	PortCCS     int
	PortJ1772   int
	PortCHAdeMO int
	PortTotal   int

	// NeedScore is §4.F's opportunity score (need_score in the schema):
	// high where demand outstrips existing charger supply.
	NeedScore int
	// ReadinessScore is §4.F's readiness score (ev_infrastructure_score in
	// the schema).
	ReadinessScore int

	VMTPerCapita *float64
	ZoomRange    ZoomRange
}

// Key identifies a region row uniquely within its level for DELETE/INSERT
// write targeting (§4.E "insertion policy").
func (r Region) Key() string {
	switch r.Level {
	case LevelState:
		return r.StateCode
	case LevelCounty:
		return r.StateCode + "/" + r.CountyFIPS
	case LevelZip:
		return r.StateCode + "/" + r.ZipCode
	default:
		return ""
	}
}

// Weighted is the charger-level-weighted demand figure scoring consumes
// (§4.E: "weighted = 1.0*dcfast + 0.7*level2 + 0.3*level1").
func (r Region) Weighted() float64 {
	return 1.0*float64(r.DCFast) + 0.7*float64(r.Level2) + 0.3*float64(r.Level1)
}

// accumulator builds up a Region's counts from member stations before
// population/scoring are attached.
type accumulator struct {
	lat, lng    float64
	count       int
	dcfast      int
	level2      int
	level1      int
	connTesla   int
	connCCS     int
	connJ1772   int
	connCHAdeMO int
	portTesla   int
	portCCS     int
	portJ1772   int
	portCHAdeMO int
	portTotal   int
}

func newAccumulator() *accumulator {
	return &accumulator{}
}

func (a *accumulator) add(s station.Station) {
	a.lat += s.Lat
	a.lng += s.Lng
	a.count++
	a.portTotal += s.NumPorts

	switch s.Level {
	case station.DCFast:
		a.dcfast++
	case station.Level2:
		a.level2++
	case station.Level1:
		a.level1++
	}

	if s.HasConnector(station.ConnectorTesla) {
		a.connTesla++
		a.portTesla += s.NumPorts
	}
	if s.HasConnector(station.ConnectorJ1772Combo) {
		a.connCCS++
		a.portCCS += s.NumPorts
	}
	if s.HasConnector(station.ConnectorJ1772) {
		a.connJ1772++
		a.portJ1772 += s.NumPorts
	}
	if s.HasConnector(station.ConnectorCHAdeMO) {
		a.connCHAdeMO++
		a.portCHAdeMO += s.NumPorts
	}
}

func (a *accumulator) centroid() (lat, lng float64) {
	if a.count == 0 {
		return 0, 0
	}
	return a.lat / float64(a.count), a.lng / float64(a.count)
}

func (a *accumulator) applyTo(r *Region) {
	r.Total = a.count
	r.DCFast = a.dcfast
	r.Level2 = a.level2
	r.Level1 = a.level1
	r.ConnectorTesla = a.connTesla
	r.ConnectorCCS = a.connCCS
	r.ConnectorJ1772 = a.connJ1772
	r.ConnectorCHAdeMO = a.connCHAdeMO
	r.PortTesla = a.portTesla
	r.PortCCS = a.portCCS
	r.PortJ1772 = a.portJ1772
	r.PortCHAdeMO = a.portCHAdeMO
	r.PortTotal = a.portTotal
	r.CenterLat, r.CenterLng = a.centroid()
}
