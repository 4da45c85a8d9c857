package change

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/ev-readiness/pipeline/internal/geo"
	"github.com/ev-readiness/pipeline/internal/station"
)

// levelCounts is the per-level breakdown used to compare a serving ZIP
// aggregate row against the current staging grouping for that ZIP.
type levelCounts struct {
	DCFast int
	Level2 int
	Level1 int
}

// filterCurrentZips removes from affectedZips any ZIP whose serving
// aggregate row's per-level counts already match the current staging
// grouping, per §4.D's "already-current ZIPs are filtered out" rule.
func (d *Detector) filterCurrentZips(ctx context.Context, staging map[string]station.Station, affectedZips map[string]bool) error {
	stagingByZip := groupByZip(staging)

	for zip := range affectedZips {
		serving, err := d.servingZipCounts(ctx, zip)
		if err != nil {
			return eris.Wrapf(err, "change: serving counts for zip %s", zip)
		}
		if serving == nil {
			continue // no serving row yet: definitely affected
		}
		current := countLevels(stagingByZip[zip])
		if *serving == current {
			delete(affectedZips, zip)
		}
	}
	return nil
}

func (d *Detector) servingZipCounts(ctx context.Context, zip string) (*levelCounts, error) {
	var lc levelCounts
	row := d.pool.QueryRow(ctx, `
		SELECT dcfast, level2, level1 FROM zip_aggregates WHERE zip_code = $1`, zip)
	if err := row.Scan(&lc.DCFast, &lc.Level2, &lc.Level1); err != nil {
		if isNoRowsErr(err) {
			return nil, nil
		}
		return nil, err
	}
	return &lc, nil
}

func groupByZip(stations map[string]station.Station) map[string][]station.Station {
	byZip := make(map[string][]station.Station)
	for _, s := range stations {
		if s.Zip == "" {
			continue
		}
		byZip[s.Zip] = append(byZip[s.Zip], s)
	}
	return byZip
}

func countLevels(stations []station.Station) levelCounts {
	var lc levelCounts
	for _, s := range stations {
		switch s.Level {
		case station.DCFast:
			lc.DCFast++
		case station.Level2:
			lc.Level2++
		case station.Level1:
			lc.Level1++
		}
	}
	return lc
}

// deriveAffectedCounties resolves each affected ZIP to a county FIPS,
// preferring the static ZIP->county map and falling back to
// point-in-polygon against the county fixture for ZIPs the static map
// doesn't cover (§4.D: "the two derivation paths must agree" — when both
// are available for a ZIP, the static map is authoritative and the
// polygon path is a fallback, not a cross-check, since only one station
// sample is available per ZIP here).
func (d *Detector) deriveAffectedCounties(staging map[string]station.Station, affectedZips map[string]bool) (map[string]bool, error) {
	affectedCounties := make(map[string]bool)
	stagingByZip := groupByZip(staging)

	for zip := range affectedZips {
		if fips, ok := geo.CountyFIPSForZip(zip); ok {
			affectedCounties[fips] = true
			continue
		}
		members := stagingByZip[zip]
		if len(members) == 0 {
			continue
		}
		if fips, ok := d.countyForCoordinate(members[0].Lat, members[0].Lng); ok {
			affectedCounties[fips] = true
		}
	}
	return affectedCounties, nil
}

func (d *Detector) countyForCoordinate(lat, lng float64) (string, bool) {
	for _, c := range d.counties {
		if c.Contains(lat, lng) {
			return c.FIPS, true
		}
	}
	return "", false
}

func isNoRowsErr(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
