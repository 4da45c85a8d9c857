package aggregate

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ev-readiness/pipeline/internal/db"
	"github.com/ev-readiness/pipeline/internal/geo"
	"github.com/ev-readiness/pipeline/internal/reference"
	"github.com/ev-readiness/pipeline/internal/score"
	"github.com/ev-readiness/pipeline/internal/station"
)

// AggregateStates runs the full state pass: a single scan over staging
// stations grouped by state, regenerating every state row regardless of
// which regions D marked affected (the group-by is cheap enough that
// targeted updates aren't worth the complexity, per §4.E).
func (a *Aggregator) AggregateStates(ctx context.Context) ([]Region, error) {
	stations, err := loadStagingStations(ctx, a.pool)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: load staging stations for state pass")
	}

	byState := make(map[string][]station.Station)
	for _, s := range stations {
		if s.State == "" {
			continue
		}
		byState[s.State] = append(byState[s.State], s)
	}

	regions := make([]Region, 0, len(geo.StateFIPSByAbbrev))
	for code := range geo.StateFIPSByAbbrev {
		region, err := a.buildStateRegion(ctx, code, byState[code])
		if err != nil {
			return nil, eris.Wrapf(err, "aggregate: build state region %s", code)
		}
		regions = append(regions, region)
	}

	return regions, nil
}

func (a *Aggregator) buildStateRegion(ctx context.Context, code string, members []station.Station) (Region, error) {
	region := Region{
		Level:     LevelState,
		StateCode: code,
		ZoomRange: ZoomState,
	}

	acc := newAccumulator()
	for _, s := range members {
		acc.add(s)
	}
	acc.applyTo(&region)

	pop, err := a.refCache.Population(ctx, reference.RegionState, code, code)
	if err != nil {
		return Region{}, eris.Wrap(err, "aggregate: population lookup")
	}
	region.Population = pop.Value
	region.PopulationEstimated = pop.Source == reference.SourceEstimate

	region.NeedScore = score.Opportunity(float64(region.Total), region.Population, nil)
	region.ReadinessScore = score.Readiness(region.Weighted(), region.Population, nil, false)

	if region.Total == 0 {
		zap.L().Debug("aggregate: state has no staging stations", zap.String("state", code))
	}

	return region, nil
}

func loadStagingStations(ctx context.Context, pool db.Pool) ([]station.Station, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, name, lat, lng, street_address, state, zip, level, num_ports, connectors, network, created_at
		FROM staging.stations`)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: query staging.stations")
	}
	defer rows.Close()

	var stations []station.Station
	for rows.Next() {
		var s station.Station
		var level string
		var connectors []string
		if err := rows.Scan(&s.ID, &s.Name, &s.Lat, &s.Lng, &s.StreetAddress, &s.State, &s.Zip,
			&level, &s.NumPorts, &connectors, &s.Network, &s.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "aggregate: scan staging.stations row")
		}
		s.Level = station.Level(level)
		s.Connectors = make(map[station.Connector]bool, len(connectors))
		for _, c := range connectors {
			s.Connectors[station.Connector(c)] = true
		}
		stations = append(stations, s)
	}
	return stations, rows.Err()
}
