package aggregate

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/ev-readiness/pipeline/internal/reference"
	"github.com/ev-readiness/pipeline/internal/score"
	"github.com/ev-readiness/pipeline/internal/station"
)

// GroupStagingByZip loads every staging station matching one of zips and
// groups it by cleaned ZIP code. Used by the ZIP sub-pipeline to pull one
// chunk's worth of stations in a single query (§4.G).
func (a *Aggregator) GroupStagingByZip(ctx context.Context, zips []string) (map[string][]station.Station, error) {
	if len(zips) == 0 {
		return map[string][]station.Station{}, nil
	}

	rows, err := a.pool.Query(ctx, `
		SELECT id, name, lat, lng, street_address, state, zip, level, num_ports, connectors, network, created_at
		FROM staging.stations WHERE zip = ANY($1)`, zips)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: query staging stations by zip")
	}
	defer rows.Close()

	groups := make(map[string][]station.Station)
	for rows.Next() {
		var s station.Station
		var level string
		var connectors []string
		if err := rows.Scan(&s.ID, &s.Name, &s.Lat, &s.Lng, &s.StreetAddress, &s.State, &s.Zip,
			&level, &s.NumPorts, &connectors, &s.Network, &s.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "aggregate: scan staging station row")
		}
		s.Level = station.Level(level)
		s.Connectors = make(map[station.Connector]bool, len(connectors))
		for _, c := range connectors {
			s.Connectors[station.Connector(c)] = true
		}
		groups[s.Zip] = append(groups[s.Zip], s)
	}
	return groups, rows.Err()
}

// BuildZipRegions computes one Region per ZIP in groups, batching
// population lookups at reference.ZipBatchLimit codes per request (§4.E).
// A ZIP with no member stations is skipped: the ZIP sub-pipeline only
// rewrites ZIPs that currently have staging stations.
func (a *Aggregator) BuildZipRegions(ctx context.Context, groups map[string][]station.Station) ([]Region, error) {
	zips := make([]string, 0, len(groups))
	for zip, members := range groups {
		if len(members) > 0 {
			zips = append(zips, zip)
		}
	}

	populations := make(map[string]reference.PopulationResult, len(zips))
	for start := 0; start < len(zips); start += reference.ZipBatchLimit {
		end := start + reference.ZipBatchLimit
		if end > len(zips) {
			end = len(zips)
		}
		batch, err := a.refCache.PopulationBatch(ctx, zips[start:end])
		if err != nil {
			return nil, eris.Wrap(err, "aggregate: zip population batch")
		}
		for zip, result := range batch {
			populations[zip] = result
		}
	}

	regions := make([]Region, 0, len(zips))
	for _, zip := range zips {
		members := groups[zip]
		region := buildZipRegion(zip, members, populations[zip])
		regions = append(regions, region)
	}
	return regions, nil
}

func buildZipRegion(zip string, members []station.Station, pop reference.PopulationResult) Region {
	region := Region{
		Level:     LevelZip,
		ZipCode:   zip,
		ZoomRange: ZoomZip,
	}
	if len(members) > 0 {
		region.StateCode = members[0].State
	}

	acc := newAccumulator()
	for _, s := range members {
		acc.add(s)
	}
	acc.applyTo(&region)

	region.Population = pop.Value
	region.PopulationEstimated = pop.Source == reference.SourceEstimate

	region.NeedScore = score.Opportunity(float64(region.Total), region.Population, nil)
	region.ReadinessScore = score.Readiness(region.Weighted(), region.Population, nil, false)

	return region
}
