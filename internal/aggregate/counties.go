package aggregate

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/ev-readiness/pipeline/internal/geo"
	"github.com/ev-readiness/pipeline/internal/reference"
	"github.com/ev-readiness/pipeline/internal/score"
	"github.com/ev-readiness/pipeline/internal/station"
)

// CountyBuffer is the bbox expansion applied to each county's bounding box
// before candidate selection (§4.E).
const CountyBuffer = 0.05

// maxCountyBuildConcurrency bounds in-flight per-county reference lookups
// (population and VMT) during a county pass (§5).
const maxCountyBuildConcurrency = 10

// AggregateCounties runs the county pass. targetedFIPS selects which
// counties to rewrite; a nil or empty set rewrites every county in the
// loaded fixture ("regions = all").
func (a *Aggregator) AggregateCounties(ctx context.Context, targetedFIPS map[string]bool) ([]Region, error) {
	stations, err := loadStagingStations(ctx, a.pool)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: load staging stations for county pass")
	}

	byState := make(map[string][]station.Station)
	for _, s := range stations {
		byState[s.State] = append(byState[s.State], s)
	}

	all := len(targetedFIPS) == 0

	var targeted []geo.County
	for _, county := range a.counties {
		if !all && !targetedFIPS[county.FIPS] {
			continue
		}
		targeted = append(targeted, county)
	}

	regions := make([]Region, len(targeted))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxCountyBuildConcurrency)

	for i, county := range targeted {
		members := candidateStations(county, byState[county.State])
		g.Go(func() error {
			region, err := a.buildCountyRegion(gctx, county, members)
			if err != nil {
				return eris.Wrapf(err, "aggregate: build county region %s", county.FIPS)
			}
			regions[i] = region
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return regions, nil
}

// candidateStations selects stations matching the county's state and
// falling within its bbox plus CountyBuffer degrees. Overlapping county
// bboxes can both claim the same station; §4.E's candidate-selection rule
// doesn't refine this with polygon containment, so a station near a county
// line can be double-counted, same as the source algorithm.
func candidateStations(county geo.County, members []station.Station) []station.Station {
	minLat, maxLat, minLng, maxLng := county.BBoxWithBuffer(CountyBuffer)

	var out []station.Station
	for _, s := range members {
		if s.Lat < minLat || s.Lat > maxLat || s.Lng < minLng || s.Lng > maxLng {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (a *Aggregator) buildCountyRegion(ctx context.Context, county geo.County, members []station.Station) (Region, error) {
	region := Region{
		Level:      LevelCounty,
		StateCode:  county.State,
		CountyFIPS: county.FIPS,
		CountyName: county.Name,
		ZoomRange:  ZoomCounty,
	}

	acc := newAccumulator()
	for _, s := range members {
		acc.add(s)
	}
	acc.applyTo(&region)

	pop, err := a.refCache.Population(ctx, reference.RegionCounty, county.FIPS, county.Name)
	if err != nil {
		return Region{}, eris.Wrap(err, "aggregate: population lookup")
	}
	region.Population = pop.Value
	region.PopulationEstimated = pop.Source == reference.SourceEstimate

	var vmt *float64
	if v, ok, err := a.refCache.VMTPerCapita(ctx, county.FIPS); err != nil {
		return Region{}, eris.Wrap(err, "aggregate: vmt lookup")
	} else if ok {
		vmt = &v
		region.VMTPerCapita = &v
	}

	region.NeedScore = score.Opportunity(float64(region.Total), region.Population, vmt)
	region.ReadinessScore = score.Readiness(region.Weighted(), region.Population, vmt, false)

	return region, nil
}
