package aggregate

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// WriteBatchSize is the batch size for both state/county and ZIP staging
// inserts (§4.E "insertion policy").
const WriteBatchSize = 500

var regionColumns = []string{
	"level", "state_code", "county_fips", "county_name", "zip_code",
	"center_lat", "center_lng", "population", "population_estimated",
	"total", "dcfast", "level2", "level1",
	"connector_tesla", "connector_ccs", "connector_j1772", "connector_chademo",
	"port_tesla", "port_ccs", "port_j1772", "port_chademo", "port_total",
	"need_score", "ev_infrastructure_score", "vmt_per_capita", "zoom_range",
}

func regionRow(r Region) []any {
	return []any{
		string(r.Level), r.StateCode, nullableString(r.CountyFIPS), nullableString(r.CountyName), nullableString(r.ZipCode),
		r.CenterLat, r.CenterLng, r.Population, r.PopulationEstimated,
		r.Total, r.DCFast, r.Level2, r.Level1,
		r.ConnectorTesla, r.ConnectorCCS, r.ConnectorJ1772, r.ConnectorCHAdeMO,
		r.PortTesla, r.PortCCS, r.PortJ1772, r.PortCHAdeMO, r.PortTotal,
		r.NeedScore, r.ReadinessScore, r.VMTPerCapita, string(r.ZoomRange),
	}
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// WriteStates deletes every staging state row and inserts regions in
// WriteBatchSize batches. State aggregation always regenerates the full
// set, so the delete matches every state-level row rather than a named
// subset of states.
func (a *Aggregator) WriteStates(ctx context.Context, regions []Region) error {
	return a.deleteAndInsert(ctx, "staging.state_aggregates", "level = 'state'", nil, regions)
}

// WriteCounties deletes and rewrites the county staging rows named by
// fips. A nil/empty fips rewrites every county row ("regions = all").
func (a *Aggregator) WriteCounties(ctx context.Context, fips []string, regions []Region) error {
	if len(fips) == 0 {
		return a.deleteAndInsert(ctx, "staging.county_aggregates", "level = 'county'", nil, regions)
	}
	return a.deleteAndInsert(ctx, "staging.county_aggregates", "level = 'county' AND county_fips = ANY($1)", fips, regions)
}

// WriteZips deletes and rewrites the ZIP staging rows named by zips.
func (a *Aggregator) WriteZips(ctx context.Context, zips []string, regions []Region) error {
	if len(zips) == 0 {
		return nil
	}
	return a.deleteAndInsert(ctx, "staging.zip_aggregates", "level = 'zip' AND zip_code = ANY($1)", zips, regions)
}

func (a *Aggregator) deleteAndInsert(ctx context.Context, table, deletePredicate string, deleteArgs []string, regions []Region) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "aggregate: begin tx for %s", table)
	}
	defer tx.Rollback(ctx)

	deleteSQL := "DELETE FROM " + table + " WHERE " + deletePredicate
	if deleteArgs == nil {
		_, err = tx.Exec(ctx, deleteSQL)
	} else {
		_, err = tx.Exec(ctx, deleteSQL, deleteArgs)
	}
	if err != nil {
		return eris.Wrapf(err, "aggregate: delete from %s", table)
	}

	for start := 0; start < len(regions); start += WriteBatchSize {
		end := start + WriteBatchSize
		if end > len(regions) {
			end = len(regions)
		}

		rows := make([][]any, 0, end-start)
		for _, r := range regions[start:end] {
			rows = append(rows, regionRow(r))
		}

		if _, err := tx.CopyFrom(ctx, pgx.Identifier{splitSchema(table), splitTable(table)}, regionColumns, pgx.CopyFromRows(rows)); err != nil {
			return eris.Wrapf(err, "aggregate: insert batch into %s", table)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrapf(err, "aggregate: commit %s write", table)
	}
	return nil
}

func splitSchema(qualified string) string {
	for i, c := range qualified {
		if c == '.' {
			return qualified[:i]
		}
	}
	return ""
}

func splitTable(qualified string) string {
	for i, c := range qualified {
		if c == '.' {
			return qualified[i+1:]
		}
	}
	return qualified
}
