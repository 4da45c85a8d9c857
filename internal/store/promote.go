package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/ev-readiness/pipeline/internal/station"
)

// promotedTables lists the staging/serving table pairs rpc("promote")
// swaps. schema_migrations, promotion.cycle_lock, and promotion.zip_progress
// are deliberately absent: they track process state across cycles and must
// survive a promotion untouched, not flip into staging.
var promotedTables = []string{"stations", "state_aggregates", "county_aggregates", "zip_aggregates"}

// Promote implements rpc("promote"): the atomic rename of the four
// staging/serving table pairs (stations, state_aggregates,
// county_aggregates, zip_aggregates) in a single transaction.
//
// Each pair is swapped with a four-step rename dance rather than a schema
// rename: Postgres has no single statement that exchanges two tables'
// names, so the old public table is parked under a scratch name, the
// staging table takes its place, and the scratch table moves into
// staging under the original name. Scoping the swap to just these four
// tables (instead of renaming the public/staging schemas wholesale)
// leaves schema_migrations in public and the coordination tables in the
// promotion schema untouched across every cycle.
func (s *Store) Promote(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "store: begin promote tx")
	}
	defer tx.Rollback(ctx)

	for _, t := range promotedTables {
		scratch := t + "_promote_old"
		stmts := []string{
			"ALTER TABLE public." + t + " RENAME TO " + scratch,
			"ALTER TABLE staging." + t + " SET SCHEMA public",
			"ALTER TABLE public." + scratch + " SET SCHEMA staging",
			"ALTER TABLE staging." + scratch + " RENAME TO " + t,
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return eris.Wrapf(err, "store: promote step %q", stmt)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "store: commit promote tx")
	}
	return nil
}

// StationsInPolygon implements rpc("stations_in_polygon", geojson): every
// staging station whose point lies within the given GeoJSON geometry.
// No pass of the refresh cycle calls it; the ZIP pass groups staging
// stations by their cleaned ZIP code.
func (s *Store) StationsInPolygon(ctx context.Context, geojson string) ([]station.Station, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, lat, lng, street_address, state, zip, level, num_ports, connectors, network, created_at
		FROM staging.stations
		WHERE ST_Contains(
			ST_SetSRID(ST_GeomFromGeoJSON($1), 4326),
			ST_SetSRID(ST_MakePoint(lng, lat), 4326))`, geojson)
	if err != nil {
		return nil, eris.Wrap(err, "store: query stations in polygon")
	}
	defer rows.Close()

	var stations []station.Station
	for rows.Next() {
		var st station.Station
		var level string
		var connectors []string
		if err := rows.Scan(&st.ID, &st.Name, &st.Lat, &st.Lng, &st.StreetAddress, &st.State, &st.Zip,
			&level, &st.NumPorts, &connectors, &st.Network, &st.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "store: scan station in polygon")
		}
		st.Level = station.Level(level)
		st.Connectors = make(map[station.Connector]bool, len(connectors))
		for _, c := range connectors {
			st.Connectors[station.Connector(c)] = true
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}
