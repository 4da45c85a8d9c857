package registry

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ev-readiness/pipeline/internal/db"
	"github.com/ev-readiness/pipeline/internal/station"
)

// Result reports the outcome of one Ingest call (§4.C).
type Result struct {
	Inserted int
	Rejected int
}

// stationColumns matches the staging.stations table layout.
var stationColumns = []string{
	"id", "name", "lat", "lng", "street_address", "state", "zip",
	"level", "num_ports", "connectors", "network", "created_at",
}

// Ingest fetches the full upstream registry, normalizes every record via
// internal/station, and bulk-loads survivors into the staging station
// table in chunks. A chunk's insert failure aborts the cycle with an
// upstream-error; a chunk with zero surviving rows after normalization is
// not itself an error. The staging table is truncated before the first
// chunk so Ingest is idempotent across retried cycles.
func (d *Driver) Ingest(ctx context.Context) (Result, error) {
	records, err := d.fetchAll(ctx)
	if err != nil {
		return Result{}, eris.Wrap(err, "registry: ingest")
	}

	if err := d.truncateStaging(ctx); err != nil {
		return Result{}, eris.Wrap(err, "registry: truncate staging before ingest")
	}

	now := time.Now()
	var result Result

	for start := 0; start < len(records); start += ChunkSize {
		end := start + ChunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		rows := make([][]any, 0, len(chunk))
		for _, raw := range chunk {
			st, err := station.Normalize(raw, now)
			if err != nil {
				result.Rejected++
				zap.L().Debug("registry: rejected record", zap.String("id", raw.ID), zap.Error(err))
				continue
			}
			rows = append(rows, stationRow(st))
		}

		if len(rows) == 0 {
			continue
		}

		if err := d.insertChunk(ctx, rows); err != nil {
			return result, eris.Wrapf(err, "registry: insert chunk [%d:%d]", start, end)
		}
		result.Inserted += len(rows)

		if end < len(records) {
			time.Sleep(ChunkPause)
		}
	}

	return result, nil
}

func stationRow(s station.Station) []any {
	connectors := make([]string, 0, len(s.Connectors))
	for c := range s.Connectors {
		connectors = append(connectors, string(c))
	}
	return []any{
		s.ID, s.Name, s.Lat, s.Lng, s.StreetAddress, s.State, s.Zip,
		string(s.Level), s.NumPorts, connectors, s.Network, s.CreatedAt,
	}
}

func (d *Driver) truncateStaging(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, `TRUNCATE staging.stations`)
	return err
}

func (d *Driver) insertChunk(ctx context.Context, rows [][]any) error {
	insertCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := db.CopyFromSchema(insertCtx, d.pool, "staging", "stations", stationColumns, rows)
	return err
}
