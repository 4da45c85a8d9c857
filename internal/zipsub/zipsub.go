// Package zipsub implements the resumable ZIP sub-pipeline (component G):
// it drains the affected-ZIP residual set in lexicographic chunks so a
// host-imposed wall-clock ceiling shorter than one full rebuild can't lose
// progress — a later invocation picks up the remaining ZIPs rather than
// restarting.
package zipsub

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ev-readiness/pipeline/internal/aggregate"
	"github.com/ev-readiness/pipeline/internal/db"
)

// ChunkSize is the number of ZIPs drawn per chunk (§4.G).
const ChunkSize = 100

// ChunkPause is the backpressure sleep applied between chunks (§4.G).
const ChunkPause = 200 * time.Millisecond

// Result is G's terminal status for one Run call.
type Result struct {
	Complete   bool
	Completion float64 // |completed zips| / |affected zips|, in [0,1]
}

// Runner drives the ZIP sub-pipeline against a persisted residual set
// keyed by cycle id.
type Runner struct {
	pool db.Pool
	agg  *aggregate.Aggregator
}

// New constructs a Runner. agg supplies the region-building and staging
// write helpers shared with the state/county passes.
func New(pool db.Pool, agg *aggregate.Aggregator) *Runner {
	return &Runner{pool: pool, agg: agg}
}

// StartCycle persists the affected-ZIP residual set for cycleID. Safe to
// call more than once for the same cycle: rows already seeded are left
// untouched, so a retry after a crash doesn't reset completed work.
func (r *Runner) StartCycle(ctx context.Context, cycleID string, affectedZips []string) error {
	for _, zip := range affectedZips {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO promotion.zip_progress (cycle_id, zip, completed_at)
			VALUES ($1, $2, NULL)
			ON CONFLICT (cycle_id, zip) DO NOTHING`, cycleID, zip)
		if err != nil {
			return eris.Wrapf(err, "zipsub: seed residual zip %s", zip)
		}
	}
	return nil
}

// Run drains up to maxChunks chunks (0 means unbounded) of cycleID's
// residual set, pausing ChunkPause between chunks, then reports
// completion. A chunk failure is logged and leaves its ZIPs in the
// residual set; it does not abort the run.
func (r *Runner) Run(ctx context.Context, cycleID string, maxChunks int) (Result, error) {
	processed := 0
	for maxChunks == 0 || processed < maxChunks {
		if err := ctx.Err(); err != nil {
			break
		}

		zips, err := r.residualChunk(ctx, cycleID)
		if err != nil {
			return Result{}, eris.Wrap(err, "zipsub: load residual chunk")
		}
		if len(zips) == 0 {
			break
		}

		if err := r.runChunk(ctx, cycleID, zips); err != nil {
			zap.L().Warn("zipsub: chunk failed, zips remain in residual set",
				zap.String("cycle_id", cycleID), zap.Strings("zips", zips), zap.Error(err))
		}

		processed++
		if maxChunks == 0 || processed < maxChunks {
			time.Sleep(ChunkPause)
		}
	}

	return r.completion(ctx, cycleID)
}

func (r *Runner) residualChunk(ctx context.Context, cycleID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT zip FROM promotion.zip_progress
		WHERE cycle_id = $1 AND completed_at IS NULL
		ORDER BY zip LIMIT $2`, cycleID, ChunkSize)
	if err != nil {
		return nil, eris.Wrap(err, "zipsub: query residual zips")
	}
	defer rows.Close()

	var zips []string
	for rows.Next() {
		var zip string
		if err := rows.Scan(&zip); err != nil {
			return nil, eris.Wrap(err, "zipsub: scan residual zip")
		}
		zips = append(zips, zip)
	}
	return zips, rows.Err()
}

func (r *Runner) runChunk(ctx context.Context, cycleID string, zips []string) error {
	groups, err := r.agg.GroupStagingByZip(ctx, zips)
	if err != nil {
		return eris.Wrap(err, "zipsub: group staging stations by zip")
	}

	regions, err := r.agg.BuildZipRegions(ctx, groups)
	if err != nil {
		return eris.Wrap(err, "zipsub: build zip regions")
	}

	if err := r.agg.WriteZips(ctx, zips, regions); err != nil {
		return eris.Wrap(err, "zipsub: write zip staging rows")
	}

	if _, err := r.pool.Exec(ctx, `
		UPDATE promotion.zip_progress SET completed_at = now()
		WHERE cycle_id = $1 AND zip = ANY($2)`, cycleID, zips); err != nil {
		return eris.Wrap(err, "zipsub: mark chunk complete")
	}
	return nil
}

func (r *Runner) completion(ctx context.Context, cycleID string) (Result, error) {
	var total, completed int
	row := r.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE completed_at IS NOT NULL)
		FROM promotion.zip_progress WHERE cycle_id = $1`, cycleID)
	if err := row.Scan(&total, &completed); err != nil {
		return Result{}, eris.Wrap(err, "zipsub: compute completion")
	}

	if total == 0 {
		return Result{Complete: true, Completion: 1.0}, nil
	}

	fraction := float64(completed) / float64(total)
	return Result{Complete: fraction >= 1.0, Completion: fraction}, nil
}
