// Package promotion implements the refresh-cycle state machine
// (component H): it drives ingestion, change detection, and aggregation
// through to an atomic promotion of staging into serving, enforcing the
// cycle-level invariants along the way and recording every transition to
// an append-only change log.
package promotion

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ev-readiness/pipeline/internal/aggregate"
	"github.com/ev-readiness/pipeline/internal/change"
	"github.com/ev-readiness/pipeline/internal/db"
	"github.com/ev-readiness/pipeline/internal/registry"
	"github.com/ev-readiness/pipeline/internal/store"
	"github.com/ev-readiness/pipeline/internal/zipsub"
)

// StalenessRatio is the minimum staging/serving station-count ratio
// required to proceed past Ingesting (§4.H, §8 scenario 4).
const StalenessRatio = 0.5

// Coordinator owns the state machine and wires together the components
// each state delegates to.
type Coordinator struct {
	pool      db.Pool
	store     *store.Store
	registry  *registry.Driver
	detector  *change.Detector
	agg       *aggregate.Aggregator
	zipRunner *zipsub.Runner
	changeLog *ChangeLog
}

// New constructs a Coordinator from its already-built collaborators.
func New(pool db.Pool, st *store.Store, reg *registry.Driver, det *change.Detector, agg *aggregate.Aggregator, zr *zipsub.Runner, cl *ChangeLog) *Coordinator {
	return &Coordinator{pool: pool, store: st, registry: reg, detector: det, agg: agg, zipRunner: zr, changeLog: cl}
}

// Run drives one tick of the state machine: either a brand-new cycle, or
// the continuation of a cycle parked at AggregatingZips by a previous
// tick's host-imposed ceiling. maxZipChunks bounds how many ZIP chunks
// this tick drains (0 means drain the whole residual set).
func (c *Coordinator) Run(ctx context.Context, maxZipChunks int) (CycleOutcome, error) {
	cycleID, resuming, err := acquireOrResume(ctx, c.pool)
	if err != nil {
		if eris.Is(err, ErrCycleInProgress) {
			return CycleOutcome{Outcome: "cycle-in-progress"}, ErrCycleInProgress
		}
		return CycleOutcome{}, eris.Wrap(err, "promotion: acquire cycle lock")
	}

	if resuming {
		// Totals aren't known on resume: detection ran in an earlier tick and
		// its counts weren't carried forward through the cycle lock. The
		// outcome's Totals is zero-valued for a resumed tick; callers needing
		// a 207 on a resumed partial run should consult the change log instead.
		return c.runFromZips(ctx, cycleID, nil, Totals{}, maxZipChunks)
	}
	return c.runFromIngest(ctx, cycleID, maxZipChunks)
}

func (c *Coordinator) runFromIngest(ctx context.Context, cycleID string, maxZipChunks int) (CycleOutcome, error) {
	entry, err := c.changeLog.Start(ctx, cycleID, string(Ingesting))
	if err != nil {
		return CycleOutcome{}, err
	}

	ingestResult, err := c.registry.Ingest(ctx)
	if err != nil {
		wrapped := eris.Wrap(ErrUpstream, err.Error())
		_ = c.changeLog.Finish(ctx, entry, Classify(ErrUpstream), map[string]any{"error": err.Error()})
		return c.abortToIdle(ctx, cycleID, Ingesting, wrapped, Totals{})
	}

	stagingCount, err := c.store.Count(ctx, "staging.stations", "")
	if err != nil {
		return CycleOutcome{}, eris.Wrap(err, "promotion: count staging stations")
	}
	servingCount, err := c.store.Count(ctx, "stations", "")
	if err != nil {
		return CycleOutcome{}, eris.Wrap(err, "promotion: count serving stations")
	}

	_ = c.changeLog.Finish(ctx, entry, "ok", map[string]any{
		"inserted": ingestResult.Inserted, "rejected": ingestResult.Rejected,
		"staging_count": stagingCount, "serving_count": servingCount,
	})

	if ingestResult.Inserted == 0 {
		zap.L().Info("promotion: no new staging rows, cycle is a no-op", zap.String("cycle_id", cycleID))
		return c.shortcutToIdle(ctx, cycleID, "ok", Totals{})
	}

	if servingCount > 0 && float64(stagingCount) <= StalenessRatio*float64(servingCount) {
		return c.abortToIdle(ctx, cycleID, Ingesting, eris.Wrapf(ErrInvariantViolation,
			"staging/serving ratio %.3f does not exceed %.1f (staging=%d serving=%d)",
			float64(stagingCount)/float64(servingCount), StalenessRatio, stagingCount, servingCount), Totals{})
	}

	return c.runFromDetect(ctx, cycleID, maxZipChunks)
}

func (c *Coordinator) runFromDetect(ctx context.Context, cycleID string, maxZipChunks int) (CycleOutcome, error) {
	if err := setLockState(ctx, c.pool, cycleID, Detecting); err != nil {
		return CycleOutcome{}, err
	}
	entry, err := c.changeLog.Start(ctx, cycleID, string(Detecting))
	if err != nil {
		return CycleOutcome{}, err
	}

	result, err := c.detector.Detect(ctx)
	if err != nil {
		_ = c.changeLog.Finish(ctx, entry, "error", map[string]any{"error": err.Error()})
		return c.abortToIdle(ctx, cycleID, Detecting, eris.Wrap(err, "promotion: detect"), Totals{})
	}
	_ = c.changeLog.Finish(ctx, entry, "ok", map[string]any{
		"states": result.Totals.States, "counties": result.Totals.Counties, "zips": result.Totals.Zips,
	})

	totals := Totals{States: result.Totals.States, Counties: result.Totals.Counties, Zips: result.Totals.Zips}

	statesEntry, err := c.changeLog.Start(ctx, cycleID, string(AggregatingStates))
	if err != nil {
		return CycleOutcome{}, err
	}
	if err := setLockState(ctx, c.pool, cycleID, AggregatingStates); err != nil {
		return CycleOutcome{}, err
	}
	stateRegions, err := c.agg.AggregateStates(ctx)
	if err != nil {
		_ = c.changeLog.Finish(ctx, statesEntry, "error", map[string]any{"error": err.Error()})
		return c.abortToIdle(ctx, cycleID, AggregatingStates, eris.Wrap(err, "promotion: aggregate states"), totals)
	}
	if err := checkRegionInvariants(stateRegions); err != nil {
		_ = c.changeLog.Finish(ctx, statesEntry, Classify(ErrInvariantViolation), nil)
		return c.abortToIdle(ctx, cycleID, AggregatingStates, err, totals)
	}
	if err := c.agg.WriteStates(ctx, stateRegions); err != nil {
		_ = c.changeLog.Finish(ctx, statesEntry, "error", map[string]any{"error": err.Error()})
		return c.abortToIdle(ctx, cycleID, AggregatingStates, eris.Wrap(err, "promotion: write states"), totals)
	}
	_ = c.changeLog.Finish(ctx, statesEntry, "ok", map[string]any{"regions": len(stateRegions)})

	if totals.States == 0 && totals.Counties == 0 && totals.Zips == 0 {
		zap.L().Info("promotion: empty affected set, cycle shortcuts to idle", zap.String("cycle_id", cycleID))
		return c.shortcutToIdle(ctx, cycleID, "ok", totals)
	}

	return c.runFromCounties(ctx, cycleID, result, totals, maxZipChunks)
}

func (c *Coordinator) runFromCounties(ctx context.Context, cycleID string, detected change.Result, totals Totals, maxZipChunks int) (CycleOutcome, error) {
	if err := setLockState(ctx, c.pool, cycleID, AggregatingCounties); err != nil {
		return CycleOutcome{}, err
	}
	entry, err := c.changeLog.Start(ctx, cycleID, string(AggregatingCounties))
	if err != nil {
		return CycleOutcome{}, err
	}

	countyRegions, err := c.agg.AggregateCounties(ctx, detected.AffectedCounties)
	if err != nil {
		_ = c.changeLog.Finish(ctx, entry, "error", map[string]any{"error": err.Error()})
		return c.abortToIdle(ctx, cycleID, AggregatingCounties, eris.Wrap(err, "promotion: aggregate counties"), totals)
	}
	if err := checkRegionInvariants(countyRegions); err != nil {
		_ = c.changeLog.Finish(ctx, entry, Classify(ErrInvariantViolation), nil)
		return c.abortToIdle(ctx, cycleID, AggregatingCounties, err, totals)
	}

	fips := make([]string, 0, len(detected.AffectedCounties))
	for f := range detected.AffectedCounties {
		fips = append(fips, f)
	}
	if err := c.agg.WriteCounties(ctx, fips, countyRegions); err != nil {
		_ = c.changeLog.Finish(ctx, entry, "error", map[string]any{"error": err.Error()})
		return c.abortToIdle(ctx, cycleID, AggregatingCounties, eris.Wrap(err, "promotion: write counties"), totals)
	}
	_ = c.changeLog.Finish(ctx, entry, "ok", map[string]any{"regions": len(countyRegions)})

	zips := make([]string, 0, len(detected.AffectedZips))
	for z := range detected.AffectedZips {
		zips = append(zips, z)
	}
	return c.runFromZips(ctx, cycleID, zips, totals, maxZipChunks)
}

// runFromZips handles both a fresh cycle's first ZIP pass and a resumed
// cycle's continuation; affectedZips is nil on resume, since
// zipsub.StartCycle is idempotent and the residual set already persists
// whatever remains from the earlier tick.
func (c *Coordinator) runFromZips(ctx context.Context, cycleID string, affectedZips []string, totals Totals, maxZipChunks int) (CycleOutcome, error) {
	if err := setLockState(ctx, c.pool, cycleID, AggregatingZips); err != nil {
		return CycleOutcome{}, err
	}

	if affectedZips != nil {
		if err := c.zipRunner.StartCycle(ctx, cycleID, affectedZips); err != nil {
			return c.abortToIdle(ctx, cycleID, AggregatingZips, eris.Wrap(err, "promotion: start zip cycle"), totals)
		}
	}

	entry, err := c.changeLog.Start(ctx, cycleID, string(AggregatingZips))
	if err != nil {
		return CycleOutcome{}, err
	}

	result, err := c.zipRunner.Run(ctx, cycleID, maxZipChunks)
	if err != nil {
		_ = c.changeLog.Finish(ctx, entry, "error", map[string]any{"error": err.Error()})
		return c.abortToIdle(ctx, cycleID, AggregatingZips, eris.Wrap(err, "promotion: run zip sweep"), totals)
	}
	_ = c.changeLog.Finish(ctx, entry, "ok", map[string]any{"completion": result.Completion})

	if !result.Complete {
		zap.L().Info("promotion: zip sweep partial, cycle parks at aggregating_zips",
			zap.String("cycle_id", cycleID), zap.Float64("completion", result.Completion))
		return CycleOutcome{
			CycleID: cycleID, FinalState: AggregatingZips, Promoted: false,
			Outcome: Classify(ErrPartialCompletion), Totals: totals, ZipProgress: result.Completion,
		}, nil
	}

	stateCount, err := c.store.Count(ctx, "staging.state_aggregates", "")
	if err != nil {
		return CycleOutcome{}, eris.Wrap(err, "promotion: count staged state aggregates")
	}
	countyCount, err := c.store.Count(ctx, "staging.county_aggregates", "")
	if err != nil {
		return CycleOutcome{}, eris.Wrap(err, "promotion: count staged county aggregates")
	}

	if stateCount == 0 || countyCount == 0 {
		return c.abortToIdle(ctx, cycleID, AggregatingZips, eris.Wrapf(ErrInvariantViolation,
			"promotable gate requires nonzero state and county counts, got states=%d counties=%d", stateCount, countyCount), totals)
	}

	return c.runPromotable(ctx, cycleID, totals, result.Completion)
}

func (c *Coordinator) runPromotable(ctx context.Context, cycleID string, totals Totals, zipProgress float64) (CycleOutcome, error) {
	if err := setLockState(ctx, c.pool, cycleID, Promotable); err != nil {
		return CycleOutcome{}, err
	}
	if gateEntry, err := c.changeLog.Start(ctx, cycleID, string(Promotable)); err == nil {
		_ = c.changeLog.Finish(ctx, gateEntry, "ok", nil)
	}

	entry, err := c.changeLog.Start(ctx, cycleID, string(Promoting))
	if err != nil {
		return CycleOutcome{}, err
	}
	if err := setLockState(ctx, c.pool, cycleID, Promoting); err != nil {
		return CycleOutcome{}, err
	}

	if err := c.store.Promote(ctx); err != nil {
		_ = c.changeLog.Finish(ctx, entry, Classify(ErrPromotionFailed), map[string]any{"error": err.Error()})
		if releaseErr := setLockState(ctx, c.pool, cycleID, Promotable); releaseErr != nil {
			zap.L().Warn("promotion: failed to park lock at promotable after promote failure", zap.Error(releaseErr))
		}
		return CycleOutcome{
			CycleID: cycleID, FinalState: Promotable, Promoted: false,
			Outcome: Classify(ErrPromotionFailed), Totals: totals, ZipProgress: zipProgress,
		}, eris.Wrap(ErrPromotionFailed, err.Error())
	}
	_ = c.changeLog.Finish(ctx, entry, "ok", nil)

	if err := releaseLock(ctx, c.pool); err != nil {
		zap.L().Warn("promotion: failed to release cycle lock after successful promotion", zap.Error(err))
	}
	return CycleOutcome{CycleID: cycleID, FinalState: Idle, Promoted: true, Outcome: "ok", Totals: totals, ZipProgress: 1.0}, nil
}

// shortcutToIdle releases the lock and records a clean, non-promoting
// end to the cycle (no-op ingest or an empty affected set).
func (c *Coordinator) shortcutToIdle(ctx context.Context, cycleID, outcome string, totals Totals) (CycleOutcome, error) {
	if err := releaseLock(ctx, c.pool); err != nil {
		zap.L().Warn("promotion: failed to release cycle lock", zap.Error(err))
	}
	return CycleOutcome{CycleID: cycleID, FinalState: Idle, Promoted: false, Outcome: outcome, Totals: totals}, nil
}

// abortToIdle handles every error path: any exception during Ingesting,
// Detecting, or Aggregating transitions directly to Idle without
// touching serving (§4.H). totals carries whatever aggregation counts were
// known at the point of failure so callers (e.g. cmd/serve.go's 207/500
// split) can tell a post-aggregation failure from one that never produced
// rows.
func (c *Coordinator) abortToIdle(ctx context.Context, cycleID string, failedAt State, cause error, totals Totals) (CycleOutcome, error) {
	zap.L().Warn("promotion: cycle aborted", zap.String("cycle_id", cycleID), zap.String("state", string(failedAt)), zap.Error(cause))
	if err := releaseLock(ctx, c.pool); err != nil {
		zap.L().Warn("promotion: failed to release cycle lock after abort", zap.Error(err))
	}
	return CycleOutcome{CycleID: cycleID, FinalState: Idle, Promoted: false, Outcome: Classify(cause), Totals: totals}, cause
}

// checkRegionInvariants enforces dcfast+level2+level1 = total and
// total_ports >= total across every written row (§3 region aggregate
// invariants).
func checkRegionInvariants(regions []aggregate.Region) error {
	for _, r := range regions {
		if r.DCFast+r.Level2+r.Level1 != r.Total {
			return eris.Wrapf(ErrInvariantViolation, "region %s: dcfast+level2+level1 (%d) != total (%d)",
				r.Key(), r.DCFast+r.Level2+r.Level1, r.Total)
		}
		if r.PortTotal < r.Total {
			return eris.Wrapf(ErrInvariantViolation, "region %s: total_ports (%d) < total (%d)", r.Key(), r.PortTotal, r.Total)
		}
	}
	return nil
}
