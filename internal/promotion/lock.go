package promotion

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/ev-readiness/pipeline/internal/db"
)

// lockStaleAfter bounds how long a held lock is honored without a
// heartbeat. A crash mid-cycle leaves the row behind; without this a
// dead process would block every future tick forever.
const lockStaleAfter = time.Hour

// acquireOrResume implements the named-lock guard (§5) as a single row
// in promotion.cycle_lock rather than a session-scoped advisory lock,
// since the lock must survive across separate trigger invocations when a
// cycle parks at AggregatingZips for a partial sweep — an advisory lock
// tied to one pooled connection wouldn't still be held by the next
// invocation's connection.
//
// It returns the cycle id to run and whether that cycle is a resume of a
// previously parked ZIP sweep (in which case the coordinator should skip
// straight to AggregatingZips instead of starting over).
func acquireOrResume(ctx context.Context, pool db.Pool) (cycleID string, resuming bool, err error) {
	var existingID, state string
	var lockedAt time.Time
	err = pool.QueryRow(ctx, `SELECT cycle_id, state, locked_at FROM promotion.cycle_lock WHERE id = 1`).
		Scan(&existingID, &state, &lockedAt)
	if err != nil {
		if isNoRows(err) {
			return startNewCycle(ctx, pool)
		}
		return "", false, eris.Wrap(err, "promotion: read cycle lock")
	}

	if State(state) == AggregatingZips {
		return existingID, true, nil
	}
	if time.Since(lockedAt) > lockStaleAfter {
		return reclaimCycle(ctx, pool, existingID)
	}
	return "", false, ErrCycleInProgress
}

func startNewCycle(ctx context.Context, pool db.Pool) (string, bool, error) {
	id := uuid.NewString()
	_, err := pool.Exec(ctx,
		`INSERT INTO promotion.cycle_lock (id, cycle_id, state, locked_at) VALUES (1, $1, $2, now())`,
		id, string(Ingesting))
	if err != nil {
		return "", false, eris.Wrap(err, "promotion: insert cycle lock")
	}
	return id, false, nil
}

func reclaimCycle(ctx context.Context, pool db.Pool, staleID string) (string, bool, error) {
	id := uuid.NewString()
	_, err := pool.Exec(ctx,
		`UPDATE promotion.cycle_lock SET cycle_id = $1, state = $2, locked_at = now() WHERE id = 1`,
		id, string(Ingesting))
	if err != nil {
		return "", false, eris.Wrapf(err, "promotion: reclaim stale lock from cycle %s", staleID)
	}
	return id, false, nil
}

// setLockState heartbeats the lock row to a new state on every
// transition, so a crash leaves an accurate trail for staleness checks
// and resume decisions.
func setLockState(ctx context.Context, pool db.Pool, cycleID string, state State) error {
	_, err := pool.Exec(ctx,
		`UPDATE promotion.cycle_lock SET state = $1, locked_at = now() WHERE id = 1 AND cycle_id = $2`,
		string(state), cycleID)
	if err != nil {
		return eris.Wrapf(err, "promotion: set lock state %s for cycle %s", state, cycleID)
	}
	return nil
}

// releaseLock drops the coordination row, freeing the next tick to start
// a brand-new cycle. Called on every path back to Idle.
func releaseLock(ctx context.Context, pool db.Pool) error {
	_, err := pool.Exec(ctx, `DELETE FROM promotion.cycle_lock WHERE id = 1`)
	if err != nil {
		return eris.Wrap(err, "promotion: release cycle lock")
	}
	return nil
}
