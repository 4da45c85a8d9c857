package promotion

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ev-readiness/pipeline/internal/db"
)

// Entry represents a row in promotion.change_log: one per state
// transition the coordinator records, so a cycle's full path through the
// state machine can be replayed from the log alone.
type Entry struct {
	ID          int64          `json:"id"`
	CycleID     string         `json:"cycle_id"`
	State       string         `json:"state"`
	Outcome     string         `json:"outcome"`
	Detail      map[string]any `json:"detail,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// ChangeLog provides append-only read/write access to promotion.change_log.
type ChangeLog struct {
	pool db.Pool
}

// NewChangeLog constructs a ChangeLog backed by pool.
func NewChangeLog(pool db.Pool) *ChangeLog {
	return &ChangeLog{pool: pool}
}

// Start records the beginning of a state transition and returns its id.
func (c *ChangeLog) Start(ctx context.Context, cycleID, state string) (int64, error) {
	var id int64
	err := c.pool.QueryRow(ctx,
		`INSERT INTO promotion.change_log (cycle_id, state, outcome, started_at)
		 VALUES ($1, $2, 'running', now()) RETURNING id`,
		cycleID, state,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "changelog: start %s/%s", cycleID, state)
	}
	return id, nil
}

// Finish records a transition's outcome and optional detail payload.
func (c *ChangeLog) Finish(ctx context.Context, entryID int64, outcome string, detail map[string]any) error {
	var detailJSON []byte
	if detail != nil {
		var err error
		detailJSON, err = json.Marshal(detail)
		if err != nil {
			return eris.Wrap(err, "changelog: marshal detail")
		}
	}
	_, err := c.pool.Exec(ctx,
		`UPDATE promotion.change_log SET outcome = $1, detail = $2, completed_at = now() WHERE id = $3`,
		outcome, detailJSON, entryID,
	)
	if err != nil {
		return eris.Wrapf(err, "changelog: finish entry %d", entryID)
	}
	return nil
}

// ListForCycle returns every recorded transition for cycleID, oldest first.
func (c *ChangeLog) ListForCycle(ctx context.Context, cycleID string) ([]Entry, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT id, cycle_id, state, outcome, detail, started_at, completed_at
		 FROM promotion.change_log WHERE cycle_id = $1 ORDER BY started_at ASC`,
		cycleID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "changelog: list for cycle")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var detailJSON []byte
		if err := rows.Scan(&e.ID, &e.CycleID, &e.State, &e.Outcome, &detailJSON, &e.StartedAt, &e.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "changelog: scan entry")
		}
		if detailJSON != nil {
			_ = json.Unmarshal(detailJSON, &e.Detail)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Latest returns the most recent entry across all cycles, or nil if the
// log is empty.
func (c *ChangeLog) Latest(ctx context.Context) (*Entry, error) {
	var e Entry
	var detailJSON []byte
	err := c.pool.QueryRow(ctx,
		`SELECT id, cycle_id, state, outcome, detail, started_at, completed_at
		 FROM promotion.change_log ORDER BY started_at DESC LIMIT 1`,
	).Scan(&e.ID, &e.CycleID, &e.State, &e.Outcome, &detailJSON, &e.StartedAt, &e.CompletedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "changelog: latest entry")
	}
	if detailJSON != nil {
		_ = json.Unmarshal(detailJSON, &e.Detail)
	}
	return &e, nil
}
