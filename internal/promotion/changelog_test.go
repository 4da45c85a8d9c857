package promotion

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeLog_StartAndFinish(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cl := NewChangeLog(mock)

	mock.ExpectQuery(`INSERT INTO promotion\.change_log`).
		WithArgs("cycle-1", string(Ingesting)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := cl.Start(context.Background(), "cycle-1", string(Ingesting))
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	mock.ExpectExec(`UPDATE promotion\.change_log`).
		WithArgs("ok", pgxmock.AnyArg(), int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, cl.Finish(context.Background(), id, "ok", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeLog_Latest_EmptyLogReturnsNil(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cl := NewChangeLog(mock)

	mock.ExpectQuery(`SELECT id, cycle_id, state, outcome, detail, started_at, completed_at\s+FROM promotion\.change_log ORDER BY started_at DESC LIMIT 1`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "cycle_id", "state", "outcome", "detail", "started_at", "completed_at"}))

	entry, err := cl.Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, entry)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeLog_ListForCycle(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cl := NewChangeLog(mock)

	mock.ExpectQuery(`SELECT id, cycle_id, state, outcome, detail, started_at, completed_at\s+FROM promotion\.change_log WHERE cycle_id = \$1`).
		WithArgs("cycle-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "cycle_id", "state", "outcome", "detail", "started_at", "completed_at"}).
			AddRow(int64(1), "cycle-1", string(Ingesting), "ok", []byte(nil), time.Now(), (*time.Time)(nil)))

	entries, err := cl.ListForCycle(context.Background(), "cycle-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ok", entries[0].Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}
