package store

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromote_SwapsEachTablePairInOneTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := New(mock)

	mock.ExpectBegin()
	for _, tbl := range promotedTables {
		scratch := tbl + "_promote_old"
		mock.ExpectExec(`ALTER TABLE public\.` + tbl + ` RENAME TO ` + scratch).WillReturnResult(pgxmock.NewResult("ALTER", 0))
		mock.ExpectExec(`ALTER TABLE staging\.` + tbl + ` SET SCHEMA public`).WillReturnResult(pgxmock.NewResult("ALTER", 0))
		mock.ExpectExec(`ALTER TABLE public\.` + scratch + ` SET SCHEMA staging`).WillReturnResult(pgxmock.NewResult("ALTER", 0))
		mock.ExpectExec(`ALTER TABLE staging\.` + scratch + ` RENAME TO ` + tbl).WillReturnResult(pgxmock.NewResult("ALTER", 0))
	}
	mock.ExpectCommit()

	require.NoError(t, s.Promote(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPromote_LeavesMigrationAndLockTablesUntouched(t *testing.T) {
	for _, tbl := range promotedTables {
		assert.NotEqual(t, "schema_migrations", tbl)
		assert.NotEqual(t, "cycle_lock", tbl)
		assert.NotEqual(t, "zip_progress", tbl)
	}
}

func TestPromote_RollsBackOnStepFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := New(mock)

	firstTbl := promotedTables[0]
	firstScratch := firstTbl + "_promote_old"
	mock.ExpectBegin()
	mock.ExpectExec(`ALTER TABLE public\.` + firstTbl + ` RENAME TO ` + firstScratch).WillReturnResult(pgxmock.NewResult("ALTER", 0))
	mock.ExpectExec(`ALTER TABLE staging\.` + firstTbl + ` SET SCHEMA public`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err = s.Promote(context.Background())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStationsInPolygon_QueriesStagingWithContainment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := New(mock)

	geojson := `{"type":"Polygon","coordinates":[]}`
	mock.ExpectQuery(`FROM staging\.stations\s+WHERE ST_Contains`).
		WithArgs(geojson).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "lat", "lng", "street_address", "state", "zip",
			"level", "num_ports", "connectors", "network", "created_at",
		}))

	stations, err := s.StationsInPolygon(context.Background(), geojson)
	require.NoError(t, err)
	require.Empty(t, stations)
	require.NoError(t, mock.ExpectationsWereMet())
}
