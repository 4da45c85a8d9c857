package change

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ev-readiness/pipeline/internal/station"
)

func TestFilterCurrentZips_RemovesMatchingZip(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT dcfast, level2, level1 FROM zip_aggregates`).
		WithArgs("94110").
		WillReturnRows(pgxmock.NewRows([]string{"dcfast", "level2", "level1"}).AddRow(1, 0, 0))

	d := &Detector{pool: mock}
	staging := map[string]station.Station{
		"1": mkStation("1", "CA", "94110", station.DCFast, 37.75, -122.41),
	}
	affected := map[string]bool{"94110": true}

	require.NoError(t, d.filterCurrentZips(context.Background(), staging, affected))
	assert.Empty(t, affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFilterCurrentZips_KeepsChangedZip(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT dcfast, level2, level1 FROM zip_aggregates`).
		WithArgs("94110").
		WillReturnRows(pgxmock.NewRows([]string{"dcfast", "level2", "level1"}).AddRow(0, 1, 0))

	d := &Detector{pool: mock}
	staging := map[string]station.Station{
		"1": mkStation("1", "CA", "94110", station.DCFast, 37.75, -122.41),
	}
	affected := map[string]bool{"94110": true}

	require.NoError(t, d.filterCurrentZips(context.Background(), staging, affected))
	assert.True(t, affected["94110"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFilterCurrentZips_NoServingRowKeepsAffected(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT dcfast, level2, level1 FROM zip_aggregates`).
		WithArgs("99999").
		WillReturnError(pgx.ErrNoRows)

	d := &Detector{pool: mock}
	affected := map[string]bool{"99999": true}

	require.NoError(t, d.filterCurrentZips(context.Background(), map[string]station.Station{}, affected))
	assert.True(t, affected["99999"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeriveAffectedCounties_UsesStaticMap(t *testing.T) {
	d := &Detector{}
	staging := map[string]station.Station{
		"1": mkStation("1", "CA", "94110", station.DCFast, 37.75, -122.41),
	}
	affected := map[string]bool{"94110": true}

	counties, err := d.deriveAffectedCounties(staging, affected)
	require.NoError(t, err)
	assert.True(t, counties["06075"])
}

func TestDeriveAffectedCounties_UnmappedZipWithNoCountyFixtureIsSkipped(t *testing.T) {
	d := &Detector{}
	staging := map[string]station.Station{
		"1": mkStation("1", "ZZ", "00000", station.DCFast, 0, 0),
	}
	affected := map[string]bool{"00000": true}

	counties, err := d.deriveAffectedCounties(staging, affected)
	require.NoError(t, err)
	assert.Empty(t, counties)
}
