package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ev-readiness/pipeline/internal/resilience"
)

func newTestDriver(t *testing.T, mock pgxmock.PgxPoolIface, server *httptest.Server) *Driver {
	t.Helper()
	return &Driver{
		pool:       mock,
		httpClient: server.Client(),
		limiter:    rate.NewLimiter(rate.Inf, 1),
		cfg:        Config{BaseURL: server.URL, APIKey: "test-key"},
		retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			Multiplier:     2,
		},
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
	}
}

const samplePayload = `{
	"fuel_stations": [
		{
			"id": 1,
			"station_name": "Downtown Fast Charge",
			"latitude": 37.75,
			"longitude": -122.41,
			"street_address": "100 Main St",
			"state": "CA",
			"zip": "94110",
			"ev_connector_types": ["TESLA"],
			"ev_dc_fast_num": 8
		},
		{
			"id": 2,
			"station_name": "",
			"latitude": 36.11,
			"longitude": -115.17,
			"ev_connector_types": ["J1772COMBO"],
			"ev_dc_fast_num": 4
		}
	]
}`

func TestIngest_NormalizesAndInsertsSurvivors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`TRUNCATE staging.stations`).WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"staging", "stations"}, stationColumns).
		WillReturnResult(1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		assert.Equal(t, "ELEC", r.URL.Query().Get("fuel_type"))
		w.Write([]byte(samplePayload))
	}))
	defer server.Close()

	d := newTestDriver(t, mock, server)
	result, err := d.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 1, result.Rejected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIngest_UpstreamErrorAbortsCycle(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d := newTestDriver(t, mock, server)
	_, err = d.Ingest(context.Background())
	assert.Error(t, err)
}

func TestIngest_EmptyPayloadTruncatesOnly(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`TRUNCATE staging.stations`).WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"fuel_stations": []}`))
	}))
	defer server.Close()

	d := newTestDriver(t, mock, server)
	result, err := d.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 0, result.Rejected)
	require.NoError(t, mock.ExpectationsWereMet())
}
