package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ev-readiness/pipeline/internal/promotion"
)

func TestBuildMux_HealthEndpoint(t *testing.T) {
	mux := buildMux(&pipelineEnv{}, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestBuildMux_Trigger_RejectsMissingCronSecret(t *testing.T) {
	mux := buildMux(&pipelineEnv{}, "shared-secret")

	req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestBuildMux_Trigger_RejectsWrongCronSecret(t *testing.T) {
	mux := buildMux(&pipelineEnv{}, "shared-secret")

	req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestStatusForTrigger(t *testing.T) {
	assert.Equal(t, http.StatusOK, statusForTrigger("ok", promotion.CycleOutcome{}))
	assert.Equal(t, http.StatusOK, statusForTrigger("partial-completion", promotion.CycleOutcome{}))
	assert.Equal(t, http.StatusServiceUnavailable, statusForTrigger("cycle-in-progress", promotion.CycleOutcome{}))
	assert.Equal(t, http.StatusMultiStatus, statusForTrigger("promotion-failed",
		promotion.CycleOutcome{Totals: promotion.Totals{States: 12}}))
	assert.Equal(t, http.StatusInternalServerError, statusForTrigger("error", promotion.CycleOutcome{}))
}

func TestExitCodeForClassification(t *testing.T) {
	assert.Equal(t, 0, exitCodeForClassification("ok"))
	assert.Equal(t, 2, exitCodeForClassification("cycle-in-progress"))
	assert.Equal(t, 3, exitCodeForClassification("upstream-error"))
	assert.Equal(t, 4, exitCodeForClassification("promotion-failed"))
	assert.Equal(t, 5, exitCodeForClassification("partial-completion"))
	assert.Equal(t, 1, exitCodeForClassification("invariant-violation"))
}
