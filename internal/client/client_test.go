package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pipewright/pipewright/internal/api"
	"github.com/pipewright/pipewright/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(&config.Config{APIEndpoint: srv.URL}, nil)
}

func TestGetHealth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		_ = json.NewEncoder(w).Encode(api.HealthResponse{Status: "ok", Version: "1.2.3"})
	})

	health, err := c.GetHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "1.2.3", health.Version)
}

func TestCreateRun(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/runs", r.URL.Path)

		var req api.CreateRunRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "telemetry-proj", req.Config.TelemetryProjectID)

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(api.CreateRunResponse{RunID: "run-1", Status: api.RunIdle})
	})

	resp, err := c.CreateRun(context.Background(), api.RunConfig{TelemetryProjectID: "telemetry-proj"})
	require.NoError(t, err)
	assert.Equal(t, "run-1", resp.RunID)
}

func TestCreateRun_ValidationError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{
			Error:   "invalid run configuration",
			Code:    "VALIDATION_FAILED",
			Details: "region \"nowhere\" is not a valid region",
		})
	})

	_, err := c.CreateRun(context.Background(), api.RunConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[400]")
	assert.Contains(t, err.Error(), "invalid run configuration")
}

func TestGetRun(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/runs/run-42", r.URL.Path)
		_ = json.NewEncoder(w).Encode(api.DeploymentRun{RunID: "run-42", Status: api.RunCompleted})
	})

	run, err := c.GetRun(context.Background(), "run-42")
	require.NoError(t, err)
	assert.Equal(t, api.RunCompleted, run.Status)
}

func TestListRuns(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/runs", r.URL.Path)
		_ = json.NewEncoder(w).Encode(api.ListRunsResponse{
			Runs: []api.DeploymentRun{{RunID: "run-1"}, {RunID: "run-2"}},
		})
	})

	resp, err := c.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Len(t, resp.Runs, 2)
}

func TestRunStep(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/runs/run-42/steps/ensure-sink", r.URL.Path)
		_ = json.NewEncoder(w).Encode(api.DeploymentRun{RunID: "run-42", Status: api.RunRunning})
	})

	run, err := c.RunStep(context.Background(), "run-42", "ensure-sink")
	require.NoError(t, err)
	assert.Equal(t, api.RunRunning, run.Status)
}

func TestCancelRun(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/runs/run-42/cancel", r.URL.Path)
		_ = json.NewEncoder(w).Encode(api.CancelRunResponse{RunID: "run-42", Message: "cancellation recorded"})
	})

	resp, err := c.CancelRun(context.Background(), "run-42")
	require.NoError(t, err)
	assert.Equal(t, "run-42", resp.RunID)
}

func TestDoJSON_MalformedErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	})

	_, err := c.GetHealth(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}
