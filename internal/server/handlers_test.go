package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pipewright/pipewright/internal/api"
	"github.com/pipewright/pipewright/internal/deploy"
	apperrors "github.com/pipewright/pipewright/internal/errors"
	"github.com/pipewright/pipewright/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockOrchestrator struct {
	st *store.Store

	newRunFunc       func(cfg api.RunConfig) (*api.DeploymentRun, error)
	runFunc          func(ctx context.Context, runID string) error
	claimStepFunc    func(runID string, kind deploy.StepKind) error
	completeStepFunc func(ctx context.Context, runID string, kind deploy.StepKind) error

	runStarted  chan string
	stepStarted chan deploy.StepKind
}

func (m *mockOrchestrator) NewRun(cfg api.RunConfig) (*api.DeploymentRun, error) {
	if m.newRunFunc != nil {
		return m.newRunFunc(cfg)
	}
	run := &api.DeploymentRun{
		RunID:  "run-1",
		Status: api.RunIdle,
		Steps:  deploy.NewStepRecords(),
		Config: cfg,
	}
	if err := m.st.Create(run); err != nil {
		return nil, err
	}
	return run, nil
}

func (m *mockOrchestrator) Run(ctx context.Context, runID string) error {
	if m.runStarted != nil {
		m.runStarted <- runID
	}
	if m.runFunc != nil {
		return m.runFunc(ctx, runID)
	}
	return nil
}

func (m *mockOrchestrator) ClaimStep(runID string, kind deploy.StepKind) error {
	if m.claimStepFunc != nil {
		return m.claimStepFunc(runID, kind)
	}
	return nil
}

func (m *mockOrchestrator) CompleteStep(ctx context.Context, runID string, kind deploy.StepKind) error {
	if m.stepStarted != nil {
		m.stepStarted <- kind
	}
	if m.completeStepFunc != nil {
		return m.completeStepFunc(ctx, runID, kind)
	}
	return nil
}

func newTestRouter(t *testing.T) (*Router, *store.Store, *mockOrchestrator) {
	t.Helper()
	st := store.New()
	orch := &mockOrchestrator{st: st}
	return NewRouter(st, orch, nil), st, orch
}

func validConfigBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(api.CreateRunRequest{
		Config: api.RunConfig{
			TelemetryProjectID: "telemetry-proj",
			SameProject:        true,
			Region:             "us-central1",
			DatasetName:        "telemetry_events",
			Network:            "default",
			AuthMode:           api.AuthHeadless,
		},
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func seedRun(t *testing.T, st *store.Store, runID string) {
	t.Helper()
	require.NoError(t, st.Create(&api.DeploymentRun{
		RunID:  runID,
		Status: api.RunIdle,
		Steps:  deploy.NewStepRecords(),
	}))
}

func TestHandleHealth(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	var response api.HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "ok", response.Status)
	assert.NotEmpty(t, response.Version)
}

func TestHandleCreateRun_AcceptedAndStarted(t *testing.T) {
	router, _, orch := newTestRouter(t)
	orch.runStarted = make(chan string, 1)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", validConfigBody(t))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	var response api.CreateRunResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "run-1", response.RunID)

	select {
	case started := <-orch.runStarted:
		assert.Equal(t, "run-1", started)
	case <-time.After(time.Second):
		t.Fatal("background run never started")
	}
}

func TestHandleCreateRun_InvalidBody(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader("{not json"))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response api.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "invalid request body", response.Error)
}

func TestHandleCreateRun_ValidationViolations(t *testing.T) {
	router, _, _ := newTestRouter(t)

	body, err := json.Marshal(api.CreateRunRequest{
		Config: api.RunConfig{
			TelemetryProjectID: "BAD PROJECT",
			Region:             "nowhere",
			DatasetName:        "telemetry_events",
			Network:            "default",
			AuthMode:           "carrier-pigeon",
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewBuffer(body))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response api.ValidationErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, apperrors.ErrCodeValidation, response.Code)
	// Every violation is reported in one pass: project, missing inference
	// project, region, and auth mode.
	assert.GreaterOrEqual(t, len(response.Violations), 4)
}

func TestHandleGetRun(t *testing.T) {
	router, st, _ := newTestRouter(t)
	seedRun(t, st, "run-42")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-42", http.NoBody)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response api.DeploymentRun
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "run-42", response.RunID)
	assert.Len(t, response.Steps, len(deploy.StepOrder))
}

func TestHandleGetRun_NotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", http.NoBody)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var response api.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, apperrors.ErrCodeNotFound, response.Code)
}

func TestHandleListRuns(t *testing.T) {
	router, st, _ := newTestRouter(t)
	seedRun(t, st, "run-a")
	seedRun(t, st, "run-b")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", http.NoBody)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response api.ListRunsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Len(t, response.Runs, 2)
}

func TestHandleRunStep(t *testing.T) {
	router, st, orch := newTestRouter(t)
	seedRun(t, st, "run-42")
	orch.stepStarted = make(chan deploy.StepKind, 1)

	var claimedKind deploy.StepKind
	orch.claimStepFunc = func(runID string, kind deploy.StepKind) error {
		assert.Equal(t, "run-42", runID)
		claimedKind = kind
		return nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/run-42/steps/ensure-sink", http.NoBody)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, deploy.StepEnsureSink, claimedKind)

	var response api.DeploymentRun
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "run-42", response.RunID)

	select {
	case kind := <-orch.stepStarted:
		assert.Equal(t, deploy.StepEnsureSink, kind)
	case <-time.After(time.Second):
		t.Fatal("background step never started")
	}
}

func TestHandleRunStep_ExecutionOutlivesRequestTimeout(t *testing.T) {
	// A retried step can sit in IAM propagation or job startup waits for
	// minutes; the request-scoped deadline must not cancel it.
	router, st, orch := newTestRouter(t)
	seedRun(t, st, "run-42")
	orch.stepStarted = make(chan deploy.StepKind, 1)

	deadlines := make(chan bool, 1)
	orch.completeStepFunc = func(ctx context.Context, _ string, _ deploy.StepKind) error {
		_, hasDeadline := ctx.Deadline()
		deadlines <- hasDeadline
		return nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/run-42/steps/ensure-sink", http.NoBody)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	select {
	case hasDeadline := <-deadlines:
		assert.False(t, hasDeadline)
	case <-time.After(time.Second):
		t.Fatal("background step never started")
	}
}

func TestHandleRunStep_UnknownStep(t *testing.T) {
	router, st, _ := newTestRouter(t)
	seedRun(t, st, "run-42")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/run-42/steps/make-coffee", http.NoBody)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleRunStep_ConflictFromSequencer(t *testing.T) {
	router, st, orch := newTestRouter(t)
	seedRun(t, st, "run-42")

	orch.claimStepFunc = func(string, deploy.StepKind) error {
		return apperrors.ErrConflict("step ensure-sink requires ensure-topic to be completed", nil)
	}
	orch.completeStepFunc = func(context.Context, string, deploy.StepKind) error {
		t.Error("a rejected claim must not execute")
		return nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/run-42/steps/ensure-sink", http.NoBody)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	var response api.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, apperrors.ErrCodeConflict, response.Code)
	assert.Contains(t, response.Details, "ensure-topic")
}

func TestHandleCancelRun(t *testing.T) {
	router, st, _ := newTestRouter(t)
	seedRun(t, st, "run-42")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/run-42/cancel", http.NoBody)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response api.CancelRunResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "run-42", response.RunID)

	canceled, err := st.IsCanceled("run-42")
	require.NoError(t, err)
	assert.True(t, canceled)
}

func TestHandleCancelRun_NotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/missing/cancel", http.NoBody)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
