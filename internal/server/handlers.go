package server

import (
	"context"
	"net/http"

	"github.com/pipewright/pipewright/internal/api"
	"github.com/pipewright/pipewright/internal/constants"
	"github.com/pipewright/pipewright/internal/deploy"
	apperrors "github.com/pipewright/pipewright/internal/errors"
	loggerPkg "github.com/pipewright/pipewright/internal/logger"
	"github.com/pipewright/pipewright/internal/validate"
)

// handleHealth returns a simple health check response.
func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, api.HealthResponse{
		Status:  "ok",
		Version: *constants.GetVersion(),
	})
}

// handleCreateRun handles POST /api/v1/runs. The run is registered and
// started in the background; the response returns immediately with the run ID
// so clients can poll for progress.
func (r *Router) handleCreateRun(w http.ResponseWriter, req *http.Request) {
	logger := r.GetLoggerFromContext(req.Context())

	var createReq api.CreateRunRequest
	if err := decodeRequestBody(w, req, &createReq); err != nil {
		return
	}

	if violations := validate.RunConfig(createReq.Config); len(violations) > 0 {
		logger.Debug("run configuration rejected", "violations", violations)
		writeJSONResponse(w, http.StatusBadRequest, api.ValidationErrorResponse{
			Error:      "invalid run configuration",
			Code:       apperrors.ErrCodeValidation,
			Violations: violations,
		})
		return
	}

	run, err := r.orch.NewRun(createReq.Config)
	if err != nil {
		r.handleAndLogError(w, req, err, "create run")
		return
	}

	// The run outlives the request: detach from the request context but keep
	// the request ID for log correlation.
	runCtx := loggerPkg.WithRequestID(context.Background(), loggerPkg.GetRequestID(req.Context()))
	go func() {
		if err := r.orch.Run(runCtx, run.RunID); err != nil {
			logger.Error("deployment run failed",
				"runID", run.RunID,
				"error", err,
				"error_code", apperrors.GetErrorCode(err),
			)
		}
	}()

	writeJSONResponse(w, http.StatusAccepted, api.CreateRunResponse{
		RunID:  run.RunID,
		Status: run.Status,
	})
}

// handleListRuns handles GET /api/v1/runs.
func (r *Router) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, api.ListRunsResponse{
		Runs: r.store.List(),
	})
}

// handleGetRun handles GET /api/v1/runs/{runID}.
func (r *Router) handleGetRun(w http.ResponseWriter, req *http.Request) {
	runID, ok := getRequiredURLParam(w, req, "runID")
	if !ok {
		return
	}

	run, err := r.store.Get(runID)
	if err != nil {
		r.handleAndLogError(w, req, err, "get run")
		return
	}

	writeJSONResponse(w, http.StatusOK, run)
}

// handleRunStep handles POST /api/v1/runs/{runID}/steps/{step}: an
// operator-driven retry of a single step. The step is claimed synchronously,
// so precondition failures still surface as errors, then executed in the
// background: retried steps sit in bounded waits far longer than a request
// may be held open. The response carries the claimed run for polling.
func (r *Router) handleRunStep(w http.ResponseWriter, req *http.Request) {
	logger := r.GetLoggerFromContext(req.Context())

	runID, ok := getRequiredURLParam(w, req, "runID")
	if !ok {
		return
	}
	stepParam, ok := getRequiredURLParam(w, req, "step")
	if !ok {
		return
	}

	kind, err := deploy.ParseStepKind(stepParam)
	if err != nil {
		r.handleAndLogError(w, req, err, "parse step")
		return
	}

	if err := r.orch.ClaimStep(runID, kind); err != nil {
		r.handleAndLogError(w, req, err, "claim step")
		return
	}

	// Same detachment as handleCreateRun: the step outlives the request but
	// keeps its request ID for log correlation.
	stepCtx := loggerPkg.WithRequestID(context.Background(), loggerPkg.GetRequestID(req.Context()))
	go func() {
		if err := r.orch.CompleteStep(stepCtx, runID, kind); err != nil {
			logger.Error("step retry failed",
				"runID", runID,
				"step", kind,
				"error", err,
				"error_code", apperrors.GetErrorCode(err),
			)
		}
	}()

	run, err := r.store.Get(runID)
	if err != nil {
		r.handleAndLogError(w, req, err, "get run")
		return
	}

	writeJSONResponse(w, http.StatusAccepted, run)
}

// handleCancelRun handles POST /api/v1/runs/{runID}/cancel. The abort is
// recorded immediately; the in-flight step finishes naturally and no further
// step starts.
func (r *Router) handleCancelRun(w http.ResponseWriter, req *http.Request) {
	runID, ok := getRequiredURLParam(w, req, "runID")
	if !ok {
		return
	}

	if err := r.store.Cancel(runID); err != nil {
		r.handleAndLogError(w, req, err, "cancel run")
		return
	}

	r.GetLoggerFromContext(req.Context()).Info("run cancellation recorded", "runID", runID)

	writeJSONResponse(w, http.StatusOK, api.CancelRunResponse{
		RunID:   runID,
		Message: "cancellation recorded; the in-flight step will finish, no further step will start",
	})
}
