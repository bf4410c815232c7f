package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pipewright/pipewright/internal/api"
	"github.com/pipewright/pipewright/internal/constants"
	apperrors "github.com/pipewright/pipewright/internal/errors"
	"github.com/pipewright/pipewright/internal/store"
	"github.com/pipewright/pipewright/internal/validate"

	"github.com/google/uuid"
)

// Verifier checks end-to-end data flow after provisioning. Implemented by
// the verify package; substituted in tests.
type Verifier interface {
	Verify(ctx context.Context, cfg api.RunConfig) *api.VerificationReport
}

// Sequencer executes the step graph for a run, recording every transition in
// the store. One Run call owns a run end-to-end; retries of individual steps
// go through ClaimStep and CompleteStep, which share the same execution path.
type Sequencer struct {
	store       *store.Store
	prov        *Provisioner
	verifier    Verifier
	stepTimeout time.Duration
	log         *slog.Logger
}

// NewSequencer wires a sequencer over the store, provisioner, and verifier.
func NewSequencer(
	st *store.Store,
	prov *Provisioner,
	verifier Verifier,
	log *slog.Logger,
) *Sequencer {
	if log == nil {
		log = slog.Default()
	}
	return &Sequencer{
		store:       st,
		prov:        prov,
		verifier:    verifier,
		stepTimeout: constants.DefaultStepTimeout,
		log:         log,
	}
}

// NewRun validates the configuration and registers a run with all steps
// pending.
func (s *Sequencer) NewRun(cfg api.RunConfig) (*api.DeploymentRun, error) {
	if err := validate.RunConfigError(cfg); err != nil {
		return nil, err
	}

	run := &api.DeploymentRun{
		RunID:     uuid.NewString(),
		Status:    api.RunIdle,
		Steps:     NewStepRecords(),
		Resources: make(map[api.ResourceKind]string),
		Config:    cfg,
	}

	if err := s.store.Create(run); err != nil {
		return nil, err
	}

	return run, nil
}

// Run executes the full step graph. Already-completed steps are skipped, so
// re-running a partially completed run resumes where it left off. On the
// first failure the run halts: no later step starts, nothing is rolled back,
// and the failed run is left for inspection or per-step retry.
func (s *Sequencer) Run(ctx context.Context, runID string) error {
	if err := s.store.SetRunStatus(runID, api.RunRunning); err != nil {
		return err
	}

	for _, kind := range StepOrder {
		canceled, err := s.store.IsCanceled(runID)
		if err != nil {
			return err
		}
		if canceled {
			s.log.Info("run canceled, halting", "runID", runID)
			return s.store.SetRunStatus(runID, api.RunFailed)
		}

		status, err := s.store.StepStatus(runID, string(kind))
		if err != nil {
			return err
		}
		if status == api.StepCompleted {
			continue
		}

		if err := s.store.SetStepStatus(runID, string(kind), api.StepInProgress, "", ""); err != nil {
			return err
		}

		if err := s.executeStep(ctx, runID, kind); err != nil {
			s.log.Error("step failed, halting run",
				"runID", runID, "step", kind,
				"code", apperrors.GetErrorCode(err), "error", err)

			if recErr := s.store.SetStepStatus(
				runID, string(kind), api.StepFailed, "", apperrors.GetErrorMessage(err),
			); recErr != nil {
				s.log.Error("failed to record step failure", "runID", runID, "error", recErr)
			}
			if recErr := s.store.SetRunStatus(runID, api.RunFailed); recErr != nil {
				s.log.Error("failed to record run failure", "runID", runID, "error", recErr)
			}
			return err
		}
	}

	return s.store.SetRunStatus(runID, api.RunCompleted)
}

// ClaimStep validates and claims a single step for an operator-driven retry.
// All predecessors must already be completed. A failed step is reset; a
// pending step is started. Completed and in-flight steps are rejected. The
// claimed step is executed by CompleteStep, typically in the background so
// the claiming request can return before retried waits play out.
func (s *Sequencer) ClaimStep(runID string, kind StepKind) error {
	run, err := s.store.Get(runID)
	if err != nil {
		return err
	}

	for _, pred := range Predecessors(kind) {
		status, err := s.store.StepStatus(runID, string(pred))
		if err != nil {
			return err
		}
		if status != api.StepCompleted {
			return apperrors.ErrConflict(fmt.Sprintf(
				"step %s requires %s to be completed, but it is %s", kind, pred, status), nil)
		}
	}

	status, err := s.store.StepStatus(runID, string(kind))
	if err != nil {
		return err
	}

	switch status {
	case api.StepFailed:
		// ResetStep moves the step straight to in_progress, so a concurrent
		// claim of the same step is rejected by the status switch above.
		if err := s.store.ResetStep(runID, string(kind)); err != nil {
			return err
		}
	case api.StepPending:
		if err := s.store.SetStepStatus(runID, string(kind), api.StepInProgress, "", ""); err != nil {
			return err
		}
	default:
		return apperrors.ErrConflict(fmt.Sprintf("step %s is %s", kind, status), nil)
	}

	if run.Status != api.RunRunning {
		if err := s.store.SetRunStatus(runID, api.RunRunning); err != nil {
			return err
		}
	}

	return nil
}

// CompleteStep executes a step previously claimed by ClaimStep and settles
// the run-level status from the step outcomes.
func (s *Sequencer) CompleteStep(ctx context.Context, runID string, kind StepKind) error {
	if err := s.executeStep(ctx, runID, kind); err != nil {
		if recErr := s.store.SetStepStatus(
			runID, string(kind), api.StepFailed, "", apperrors.GetErrorMessage(err),
		); recErr != nil {
			s.log.Error("failed to record step failure", "runID", runID, "error", recErr)
		}
		if recErr := s.store.SetRunStatus(runID, api.RunFailed); recErr != nil {
			s.log.Error("failed to record run failure", "runID", runID, "error", recErr)
		}
		return err
	}

	return s.settleRunStatus(runID)
}

// settleRunStatus recomputes the run-level status after a single-step
// execution: completed when every step is, otherwise back to running or
// failed depending on remaining failures.
func (s *Sequencer) settleRunStatus(runID string) error {
	run, err := s.store.Get(runID)
	if err != nil {
		return err
	}

	allCompleted := true
	anyFailed := false
	for _, step := range run.Steps {
		if step.Status != api.StepCompleted {
			allCompleted = false
		}
		if step.Status == api.StepFailed {
			anyFailed = true
		}
	}

	switch {
	case allCompleted:
		return s.store.SetRunStatus(runID, api.RunCompleted)
	case anyFailed:
		return s.store.SetRunStatus(runID, api.RunFailed)
	default:
		return s.store.SetRunStatus(runID, api.RunRunning)
	}
}

// executeStep dispatches one step with a bounded timeout and records its
// outcome.
func (s *Sequencer) executeStep(ctx context.Context, runID string, kind StepKind) error {
	run, err := s.store.Get(runID)
	if err != nil {
		return err
	}

	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	s.log.Info("executing step", "runID", runID, "step", kind)

	var result *StepResult
	switch kind {
	case StepAuthenticate:
		result, err = s.prov.Authenticate(stepCtx, run.Config)
	case StepEnsurePermissions:
		result, err = s.prov.EnsurePermissions(stepCtx, run.Config, run.Account)
	case StepEnableAPIs:
		result, err = s.prov.EnableAPIs(stepCtx, run.Config)
	case StepEnsureDataset:
		result, err = s.prov.EnsureDataset(stepCtx, run.Config)
	case StepEnsureTopic:
		result, err = s.prov.EnsureTopic(stepCtx, run.Config)
	case StepEnsureBucket:
		result, err = s.prov.EnsureBucket(stepCtx, run.Config)
	case StepEnsureSink:
		result, err = s.prov.EnsureSink(stepCtx, run.Config)
	case StepStartTransform:
		result, err = s.prov.StartTransform(stepCtx, run.Config)
	case StepEnsureViews:
		result, err = s.prov.EnsureViews(stepCtx, run.Config)
	case StepVerifyPipeline:
		result, err = s.verifyPipeline(stepCtx, runID, run.Config)
	default:
		return apperrors.ErrNotFound("unknown step: "+string(kind), nil)
	}
	if err != nil {
		return err
	}

	if result.Account != "" {
		if err := s.store.SetAccount(runID, result.Account); err != nil {
			return err
		}
	}
	for resKind, id := range result.Resources {
		if err := s.store.SetResource(runID, resKind, id); err != nil {
			return err
		}
	}

	return s.store.SetStepStatus(runID, string(kind), api.StepCompleted, result.Detail, "")
}

// verifyPipeline runs the verifier and records the report. An incomplete
// verification fails the step with a timeout: the pipeline may still be
// warming up, and the step is safe to retry.
func (s *Sequencer) verifyPipeline(
	ctx context.Context,
	runID string,
	cfg api.RunConfig,
) (*StepResult, error) {
	report := s.verifier.Verify(ctx, cfg)

	if err := s.store.SetReport(runID, report); err != nil {
		return nil, err
	}

	reached := 0
	for _, hop := range report.Hops {
		if hop.Success {
			reached++
		}
	}
	detail := fmt.Sprintf("marker %s reached %d/%d hops", report.Marker, reached, len(report.Hops))

	if !report.Success {
		return nil, apperrors.ErrTimeout(detail, nil)
	}

	return &StepResult{Detail: detail}, nil
}
