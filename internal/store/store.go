// Package store keeps the authoritative record of deployment runs. One
// goroutine per run writes; any number of HTTP handlers read. Reads return
// deep copies so callers never observe a run mid-mutation.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/pipewright/pipewright/internal/api"
	apperrors "github.com/pipewright/pipewright/internal/errors"
)

// Store is an in-memory run registry safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*api.DeploymentRun
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		runs: make(map[string]*api.DeploymentRun),
	}
}

// statusRank orders step statuses for the monotonic transition guard.
var statusRank = map[api.StepStatus]int{
	api.StepPending:    0,
	api.StepInProgress: 1,
	api.StepCompleted:  2,
	api.StepFailed:     2,
}

// Create registers a new run. The run ID must be unused.
func (s *Store) Create(run *api.DeploymentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.RunID]; exists {
		return apperrors.ErrConflict("run already exists: "+run.RunID, nil)
	}

	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	s.runs[run.RunID] = copyRun(run)

	return nil
}

// Get returns a deep copy of the run, or a not found error.
func (s *Store) Get(runID string) (*api.DeploymentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, apperrors.ErrNotFound("run not found: "+runID, nil)
	}

	return copyRun(run), nil
}

// List returns deep copies of all runs, newest first.
func (s *Store) List() []api.DeploymentRun {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]api.DeploymentRun, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, *copyRun(run))
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	return runs
}

// apply mutates a run under the write lock. The mutation sees the live run
// and must not retain references past its return.
func (s *Store) apply(runID string, mutate func(run *api.DeploymentRun) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return apperrors.ErrNotFound("run not found: "+runID, nil)
	}

	if err := mutate(run); err != nil {
		return err
	}

	run.UpdatedAt = time.Now().UTC()
	return nil
}

// SetRunStatus updates the run-level status.
func (s *Store) SetRunStatus(runID string, status api.RunStatus) error {
	return s.apply(runID, func(run *api.DeploymentRun) error {
		run.Status = status
		return nil
	})
}

// SetStepStatus transitions a step. Transitions must be monotonic
// (pending → in_progress → completed|failed); a regression is rejected.
// An explicit retry restarts a failed step through ResetStep instead.
func (s *Store) SetStepStatus(
	runID, stepKind string,
	status api.StepStatus,
	detail, errMsg string,
) error {
	return s.apply(runID, func(run *api.DeploymentRun) error {
		step := findStep(run, stepKind)
		if step == nil {
			return apperrors.ErrNotFound("unknown step: "+stepKind, nil)
		}

		if statusRank[status] < statusRank[step.Status] {
			return apperrors.ErrConflict(
				"step "+stepKind+" cannot move from "+string(step.Status)+" to "+string(status), nil)
		}
		if statusRank[status] == statusRank[step.Status] && status != step.Status &&
			step.Status != api.StepPending {
			// completed and failed are both terminal; flipping between them
			// is a regression too.
			return apperrors.ErrConflict(
				"step "+stepKind+" is already "+string(step.Status), nil)
		}

		now := time.Now().UTC()
		switch status {
		case api.StepInProgress:
			step.StartedAt = &now
		case api.StepCompleted, api.StepFailed:
			step.CompletedAt = &now
		case api.StepPending:
		}

		step.Status = status
		if detail != "" {
			step.Detail = detail
		}
		step.Error = errMsg

		return nil
	})
}

// ResetStep returns a failed step to in_progress for an explicit retry.
// Only failed steps may be reset.
func (s *Store) ResetStep(runID, stepKind string) error {
	return s.apply(runID, func(run *api.DeploymentRun) error {
		step := findStep(run, stepKind)
		if step == nil {
			return apperrors.ErrNotFound("unknown step: "+stepKind, nil)
		}
		if step.Status != api.StepFailed {
			return apperrors.ErrConflict(
				"step "+stepKind+" is "+string(step.Status)+", only failed steps can be retried", nil)
		}

		now := time.Now().UTC()
		step.Status = api.StepInProgress
		step.StartedAt = &now
		step.CompletedAt = nil
		step.Error = ""

		return nil
	})
}

// StepStatus reads one step's current status.
func (s *Store) StepStatus(runID, stepKind string) (api.StepStatus, error) {
	run, err := s.Get(runID)
	if err != nil {
		return "", err
	}

	step := findStep(run, stepKind)
	if step == nil {
		return "", apperrors.ErrNotFound("unknown step: "+stepKind, nil)
	}

	return step.Status, nil
}

// SetResource records a provisioned resource on the run.
func (s *Store) SetResource(runID string, kind api.ResourceKind, id string) error {
	return s.apply(runID, func(run *api.DeploymentRun) error {
		if run.Resources == nil {
			run.Resources = make(map[api.ResourceKind]string)
		}
		run.Resources[kind] = id
		return nil
	})
}

// SetAccount records the authenticated principal for the run.
func (s *Store) SetAccount(runID, account string) error {
	return s.apply(runID, func(run *api.DeploymentRun) error {
		run.Account = account
		return nil
	})
}

// SetReport records the verification report for the run.
func (s *Store) SetReport(runID string, report *api.VerificationReport) error {
	return s.apply(runID, func(run *api.DeploymentRun) error {
		run.Report = copyReport(report)
		return nil
	})
}

// Cancel marks the run canceled. The in-flight step finishes naturally; no
// further step starts.
func (s *Store) Cancel(runID string) error {
	return s.apply(runID, func(run *api.DeploymentRun) error {
		run.Canceled = true
		return nil
	})
}

// IsCanceled reports whether an operator abort was recorded.
func (s *Store) IsCanceled(runID string) (bool, error) {
	run, err := s.Get(runID)
	if err != nil {
		return false, err
	}
	return run.Canceled, nil
}

func findStep(run *api.DeploymentRun, stepKind string) *api.StepRecord {
	for i := range run.Steps {
		if run.Steps[i].Kind == stepKind {
			return &run.Steps[i]
		}
	}
	return nil
}

func copyRun(run *api.DeploymentRun) *api.DeploymentRun {
	dup := *run

	dup.Steps = make([]api.StepRecord, len(run.Steps))
	copy(dup.Steps, run.Steps)
	for i := range run.Steps {
		if run.Steps[i].StartedAt != nil {
			t := *run.Steps[i].StartedAt
			dup.Steps[i].StartedAt = &t
		}
		if run.Steps[i].CompletedAt != nil {
			t := *run.Steps[i].CompletedAt
			dup.Steps[i].CompletedAt = &t
		}
	}

	if run.Resources != nil {
		dup.Resources = make(map[api.ResourceKind]string, len(run.Resources))
		for k, v := range run.Resources {
			dup.Resources[k] = v
		}
	}

	dup.Report = copyReport(run.Report)

	return &dup
}

func copyReport(report *api.VerificationReport) *api.VerificationReport {
	if report == nil {
		return nil
	}
	dup := *report
	dup.Hops = make([]api.HopResult, len(report.Hops))
	copy(dup.Hops, report.Hops)
	return &dup
}
