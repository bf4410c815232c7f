// Package api defines the API types and structures used across pipewright.
package api

import (
	"time"
)

// RunStatus is the lifecycle status of a deployment run.
type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// StepStatus is the lifecycle status of a single step within a run.
// Transitions are monotonic: pending → in_progress → completed|failed.
// A failed step may be reset to in_progress by an explicit retry.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// AuthMode selects how the deployment authenticates against Google Cloud.
type AuthMode string

const (
	// AuthInteractive opens a browser-based credential flow.
	AuthInteractive AuthMode = "interactive"
	// AuthHeadless requires application default credentials to already exist.
	AuthHeadless AuthMode = "headless"
)

// RunConfig is the operator-supplied configuration for a deployment run.
// InferenceProjectID hosts the workload emitting telemetry; TelemetryProjectID
// hosts the pipeline. They are the same project when SameProject is true.
type RunConfig struct {
	InferenceProjectID string   `json:"inference_project_id"`
	TelemetryProjectID string   `json:"telemetry_project_id"`
	SameProject        bool     `json:"same_project"`
	Region             string   `json:"region"`
	DatasetName        string   `json:"dataset_name"`
	Network            string   `json:"network"`
	Subnetwork         string   `json:"subnetwork"`
	AuthMode           AuthMode `json:"auth_mode"`
	LogPrompts         bool     `json:"log_prompts"`
	PseudonymizeIDs    bool     `json:"pseudonymize_ids"`
}

// ResourceKind identifies a kind of provisioned cloud resource.
type ResourceKind string

const (
	ResourceDataset      ResourceKind = "dataset"
	ResourceTable        ResourceKind = "table"
	ResourceView         ResourceKind = "view"
	ResourceTopic        ResourceKind = "topic"
	ResourceSubscription ResourceKind = "subscription"
	ResourceSink         ResourceKind = "sink"
	ResourceBucket       ResourceKind = "bucket"
	ResourceJob          ResourceKind = "job"
)

// ResourceDescriptor records a resource the run created or adopted.
type ResourceDescriptor struct {
	Kind    ResourceKind `json:"kind"`
	ID      string       `json:"id"`
	Project string       `json:"project,omitempty"`
	Region  string       `json:"region,omitempty"`
}

// StepRecord is the recorded state of one step within a run.
type StepRecord struct {
	Kind        string     `json:"kind"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
	Detail      string     `json:"detail,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// DeploymentRun is the full recorded state of a deployment run.
type DeploymentRun struct {
	RunID     string                  `json:"run_id"`
	Status    RunStatus               `json:"status"`
	Account   string                  `json:"account,omitempty"`
	Steps     []StepRecord            `json:"steps"`
	Resources map[ResourceKind]string `json:"resources,omitempty"`
	Config    RunConfig               `json:"config"`
	Report    *VerificationReport     `json:"verification,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
	// Canceled is set by an operator abort; the sequencer starts no further
	// steps once it is set.
	Canceled bool `json:"canceled,omitempty"`
}

// CreateRunRequest is the body of POST /runs.
type CreateRunRequest struct {
	Config RunConfig `json:"config"`
}

// CreateRunResponse is returned immediately after a run is accepted.
type CreateRunResponse struct {
	RunID  string    `json:"run_id"`
	Status RunStatus `json:"status"`
}

// ListRunsResponse lists all known runs, newest first.
type ListRunsResponse struct {
	Runs []DeploymentRun `json:"runs"`
}

// ValidationErrorResponse carries all input violations at once so operators
// can fix the whole form in one pass.
type ValidationErrorResponse struct {
	Error      string   `json:"error"`
	Code       string   `json:"code"`
	Violations []string `json:"violations"`
}

// CancelRunResponse is returned after an operator abort is recorded.
type CancelRunResponse struct {
	RunID   string `json:"run_id"`
	Message string `json:"message"`
}
