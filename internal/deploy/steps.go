// Package deploy drives pipeline provisioning: a closed set of steps with
// declared predecessors, idempotent per-resource operations, and a sequencer
// that executes the graph and records progress.
package deploy

import (
	"github.com/pipewright/pipewright/internal/api"
	apperrors "github.com/pipewright/pipewright/internal/errors"
)

// StepKind identifies one provisioning step. The set is closed: operators
// cannot define steps, and every run instantiates all of them.
type StepKind string

const (
	StepAuthenticate      StepKind = "authenticate"
	StepEnsurePermissions StepKind = "ensure-permissions"
	StepEnableAPIs        StepKind = "enable-apis"
	StepEnsureDataset     StepKind = "ensure-dataset"
	StepEnsureTopic       StepKind = "ensure-topic"
	StepEnsureBucket      StepKind = "ensure-bucket"
	StepEnsureSink        StepKind = "ensure-sink"
	StepStartTransform    StepKind = "start-transform"
	StepEnsureViews       StepKind = "ensure-views"
	StepVerifyPipeline    StepKind = "verify-pipeline"
)

// StepOrder is the execution order. It is a topological order of the
// predecessor graph; the sequencer walks it front to back.
var StepOrder = []StepKind{
	StepAuthenticate,
	StepEnsurePermissions,
	StepEnableAPIs,
	StepEnsureDataset,
	StepEnsureTopic,
	StepEnsureBucket,
	StepEnsureSink,
	StepStartTransform,
	StepEnsureViews,
	StepVerifyPipeline,
}

// predecessors declares which steps must have completed before a step may
// run. Used both by the full-run walk and by single-step retries.
var predecessors = map[StepKind][]StepKind{
	StepAuthenticate:      {},
	StepEnsurePermissions: {StepAuthenticate},
	StepEnableAPIs:        {StepEnsurePermissions},
	StepEnsureDataset:     {StepEnableAPIs},
	StepEnsureTopic:       {StepEnableAPIs},
	StepEnsureBucket:      {StepEnableAPIs},
	StepEnsureSink:        {StepEnsureDataset, StepEnsureTopic},
	StepStartTransform:    {StepEnsureTopic, StepEnsureBucket, StepEnsureSink},
	StepEnsureViews:       {StepEnsureDataset},
	StepVerifyPipeline:    {StepStartTransform, StepEnsureViews},
}

// Predecessors returns the steps that must complete before kind may run.
func Predecessors(kind StepKind) []StepKind {
	return predecessors[kind]
}

// ParseStepKind converts an operator-supplied step name into a StepKind.
func ParseStepKind(s string) (StepKind, error) {
	kind := StepKind(s)
	if _, ok := predecessors[kind]; !ok {
		return "", apperrors.ErrNotFound("unknown step: "+s, nil)
	}
	return kind, nil
}

// stepMeta carries display information for a step.
type stepMeta struct {
	name        string
	description string
}

var stepMetas = map[StepKind]stepMeta{
	StepAuthenticate: {
		name:        "Authenticate",
		description: "Confirm Google Cloud credentials are usable",
	},
	StepEnsurePermissions: {
		name:        "Check permissions",
		description: "Verify and grant required IAM roles",
	},
	StepEnableAPIs: {
		name:        "Enable APIs",
		description: "Enable required Google Cloud services",
	},
	StepEnsureDataset: {
		name:        "Create dataset",
		description: "Ensure the BigQuery dataset and raw events table exist",
	},
	StepEnsureTopic: {
		name:        "Create Pub/Sub topic",
		description: "Ensure the event topic and subscriptions exist",
	},
	StepEnsureBucket: {
		name:        "Create staging bucket",
		description: "Ensure the Dataflow staging bucket exists",
	},
	StepEnsureSink: {
		name:        "Create log sink",
		description: "Route telemetry logs to Pub/Sub and grant the sink publisher access",
	},
	StepStartTransform: {
		name:        "Start Dataflow job",
		description: "Launch the streaming transform and wait for it to run",
	},
	StepEnsureViews: {
		name:        "Create analytics views",
		description: "Ensure the analytics views over raw events exist",
	},
	StepVerifyPipeline: {
		name:        "Verify pipeline",
		description: "Send a marker event and confirm it reaches every hop",
	},
}

// NewStepRecords instantiates pending step records for a new run, in
// execution order.
func NewStepRecords() []api.StepRecord {
	records := make([]api.StepRecord, 0, len(StepOrder))
	for _, kind := range StepOrder {
		meta := stepMetas[kind]
		records = append(records, api.StepRecord{
			Kind:        string(kind),
			Name:        meta.name,
			Description: meta.description,
			Status:      api.StepPending,
		})
	}
	return records
}
