package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pipewright/pipewright/internal/api"
	"github.com/pipewright/pipewright/internal/constants"
	apperrors "github.com/pipewright/pipewright/internal/errors"
	"github.com/pipewright/pipewright/internal/gcp"
	"github.com/pipewright/pipewright/internal/waiter"
)

// requiredServices are enabled on the telemetry project before any resource
// is created.
var requiredServices = []string{
	"logging.googleapis.com",
	"pubsub.googleapis.com",
	"dataflow.googleapis.com",
	"bigquery.googleapis.com",
	"storage.googleapis.com",
	"compute.googleapis.com",
}

// requiredRoles is what the deploying principal needs on the telemetry
// project. Missing roles are granted best-effort and the grant is awaited.
var requiredRoles = []string{
	"roles/bigquery.admin",
	"roles/pubsub.admin",
	"roles/dataflow.admin",
	"roles/storage.admin",
	"roles/logging.configWriter",
	"roles/serviceusage.serviceUsageAdmin",
}

// crossProjectRoles is additionally needed on the inference project when the
// sink lives in a different project than the pipeline.
var crossProjectRoles = []string{
	"roles/logging.configWriter",
	"roles/serviceusage.serviceUsageAdmin",
}

// StepResult is what a completed step hands back to the sequencer: a
// human-readable detail line plus any resources to record on the run.
type StepResult struct {
	Detail    string
	Resources map[api.ResourceKind]string
	Account   string
}

// Provisioner performs the idempotent per-resource operations. Every
// operation checks for the resource first, adopts a compatible existing one,
// creates a missing one, and fails with a conflict when the existing resource
// is incompatible with the requested configuration.
type Provisioner struct {
	clients    *gcp.Clients
	runCommand commandRunner
	log        *slog.Logger

	// Wait policies, overridable for tests.
	iamPropagation    waiter.Options
	serviceEnablement waiter.Options
	jobStartup        waiter.Options
}

// NewProvisioner returns a Provisioner over the given clients.
func NewProvisioner(clients *gcp.Clients, log *slog.Logger) *Provisioner {
	if log == nil {
		log = slog.Default()
	}
	return &Provisioner{
		clients:    clients,
		runCommand: runGcloud,
		log:        log,
		iamPropagation: waiter.Options{
			Interval: constants.IAMPropagationInterval,
			Budget:   constants.IAMPropagationBudget,
		},
		serviceEnablement: waiter.Options{
			Interval: 5 * time.Second,
			Budget:   time.Minute,
		},
		jobStartup: waiter.Options{
			Interval: constants.JobStartupInterval,
			Budget:   constants.JobStartupBudget,
		},
	}
}

func withDescription(opts waiter.Options, description string) waiter.Options {
	opts.Description = description
	return opts
}

// sinkProject returns the project the log sink is created in: the inference
// project when it differs from the telemetry project.
func sinkProject(cfg api.RunConfig) string {
	if cfg.SameProject || cfg.InferenceProjectID == "" {
		return cfg.TelemetryProjectID
	}
	return cfg.InferenceProjectID
}

func bucketName(cfg api.RunConfig) string {
	return cfg.TelemetryProjectID + constants.BucketSuffix
}

// EnsurePermissions verifies the deploying principal holds the required
// roles, grants missing ones best-effort, and waits for the grants to become
// visible. Grants need an account email; headless credentials without one
// only get verified access.
func (p *Provisioner) EnsurePermissions(
	ctx context.Context,
	cfg api.RunConfig,
	account string,
) (*StepResult, error) {
	type target struct {
		project string
		roles   []string
	}

	targets := []target{{cfg.TelemetryProjectID, requiredRoles}}
	if sp := sinkProject(cfg); sp != cfg.TelemetryProjectID {
		targets = append(targets, target{sp, crossProjectRoles})
	}

	if !strings.Contains(account, "@") {
		// No principal email to bind; confirm project access and move on.
		for _, t := range targets {
			if _, err := p.clients.IAM.CallerIdentity(ctx, t.project); err != nil {
				return nil, err
			}
		}
		return &StepResult{Detail: "project access confirmed; role grants skipped (no account email)"}, nil
	}

	member := "user:" + account
	granted := 0

	for _, t := range targets {
		for _, role := range t.roles {
			has, err := p.clients.IAM.HasProjectBinding(ctx, t.project, member, role)
			if err != nil {
				return nil, err
			}
			if has {
				continue
			}

			p.log.Info("granting missing role", "project", t.project, "role", role, "member", member)
			if err := p.clients.IAM.AddProjectBinding(ctx, t.project, member, role); err != nil {
				return nil, err
			}
			granted++
		}
	}

	if granted == 0 {
		return &StepResult{Detail: "all required roles already held"}, nil
	}

	// New grants take up to ~90s to become visible to the services.
	visible, err := waiter.Await(ctx, func(ctx context.Context) (bool, error) {
		for _, t := range targets {
			for _, role := range t.roles {
				has, err := p.clients.IAM.HasProjectBinding(ctx, t.project, member, role)
				if err != nil || !has {
					return false, err
				}
			}
		}
		return true, nil
	}, withDescription(p.iamPropagation, "role grant propagation"))
	if err != nil {
		return nil, apperrors.ErrTimeout("canceled while waiting for role grants", err)
	}
	if !visible {
		return nil, apperrors.ErrTimeout(
			fmt.Sprintf("granted %d role(s) but grants were not visible within %s",
				granted, constants.IAMPropagationBudget), nil)
	}

	return &StepResult{Detail: fmt.Sprintf("granted %d missing role(s)", granted)}, nil
}

// EnableAPIs enables the required services on the telemetry project and
// waits until each reports enabled.
func (p *Provisioner) EnableAPIs(ctx context.Context, cfg api.RunConfig) (*StepResult, error) {
	if err := p.clients.ServiceUsage.EnableServices(
		ctx, cfg.TelemetryProjectID, requiredServices,
	); err != nil {
		return nil, err
	}

	var pending []string
	ok, err := waiter.Await(ctx, func(ctx context.Context) (bool, error) {
		pending = pending[:0]
		for _, svc := range requiredServices {
			enabled, err := p.clients.ServiceUsage.ServiceEnabled(ctx, cfg.TelemetryProjectID, svc)
			if err != nil {
				return false, err
			}
			if !enabled {
				pending = append(pending, svc)
			}
		}
		return len(pending) == 0, nil
	}, withDescription(p.serviceEnablement, "service enablement"))
	if err != nil {
		return nil, apperrors.ErrTimeout("canceled while waiting for service enablement", err)
	}
	if !ok {
		return nil, apperrors.ErrTimeout(
			"services not enabled in time: "+strings.Join(pending, ", "), nil)
	}

	return &StepResult{
		Detail: fmt.Sprintf("%d services enabled", len(requiredServices)),
	}, nil
}

// EnsureDataset ensures the BigQuery dataset and the raw events table exist.
// An existing dataset in a different location is a conflict: BigQuery cannot
// move datasets, and silently writing to another region would violate the
// operator's residency choice.
func (p *Provisioner) EnsureDataset(ctx context.Context, cfg api.RunConfig) (*StepResult, error) {
	project := cfg.TelemetryProjectID

	exists, location, err := p.clients.BigQuery.GetDataset(ctx, project, cfg.DatasetName)
	if err != nil {
		return nil, err
	}

	detail := "dataset created"
	if exists {
		if !strings.EqualFold(location, cfg.Region) {
			return nil, apperrors.ErrConflict(fmt.Sprintf(
				"dataset %s already exists in region %s, expected %s",
				cfg.DatasetName, location, cfg.Region), nil)
		}
		detail = "dataset already exists"
	} else {
		if err := p.clients.BigQuery.CreateDataset(ctx, project, cfg.DatasetName, cfg.Region); err != nil {
			return nil, err
		}
	}

	tableExists, err := p.clients.BigQuery.TableExists(ctx, project, cfg.DatasetName, constants.RawTableName)
	if err != nil {
		return nil, err
	}
	if !tableExists {
		if err := p.clients.BigQuery.CreateRawEventsTable(
			ctx, project, cfg.DatasetName, constants.RawTableName,
		); err != nil {
			return nil, err
		}
	}

	return &StepResult{
		Detail: detail,
		Resources: map[api.ResourceKind]string{
			api.ResourceDataset: cfg.DatasetName,
			api.ResourceTable:   constants.RawTableName,
		},
	}, nil
}

const subscriptionAckDeadline = 30 * time.Second

// EnsureTopic ensures the event topic, the transform input subscription, and
// the verification subscription exist.
func (p *Provisioner) EnsureTopic(ctx context.Context, cfg api.RunConfig) (*StepResult, error) {
	project := cfg.TelemetryProjectID

	exists, err := p.clients.PubSub.TopicExists(ctx, project, constants.TopicName)
	if err != nil {
		return nil, err
	}

	detail := "topic created"
	if exists {
		detail = "topic already exists"
	} else {
		if err := p.clients.PubSub.CreateTopic(ctx, project, constants.TopicName); err != nil {
			return nil, err
		}
	}

	for _, sub := range []string{constants.SubscriptionName, constants.VerificationSubName} {
		subExists, err := p.clients.PubSub.SubscriptionExists(ctx, project, sub)
		if err != nil {
			return nil, err
		}
		if subExists {
			continue
		}
		if err := p.clients.PubSub.CreateSubscription(
			ctx, project, sub, constants.TopicName, subscriptionAckDeadline,
		); err != nil {
			return nil, err
		}
	}

	return &StepResult{
		Detail: detail,
		Resources: map[api.ResourceKind]string{
			api.ResourceTopic:        constants.TopicName,
			api.ResourceSubscription: constants.SubscriptionName,
		},
	}, nil
}

// transformUDF remaps an exported LogEntry onto the raw events schema. The
// template hands each message's data to this function as a JSON line; without
// it the camelCase LogEntry fields would never match the snake_case columns.
const transformUDF = `function transform(line) {
  var entry = JSON.parse(line);
  return JSON.stringify({
    insert_id: entry.insertId,
    log_name: entry.logName,
    timestamp: entry.timestamp,
    labels: entry.labels ? JSON.stringify(entry.labels) : null,
    payload: entry.jsonPayload ? JSON.stringify(entry.jsonPayload) : null,
    ingested_at: new Date().toISOString()
  });
}
`

// EnsureBucket ensures the Dataflow staging bucket exists in the requested
// region and holds the transform function the job applies.
func (p *Provisioner) EnsureBucket(ctx context.Context, cfg api.RunConfig) (*StepResult, error) {
	name := bucketName(cfg)

	exists, location, err := p.clients.Storage.GetBucket(ctx, name)
	if err != nil {
		return nil, err
	}

	detail := "bucket created"
	if exists {
		if !strings.EqualFold(location, cfg.Region) {
			return nil, apperrors.ErrConflict(fmt.Sprintf(
				"bucket %s already exists in region %s, expected %s",
				name, location, cfg.Region), nil)
		}
		detail = "bucket already exists"
	} else {
		if err := p.clients.Storage.CreateBucket(ctx, cfg.TelemetryProjectID, name, cfg.Region); err != nil {
			return nil, err
		}
	}

	udfExists, err := p.clients.Storage.ObjectExists(ctx, name, constants.TransformUDFObject)
	if err != nil {
		return nil, err
	}
	if udfExists {
		detail += ", transform present"
	} else {
		if err := p.clients.Storage.UploadObject(
			ctx, name, constants.TransformUDFObject, []byte(transformUDF),
		); err != nil {
			return nil, err
		}
		detail += ", transform uploaded"
	}

	return &StepResult{
		Detail:    detail,
		Resources: map[api.ResourceKind]string{api.ResourceBucket: name},
	}, nil
}

// telemetryLogFilter selects the log entries the sink routes: model
// telemetry plus the verification log used by the pipeline verifier.
func telemetryLogFilter(project string) string {
	return fmt.Sprintf(
		`logName="projects/%s/logs/%s" OR resource.type="aiplatform.googleapis.com/Endpoint"`,
		project, constants.VerificationLogName,
	)
}

// EnsureSink ensures the log sink routes telemetry into the event topic and
// that the sink's writer identity may publish to it. The publisher grant is
// awaited: routing silently drops entries until the grant is visible.
func (p *Provisioner) EnsureSink(ctx context.Context, cfg api.RunConfig) (*StepResult, error) {
	project := sinkProject(cfg)
	destination := fmt.Sprintf("pubsub.googleapis.com/projects/%s/topics/%s",
		cfg.TelemetryProjectID, constants.TopicName)

	exists, existingDest, writerIdentity, err := p.clients.Logging.GetSink(
		ctx, project, constants.SinkName,
	)
	if err != nil {
		return nil, err
	}

	detail := "sink created"
	if exists {
		if existingDest != destination {
			return nil, apperrors.ErrConflict(fmt.Sprintf(
				"sink %s already routes to %s, expected %s",
				constants.SinkName, existingDest, destination), nil)
		}
		detail = "sink already exists"
	} else {
		writerIdentity, err = p.clients.Logging.CreateSink(
			ctx, project, constants.SinkName, destination, telemetryLogFilter(project),
		)
		if err != nil {
			return nil, err
		}
	}

	if err := p.clients.PubSub.GrantTopicPublisher(
		ctx, cfg.TelemetryProjectID, constants.TopicName, writerIdentity,
	); err != nil {
		return nil, err
	}

	visible, err := waiter.Await(ctx, func(ctx context.Context) (bool, error) {
		return p.clients.PubSub.TopicPublisherGranted(
			ctx, cfg.TelemetryProjectID, constants.TopicName, writerIdentity)
	}, withDescription(p.iamPropagation, "sink publisher grant propagation"))
	if err != nil {
		return nil, apperrors.ErrTimeout("canceled while waiting for sink publisher grant", err)
	}
	if !visible {
		return nil, apperrors.ErrTimeout(fmt.Sprintf(
			"publisher grant for %s not visible within %s",
			writerIdentity, constants.IAMPropagationBudget), nil)
	}

	return &StepResult{
		Detail:    fmt.Sprintf("%s, writer %s", detail, writerIdentity),
		Resources: map[api.ResourceKind]string{api.ResourceSink: constants.SinkName},
	}, nil
}

const (
	transformTemplatePath = "gs://dataflow-templates/latest/PubSub_Subscription_to_BigQuery"
	transformMaxWorkers   = 2
	dataflowWorkerRole    = "roles/dataflow.worker"
)

// ensureWorkerServiceAccount waits for the Compute default service account,
// which the transform workers run as. On a fresh project it is created
// asynchronously after the compute API is enabled; launching before it is
// visible fails the job. The worker role is granted best-effort.
func (p *Provisioner) ensureWorkerServiceAccount(
	ctx context.Context,
	project string,
) (string, error) {
	number, err := p.clients.IAM.ProjectNumber(ctx, project)
	if err != nil {
		return "", err
	}
	workerSA := number + "-compute@developer.gserviceaccount.com"

	visible, err := waiter.Await(ctx, func(ctx context.Context) (bool, error) {
		return p.clients.IAM.ServiceAccountExists(ctx, project, workerSA)
	}, withDescription(p.iamPropagation, "worker service account visibility"))
	if err != nil {
		return "", apperrors.ErrTimeout("canceled while waiting for the worker service account", err)
	}
	if !visible {
		return "", apperrors.ErrTimeout(fmt.Sprintf(
			"worker service account %s not visible within %s",
			workerSA, constants.IAMPropagationBudget), nil)
	}

	member := "serviceAccount:" + workerSA
	if err := p.clients.IAM.AddProjectBinding(ctx, project, member, dataflowWorkerRole); err != nil {
		// The role may already be held through a group or inherited binding.
		p.log.Warn("could not grant worker role", "member", member, "error", err)
	}

	return workerSA, nil
}

// StartTransform launches the streaming transform job, or adopts an already
// active job by the same name, then waits for it to reach running. Worker
// pools take low minutes to start; a job that has not reached running within
// the budget fails the step with a timeout.
func (p *Provisioner) StartTransform(ctx context.Context, cfg api.RunConfig) (*StepResult, error) {
	project := cfg.TelemetryProjectID

	jobID, state, err := p.clients.Dataflow.FindJob(ctx, project, cfg.Region, constants.TransformJobName)
	if err != nil {
		return nil, err
	}

	detail := "job launched"
	if jobID != "" {
		p.log.Info("adopting active transform job", "jobID", jobID, "state", state)
		detail = "adopted active job"
	} else {
		if _, err := p.ensureWorkerServiceAccount(ctx, project); err != nil {
			return nil, err
		}

		parameters := map[string]string{
			"inputSubscription": fmt.Sprintf("projects/%s/subscriptions/%s",
				project, constants.SubscriptionName),
			"outputTableSpec": fmt.Sprintf("%s:%s.%s",
				project, cfg.DatasetName, constants.RawTableName),
			"javascriptTextTransformGcsPath": fmt.Sprintf("gs://%s/%s",
				bucketName(cfg), constants.TransformUDFObject),
			"javascriptTextTransformFunctionName": constants.TransformUDFFunction,
		}
		env := gcp.JobEnvironment{
			Network:      cfg.Network,
			Subnetwork:   cfg.Subnetwork,
			TempLocation: fmt.Sprintf("gs://%s/temp", bucketName(cfg)),
			MaxWorkers:   transformMaxWorkers,
		}

		jobID, err = p.clients.Dataflow.LaunchTemplate(
			ctx, project, cfg.Region, constants.TransformJobName,
			transformTemplatePath, parameters, env,
		)
		if err != nil {
			return nil, err
		}
	}

	var terminalState string
	running, err := waiter.Await(ctx, func(ctx context.Context) (bool, error) {
		current, err := p.clients.Dataflow.JobState(ctx, project, cfg.Region, jobID)
		if err != nil {
			return false, err
		}
		switch current {
		case gcp.JobStateRunning:
			return true, nil
		case gcp.JobStateFailed, gcp.JobStateCancelled:
			terminalState = current
			return true, nil
		}
		return false, nil
	}, withDescription(p.jobStartup, "dataflow job startup"))
	if err != nil {
		return nil, apperrors.ErrTimeout("canceled while waiting for job startup", err)
	}
	if terminalState != "" {
		return nil, apperrors.ErrInternal(fmt.Sprintf(
			"transform job %s entered %s during startup", jobID, terminalState), nil)
	}
	if !running {
		return nil, apperrors.ErrTimeout(fmt.Sprintf(
			"transform job %s did not reach running within %s",
			jobID, constants.JobStartupBudget), nil)
	}

	return &StepResult{
		Detail:    fmt.Sprintf("%s, job %s running", detail, jobID),
		Resources: map[api.ResourceKind]string{api.ResourceJob: jobID},
	}, nil
}

// analyticsViews returns the view definitions for the dataset. Identifier
// columns are hashed when the operator asked for pseudonymization, and raw
// payloads are only exposed when prompt logging is enabled.
func analyticsViews(cfg api.RunConfig) []struct{ Name, Query string } {
	table := fmt.Sprintf("`%s.%s.%s`", cfg.TelemetryProjectID, cfg.DatasetName, constants.RawTableName)

	idExpr := "insert_id"
	if cfg.PseudonymizeIDs {
		idExpr = "TO_HEX(SHA256(insert_id))"
	}

	payloadCols := ""
	if cfg.LogPrompts {
		payloadCols = ", payload"
	}

	return []struct{ Name, Query string }{
		{
			Name: constants.AnalyticsViewName,
			Query: fmt.Sprintf(
				"SELECT %s AS event_id, timestamp, log_name, labels%s FROM %s",
				idExpr, payloadCols, table),
		},
		{
			Name: "daily_event_counts",
			Query: fmt.Sprintf(
				"SELECT DATE(timestamp) AS day, COUNT(*) AS events FROM %s GROUP BY day",
				table),
		},
	}
}

// EnsureViews ensures the analytics views exist. Views are independent;
// every view is attempted and partial results are reported.
func (p *Provisioner) EnsureViews(ctx context.Context, cfg api.RunConfig) (*StepResult, error) {
	var created, existing, failed []string

	for _, view := range analyticsViews(cfg) {
		exists, err := p.clients.BigQuery.ViewExists(ctx, cfg.TelemetryProjectID, cfg.DatasetName, view.Name)
		if err == nil && exists {
			existing = append(existing, view.Name)
			continue
		}
		if err == nil {
			err = p.clients.BigQuery.CreateView(
				ctx, cfg.TelemetryProjectID, cfg.DatasetName, view.Name, view.Query)
		}
		if err != nil {
			p.log.Warn("view creation failed", "view", view.Name, "error", err)
			failed = append(failed, view.Name)
			continue
		}
		created = append(created, view.Name)
	}

	detail := fmt.Sprintf("views created: %d, existing: %d", len(created), len(existing))
	if len(failed) > 0 {
		return nil, apperrors.ErrInternal(
			detail+", failed: "+strings.Join(failed, ", "), nil)
	}

	return &StepResult{
		Detail:    detail,
		Resources: map[api.ResourceKind]string{api.ResourceView: constants.AnalyticsViewName},
	}, nil
}
