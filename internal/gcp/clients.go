// Package gcp wraps the Google Cloud SDKs behind narrow per-service client
// interfaces. Provisioning and verification code depends on these interfaces;
// tests substitute func-field mocks.
package gcp

import (
	"context"
	"errors"
	"strings"
	"time"

	apperrors "github.com/pipewright/pipewright/internal/errors"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Clients holds the per-service API clients needed for pipeline deployment
// and verification.
type Clients struct {
	BigQuery     BigQueryClient
	PubSub       PubSubClient
	Logging      LoggingClient
	Dataflow     DataflowClient
	Storage      StorageClient
	IAM          IAMClient
	ServiceUsage ServiceUsageClient
}

// BigQueryClient abstracts BigQuery dataset, table, and view operations.
type BigQueryClient interface {
	// GetDataset reports whether the dataset exists and, if so, its location.
	GetDataset(ctx context.Context, projectID, datasetID string) (bool, string, error)
	CreateDataset(ctx context.Context, projectID, datasetID, location string) error
	TableExists(ctx context.Context, projectID, datasetID, tableID string) (bool, error)
	CreateRawEventsTable(ctx context.Context, projectID, datasetID, tableID string) error
	ViewExists(ctx context.Context, projectID, datasetID, viewID string) (bool, error)
	CreateView(ctx context.Context, projectID, datasetID, viewID, query string) error
	// CountMarkerRows counts rows in the table whose marker column matches,
	// restricted to rows ingested within the window.
	CountMarkerRows(
		ctx context.Context,
		projectID, datasetID, tableID, marker string,
		window time.Duration,
	) (int, error)
}

// PubSubClient abstracts Pub/Sub topic and subscription operations.
type PubSubClient interface {
	TopicExists(ctx context.Context, projectID, topicID string) (bool, error)
	CreateTopic(ctx context.Context, projectID, topicID string) error
	SubscriptionExists(ctx context.Context, projectID, subscriptionID string) (bool, error)
	CreateSubscription(
		ctx context.Context,
		projectID, subscriptionID, topicID string,
		ackDeadline time.Duration,
	) error
	GrantTopicPublisher(ctx context.Context, projectID, topicID, member string) error
	TopicPublisherGranted(ctx context.Context, projectID, topicID, member string) (bool, error)
	// ReceiveMarker pulls from the subscription for up to wait and returns
	// how many messages carried the marker attribute.
	ReceiveMarker(
		ctx context.Context,
		projectID, subscriptionID, marker string,
		wait time.Duration,
	) (int, error)
}

// LoggingClient abstracts Cloud Logging sink management, log writing, and
// entry queries.
type LoggingClient interface {
	// GetSink reports whether the sink exists and, if so, its destination and
	// writer identity.
	GetSink(ctx context.Context, projectID, sinkID string) (bool, string, string, error)
	CreateSink(
		ctx context.Context,
		projectID, sinkID, destination, filter string,
	) (string, error)
	// WriteMarkerEntry emits a log entry through the normal Cloud Logging
	// write path, carrying the marker as a label.
	WriteMarkerEntry(
		ctx context.Context,
		projectID, logName, marker string,
		payload map[string]string,
	) error
	CountMarkerEntries(
		ctx context.Context,
		projectID, logName, marker string,
		since time.Time,
	) (int, error)
}

// DataflowClient abstracts Dataflow template launching and job inspection.
type DataflowClient interface {
	// FindJob looks up an active job by name. Returns the job ID and state,
	// or an empty job ID when no active job matches.
	FindJob(ctx context.Context, projectID, region, jobName string) (string, string, error)
	LaunchTemplate(
		ctx context.Context,
		projectID, region, jobName, templatePath string,
		parameters map[string]string,
		env JobEnvironment,
	) (string, error)
	JobState(ctx context.Context, projectID, region, jobID string) (string, error)
}

// JobEnvironment carries the runtime environment for a launched Dataflow job.
type JobEnvironment struct {
	Network      string
	Subnetwork   string
	TempLocation string
	MaxWorkers   int
}

// Dataflow job states surfaced to callers, mirroring the service's
// JOB_STATE_* values.
const (
	JobStateRunning   = "JOB_STATE_RUNNING"
	JobStatePending   = "JOB_STATE_PENDING"
	JobStateFailed    = "JOB_STATE_FAILED"
	JobStateCancelled = "JOB_STATE_CANCELLED"
)

// StorageClient abstracts GCS bucket and object operations.
type StorageClient interface {
	// GetBucket reports whether the bucket exists and, if so, its location.
	GetBucket(ctx context.Context, bucketName string) (bool, string, error)
	CreateBucket(ctx context.Context, projectID, bucketName, location string) error
	ObjectExists(ctx context.Context, bucketName, objectName string) (bool, error)
	UploadObject(ctx context.Context, bucketName, objectName string, contents []byte) error
}

// IAMClient abstracts project IAM policy and service account operations.
type IAMClient interface {
	HasProjectBinding(ctx context.Context, projectID, member, role string) (bool, error)
	AddProjectBinding(ctx context.Context, projectID, member, role string) error
	// ServiceAccountExists reports whether the service account is visible.
	// Managed service accounts appear asynchronously after API enablement.
	ServiceAccountExists(ctx context.Context, projectID, email string) (bool, error)
	ProjectNumber(ctx context.Context, projectID string) (string, error)
	// CallerIdentity returns the authenticated principal, used to confirm
	// credentials are usable before provisioning starts.
	CallerIdentity(ctx context.Context, projectID string) (string, error)
}

// ServiceUsageClient abstracts service enablement operations.
type ServiceUsageClient interface {
	EnableServices(ctx context.Context, projectID string, services []string) error
	ServiceEnabled(ctx context.Context, projectID, service string) (bool, error)
}

// NewClients constructs the full client set against the real services,
// using application default credentials.
func NewClients(ctx context.Context) (*Clients, error) {
	dataflowClient, err := NewDataflowClient(ctx)
	if err != nil {
		return nil, err
	}

	iamClient, err := NewIAMClient(ctx)
	if err != nil {
		return nil, err
	}

	serviceUsageClient, err := NewServiceUsageClient(ctx)
	if err != nil {
		return nil, err
	}

	return &Clients{
		BigQuery:     NewBigQueryClient(),
		PubSub:       NewPubSubClient(),
		Logging:      NewLoggingClient(),
		Dataflow:     dataflowClient,
		Storage:      NewStorageClient(),
		IAM:          iamClient,
		ServiceUsage: serviceUsageClient,
	}, nil
}

// classifyError maps SDK errors onto the application error taxonomy. Both
// gRPC status codes and googleapi HTTP errors are recognized; anything else
// becomes an internal error.
func classifyError(err error, message string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.ErrTimeout(message, err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case 404:
			return apperrors.ErrNotFound(message, err)
		case 409:
			return apperrors.ErrConflict(message, err)
		case 403:
			return apperrors.ErrPermission(message, err)
		case 429, 500, 502, 503, 504:
			return apperrors.ErrTransient(message, err)
		}
		return apperrors.ErrInternal(message, err)
	}

	//nolint:exhaustive // remaining codes fall through to internal
	switch status.Code(err) {
	case codes.NotFound:
		return apperrors.ErrNotFound(message, err)
	case codes.AlreadyExists:
		return apperrors.ErrConflict(message, err)
	case codes.PermissionDenied:
		return apperrors.ErrPermission(message, err)
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return apperrors.ErrTransient(message, err)
	case codes.DeadlineExceeded:
		return apperrors.ErrTimeout(message, err)
	}

	return apperrors.ErrInternal(message, err)
}

// isNotFound reports whether err indicates a missing resource, in either
// gRPC or REST form. Some services return PermissionDenied for resources the
// caller cannot see; those are not treated as missing here.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 404
	}

	return status.Code(err) == codes.NotFound
}

// isAlreadyExists reports whether err indicates the resource was created
// concurrently. Callers treat this as success for ensure operations.
func isAlreadyExists(err error) bool {
	if err == nil {
		return false
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 409 && strings.Contains(strings.ToLower(gerr.Message), "already")
	}

	return status.Code(err) == codes.AlreadyExists
}
