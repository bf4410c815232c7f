// Package constants holds project-wide constants shared by the CLI and the
// HTTP service.
package constants

import "time"

// ProjectName is the canonical name used in CLI output and user agents.
const ProjectName = "pipewright"

// Environment identifies where the process is running, which controls
// log formatting among other things.
type Environment string

const (
	// Production selects JSON logging.
	Production Environment = "production"
	// Development selects human-readable colorized logging.
	Development Environment = "development"
	// CLI marks interactive command-line invocations.
	CLI Environment = "cli"
)

const (
	// APIBasePath is the prefix for all HTTP API routes.
	APIBasePath = "/api/v1"

	// ContentTypeHeader is the canonical Content-Type header name.
	ContentTypeHeader = "Content-Type"

	// RequestIDByteSize is the number of random bytes in a generated request ID.
	RequestIDByteSize = 8

	// HTTPStatusBadRequest is the lower bound of error status codes.
	HTTPStatusBadRequest = 400

	// HTTPStatusServerError is the lower bound of server error status codes.
	HTTPStatusServerError = 500
)

const (
	// ConfigFileName is the CLI configuration file name.
	ConfigFileName = "config.yaml"

	// ConfigDirName is the per-user configuration directory under $HOME.
	ConfigDirName = ".pipewright"

	// ConfigDirPermissions restricts the config directory to the owner.
	ConfigDirPermissions = 0o700

	// ConfigFilePermissions restricts the config file to the owner.
	ConfigFilePermissions = 0o600
)

// Default names for the pipeline resources created by a deployment. Operators
// can override the dataset name; the plumbing resources use fixed names so
// reruns find them again.
const (
	TopicName           = "pipewright-events"
	SubscriptionName    = "pipewright-events-sub"
	VerificationSubName = "pipewright-verify-sub"
	SinkName            = "pipewright-sink"
	RawTableName        = "raw_events"
	AnalyticsViewName   = "events_view"
	TransformJobName    = "pipewright-transform"
	BucketSuffix        = "-pipewright-staging"
	VerificationLogName = "pipewright_verification"

	// MarkerLabel is the log entry label key carrying the verification
	// marker through every hop.
	MarkerLabel = "marker"

	// TransformUDFObject is the staging bucket object holding the transform
	// function the Dataflow template applies to each exported log entry.
	TransformUDFObject = "transform.js"

	// TransformUDFFunction is the entry point inside TransformUDFObject.
	TransformUDFFunction = "transform"
)

// Propagation and startup budgets observed against live GCP services. IAM
// grants can take up to ~90s to become visible; Dataflow worker pools need
// low minutes to reach Running.
const (
	IAMPropagationBudget   = 90 * time.Second
	IAMPropagationInterval = 10 * time.Second

	JobStartupBudget   = 3 * time.Minute
	JobStartupInterval = 15 * time.Second

	DefaultStepTimeout = 10 * time.Minute
)

// HTTP server timeouts.
const (
	ServerReadTimeout     = 15 * time.Second
	ServerWriteTimeout    = 60 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 10 * time.Second
)

// DefaultPort is the default HTTP listen port for the deployment service.
const DefaultPort = "8080"

// CtxKey is the type for values the CLI stores on the command context.
type CtxKey string

const (
	// ConfigCtxKey carries the loaded configuration.
	ConfigCtxKey CtxKey = "config"
	// StartTimeCtxKey carries the command start time for elapsed reporting.
	StartTimeCtxKey CtxKey = "startTime"
)

// ConfigDirPath returns the configuration directory for the given home dir.
func ConfigDirPath(homeDir string) string {
	return homeDir + "/" + ConfigDirName
}

var version = "dev"

// GetVersion returns the build version string.
func GetVersion() *string {
	return &version
}
