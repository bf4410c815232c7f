// Package validate checks operator-supplied deployment configuration before
// any cloud call is made. All rules run against every field and violations
// are aggregated, so a single response lists everything that needs fixing.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pipewright/pipewright/internal/api"
	apperrors "github.com/pipewright/pipewright/internal/errors"
)

// Naming rules enforced by the Google Cloud services themselves. Checking
// locally keeps bad names from failing halfway through provisioning.
var (
	// Project IDs: 6-30 chars, lowercase letter first, no trailing hyphen.
	projectIDRe = regexp.MustCompile(`^[a-z][a-z0-9-]{4,28}[a-z0-9]$`)

	// BigQuery dataset, table, and view IDs: letters, digits, underscores.
	// The 1024-char limit is checked separately; regexp repeat counts top
	// out at 1000.
	bigQueryIDRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

	// Compute regions such as us-central1 or europe-west4.
	regionRe = regexp.MustCompile(`^[a-z]+-[a-z]+[0-9]+$`)

	// RFC 1035 names used for VPC networks and subnetworks.
	networkRe = regexp.MustCompile(`^[a-z]([a-z0-9-]{0,61}[a-z0-9])?$`)

	// Pub/Sub topic IDs: 3-255 chars, must start with a letter.
	topicRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{2,254}$`)

	// GCS bucket names (simple form, no dots).
	bucketRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,61}[a-z0-9]$`)
)

// maxBigQueryIDLen is the BigQuery limit for dataset, table, and view IDs.
const maxBigQueryIDLen = 1024

// ProjectID reports whether s is a valid Google Cloud project ID.
func ProjectID(s string) bool { return projectIDRe.MatchString(s) }

// DatasetID reports whether s is a valid BigQuery dataset ID.
func DatasetID(s string) bool {
	return len(s) <= maxBigQueryIDLen && bigQueryIDRe.MatchString(s)
}

// Region reports whether s looks like a Compute region.
func Region(s string) bool { return regionRe.MatchString(s) }

// NetworkName reports whether s is a valid RFC 1035 network or subnetwork name.
func NetworkName(s string) bool { return networkRe.MatchString(s) }

// TopicID reports whether s is a valid Pub/Sub topic ID.
func TopicID(s string) bool { return topicRe.MatchString(s) }

// BucketName reports whether s is a valid GCS bucket name.
func BucketName(s string) bool { return bucketRe.MatchString(s) }

// TableID reports whether s is a valid BigQuery table or view ID.
func TableID(s string) bool {
	return len(s) <= maxBigQueryIDLen && bigQueryIDRe.MatchString(s)
}

// RunConfig checks every field of cfg and returns the full list of
// violations. An empty slice means the config is acceptable.
func RunConfig(cfg api.RunConfig) []string {
	var violations []string

	if !ProjectID(cfg.TelemetryProjectID) {
		violations = append(violations, fmt.Sprintf(
			"telemetry_project_id %q is not a valid project ID (6-30 lowercase letters, digits, hyphens; must start with a letter)",
			cfg.TelemetryProjectID))
	}

	if cfg.SameProject {
		if cfg.InferenceProjectID != "" && cfg.InferenceProjectID != cfg.TelemetryProjectID {
			violations = append(violations,
				"inference_project_id must match telemetry_project_id when same_project is set")
		}
	} else if !ProjectID(cfg.InferenceProjectID) {
		violations = append(violations, fmt.Sprintf(
			"inference_project_id %q is not a valid project ID",
			cfg.InferenceProjectID))
	}

	if !Region(cfg.Region) {
		violations = append(violations, fmt.Sprintf(
			"region %q is not a valid region (expected a name like us-central1)",
			cfg.Region))
	}

	if !DatasetID(cfg.DatasetName) {
		violations = append(violations, fmt.Sprintf(
			"dataset_name %q is not a valid BigQuery dataset ID (letters, digits, underscores)",
			cfg.DatasetName))
	}

	if !NetworkName(cfg.Network) {
		violations = append(violations, fmt.Sprintf(
			"network %q is not a valid network name (RFC 1035)",
			cfg.Network))
	}

	if cfg.Subnetwork != "" && !NetworkName(cfg.Subnetwork) {
		violations = append(violations, fmt.Sprintf(
			"subnetwork %q is not a valid subnetwork name (RFC 1035)",
			cfg.Subnetwork))
	}

	switch cfg.AuthMode {
	case api.AuthInteractive, api.AuthHeadless:
	default:
		violations = append(violations, fmt.Sprintf(
			"auth_mode %q must be %q or %q",
			cfg.AuthMode, api.AuthInteractive, api.AuthHeadless))
	}

	return violations
}

// RunConfigError wraps RunConfig violations into a validation error carrying
// every violation, or returns nil when the config is acceptable.
func RunConfigError(cfg api.RunConfig) error {
	violations := RunConfig(cfg)
	if len(violations) == 0 {
		return nil
	}
	return apperrors.ErrValidation(
		"invalid run configuration: "+strings.Join(violations, "; "), nil)
}
