package gcp

import (
	"context"
	"fmt"
	"time"

	"github.com/pipewright/pipewright/internal/constants"

	"cloud.google.com/go/logging"
	"cloud.google.com/go/logging/logadmin"
	"google.golang.org/api/iterator"
)

// loggingClient implements LoggingClient over the Cloud Logging SDK.
type loggingClient struct{}

// NewLoggingClient returns a LoggingClient backed by the real service.
func NewLoggingClient() LoggingClient {
	return &loggingClient{}
}

func (c *loggingClient) GetSink(
	ctx context.Context,
	projectID, sinkID string,
) (bool, string, string, error) {
	client, err := logadmin.NewClient(ctx, projectID)
	if err != nil {
		return false, "", "", classifyError(err, "failed to create Logging admin client")
	}
	defer client.Close()

	sink, err := client.Sink(ctx, sinkID)
	if err != nil {
		if isNotFound(err) {
			return false, "", "", nil
		}
		return false, "", "", classifyError(err, fmt.Sprintf("failed to get sink %s", sinkID))
	}

	return true, sink.Destination, sink.WriterIdentity, nil
}

func (c *loggingClient) CreateSink(
	ctx context.Context,
	projectID, sinkID, destination, filter string,
) (string, error) {
	client, err := logadmin.NewClient(ctx, projectID)
	if err != nil {
		return "", classifyError(err, "failed to create Logging admin client")
	}
	defer client.Close()

	sink, err := client.CreateSink(ctx, &logadmin.Sink{
		ID:          sinkID,
		Destination: destination,
		Filter:      filter,
	})
	if err != nil {
		if isAlreadyExists(err) {
			existing, getErr := client.Sink(ctx, sinkID)
			if getErr != nil {
				return "", classifyError(getErr,
					fmt.Sprintf("failed to get existing sink %s", sinkID))
			}
			return existing.WriterIdentity, nil
		}
		return "", classifyError(err, fmt.Sprintf("failed to create sink %s", sinkID))
	}

	return sink.WriterIdentity, nil
}

func (c *loggingClient) WriteMarkerEntry(
	ctx context.Context,
	projectID, logName, marker string,
	payload map[string]string,
) error {
	client, err := logging.NewClient(ctx, projectID)
	if err != nil {
		return classifyError(err, "failed to create Logging client")
	}
	defer client.Close()

	entry := logging.Entry{
		Severity: logging.Info,
		Payload:  payload,
		Labels:   map[string]string{constants.MarkerLabel: marker},
	}

	// LogSync so the entry is committed before polling begins.
	if err := client.Logger(logName).LogSync(ctx, entry); err != nil {
		return classifyError(err, fmt.Sprintf("failed to write entry to log %s", logName))
	}

	return nil
}

func (c *loggingClient) CountMarkerEntries(
	ctx context.Context,
	projectID, logName, marker string,
	since time.Time,
) (int, error) {
	client, err := logadmin.NewClient(ctx, projectID)
	if err != nil {
		return 0, classifyError(err, "failed to create Logging admin client")
	}
	defer client.Close()

	filter := fmt.Sprintf(
		`logName="projects/%s/logs/%s" AND labels.%s=%q AND timestamp>=%q`,
		projectID, logName, constants.MarkerLabel, marker, since.UTC().Format(time.RFC3339),
	)

	it := client.Entries(ctx, logadmin.Filter(filter))

	count := 0
	for {
		_, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return count, classifyError(err, "failed to list marker log entries")
		}
		count++
	}

	return count, nil
}
