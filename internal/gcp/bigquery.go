package gcp

import (
	"context"
	"fmt"
	"time"

	"github.com/pipewright/pipewright/internal/constants"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// bigQueryClient implements BigQueryClient over the BigQuery SDK.
type bigQueryClient struct{}

// NewBigQueryClient returns a BigQueryClient backed by the real service.
func NewBigQueryClient() BigQueryClient {
	return &bigQueryClient{}
}

func (c *bigQueryClient) GetDataset(
	ctx context.Context,
	projectID, datasetID string,
) (bool, string, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return false, "", classifyError(err, "failed to create BigQuery client")
	}
	defer client.Close()

	md, err := client.Dataset(datasetID).Metadata(ctx)
	if err != nil {
		if isNotFound(err) {
			return false, "", nil
		}
		return false, "", classifyError(err, fmt.Sprintf("failed to get dataset %s", datasetID))
	}

	return true, md.Location, nil
}

func (c *bigQueryClient) CreateDataset(
	ctx context.Context,
	projectID, datasetID, location string,
) error {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return classifyError(err, "failed to create BigQuery client")
	}
	defer client.Close()

	md := &bigquery.DatasetMetadata{
		Location:    location,
		Description: "Streaming telemetry events",
	}

	if err := client.Dataset(datasetID).Create(ctx, md); err != nil {
		if isAlreadyExists(err) {
			return nil
		}
		return classifyError(err, fmt.Sprintf("failed to create dataset %s", datasetID))
	}

	return nil
}

func (c *bigQueryClient) TableExists(
	ctx context.Context,
	projectID, datasetID, tableID string,
) (bool, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return false, classifyError(err, "failed to create BigQuery client")
	}
	defer client.Close()

	_, err = client.Dataset(datasetID).Table(tableID).Metadata(ctx)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, classifyError(err, fmt.Sprintf("failed to get table %s", tableID))
	}

	return true, nil
}

// rawEventsSchema is the landing schema for telemetry events. The Dataflow
// template writes whole JSON payloads plus ingestion metadata.
var rawEventsSchema = bigquery.Schema{
	{Name: "insert_id", Type: bigquery.StringFieldType},
	{Name: "log_name", Type: bigquery.StringFieldType},
	{Name: "timestamp", Type: bigquery.TimestampFieldType, Required: true},
	{Name: "labels", Type: bigquery.JSONFieldType},
	{Name: "payload", Type: bigquery.JSONFieldType},
	{Name: "ingested_at", Type: bigquery.TimestampFieldType},
}

func (c *bigQueryClient) CreateRawEventsTable(
	ctx context.Context,
	projectID, datasetID, tableID string,
) error {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return classifyError(err, "failed to create BigQuery client")
	}
	defer client.Close()

	md := &bigquery.TableMetadata{
		Schema: rawEventsSchema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "timestamp",
		},
	}

	if err := client.Dataset(datasetID).Table(tableID).Create(ctx, md); err != nil {
		if isAlreadyExists(err) {
			return nil
		}
		return classifyError(err, fmt.Sprintf("failed to create table %s", tableID))
	}

	return nil
}

func (c *bigQueryClient) ViewExists(
	ctx context.Context,
	projectID, datasetID, viewID string,
) (bool, error) {
	return c.TableExists(ctx, projectID, datasetID, viewID)
}

func (c *bigQueryClient) CreateView(
	ctx context.Context,
	projectID, datasetID, viewID, query string,
) error {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return classifyError(err, "failed to create BigQuery client")
	}
	defer client.Close()

	md := &bigquery.TableMetadata{
		ViewQuery: query,
	}

	if err := client.Dataset(datasetID).Table(viewID).Create(ctx, md); err != nil {
		if isAlreadyExists(err) {
			return nil
		}
		return classifyError(err, fmt.Sprintf("failed to create view %s", viewID))
	}

	return nil
}

func (c *bigQueryClient) CountMarkerRows(
	ctx context.Context,
	projectID, datasetID, tableID, marker string,
	window time.Duration,
) (int, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return 0, classifyError(err, "failed to create BigQuery client")
	}
	defer client.Close()

	q := client.Query(fmt.Sprintf(
		"SELECT COUNT(*) FROM `%s.%s.%s` "+
			"WHERE JSON_VALUE(labels, '$.%s') = @marker "+
			"AND timestamp >= TIMESTAMP_SUB(CURRENT_TIMESTAMP(), INTERVAL @window_sec SECOND)",
		projectID, datasetID, tableID, constants.MarkerLabel,
	))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "marker", Value: marker},
		{Name: "window_sec", Value: int64(window.Seconds())},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return 0, classifyError(err, "failed to query marker rows")
	}

	var row []bigquery.Value
	if err := it.Next(&row); err != nil {
		if err == iterator.Done {
			return 0, nil
		}
		return 0, classifyError(err, "failed to read marker row count")
	}

	count, ok := row[0].(int64)
	if !ok {
		return 0, nil
	}

	return int(count), nil
}
