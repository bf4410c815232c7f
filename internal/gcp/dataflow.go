package gcp

import (
	"context"
	"fmt"

	dataflow "cloud.google.com/go/dataflow/apiv1beta3"
	"cloud.google.com/go/dataflow/apiv1beta3/dataflowpb"
	"google.golang.org/api/iterator"
)

// dataflowClient implements DataflowClient over the Dataflow SDK.
type dataflowClient struct {
	templates *dataflow.TemplatesClient
	jobs      *dataflow.JobsV1Beta3Client
}

// NewDataflowClient returns a DataflowClient backed by the real service.
func NewDataflowClient(ctx context.Context) (DataflowClient, error) {
	templates, err := dataflow.NewTemplatesClient(ctx)
	if err != nil {
		return nil, classifyError(err, "failed to create Dataflow templates client")
	}

	jobs, err := dataflow.NewJobsV1Beta3Client(ctx)
	if err != nil {
		return nil, classifyError(err, "failed to create Dataflow jobs client")
	}

	return &dataflowClient{templates: templates, jobs: jobs}, nil
}

// activeJobStates are the states in which a job by the same name blocks a new
// launch and can be adopted by an ensure operation.
var activeJobStates = map[dataflowpb.JobState]bool{
	dataflowpb.JobState_JOB_STATE_RUNNING:  true,
	dataflowpb.JobState_JOB_STATE_PENDING:  true,
	dataflowpb.JobState_JOB_STATE_QUEUED:   true,
	dataflowpb.JobState_JOB_STATE_DRAINING: true,
}

func (c *dataflowClient) FindJob(
	ctx context.Context,
	projectID, region, jobName string,
) (string, string, error) {
	it := c.jobs.ListJobs(ctx, &dataflowpb.ListJobsRequest{
		ProjectId: projectID,
		Location:  region,
		Filter:    dataflowpb.ListJobsRequest_ACTIVE,
	})

	for {
		job, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return "", "", classifyError(err, "failed to list Dataflow jobs")
		}
		if job.GetName() == jobName && activeJobStates[job.GetCurrentState()] {
			return job.GetId(), job.GetCurrentState().String(), nil
		}
	}

	return "", "", nil
}

func (c *dataflowClient) LaunchTemplate(
	ctx context.Context,
	projectID, region, jobName, templatePath string,
	parameters map[string]string,
	env JobEnvironment,
) (string, error) {
	req := &dataflowpb.LaunchTemplateRequest{
		ProjectId: projectID,
		Location:  region,
		Template: &dataflowpb.LaunchTemplateRequest_GcsPath{
			GcsPath: templatePath,
		},
		LaunchParameters: &dataflowpb.LaunchTemplateParameters{
			JobName:    jobName,
			Parameters: parameters,
			Environment: &dataflowpb.RuntimeEnvironment{
				Network:      env.Network,
				Subnetwork:   env.Subnetwork,
				TempLocation: env.TempLocation,
				MaxWorkers:   int32(env.MaxWorkers),
			},
		},
	}

	resp, err := c.templates.LaunchTemplate(ctx, req)
	if err != nil {
		return "", classifyError(err, fmt.Sprintf("failed to launch template job %s", jobName))
	}

	return resp.GetJob().GetId(), nil
}

func (c *dataflowClient) JobState(
	ctx context.Context,
	projectID, region, jobID string,
) (string, error) {
	job, err := c.jobs.GetJob(ctx, &dataflowpb.GetJobRequest{
		ProjectId: projectID,
		Location:  region,
		JobId:     jobID,
	})
	if err != nil {
		return "", classifyError(err, fmt.Sprintf("failed to get Dataflow job %s", jobID))
	}

	return job.GetCurrentState().String(), nil
}
