package gcp

import (
	"context"
	"fmt"

	serviceusage "cloud.google.com/go/serviceusage/apiv1"
	"cloud.google.com/go/serviceusage/apiv1/serviceusagepb"
)

// serviceUsageClient implements ServiceUsageClient over the Service Usage SDK.
type serviceUsageClient struct {
	client *serviceusage.Client
}

// NewServiceUsageClient returns a ServiceUsageClient backed by the real
// service.
func NewServiceUsageClient(ctx context.Context) (ServiceUsageClient, error) {
	client, err := serviceusage.NewClient(ctx)
	if err != nil {
		return nil, classifyError(err, "failed to create Service Usage client")
	}

	return &serviceUsageClient{client: client}, nil
}

func (c *serviceUsageClient) EnableServices(
	ctx context.Context,
	projectID string,
	services []string,
) error {
	op, err := c.client.BatchEnableServices(ctx, &serviceusagepb.BatchEnableServicesRequest{
		Parent:     "projects/" + projectID,
		ServiceIds: services,
	})
	if err != nil {
		return classifyError(err, "failed to enable services")
	}

	if _, err := op.Wait(ctx); err != nil {
		return classifyError(err, "failed to wait for service enablement")
	}

	return nil
}

func (c *serviceUsageClient) ServiceEnabled(
	ctx context.Context,
	projectID, service string,
) (bool, error) {
	svc, err := c.client.GetService(ctx, &serviceusagepb.GetServiceRequest{
		Name: fmt.Sprintf("projects/%s/services/%s", projectID, service),
	})
	if err != nil {
		return false, classifyError(err, fmt.Sprintf("failed to get service %s", service))
	}

	return svc.GetState() == serviceusagepb.State_ENABLED, nil
}
