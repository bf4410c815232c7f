package gcp

import (
	"context"
	"fmt"
	"strings"

	admin "cloud.google.com/go/iam/admin/apiv1"
	"cloud.google.com/go/iam/admin/apiv1/adminpb"
	"cloud.google.com/go/iam/apiv1/iampb"
	resourcemanager "cloud.google.com/go/resourcemanager/apiv3"
	"cloud.google.com/go/resourcemanager/apiv3/resourcemanagerpb"
)

// iamClient implements IAMClient over Resource Manager and the IAM admin API.
type iamClient struct {
	projects *resourcemanager.ProjectsClient
	admin    *admin.IamClient
}

// NewIAMClient returns an IAMClient backed by the real services.
func NewIAMClient(ctx context.Context) (IAMClient, error) {
	projects, err := resourcemanager.NewProjectsClient(ctx)
	if err != nil {
		return nil, classifyError(err, "failed to create Resource Manager client")
	}

	adminClient, err := admin.NewIamClient(ctx)
	if err != nil {
		return nil, classifyError(err, "failed to create IAM admin client")
	}

	return &iamClient{projects: projects, admin: adminClient}, nil
}

func (c *iamClient) HasProjectBinding(
	ctx context.Context,
	projectID, member, role string,
) (bool, error) {
	policy, err := c.projects.GetIamPolicy(ctx, &iampb.GetIamPolicyRequest{
		Resource: "projects/" + projectID,
	})
	if err != nil {
		return false, classifyError(err,
			fmt.Sprintf("failed to get IAM policy for project %s", projectID))
	}

	for _, binding := range policy.GetBindings() {
		if binding.GetRole() != role {
			continue
		}
		for _, m := range binding.GetMembers() {
			if m == member {
				return true, nil
			}
		}
	}

	return false, nil
}

func (c *iamClient) AddProjectBinding(
	ctx context.Context,
	projectID, member, role string,
) error {
	resource := "projects/" + projectID

	// Read-modify-write on the project policy. A concurrent modification
	// fails the set with a conflict, which the caller retries.
	policy, err := c.projects.GetIamPolicy(ctx, &iampb.GetIamPolicyRequest{
		Resource: resource,
	})
	if err != nil {
		return classifyError(err,
			fmt.Sprintf("failed to get IAM policy for project %s", projectID))
	}

	for _, binding := range policy.GetBindings() {
		if binding.GetRole() != role {
			continue
		}
		for _, m := range binding.GetMembers() {
			if m == member {
				return nil
			}
		}
		binding.Members = append(binding.Members, member)
		return c.setPolicy(ctx, resource, policy)
	}

	policy.Bindings = append(policy.Bindings, &iampb.Binding{
		Role:    role,
		Members: []string{member},
	})

	return c.setPolicy(ctx, resource, policy)
}

func (c *iamClient) setPolicy(
	ctx context.Context,
	resource string,
	policy *iampb.Policy,
) error {
	_, err := c.projects.SetIamPolicy(ctx, &iampb.SetIamPolicyRequest{
		Resource: resource,
		Policy:   policy,
	})
	if err != nil {
		return classifyError(err, fmt.Sprintf("failed to set IAM policy for %s", resource))
	}

	return nil
}

func (c *iamClient) ServiceAccountExists(
	ctx context.Context,
	projectID, email string,
) (bool, error) {
	_, err := c.admin.GetServiceAccount(ctx, &adminpb.GetServiceAccountRequest{
		Name: fmt.Sprintf("projects/%s/serviceAccounts/%s", projectID, email),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, classifyError(err,
			fmt.Sprintf("failed to get service account %s", email))
	}

	return true, nil
}

func (c *iamClient) ProjectNumber(ctx context.Context, projectID string) (string, error) {
	project, err := c.projects.GetProject(ctx, &resourcemanagerpb.GetProjectRequest{
		Name: "projects/" + projectID,
	})
	if err != nil {
		return "", classifyError(err,
			fmt.Sprintf("failed to get project %s", projectID))
	}

	// The resource name of a fetched project is projects/{projectNumber}.
	return strings.TrimPrefix(project.GetName(), "projects/"), nil
}

func (c *iamClient) CallerIdentity(ctx context.Context, projectID string) (string, error) {
	// Fetching the project proves the credentials are usable against it.
	project, err := c.projects.GetProject(ctx, &resourcemanagerpb.GetProjectRequest{
		Name: "projects/" + projectID,
	})
	if err != nil {
		return "", classifyError(err,
			fmt.Sprintf("credentials cannot access project %s", projectID))
	}

	return project.GetProjectId(), nil
}
