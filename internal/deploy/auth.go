package deploy

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/pipewright/pipewright/internal/api"
	apperrors "github.com/pipewright/pipewright/internal/errors"
)

// commandRunner executes an external command and returns its trimmed stdout.
// Substituted in tests.
type commandRunner func(ctx context.Context, name string, args ...string) (string, error)

func runGcloud(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Authenticate confirms usable Google Cloud credentials. Interactive mode
// drives the gcloud application-default login flow and reads back the active
// account; headless mode requires application default credentials to already
// exist and only confirms they can reach the configured projects.
func (p *Provisioner) Authenticate(ctx context.Context, cfg api.RunConfig) (*StepResult, error) {
	if cfg.AuthMode == api.AuthInteractive {
		return p.authenticateInteractive(ctx, cfg)
	}
	return p.authenticateHeadless(ctx, cfg)
}

func (p *Provisioner) authenticateInteractive(
	ctx context.Context,
	cfg api.RunConfig,
) (*StepResult, error) {
	if _, err := p.runCommand(ctx, "gcloud", "auth", "application-default", "login", "--quiet"); err != nil {
		return nil, apperrors.ErrPermission("interactive login failed", err)
	}

	account, err := p.runCommand(ctx, "gcloud", "config", "get-value", "account")
	if err != nil || account == "" {
		return nil, apperrors.ErrPermission("could not determine active account after login", err)
	}

	if err := p.verifyProjectAccess(ctx, cfg); err != nil {
		return nil, err
	}

	return &StepResult{
		Detail:  "authenticated as " + account,
		Account: account,
	}, nil
}

func (p *Provisioner) authenticateHeadless(
	ctx context.Context,
	cfg api.RunConfig,
) (*StepResult, error) {
	if err := p.verifyProjectAccess(ctx, cfg); err != nil {
		return nil, apperrors.ErrPermission(
			"application default credentials missing or unusable; run `gcloud auth application-default login` or provide a service account key",
			err)
	}

	return &StepResult{Detail: "application default credentials verified"}, nil
}

func (p *Provisioner) verifyProjectAccess(ctx context.Context, cfg api.RunConfig) error {
	projects := []string{cfg.TelemetryProjectID}
	if sp := sinkProject(cfg); sp != cfg.TelemetryProjectID {
		projects = append(projects, sp)
	}

	for _, project := range projects {
		if _, err := p.clients.IAM.CallerIdentity(ctx, project); err != nil {
			return fmt.Errorf("cannot access project %s: %w", project, err)
		}
	}

	return nil
}
