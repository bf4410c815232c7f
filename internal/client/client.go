// Package client provides HTTP client functionality for the pipewright API.
// It handles request/response serialization and error handling.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/pipewright/pipewright/internal/api"
	"github.com/pipewright/pipewright/internal/config"
	"github.com/pipewright/pipewright/internal/constants"
	"github.com/pipewright/pipewright/internal/logger"
)

// Client provides a generic HTTP client for API operations.
type Client struct {
	config *config.Config
	logger *slog.Logger
}

// New creates a new API client.
func New(cfg *config.Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		config: cfg,
		logger: log,
	}
}

// Request represents an API request.
type Request struct {
	Method string
	Path   string
	Body   any
}

// Response represents an API response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Do makes an HTTP request to the API.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var bodyReader io.Reader
	if req.Body != nil {
		jsonData, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	apiURL, err := url.JoinPath(c.config.APIEndpoint, req.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid API endpoint: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, apiURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(constants.ContentTypeHeader, "application/json")

	logArgs := []any{
		"operation", "HTTP.Request",
		"method", req.Method,
		"url", apiURL,
	}
	logArgs = append(logArgs, logger.GetDeadlineInfo(ctx)...)
	c.logger.Debug("calling deployment API", logArgs...)

	httpClient := &http.Client{}
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("received HTTP response",
		"status", resp.StatusCode,
		"bodySize", len(body),
		"method", req.Method,
		"url", apiURL)

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}

// DoJSON makes a request and unmarshals the response into result.
func (c *Client) DoJSON(ctx context.Context, req Request, result any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}

	if resp.StatusCode >= constants.HTTPStatusBadRequest {
		var errorResp api.ErrorResponse
		if err = json.Unmarshal(resp.Body, &errorResp); err != nil {
			return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(resp.Body))
		}
		return fmt.Errorf("[%d] %s: %s", resp.StatusCode, errorResp.Error, errorResp.Details)
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err = json.Unmarshal(resp.Body, result); err != nil {
		c.logger.Debug("response body", "body", string(resp.Body))
		return fmt.Errorf("failed to parse response: %w", err)
	}

	return nil
}

// GetHealth checks the API health status.
func (c *Client) GetHealth(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	err := c.DoJSON(ctx, Request{
		Method: http.MethodGet,
		Path:   constants.APIBasePath + "/health",
	}, &resp)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// CreateRun starts a new deployment run.
func (c *Client) CreateRun(ctx context.Context, cfg api.RunConfig) (*api.CreateRunResponse, error) {
	var resp api.CreateRunResponse
	err := c.DoJSON(ctx, Request{
		Method: http.MethodPost,
		Path:   constants.APIBasePath + "/runs",
		Body:   api.CreateRunRequest{Config: cfg},
	}, &resp)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// ListRuns lists all deployment runs, newest first.
func (c *Client) ListRuns(ctx context.Context) (*api.ListRunsResponse, error) {
	var resp api.ListRunsResponse
	err := c.DoJSON(ctx, Request{
		Method: http.MethodGet,
		Path:   constants.APIBasePath + "/runs",
	}, &resp)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// GetRun fetches a single deployment run.
func (c *Client) GetRun(ctx context.Context, runID string) (*api.DeploymentRun, error) {
	var resp api.DeploymentRun
	err := c.DoJSON(ctx, Request{
		Method: http.MethodGet,
		Path:   constants.APIBasePath + "/runs/" + runID,
	}, &resp)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// RunStep retries a single step of a run. The server executes the step in
// the background; the returned run shows it in progress and is polled with
// GetRun.
func (c *Client) RunStep(ctx context.Context, runID, step string) (*api.DeploymentRun, error) {
	var resp api.DeploymentRun
	err := c.DoJSON(ctx, Request{
		Method: http.MethodPost,
		Path:   constants.APIBasePath + "/runs/" + runID + "/steps/" + step,
	}, &resp)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// CancelRun records an operator abort for a run.
func (c *Client) CancelRun(ctx context.Context, runID string) (*api.CancelRunResponse, error) {
	var resp api.CancelRunResponse
	err := c.DoJSON(ctx, Request{
		Method: http.MethodPost,
		Path:   constants.APIBasePath + "/runs/" + runID + "/cancel",
	}, &resp)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}
