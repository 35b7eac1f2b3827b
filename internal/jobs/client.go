package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client talks to the job-execution platform's REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a platform client for the given API base URL.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

type startRequest struct {
	Env []EnvVar `json:"env"`
}

type executionResponse struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

type executionListResponse struct {
	Value []executionResponse `json:"value"`
}

// Start begins a new execution of jobName with exactly the given env set
// and returns the platform's execution name.
func (c *Client) Start(ctx context.Context, jobName string, env []EnvVar) (string, error) {
	body, err := json.Marshal(startRequest{Env: env})
	if err != nil {
		return "", fmt.Errorf("failed to marshal start request: %w", err)
	}

	var out executionResponse
	path := fmt.Sprintf("/jobs/%s/executions", url.PathEscape(jobName))
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return "", err
	}
	if out.Name == "" {
		return "", fmt.Errorf("job platform accepted start of %s but returned no execution name", jobName)
	}

	c.logger.Info("Job execution started",
		zap.String("job_name", jobName),
		zap.String("execution_name", out.Name),
	)
	return out.Name, nil
}

// Status fetches the current status of one execution.
func (c *Client) Status(ctx context.Context, jobName, executionName string) (ExecutionStatus, error) {
	var out executionResponse
	path := fmt.Sprintf("/jobs/%s/executions/%s", url.PathEscape(jobName), url.PathEscape(executionName))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return StatusUnknown, err
	}
	return ExecutionStatus(out.Status), nil
}

// Stop terminates one execution. Stopping an execution that already
// finished is an error from the platform; callers check Status first.
func (c *Client) Stop(ctx context.Context, jobName, executionName string) error {
	path := fmt.Sprintf("/jobs/%s/executions/%s/stop", url.PathEscape(jobName), url.PathEscape(executionName))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// ListRunning enumerates executions of jobName currently in an active state.
func (c *Client) ListRunning(ctx context.Context, jobName string) ([]Execution, error) {
	var out executionListResponse
	path := fmt.Sprintf("/jobs/%s/executions?status=Running", url.PathEscape(jobName))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	executions := make([]Execution, 0, len(out.Value))
	for _, e := range out.Value {
		status := ExecutionStatus(e.Status)
		if !status.IsActive() {
			continue
		}
		executions = append(executions, Execution{
			Name:      e.Name,
			Status:    status,
			StartedAt: e.StartedAt,
		})
	}
	return executions, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("job platform request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("job platform error %d on %s %s: %s",
			resp.StatusCode, method, path, strings.TrimSpace(string(respBody)))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode job platform response: %w", err)
		}
	}
	return nil
}
