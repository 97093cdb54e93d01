package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// TaskQueueClient is a hand-written HTTP client for the task queue API:
// the server's REST surface is hand-written (not OpenAPI-generated, see
// the core's own design notes), so the SDK that talks to it is too.
type TaskQueueClient struct {
	baseURL string
	opts    *options
	ws      *WebSocketClient
}

// New creates a new TaskQueueClient.
func New(baseURL string, opts ...Option) (*TaskQueueClient, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &TaskQueueClient{baseURL: baseURL, opts: o}, nil
}

// ConnectWebSocket establishes a WebSocket connection for real-time events.
func (c *TaskQueueClient) ConnectWebSocket(ctx context.Context) error {
	if c.ws != nil && c.ws.IsConnected() {
		return nil
	}
	c.ws = newWebSocketClient(c.baseURL, c.opts.apiKey)
	return c.ws.Connect(ctx)
}

// Events returns a channel that receives WebSocket events.
// Must call ConnectWebSocket first.
func (c *TaskQueueClient) Events() <-chan *Event {
	if c.ws == nil {
		ch := make(chan *Event)
		close(ch)
		return ch
	}
	return c.ws.Events()
}

// CloseWebSocket closes the WebSocket connection.
func (c *TaskQueueClient) CloseWebSocket() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

// SubscribeEvents subscribes to specific event types.
func (c *TaskQueueClient) SubscribeEvents(eventTypes ...EventType) error {
	if c.ws == nil {
		return fmt.Errorf("websocket not connected")
	}
	return c.ws.Subscribe(eventTypes...)
}

// do issues an HTTP request and decodes a JSON response body into out
// (if non-nil), returning the status code alongside any error.
func (c *TaskQueueClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) (int, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.apiKey)
	}
	for k, v := range c.opts.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(data, &errResp); err == nil && errResp.Message != "" {
			return resp.StatusCode, fmt.Errorf("%s: %s", errResp.Error, errResp.Message)
		}
		return resp.StatusCode, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return resp.StatusCode, nil
}

// SubmitTask creates a new task and returns the created task.
func (c *TaskQueueClient) SubmitTask(ctx context.Context, req CreateTaskRequest) (*TaskResponse, error) {
	var resp TaskResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/tasks", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTaskByID retrieves a task by its ID.
func (c *TaskQueueClient) GetTaskByID(ctx context.Context, taskID string) (*TaskResponse, error) {
	var resp TaskResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+taskID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelTaskByID cancels a task by its ID.
func (c *TaskQueueClient) CancelTaskByID(ctx context.Context, taskID string) (*TaskResponse, error) {
	var resp TaskResponse
	if _, err := c.do(ctx, http.MethodDelete, "/api/v1/tasks/"+taskID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListTasks returns the current pending and in-progress tasks.
func (c *TaskQueueClient) ListTasks(ctx context.Context) (*TaskListResponse, error) {
	var resp TaskListResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/tasks", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetQueueStatistics returns the current queue depths, derived from the
// pending/in-progress lists the server returns.
func (c *TaskQueueClient) GetQueueStatistics(ctx context.Context) (*QueueStats, error) {
	list, err := c.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	return &QueueStats{
		Pending:    len(list.Pending),
		InProgress: len(list.InProgress),
		Total:      list.TotalCount,
	}, nil
}

// CheckHealth checks the health of the API server.
func (c *TaskQueueClient) CheckHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if _, err := c.do(ctx, http.MethodGet, "/admin/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListAllWorkers returns all active workers.
func (c *TaskQueueClient) ListAllWorkers(ctx context.Context) (*WorkerListResponse, error) {
	var resp WorkerListResponse
	if _, err := c.do(ctx, http.MethodGet, "/admin/workers", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PauseWorkerByID pauses a worker.
func (c *TaskQueueClient) PauseWorkerByID(ctx context.Context, workerID string) error {
	_, err := c.do(ctx, http.MethodPost, "/admin/workers/"+workerID+"/pause", nil, nil)
	return err
}

// ResumeWorkerByID resumes a paused worker.
func (c *TaskQueueClient) ResumeWorkerByID(ctx context.Context, workerID string) error {
	_, err := c.do(ctx, http.MethodPost, "/admin/workers/"+workerID+"/resume", nil, nil)
	return err
}

// GetDLQEntries returns all entries in the dead letter queue.
func (c *TaskQueueClient) GetDLQEntries(ctx context.Context) (*DLQListResponse, error) {
	var resp DLQListResponse
	if _, err := c.do(ctx, http.MethodGet, "/admin/dlq", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RetryDLQTask retries a specific task from the DLQ.
func (c *TaskQueueClient) RetryDLQTask(ctx context.Context, taskID string) error {
	_, err := c.do(ctx, http.MethodPost, "/admin/dlq/retry", RetryDLQRequest{TaskID: taskID}, nil)
	return err
}

// RetryAllDLQTasks retries all tasks in the DLQ and returns how many
// were successfully re-queued.
func (c *TaskQueueClient) RetryAllDLQTasks(ctx context.Context) (int, error) {
	var resp RetryDLQResponse
	if _, err := c.do(ctx, http.MethodPost, "/admin/dlq/retry", RetryDLQRequest{RetryAll: true}, &resp); err != nil {
		return 0, err
	}
	return resp.RetriedCount, nil
}

// ClearDLQAll clears all entries from the dead letter queue.
func (c *TaskQueueClient) ClearDLQAll(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, "/admin/dlq", nil, nil)
	return err
}
