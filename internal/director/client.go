// Package director implements the orchestration loop that fronts the
// backend: poll unread messages, plan, delegate to agents, reflect.
package director

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fable/internal/assistant"
	"fable/internal/errors"
)

// Message mirrors the server's message payload.
type Message struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	SenderType string `json:"sender_type"`
	TaskID     string `json:"task_id"`
}

// AgentInfo mirrors one catalog row.
type AgentInfo struct {
	AgentName    string   `json:"agent_name"`
	AssetKey     string   `json:"asset_key"`
	UpstreamKeys []string `json:"upstream_keys"`
	Description  string   `json:"description"`
}

// Task mirrors the server's task payload.
type Task struct {
	ID          string         `json:"id"`
	Description map[string]any `json:"description"`
	Status      string         `json:"status"`
}

// Client is the director's HTTP access to the backend.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the backend at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Adapter("backend", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Adapter("backend", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

// Health checks the backend.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// UnreadMessages lists messages the director has not read.
func (c *Client) UnreadMessages(ctx context.Context) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/messages/unread", nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// MarkDirectorRead flags a message as read by the director.
func (c *Client) MarkDirectorRead(ctx context.Context, id string) error {
	body := map[string]any{"director_read_status": "read"}
	return c.do(ctx, http.MethodPut, "/api/messages/"+id+"/read-status", body, nil)
}

// PostMessage publishes a director message, optionally bound to a task.
func (c *Client) PostMessage(ctx context.Context, content, taskID string) error {
	body := map[string]any{"content": content, "sender_type": "director", "task_id": taskID}
	return c.do(ctx, http.MethodPost, "/api/messages/create", body, nil)
}

// CreateTask creates a task from a description.
func (c *Client) CreateTask(ctx context.Context, description map[string]any) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks/create", map[string]any{"description": description}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListAgents fetches the capability catalog.
func (c *Client) ListAgents(ctx context.Context) ([]AgentInfo, error) {
	var out struct {
		Agents []AgentInfo `json:"agents"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/assistant/sub-agents", nil, &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// Execute runs one agent against a task.
func (c *Client) Execute(ctx context.Context, agentID, taskID string) (*assistant.ExecutionSummary, error) {
	var summary assistant.ExecutionSummary
	body := map[string]any{"agent_id": agentID, "task_id": taskID}
	if err := c.do(ctx, http.MethodPost, "/api/assistant/execute", body, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// AdvancePointer moves the execution pointer one step.
func (c *Client) AdvancePointer(ctx context.Context) (bool, error) {
	var out struct {
		Advanced bool `json:"advanced"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/execution-pointer/advance", nil, &out); err != nil {
		return false, err
	}
	return out.Advanced, nil
}
