package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"fable/internal/agents"
	"fable/internal/assistant"
	"fable/internal/executions"
	"fable/internal/llm"
	"fable/internal/messages"
	"fable/internal/registry"
	"fable/internal/taskstack"
	"fable/internal/workspace"
)

func newTestServer(t *testing.T, responses ...string) (*Server, *httptest.Server) {
	t.Helper()

	tasks := taskstack.NewStore(nil)
	msgs := messages.NewStore(tasks, nil)
	execs := executions.NewStore(nil)
	ws, err := workspace.New(t.TempDir(), "ws_test", workspace.Options{}, nil)
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	reg := registry.New(llm.NewMockClient(responses...), nil, nil)
	if err := agents.Register(reg); err != nil {
		t.Fatalf("register agents: %v", err)
	}

	srv := New(Deps{
		Tasks:      tasks,
		Messages:   msgs,
		Executions: execs,
		Workspace:  ws,
		Registry:   reg,
		Assistant:  assistant.New(reg, tasks, execs, ws, nil),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealth(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" || body["service"] != "fable" {
		t.Fatalf("health = %d %v", resp.StatusCode, body)
	}
}

func TestMessageLifecycle(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	resp, msg := doJSON(t, http.MethodPost, ts.URL+"/api/messages/create", map[string]any{
		"content":     "make a short film",
		"sender_type": "user",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d %v", resp.StatusCode, msg)
	}
	id := msg["id"].(string)

	// Director-only default: the new message is unread for the director.
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/messages/unread", nil)
	if resp.StatusCode != http.StatusOK || len(body["messages"].([]any)) != 1 {
		t.Fatalf("unread = %d %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/api/messages/"+id+"/read-status", map[string]any{
		"director_read_status": "read",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read-status = %d", resp.StatusCode)
	}
	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/messages/unread", nil)
	if len(body["messages"].([]any)) != 0 {
		t.Fatalf("unread after read = %v", body)
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/messages/msg_404_x/check", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing message = %d, want 404", resp.StatusCode)
	}
}

func TestTaskAndLayerRoutes(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	_, task := doJSON(t, http.MethodPost, ts.URL+"/api/tasks/create", map[string]any{
		"description": map[string]any{"overall_description": "film"},
	})
	taskID := task["id"].(string)

	resp, _ := doJSON(t, http.MethodPut, ts.URL+"/api/tasks/"+taskID+"/status", map[string]any{
		"status": "bogus",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad status = %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/layers/create", map[string]any{})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("layer create = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/layers/0/tasks", map[string]any{"task_id": taskID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add task = %d", resp.StatusCode)
	}
	// Duplicate entry violates the layer invariant.
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/layers/0/tasks", map[string]any{"task_id": taskID})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate add = %d %v, want 400", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/layers/7", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing layer = %d, want 404", resp.StatusCode)
	}
}

func TestPointerAndStackRoutes(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	var taskIDs []string
	for i := 0; i < 2; i++ {
		_, task := doJSON(t, http.MethodPost, ts.URL+"/api/tasks/create", map[string]any{
			"description": map[string]any{"overall_description": fmt.Sprintf("t%d", i)},
		})
		taskIDs = append(taskIDs, task["id"].(string))
	}
	doJSON(t, http.MethodPost, ts.URL+"/api/task-stack/insert-layer", map[string]any{
		"insert_index": 0,
		"task_ids":     taskIDs,
	})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/task-stack/next", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("next = %d", resp.StatusCode)
	}
	next := body["next_task"].(map[string]any)
	if next["task_id"] != taskIDs[0] {
		t.Fatalf("next task = %v", next)
	}

	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/api/execution-pointer/set", map[string]any{
		"layer_index": 5, "task_index": 0,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("pointer past end = %d, want 400", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/execution-pointer/advance", nil)
	if resp.StatusCode != http.StatusOK || body["advanced"] != true {
		t.Fatalf("advance = %d %v", resp.StatusCode, body)
	}
}

func TestModifyStackPartialFailure(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/task-stack/modify", map[string]any{
		"operations": []map[string]any{
			{"type": "CREATE_TASKS", "tasks": []map[string]any{
				{"description": map[string]any{"overall_description": "ok"}},
			}},
			{"type": "ADD_TASKS_TO_LAYERS", "additions": []map[string]any{
				{"layer_index": 9, "task_id": "task_none"},
			}},
		},
	})
	// Batch responses are 200 even when individual operations fail.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("modify = %d", resp.StatusCode)
	}
	if body["success"] != false {
		t.Fatalf("success = %v, want false", body["success"])
	}
	if len(body["created_task_ids"].([]any)) != 1 {
		t.Fatalf("created = %v", body["created_task_ids"])
	}
	if len(body["errors"].([]any)) != 1 {
		t.Fatalf("errors = %v", body["errors"])
	}
}

func TestAssistantAndWorkspaceRoutes(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/assistant", nil)
	if resp.StatusCode != http.StatusOK || body["agent_count"].(float64) != 6 {
		t.Fatalf("assistant = %d %v", resp.StatusCode, body)
	}
	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/assistant/sub-agents", nil)
	if len(body["agents"].([]any)) != 6 {
		t.Fatalf("sub-agents = %v", body)
	}
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/assistant/agents/story_agent/inputs", nil)
	if resp.StatusCode != http.StatusOK || body["user_text_key"] != "draft_idea" {
		t.Fatalf("inputs = %d %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/assistant/execute", map[string]any{"agent_id": "story_agent"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("execute without task = %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/assistant/workspace/memory", map[string]any{
		"content": "project notes",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("memory write = %d", resp.StatusCode)
	}
	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/assistant/workspace/memory", nil)
	if body["content"] != "project notes" {
		t.Fatalf("memory = %v", body)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/assistant/workspace/search?query=notes", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search = %d", resp.StatusCode)
	}
	if mem, ok := body["memory"].(map[string]any); !ok || mem["found"] != true {
		t.Fatalf("search memory = %v", body)
	}
}

func TestExecuteEndToEnd(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t,
		`{"title": "Dust", "logline": "...", "acts": [{"act": 1, "summary": "setup"}]}`,
		`{"dimensions": [{"name": "coherence", "score": 0.9}], "summary": "fine"}`,
	)

	_, task := doJSON(t, http.MethodPost, ts.URL+"/api/tasks/create", map[string]any{
		"description": map[string]any{"overall_description": "a courier story"},
	})
	taskID := task["id"].(string)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/assistant/execute", map[string]any{
		"agent_id": "story_agent",
		"task_id":  taskID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute = %d %v", resp.StatusCode, body)
	}
	if body["status"] != "completed" {
		t.Fatalf("status = %v", body["status"])
	}

	execID := body["execution_id"].(string)
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/assistant/executions/"+execID, nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "completed" {
		t.Fatalf("execution = %d %v", resp.StatusCode, body)
	}
	_, body = doJSON(t, http.MethodGet, ts.URL+"/api/assistant/executions/task/"+taskID, nil)
	if len(body["executions"].([]any)) != 1 {
		t.Fatalf("task executions = %v", body)
	}
}
