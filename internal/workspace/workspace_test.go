package workspace

import (
	"testing"

	"fable/internal/logging"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := New(t.TempDir(), "ws_test", Options{}, logging.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return ws
}

func TestWorkspace_MutationsEmitLogs(t *testing.T) {
	t.Parallel()
	ws := newTestWorkspace(t)

	meta, err := ws.StoreFile([]byte("img"), "anchor.png", "hero anchor", "keyframe_agent", nil, nil, "keyframe_agent", "task_1_a")
	if err != nil {
		t.Fatalf("StoreFile() error = %v", err)
	}
	ws.WriteMemory("the hero has a scar over one eye", false, "story_agent", "task_1_a")
	if err := ws.DeleteFile(meta.ID, "director", ""); err != nil {
		t.Fatalf("DeleteFile() error = %v", err)
	}

	logs := ws.Logs.GetLogs(LogFilter{})
	if len(logs) != 3 {
		t.Fatalf("log count = %d, want 3 (create, write, delete)", len(logs))
	}
	if logs[0].OperationType != OpDelete || logs[0].ResourceType != ResourceFile {
		t.Fatalf("latest log = %+v, want file delete", logs[0])
	}
	if logs[1].OperationType != OpWrite || logs[1].ResourceType != ResourceMemory {
		t.Fatalf("middle log = %+v, want memory write", logs[1])
	}
}

func TestWorkspace_SearchAll(t *testing.T) {
	t.Parallel()
	ws := newTestWorkspace(t)

	if _, err := ws.StoreFile([]byte("x"), "saloon.png", "interior of the saloon", "", nil, nil, "", ""); err != nil {
		t.Fatal(err)
	}
	ws.WriteMemory("The saloon is the story's central location.", false, "", "")

	results := ws.SearchAll("saloon", true, true, true, 10)
	if len(results.Files) != 1 {
		t.Fatalf("file hits = %+v", results.Files)
	}
	if results.Memory == nil || !results.Memory.Found {
		t.Fatalf("memory result = %+v", results.Memory)
	}
	if len(results.Logs) == 0 {
		t.Fatal("log search should match the stored filename in details")
	}

	// Fan-out flags are respected.
	filesOnly := ws.SearchAll("saloon", true, false, false, 10)
	if filesOnly.Memory != nil || filesOnly.Logs != nil {
		t.Fatalf("flags ignored: %+v", filesOnly)
	}
}

func TestWorkspace_GetSummary(t *testing.T) {
	t.Parallel()
	ws := newTestWorkspace(t)
	if _, err := ws.StoreFile([]byte("x"), "a.txt", "", "", nil, nil, "", ""); err != nil {
		t.Fatal(err)
	}
	ws.WriteMemory("hello", false, "", "")

	summary := ws.GetSummary()
	if summary.WorkspaceID != "ws_test" {
		t.Fatalf("workspace id = %s", summary.WorkspaceID)
	}
	if summary.FileCount != 1 {
		t.Fatalf("file count = %d, want 1", summary.FileCount)
	}
	if summary.MemoryInfo.Length != 5 {
		t.Fatalf("memory length = %d, want 5", summary.MemoryInfo.Length)
	}
	if summary.LogCount != 2 {
		t.Fatalf("log count = %d, want 2", summary.LogCount)
	}
	if summary.RuntimePath == "" {
		t.Fatal("runtime path missing")
	}
}
