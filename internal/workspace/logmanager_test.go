package workspace

import (
	"testing"

	"fable/internal/errors"
	"fable/internal/logging"
)

func newTestLogManager(t *testing.T) *LogManager {
	t.Helper()
	lm, err := NewLogManager(t.TempDir(), logging.Nop())
	if err != nil {
		t.Fatalf("NewLogManager() error = %v", err)
	}
	return lm
}

func TestAddAndGetLogs(t *testing.T) {
	t.Parallel()
	lm := newTestLogManager(t)

	first, err := lm.Add(OpCreate, ResourceFile, "file_000001", map[string]any{"filename": "a.png"}, "keyframe_agent", "task_1_x")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if first.ID == "" || first.Timestamp.IsZero() {
		t.Fatalf("entry not populated: %+v", first)
	}
	if _, err := lm.Add(OpWrite, ResourceMemory, "", nil, "", "task_1_x"); err != nil {
		t.Fatal(err)
	}
	if _, err := lm.Add(OpDelete, ResourceFile, "file_000001", nil, "director", ""); err != nil {
		t.Fatal(err)
	}

	// Newest first.
	all := lm.GetLogs(LogFilter{})
	if len(all) != 3 || all[0].OperationType != OpDelete || all[2].OperationType != OpCreate {
		t.Fatalf("ordering wrong: %+v", all)
	}

	opCreate := OpCreate
	creates := lm.GetLogs(LogFilter{OperationType: &opCreate})
	if len(creates) != 1 {
		t.Fatalf("create filter count = %d, want 1", len(creates))
	}
	byAgent := lm.GetLogs(LogFilter{AgentID: "keyframe_agent"})
	if len(byAgent) != 1 || byAgent[0].ID != first.ID {
		t.Fatalf("agent filter = %+v", byAgent)
	}
	byTask := lm.GetLogs(LogFilter{TaskID: "task_1_x", Limit: 1})
	if len(byTask) != 1 {
		t.Fatalf("task filter with limit = %+v", byTask)
	}
}

func TestAdd_RejectsUnknownEnums(t *testing.T) {
	t.Parallel()
	lm := newTestLogManager(t)

	if _, err := lm.Add("explode", ResourceFile, "", nil, "", ""); !errors.IsValidation(err) {
		t.Fatalf("bad op error = %v, want ValidationError", err)
	}
	if _, err := lm.Add(OpCreate, "rocket", "", nil, "", ""); !errors.IsValidation(err) {
		t.Fatalf("bad resource error = %v, want ValidationError", err)
	}
}

func TestSearchLogs_MatchesSerializedDetails(t *testing.T) {
	t.Parallel()
	lm := newTestLogManager(t)
	if _, err := lm.Add(OpCreate, ResourceFile, "file_000001", map[string]any{"filename": "saloon_interior.png"}, "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := lm.Add(OpWrite, ResourceMemory, "", map[string]any{"append": true}, "", ""); err != nil {
		t.Fatal(err)
	}

	hits := lm.SearchLogs("Saloon", 0)
	if len(hits) != 1 || hits[0].ResourceID != "file_000001" {
		t.Fatalf("search hits = %+v", hits)
	}
	if hits := lm.SearchLogs("nothing-matches-this", 0); len(hits) != 0 {
		t.Fatalf("unexpected hits = %+v", hits)
	}
}

func TestLogsPersistAcrossReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	lm, err := NewLogManager(dir, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := lm.Add(OpCreate, ResourceWorkspace, "", map[string]any{"event": "boot"}, "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := lm.Add(OpRead, ResourceLog, "", nil, "", ""); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewLogManager(dir, logging.Nop())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if reopened.Count() != 2 {
		t.Fatalf("reopened count = %d, want 2", reopened.Count())
	}
	// Appends continue after the reloaded entries.
	if _, err := reopened.Add(OpCreate, ResourceFile, "file_000001", nil, "", ""); err != nil {
		t.Fatal(err)
	}
	if reopened.Count() != 3 {
		t.Fatalf("count after append = %d, want 3", reopened.Count())
	}
}
