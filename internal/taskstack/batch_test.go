package taskstack

import (
	"strings"
	"testing"
)

func TestModifyTaskStack_CreateAndWire(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	result := s.ModifyTaskStack([]Operation{
		{Type: OpCreateTasks, Tasks: []TaskSpec{
			{Description: map[string]any{"overall_description": "story"}},
			{Description: map[string]any{"overall_description": "screenplay"}},
		}},
		{Type: OpCreateLayers, Layers: []LayerSpec{{}, {}}},
	})
	if !result.Success {
		t.Fatalf("batch errors = %v", result.Errors)
	}
	if len(result.CreatedTaskIDs) != 2 {
		t.Fatalf("created_task_ids = %v, want 2 entries", result.CreatedTaskIDs)
	}
	if !strings.HasPrefix(result.CreatedTaskIDs[0], "task_1_") || !strings.HasPrefix(result.CreatedTaskIDs[1], "task_2_") {
		t.Fatalf("created_task_ids out of creation order: %v", result.CreatedTaskIDs)
	}
	if len(result.CreatedLayerIndices) != 2 || result.CreatedLayerIndices[0] != 0 || result.CreatedLayerIndices[1] != 1 {
		t.Fatalf("created_layer_indices = %v, want [0 1]", result.CreatedLayerIndices)
	}

	wire := s.ModifyTaskStack([]Operation{
		{Type: OpAddTasksToLayers, Additions: []Addition{
			{LayerIndex: 0, TaskID: result.CreatedTaskIDs[0]},
			{LayerIndex: 1, TaskID: result.CreatedTaskIDs[1]},
		}},
	})
	if !wire.Success {
		t.Fatalf("wire errors = %v", wire.Errors)
	}
	layers := s.ListLayers()
	if layers[0].Tasks[0].TaskID != result.CreatedTaskIDs[0] {
		t.Fatalf("layer 0 tasks = %+v", layers[0].Tasks)
	}
}

func TestModifyTaskStack_PartialFailureKeepsSiblings(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	mustLayer(t, s, nil)

	result := s.ModifyTaskStack([]Operation{
		{Type: OpCreateTasks, Tasks: []TaskSpec{{Description: map[string]any{}}}},
		{Type: OpRemoveTasksFromLayers, Removals: []Removal{{LayerIndex: 0, TaskID: "nope"}}},
	})

	if result.Success {
		t.Fatal("batch with a failing op must report success=false")
	}
	if len(result.CreatedTaskIDs) != 1 {
		t.Fatalf("created_task_ids = %v, want exactly one entry", result.CreatedTaskIDs)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one entry", result.Errors)
	}
	// The successful sibling op is retained.
	if _, err := s.GetTask(result.CreatedTaskIDs[0]); err != nil {
		t.Fatalf("created task missing after partial failure: %v", err)
	}
}

func TestModifyTaskStack_ReplaceAndHooks(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	old := s.CreateTask(nil)
	mustLayer(t, s, nil)
	if err := s.AddTaskToLayer(0, old.ID, nil); err != nil {
		t.Fatal(err)
	}
	replacement := s.CreateTask(nil)
	pre := "warmup"

	result := s.ModifyTaskStack([]Operation{
		{Type: OpReplaceTasksInLayers, Replacements: []Replacement{
			{LayerIndex: 0, OldID: old.ID, NewID: replacement.ID},
		}},
		{Type: OpUpdateLayerHooks, Updates: []HookUpdate{
			{LayerIndex: 0, PreHook: &pre},
		}},
	})
	if !result.Success {
		t.Fatalf("batch errors = %v", result.Errors)
	}

	cancelled, err := s.GetTask(old.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("old task status = %s, want %s", cancelled.Status, StatusCancelled)
	}
	layer, err := s.GetLayer(0)
	if err != nil {
		t.Fatal(err)
	}
	if layer.Tasks[0].TaskID != replacement.ID {
		t.Fatalf("layer entry = %s, want %s", layer.Tasks[0].TaskID, replacement.ID)
	}
	if layer.PreHook != "warmup" {
		t.Fatalf("pre hook = %q, want warmup", layer.PreHook)
	}
}

func TestModifyTaskStack_UnknownOperation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	result := s.ModifyTaskStack([]Operation{{Type: "EXPLODE"}})
	if result.Success || len(result.Errors) != 1 {
		t.Fatalf("unknown op result = %+v, want one error", result)
	}
}
