package taskstack

import (
	"fmt"
)

// OperationType enumerates the batch mutation operations.
type OperationType string

const (
	OpCreateTasks           OperationType = "CREATE_TASKS"
	OpCreateLayers          OperationType = "CREATE_LAYERS"
	OpAddTasksToLayers      OperationType = "ADD_TASKS_TO_LAYERS"
	OpRemoveTasksFromLayers OperationType = "REMOVE_TASKS_FROM_LAYERS"
	OpReplaceTasksInLayers  OperationType = "REPLACE_TASKS_IN_LAYERS"
	OpUpdateLayerHooks      OperationType = "UPDATE_LAYER_HOOKS"
)

// TaskSpec describes one task to create.
type TaskSpec struct {
	Description map[string]any `json:"description"`
}

// LayerSpec describes one layer to create.
type LayerSpec struct {
	LayerIndex *int    `json:"layer_index,omitempty"`
	PreHook    *string `json:"pre_hook,omitempty"`
	PostHook   *string `json:"post_hook,omitempty"`
}

// Addition places an existing task into a layer.
type Addition struct {
	LayerIndex  int    `json:"layer_index"`
	TaskID      string `json:"task_id"`
	InsertIndex *int   `json:"insert_index,omitempty"`
}

// Removal takes a task out of a layer.
type Removal struct {
	LayerIndex int    `json:"layer_index"`
	TaskID     string `json:"task_id"`
}

// Replacement swaps one layer entry for another, cancelling the old task.
type Replacement struct {
	LayerIndex int    `json:"layer_index"`
	OldID      string `json:"old_id"`
	NewID      string `json:"new_id"`
}

// HookUpdate rewrites a layer's hooks.
type HookUpdate struct {
	LayerIndex int     `json:"layer_index"`
	PreHook    *string `json:"pre_hook,omitempty"`
	PostHook   *string `json:"post_hook,omitempty"`
}

// Operation is one typed step of a batch mutation. Exactly one payload field
// is consulted, selected by Type.
type Operation struct {
	Type         OperationType `json:"type"`
	Tasks        []TaskSpec    `json:"tasks,omitempty"`
	Layers       []LayerSpec   `json:"layers,omitempty"`
	Additions    []Addition    `json:"additions,omitempty"`
	Removals     []Removal     `json:"removals,omitempty"`
	Replacements []Replacement `json:"replacements,omitempty"`
	Updates      []HookUpdate  `json:"updates,omitempty"`
}

// BatchResult reports the outcome of a ModifyTaskStack call.
//
// The batch is per-op best-effort: an operation that violates an invariant
// appends to Errors but does not roll back prior operations. Callers that
// need all-or-nothing semantics must pre-validate.
type BatchResult struct {
	Success             bool     `json:"success"`
	Results             []string `json:"results"`
	Errors              []string `json:"errors"`
	CreatedTaskIDs      []string `json:"created_task_ids"`
	CreatedLayerIndices []int    `json:"created_layer_indices"`
}

// ModifyTaskStack executes a sequence of typed operations under a single
// critical section, reusing the same locked helpers as the direct mutators.
func (s *Store) ModifyTaskStack(operations []Operation) *BatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &BatchResult{
		Results:             []string{},
		Errors:              []string{},
		CreatedTaskIDs:      []string{},
		CreatedLayerIndices: []int{},
	}

	for opIdx, op := range operations {
		switch op.Type {
		case OpCreateTasks:
			for _, spec := range op.Tasks {
				task := s.createTaskLocked(spec.Description)
				result.CreatedTaskIDs = append(result.CreatedTaskIDs, task.ID)
				result.Results = append(result.Results, fmt.Sprintf("created task %s", task.ID))
			}
		case OpCreateLayers:
			for _, spec := range op.Layers {
				pre, post := "", ""
				if spec.PreHook != nil {
					pre = *spec.PreHook
				}
				if spec.PostHook != nil {
					post = *spec.PostHook
				}
				layer, err := s.createLayerLocked(spec.LayerIndex, pre, post)
				if err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("op %d: %v", opIdx, err))
					continue
				}
				result.CreatedLayerIndices = append(result.CreatedLayerIndices, layer.LayerIndex)
				result.Results = append(result.Results, fmt.Sprintf("created layer %d", layer.LayerIndex))
			}
		case OpAddTasksToLayers:
			for _, add := range op.Additions {
				if err := s.addTaskToLayerLocked(add.LayerIndex, add.TaskID, add.InsertIndex); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("op %d: %v", opIdx, err))
					continue
				}
				result.Results = append(result.Results, fmt.Sprintf("added task %s to layer %d", add.TaskID, add.LayerIndex))
			}
		case OpRemoveTasksFromLayers:
			for _, rm := range op.Removals {
				if err := s.removeTaskFromLayerLocked(rm.LayerIndex, rm.TaskID); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("op %d: %v", opIdx, err))
					continue
				}
				result.Results = append(result.Results, fmt.Sprintf("removed task %s from layer %d", rm.TaskID, rm.LayerIndex))
			}
		case OpReplaceTasksInLayers:
			for _, rep := range op.Replacements {
				if err := s.replaceTaskInLayerLocked(rep.LayerIndex, rep.OldID, rep.NewID); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("op %d: %v", opIdx, err))
					continue
				}
				result.Results = append(result.Results, fmt.Sprintf("replaced task %s with %s in layer %d", rep.OldID, rep.NewID, rep.LayerIndex))
			}
		case OpUpdateLayerHooks:
			for _, upd := range op.Updates {
				if err := s.updateLayerHooksLocked(upd.LayerIndex, upd.PreHook, upd.PostHook); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("op %d: %v", opIdx, err))
					continue
				}
				result.Results = append(result.Results, fmt.Sprintf("updated hooks of layer %d", upd.LayerIndex))
			}
		default:
			result.Errors = append(result.Errors, fmt.Sprintf("op %d: unknown operation type %q", opIdx, op.Type))
		}
	}

	result.Success = len(result.Errors) == 0
	if !result.Success {
		s.logger.Warn("batch mutation finished with %d errors", len(result.Errors))
	}
	return result
}
