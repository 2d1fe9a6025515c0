// Package taskstack implements the layered, pointer-driven execution plan.
//
// Tasks live in a flat map; layers reference them by id in order. The
// execution pointer partitions the stack into a frozen executed region and a
// mutable pending region, and every mutator enforces that partition through a
// single set of locked helpers.
package taskstack

import "time"

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// Valid reports whether s is a known status value.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is a final state.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is a unit of plannable work.
type Task struct {
	ID          string         `json:"id"`
	Description map[string]any `json:"description"`
	Status      TaskStatus     `json:"status"`
	Progress    map[string]any `json:"progress"`
	Results     map[string]any `json:"results,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// LayerEntry references a task from inside a layer.
type LayerEntry struct {
	TaskID    string    `json:"task_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Layer is an ordered bucket of task references with optional hooks.
// LayerIndex always equals the layer's position in the stack.
type Layer struct {
	LayerIndex int          `json:"layer_index"`
	Tasks      []LayerEntry `json:"tasks"`
	PreHook    string       `json:"pre_hook,omitempty"`
	PostHook   string       `json:"post_hook,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Pointer marks the execution frontier. A task at (layer, index) is executed
// iff (layer, index) < (LayerIndex, TaskIndex) lexicographically.
type Pointer struct {
	LayerIndex int  `json:"layer_index"`
	TaskIndex  int  `json:"task_index"`
	InPreHook  bool `json:"in_pre_hook"`
	InPostHook bool `json:"in_post_hook"`
}

// TaskUpdate carries the optional fields of a partial task update.
type TaskUpdate struct {
	Description map[string]any `json:"description,omitempty"`
	Status      *TaskStatus    `json:"status,omitempty"`
	Progress    map[string]any `json:"progress,omitempty"`
	Results     map[string]any `json:"results,omitempty"`
}

// NextTask describes the task under the execution pointer.
type NextTask struct {
	LayerIndex int    `json:"layer_index"`
	TaskIndex  int    `json:"task_index"`
	TaskID     string `json:"task_id"`
	Layer      *Layer `json:"layer"`
	IsPreHook  bool   `json:"is_pre_hook,omitempty"`
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Clone returns a shallow-copied task safe to hand to callers outside the lock.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Description = cloneMap(t.Description)
	cp.Progress = cloneMap(t.Progress)
	cp.Results = cloneMap(t.Results)
	return &cp
}

// Clone returns a copied layer safe to hand to callers outside the lock.
func (l *Layer) Clone() *Layer {
	if l == nil {
		return nil
	}
	cp := *l
	cp.Tasks = make([]LayerEntry, len(l.Tasks))
	copy(cp.Tasks, l.Tasks)
	return &cp
}
