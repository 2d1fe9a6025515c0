// Package executions implements the append-oriented store of agent execution
// records keyed by (agent, task).
package executions

import (
	"sort"
	"sync"
	"time"

	"fable/internal/errors"
	"fable/internal/ids"
	"fable/internal/logging"
)

// Status is the lifecycle state of an execution record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// DefaultAssistantID is the singleton assistant identity.
const DefaultAssistantID = "assistant_global"

// Execution records one agent run against one task. Beyond status and result
// fields the record is append-only.
type Execution struct {
	ID          string         `json:"id"`
	AssistantID string         `json:"assistant_id"`
	AgentID     string         `json:"agent_id"`
	TaskID      string         `json:"task_id"`
	Status      Status         `json:"status"`
	Inputs      map[string]any `json:"inputs"`
	Results     map[string]any `json:"results,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (e *Execution) clone() *Execution {
	cp := *e
	if e.Inputs != nil {
		cp.Inputs = make(map[string]any, len(e.Inputs))
		for k, v := range e.Inputs {
			cp.Inputs[k] = v
		}
	}
	if e.Results != nil {
		cp.Results = make(map[string]any, len(e.Results))
		for k, v := range e.Results {
			cp.Results[k] = v
		}
	}
	if e.StartedAt != nil {
		t := *e.StartedAt
		cp.StartedAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Store holds execution records under a single mutex.
type Store struct {
	mu      sync.Mutex
	byID    map[string]*Execution
	counter uint64
	logger  logging.Logger
}

// NewStore creates an empty execution store.
func NewStore(logger logging.Logger) *Store {
	return &Store{
		byID:   make(map[string]*Execution),
		logger: logging.OrNop(logger),
	}
}

// Create appends a new PENDING execution record.
func (s *Store) Create(agentID, taskID string, inputs map[string]any, assistantID string) *Execution {
	if assistantID == "" {
		assistantID = DefaultAssistantID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	exec := &Execution{
		ID:          ids.New("exec", s.counter),
		AssistantID: assistantID,
		AgentID:     agentID,
		TaskID:      taskID,
		Status:      StatusPending,
		Inputs:      inputs,
		CreatedAt:   time.Now(),
	}
	s.byID[exec.ID] = exec.clone()
	return exec
}

// Update overwrites the stored record with the caller's copy.
func (s *Store) Update(exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[exec.ID]; !ok {
		return errors.NotFound("execution", exec.ID)
	}
	s.byID[exec.ID] = exec.clone()
	return nil
}

// Get retrieves an execution by id.
func (s *Store) Get(id string) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFound("execution", id)
	}
	return exec.clone(), nil
}

// ListByTask returns all executions for a task, oldest first.
func (s *Store) ListByTask(taskID string) []*Execution {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Execution, 0)
	for _, e := range s.byID {
		if e.TaskID == taskID {
			out = append(out, e.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the total number of records.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
