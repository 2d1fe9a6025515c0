package taskstack

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"fable/internal/errors"
	"fable/internal/ids"
	"fable/internal/logging"
)

// Store holds the tasks, layers, and execution pointer under a single mutex.
// All public methods serialize on that mutex; read queries take it too so they
// observe a consistent snapshot.
type Store struct {
	mu          sync.Mutex
	tasks       map[string]*Task
	layers      []*Layer
	pointer     *Pointer
	taskCounter uint64
	logger      logging.Logger
}

// NewStore creates an empty task stack store.
func NewStore(logger logging.Logger) *Store {
	return &Store{
		tasks:  make(map[string]*Task),
		logger: logging.OrNop(logger),
	}
}

// CreateTask allocates a new pending task.
func (s *Store) CreateTask(description map[string]any) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createTaskLocked(description).Clone()
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, errors.NotFound("task", id)
	}
	return task.Clone(), nil
}

// ListTasks returns all tasks, newest first.
func (s *Store) ListTasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// UpdateTask applies a partial update and refreshes updated_at.
func (s *Store) UpdateTask(id string, update TaskUpdate) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, errors.NotFound("task", id)
	}
	if update.Status != nil && !update.Status.Valid() {
		return nil, errors.Validation("unknown task status: %s", *update.Status)
	}

	if update.Description != nil {
		task.Description = cloneMap(update.Description)
	}
	if update.Status != nil {
		task.Status = *update.Status
	}
	if update.Progress != nil {
		task.Progress = cloneMap(update.Progress)
	}
	if update.Results != nil {
		task.Results = cloneMap(update.Results)
	}
	task.UpdatedAt = time.Now()
	return task.Clone(), nil
}

// DeleteTask removes a task and scrubs every layer reference to it. The
// pointer tracks the shift when an entry behind the frontier goes away, so
// the executed region keeps the same boundary tasks.
func (s *Store) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return errors.NotFound("task", id)
	}
	delete(s.tasks, id)
	for li, layer := range s.layers {
		idx := indexOfEntry(layer.Tasks, id)
		if idx < 0 {
			continue
		}
		layer.Tasks = append(layer.Tasks[:idx], layer.Tasks[idx+1:]...)
		if s.pointer != nil && li == s.pointer.LayerIndex && idx < s.pointer.TaskIndex {
			s.pointer.TaskIndex--
		}
	}
	return nil
}

// CreateLayer inserts a layer at index (append when index is nil) and
// renumbers all layers so indices stay contiguous.
func (s *Store) CreateLayer(index *int, preHook, postHook string) (*Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	layer, err := s.createLayerLocked(index, preHook, postHook)
	if err != nil {
		return nil, err
	}
	return layer.Clone(), nil
}

// GetLayer retrieves a layer by index.
func (s *Store) GetLayer(index int) (*Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.layers) {
		return nil, errors.NotFound("layer", itoa(index))
	}
	return s.layers[index].Clone(), nil
}

// ListLayers returns all layers in stack order.
func (s *Store) ListLayers() []*Layer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Layer, len(s.layers))
	for i, l := range s.layers {
		out[i] = l.Clone()
	}
	return out
}

// AddTaskToLayer appends (or inserts) a task reference into a layer.
func (s *Store) AddTaskToLayer(layerIndex int, taskID string, insertIndex *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addTaskToLayerLocked(layerIndex, taskID, insertIndex)
}

// RemoveTaskFromLayer removes a task reference from a layer.
func (s *Store) RemoveTaskFromLayer(layerIndex int, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeTaskFromLayerLocked(layerIndex, taskID)
}

// ReplaceTaskInLayer atomically cancels the old task and swaps the entry.
func (s *Store) ReplaceTaskInLayer(layerIndex int, oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaceTaskInLayerLocked(layerIndex, oldID, newID)
}

// UpdateLayerHooks updates the pre/post hooks of a pending layer.
func (s *Store) UpdateLayerHooks(layerIndex int, preHook, postHook *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLayerHooksLocked(layerIndex, preHook, postHook)
}

// InsertLayerWithTasks inserts a layer, renumbers, then appends the given
// tasks in order, all in one critical section.
func (s *Store) InsertLayerWithTasks(insertIndex int, taskIDs []string, preHook, postHook string) (*Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range taskIDs {
		if _, ok := s.tasks[id]; !ok {
			return nil, errors.NotFound("task", id)
		}
	}
	layer, err := s.createLayerLocked(&insertIndex, preHook, postHook)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for _, id := range taskIDs {
		layer.Tasks = append(layer.Tasks, LayerEntry{TaskID: id, CreatedAt: now})
	}
	return layer.Clone(), nil
}

// GetExecutionPointer returns the pointer, or nil when unset.
func (s *Store) GetExecutionPointer() *Pointer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pointer == nil {
		return nil
	}
	cp := *s.pointer
	return &cp
}

// SetExecutionPointer positions the frontier explicitly.
func (s *Store) SetExecutionPointer(layerIndex, taskIndex int, inPreHook, inPostHook bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if layerIndex < 0 || layerIndex >= len(s.layers) {
		return errors.InvariantViolation("pointer layer %d out of range (0..%d)", layerIndex, len(s.layers)-1)
	}
	if taskIndex < 0 || taskIndex > len(s.layers[layerIndex].Tasks) {
		return errors.InvariantViolation("pointer task %d past end of layer %d", taskIndex, layerIndex)
	}
	s.pointer = &Pointer{
		LayerIndex: layerIndex,
		TaskIndex:  taskIndex,
		InPreHook:  inPreHook,
		InPostHook: inPostHook,
	}
	return nil
}

// AdvanceExecutionPointer moves the frontier to the next task: the next entry
// in the same layer, else the first entry of the next non-empty layer. Hook
// flags reset on every advance. Returns false (with no state change) when
// there is nothing to advance to.
func (s *Store) AdvanceExecutionPointer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pointer == nil {
		// An unset pointer advances onto the first non-empty layer.
		for i, layer := range s.layers {
			if len(layer.Tasks) > 0 {
				s.pointer = &Pointer{LayerIndex: i, TaskIndex: 0}
				return true
			}
		}
		return false
	}

	p := s.pointer
	if p.LayerIndex < len(s.layers) && p.TaskIndex+1 < len(s.layers[p.LayerIndex].Tasks) {
		s.pointer = &Pointer{LayerIndex: p.LayerIndex, TaskIndex: p.TaskIndex + 1}
		return true
	}
	for i := p.LayerIndex + 1; i < len(s.layers); i++ {
		if len(s.layers[i].Tasks) > 0 {
			s.pointer = &Pointer{LayerIndex: i, TaskIndex: 0}
			return true
		}
	}
	return false
}

// GetNextTask returns the task under the pointer. With an unset pointer it
// returns the first entry of layer 0 when present.
func (s *Store) GetNextTask() *NextTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	layerIdx, taskIdx := 0, 0
	isPre := false
	if s.pointer != nil {
		layerIdx = s.pointer.LayerIndex
		taskIdx = s.pointer.TaskIndex
		isPre = s.pointer.InPreHook
	}
	if layerIdx < 0 || layerIdx >= len(s.layers) {
		return nil
	}
	layer := s.layers[layerIdx]
	if taskIdx < 0 || taskIdx >= len(layer.Tasks) {
		return nil
	}
	return &NextTask{
		LayerIndex: layerIdx,
		TaskIndex:  taskIdx,
		TaskID:     layer.Tasks[taskIdx].TaskID,
		Layer:      layer.Clone(),
		IsPreHook:  isPre && layer.PreHook != "",
	}
}

// Snapshot captures the whole stack for read-only consumers.
type Snapshot struct {
	Tasks   []*Task  `json:"tasks"`
	Layers  []*Layer `json:"layers"`
	Pointer *Pointer `json:"execution_pointer,omitempty"`
}

// GetSnapshot returns a consistent copy of tasks, layers, and pointer.
func (s *Store) GetSnapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{
		Tasks:  make([]*Task, 0, len(s.tasks)),
		Layers: make([]*Layer, len(s.layers)),
	}
	for _, t := range s.tasks {
		snap.Tasks = append(snap.Tasks, t.Clone())
	}
	sort.Slice(snap.Tasks, func(i, j int) bool {
		if snap.Tasks[i].CreatedAt.Equal(snap.Tasks[j].CreatedAt) {
			return snap.Tasks[i].ID < snap.Tasks[j].ID
		}
		return snap.Tasks[i].CreatedAt.Before(snap.Tasks[j].CreatedAt)
	})
	for i, l := range s.layers {
		snap.Layers[i] = l.Clone()
	}
	if s.pointer != nil {
		cp := *s.pointer
		snap.Pointer = &cp
	}
	return snap
}

// --- locked helpers: the single invariant-enforcement path ---

func (s *Store) createTaskLocked(description map[string]any) *Task {
	s.taskCounter++
	now := time.Now()
	task := &Task{
		ID:          ids.New("task", s.taskCounter),
		Description: cloneMap(description),
		Status:      StatusPending,
		Progress:    map[string]any{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if task.Description == nil {
		task.Description = map[string]any{}
	}
	s.tasks[task.ID] = task
	return task
}

func (s *Store) createLayerLocked(index *int, preHook, postHook string) (*Layer, error) {
	insertAt := len(s.layers)
	if index != nil {
		insertAt = *index
	}
	if insertAt < 0 || insertAt > len(s.layers) {
		return nil, errors.Validation("layer index %d out of range (0..%d)", insertAt, len(s.layers))
	}
	if s.pointer != nil && insertAt < s.pointer.LayerIndex {
		return nil, errors.InvariantViolation("cannot insert layer at %d before executed frontier layer %d", insertAt, s.pointer.LayerIndex)
	}
	layer := &Layer{
		Tasks:     []LayerEntry{},
		PreHook:   preHook,
		PostHook:  postHook,
		CreatedAt: time.Now(),
	}
	s.layers = append(s.layers, nil)
	copy(s.layers[insertAt+1:], s.layers[insertAt:])
	s.layers[insertAt] = layer
	s.renumberLayersLocked()
	return layer, nil
}

func (s *Store) layerExecutedLocked(layerIndex int) bool {
	return s.pointer != nil && layerIndex < s.pointer.LayerIndex
}

func (s *Store) entryExecutedLocked(layerIndex, taskIndex int) bool {
	if s.pointer == nil {
		return false
	}
	if layerIndex != s.pointer.LayerIndex {
		return layerIndex < s.pointer.LayerIndex
	}
	return taskIndex < s.pointer.TaskIndex
}

func (s *Store) addTaskToLayerLocked(layerIndex int, taskID string, insertIndex *int) error {
	if layerIndex < 0 || layerIndex >= len(s.layers) {
		return errors.NotFound("layer", itoa(layerIndex))
	}
	if _, ok := s.tasks[taskID]; !ok {
		return errors.NotFound("task", taskID)
	}
	layer := s.layers[layerIndex]
	if s.layerExecutedLocked(layerIndex) {
		return errors.InvariantViolation("layer %d is already executed", layerIndex)
	}
	if indexOfEntry(layer.Tasks, taskID) >= 0 {
		return errors.InvariantViolation("task %s already in layer %d", taskID, layerIndex)
	}
	insertAt := len(layer.Tasks)
	if insertIndex != nil {
		insertAt = *insertIndex
		if insertAt < 0 || insertAt > len(layer.Tasks) {
			return errors.Validation("insert index %d out of range (0..%d)", insertAt, len(layer.Tasks))
		}
	}
	if s.pointer != nil && layerIndex == s.pointer.LayerIndex && insertIndex != nil && insertAt <= s.pointer.TaskIndex {
		return errors.InvariantViolation("cannot insert at %d at or before frontier task %d in active layer %d", insertAt, s.pointer.TaskIndex, layerIndex)
	}
	entry := LayerEntry{TaskID: taskID, CreatedAt: time.Now()}
	layer.Tasks = append(layer.Tasks, LayerEntry{})
	copy(layer.Tasks[insertAt+1:], layer.Tasks[insertAt:])
	layer.Tasks[insertAt] = entry
	return nil
}

func (s *Store) removeTaskFromLayerLocked(layerIndex int, taskID string) error {
	if layerIndex < 0 || layerIndex >= len(s.layers) {
		return errors.NotFound("layer", itoa(layerIndex))
	}
	layer := s.layers[layerIndex]
	idx := indexOfEntry(layer.Tasks, taskID)
	if idx < 0 {
		return errors.NotFound("task in layer", taskID)
	}
	if s.entryExecutedLocked(layerIndex, idx) {
		return errors.InvariantViolation("task %s at (%d, %d) is already executed", taskID, layerIndex, idx)
	}
	layer.Tasks = append(layer.Tasks[:idx], layer.Tasks[idx+1:]...)
	return nil
}

func (s *Store) replaceTaskInLayerLocked(layerIndex int, oldID, newID string) error {
	if layerIndex < 0 || layerIndex >= len(s.layers) {
		return errors.NotFound("layer", itoa(layerIndex))
	}
	if _, ok := s.tasks[newID]; !ok {
		return errors.NotFound("task", newID)
	}
	oldTask, ok := s.tasks[oldID]
	if !ok {
		return errors.NotFound("task", oldID)
	}
	layer := s.layers[layerIndex]
	idx := indexOfEntry(layer.Tasks, oldID)
	if idx < 0 {
		return errors.NotFound("task in layer", oldID)
	}
	if s.entryExecutedLocked(layerIndex, idx) {
		return errors.InvariantViolation("task %s at (%d, %d) is already executed", oldID, layerIndex, idx)
	}
	if indexOfEntry(layer.Tasks, newID) >= 0 {
		return errors.InvariantViolation("task %s already in layer %d", newID, layerIndex)
	}
	oldTask.Status = StatusCancelled
	oldTask.UpdatedAt = time.Now()
	layer.Tasks[idx] = LayerEntry{TaskID: newID, CreatedAt: time.Now()}
	return nil
}

func (s *Store) updateLayerHooksLocked(layerIndex int, preHook, postHook *string) error {
	if layerIndex < 0 || layerIndex >= len(s.layers) {
		return errors.NotFound("layer", itoa(layerIndex))
	}
	if s.layerExecutedLocked(layerIndex) {
		return errors.InvariantViolation("layer %d is already executed", layerIndex)
	}
	layer := s.layers[layerIndex]
	if preHook != nil {
		layer.PreHook = *preHook
	}
	if postHook != nil {
		layer.PostHook = *postHook
	}
	return nil
}

func (s *Store) renumberLayersLocked() {
	for i, layer := range s.layers {
		layer.LayerIndex = i
	}
}

func indexOfEntry(entries []LayerEntry, taskID string) int {
	for i, e := range entries {
		if e.TaskID == taskID {
			return i
		}
	}
	return -1
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
