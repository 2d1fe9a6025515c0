package workspace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"fable/internal/errors"
	"fable/internal/ids"
	"fable/internal/logging"
)

// OperationType classifies a logged workspace operation.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpRead   OperationType = "read"
	OpWrite  OperationType = "write"
	OpDelete OperationType = "delete"
)

// Valid reports whether o is a known operation type.
func (o OperationType) Valid() bool {
	switch o {
	case OpCreate, OpRead, OpWrite, OpDelete:
		return true
	default:
		return false
	}
}

// ResourceType names the kind of resource an operation touched.
type ResourceType string

const (
	ResourceFile      ResourceType = "file"
	ResourceMemory    ResourceType = "memory"
	ResourceLog       ResourceType = "log"
	ResourceWorkspace ResourceType = "workspace"
	ResourceExecution ResourceType = "execution"
)

// Valid reports whether r is a known resource type.
func (r ResourceType) Valid() bool {
	switch r {
	case ResourceFile, ResourceMemory, ResourceLog, ResourceWorkspace, ResourceExecution:
		return true
	default:
		return false
	}
}

// LogEntry is one immutable line of the operation log.
type LogEntry struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	OperationType OperationType  `json:"operation_type"`
	ResourceType  ResourceType   `json:"resource_type"`
	ResourceID    string         `json:"resource_id,omitempty"`
	Details       map[string]any `json:"details"`
	AgentID       string         `json:"agent_id,omitempty"`
	TaskID        string         `json:"task_id,omitempty"`
}

const logFileName = "logs.jsonl"

// LogFilter narrows GetLogs results.
type LogFilter struct {
	OperationType *OperationType
	ResourceType  *ResourceType
	AgentID       string
	TaskID        string
	Limit         int
}

// LogManager appends entries to logs.jsonl and mirrors them in memory.
// Entries are never rewritten or deleted.
type LogManager struct {
	mu      sync.Mutex
	path    string
	entries []*LogEntry
	counter uint64
	logger  logging.Logger
}

// NewLogManager opens the log file in dir and loads the existing entries.
func NewLogManager(dir string, logger logging.Logger) (*LogManager, error) {
	lm := &LogManager{
		path:   filepath.Join(dir, logFileName),
		logger: logging.OrNop(logger),
	}
	if err := lm.load(); err != nil {
		return nil, err
	}
	return lm, nil
}

func (lm *LogManager) load() error {
	f, err := os.Open(lm.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			lm.logger.Warn("skipping malformed log line: %v", err)
			continue
		}
		lm.entries = append(lm.entries, &entry)
	}
	lm.counter = uint64(len(lm.entries))
	return scanner.Err()
}

// Add appends a new entry and persists it as one JSON line.
func (lm *LogManager) Add(op OperationType, resource ResourceType, resourceID string, details map[string]any, agentID, taskID string) (*LogEntry, error) {
	if !op.Valid() {
		return nil, errors.Validation("unknown operation type: %s", op)
	}
	if !resource.Valid() {
		return nil, errors.Validation("unknown resource type: %s", resource)
	}
	if details == nil {
		details = map[string]any{}
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.counter++
	entry := &LogEntry{
		ID:            ids.New("log", lm.counter),
		Timestamp:     time.Now().UTC(),
		OperationType: op,
		ResourceType:  resource,
		ResourceID:    resourceID,
		Details:       details,
		AgentID:       agentID,
		TaskID:        taskID,
	}

	line, err := json.Marshal(entry)
	if err != nil {
		lm.counter--
		return nil, fmt.Errorf("encode log entry: %w", err)
	}
	f, err := os.OpenFile(lm.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		lm.counter--
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		lm.counter--
		return nil, fmt.Errorf("append log entry: %w", err)
	}

	lm.entries = append(lm.entries, entry)
	return entry, nil
}

// GetLogs returns matching entries, newest first.
func (lm *LogManager) GetLogs(filter LogFilter) []*LogEntry {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	out := make([]*LogEntry, 0)
	for i := len(lm.entries) - 1; i >= 0; i-- {
		e := lm.entries[i]
		if filter.OperationType != nil && e.OperationType != *filter.OperationType {
			continue
		}
		if filter.ResourceType != nil && e.ResourceType != *filter.ResourceType {
			continue
		}
		if filter.AgentID != "" && e.AgentID != filter.AgentID {
			continue
		}
		if filter.TaskID != "" && e.TaskID != filter.TaskID {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// SearchLogs substring-matches query against the JSON-serialized details of
// each entry, newest first.
func (lm *LogManager) SearchLogs(query string, limit int) []*LogEntry {
	if limit <= 0 {
		limit = 50
	}
	needle := strings.ToLower(query)

	lm.mu.Lock()
	defer lm.mu.Unlock()

	out := make([]*LogEntry, 0)
	for i := len(lm.entries) - 1; i >= 0; i-- {
		e := lm.entries[i]
		serialized, err := json.Marshal(e.Details)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(string(serialized)), needle) {
			out = append(out, e)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

// Count returns the number of entries.
func (lm *LogManager) Count() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.entries)
}
