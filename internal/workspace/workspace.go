package workspace

import (
	"path/filepath"
	"strings"
	"time"

	"fable/internal/logging"
)

// Workspace composes the file, memory, and log managers for one workspace id.
// Every file or memory mutation routed through the Workspace also emits a log
// entry.
type Workspace struct {
	ID          string
	RuntimePath string
	CreatedAt   time.Time

	Files  *FileManager
	Memory *MemoryManager
	Logs   *LogManager

	logger logging.Logger
}

// Options tunes workspace construction.
type Options struct {
	// MemoryCap overrides DefaultMemoryCap when > 0.
	MemoryCap int
}

// New opens (or creates) the workspace rooted at {runtimeBase}/{workspaceID}.
func New(runtimeBase, workspaceID string, opts Options, logger logging.Logger) (*Workspace, error) {
	logger = logging.OrNop(logger)
	dir := filepath.Join(runtimeBase, workspaceID)

	files, err := NewFileManager(dir, logger)
	if err != nil {
		return nil, err
	}
	logs, err := NewLogManager(dir, logger)
	if err != nil {
		return nil, err
	}
	return &Workspace{
		ID:          workspaceID,
		RuntimePath: dir,
		CreatedAt:   time.Now(),
		Files:       files,
		Memory:      NewMemoryManager(dir, opts.MemoryCap, logger),
		Logs:        logs,
		logger:      logger,
	}, nil
}

// StoreFile stores content and logs the creation.
func (w *Workspace) StoreFile(content []byte, filename, description, createdBy string, tags []string, metadata map[string]any, agentID, taskID string) (*FileMetadata, error) {
	meta, err := w.Files.StoreFile(content, filename, description, createdBy, tags, metadata)
	if err != nil {
		return nil, err
	}
	_, logErr := w.Logs.Add(OpCreate, ResourceFile, meta.ID, map[string]any{
		"filename":    meta.Filename,
		"description": meta.Description,
		"file_type":   string(meta.FileType),
		"size_bytes":  meta.SizeBytes,
	}, agentID, taskID)
	if logErr != nil {
		w.logger.Warn("failed to log file creation: %v", logErr)
	}
	return meta, nil
}

// DeleteFile removes a file and logs the deletion.
func (w *Workspace) DeleteFile(id, agentID, taskID string) error {
	if err := w.Files.DeleteFile(id); err != nil {
		return err
	}
	if _, err := w.Logs.Add(OpDelete, ResourceFile, id, nil, agentID, taskID); err != nil {
		w.logger.Warn("failed to log file deletion: %v", err)
	}
	return nil
}

// WriteMemory writes the memory blob and logs the write.
func (w *Workspace) WriteMemory(content string, appendMode bool, agentID, taskID string) WriteResult {
	result := w.Memory.Write(content, appendMode)
	if result.Success {
		_, err := w.Logs.Add(OpWrite, ResourceMemory, "", map[string]any{
			"append":        appendMode,
			"was_truncated": result.WasTruncated,
			"final_length":  result.FinalLength,
		}, agentID, taskID)
		if err != nil {
			w.logger.Warn("failed to log memory write: %v", err)
		}
	}
	return result
}

// ClearMemory empties the memory blob and logs the deletion.
func (w *Workspace) ClearMemory(agentID, taskID string) error {
	if err := w.Memory.Clear(); err != nil {
		return err
	}
	if _, err := w.Logs.Add(OpDelete, ResourceMemory, "", nil, agentID, taskID); err != nil {
		w.logger.Warn("failed to log memory clear: %v", err)
	}
	return nil
}

// MemorySearchResult reports whether a query matched the memory blob.
type MemorySearchResult struct {
	Found   bool   `json:"found"`
	Length  int    `json:"length"`
	Preview string `json:"preview"`
}

// SearchResults aggregates a fan-out search across the workspace.
type SearchResults struct {
	Files  []*FileMetadata     `json:"files,omitempty"`
	Memory *MemorySearchResult `json:"memory,omitempty"`
	Logs   []*LogEntry         `json:"logs,omitempty"`
}

const memoryPreviewChars = 200

// SearchAll fans the query out to files, memory, and logs.
func (w *Workspace) SearchAll(query string, searchFiles, searchMemory, searchLogs bool, limit int) *SearchResults {
	results := &SearchResults{}
	if searchFiles {
		results.Files = w.Files.SearchFiles(query, nil, limit)
	}
	if searchMemory {
		content := w.Memory.Read()
		found := query != "" && containsFold(content, query)
		preview := content
		if len(preview) > memoryPreviewChars {
			preview = preview[:memoryPreviewChars]
		}
		results.Memory = &MemorySearchResult{
			Found:   found,
			Length:  len(content),
			Preview: preview,
		}
	}
	if searchLogs {
		results.Logs = w.Logs.SearchLogs(query, limit)
	}
	return results
}

// Summary describes the workspace state.
type Summary struct {
	WorkspaceID string     `json:"workspace_id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FileCount   int        `json:"file_count"`
	MemoryInfo  MemoryInfo `json:"memory_info"`
	LogCount    int        `json:"log_count"`
	RuntimePath string     `json:"runtime_path"`
}

// GetSummary returns counts and memory state.
func (w *Workspace) GetSummary() *Summary {
	memInfo := w.Memory.GetMemoryInfo()
	updated := memInfo.UpdatedAt
	if updated.IsZero() {
		updated = w.CreatedAt
	}
	return &Summary{
		WorkspaceID: w.ID,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   updated,
		FileCount:   w.Files.Count(),
		MemoryInfo:  memInfo,
		LogCount:    w.Logs.Count(),
		RuntimePath: w.RuntimePath,
	}
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
