package assistant

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"fable/internal/logging"
	"fable/internal/workspace"
)

const (
	memoryCharBudget  = 2000
	memoryTokenBudget = 500
	recentFileLimit   = 5
	recentLogLimit    = 10

	tokenEncoding = "cl100k_base"
)

// Retriever assembles the per-agent workspace context injected into every
// execution: recent files, a bounded slice of shared memory, and recent logs.
type Retriever struct {
	ws      *workspace.Workspace
	encoder *tiktoken.Tiktoken
	logger  logging.Logger
}

// NewRetriever builds a retriever over the workspace. Token budgeting
// degrades to character budgeting if the encoding is unavailable.
func NewRetriever(ws *workspace.Workspace, logger logging.Logger) *Retriever {
	logger = logging.OrNop(logger)
	encoder, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		logger.Warn("token encoding %s unavailable, memory budget falls back to characters: %v", tokenEncoding, err)
		encoder = nil
	}
	return &Retriever{ws: ws, encoder: encoder, logger: logger}
}

// Context returns the retrieval bundle for one (agent, task) execution.
func (r *Retriever) Context(agentID, taskID string) map[string]any {
	files := r.recentFiles(agentID, taskID)
	fileSummaries := make([]map[string]any, 0, len(files))
	for _, f := range files {
		fileSummaries = append(fileSummaries, map[string]any{
			"id":          f.ID,
			"filename":    f.Filename,
			"description": f.Description,
			"file_type":   string(f.FileType),
		})
	}

	logs := r.recentLogs(agentID, taskID)
	logSummaries := make([]map[string]any, 0, len(logs))
	for _, entry := range logs {
		logSummaries = append(logSummaries, map[string]any{
			"operation": string(entry.OperationType),
			"resource":  string(entry.ResourceType),
			"details":   entry.Details,
			"timestamp": entry.Timestamp,
		})
	}

	return map[string]any{
		"recent_files": fileSummaries,
		"memory":       r.clipMemory(r.ws.Memory.Read()),
		"recent_logs":  logSummaries,
	}
}

// recentFiles unions files created by the agent with files tagged by the
// task, newest first, deduplicated.
func (r *Retriever) recentFiles(agentID, taskID string) []*workspace.FileMetadata {
	byCreator := r.ws.Files.ListFiles(workspace.ListFilter{CreatedBy: agentID, Limit: recentFileLimit})
	byTask := r.ws.Files.ListFiles(workspace.ListFilter{Tags: []string{taskID}, Limit: recentFileLimit})

	seen := map[string]bool{}
	var out []*workspace.FileMetadata
	for _, f := range append(byCreator, byTask...) {
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		out = append(out, f)
		if len(out) == recentFileLimit {
			break
		}
	}
	return out
}

func (r *Retriever) recentLogs(agentID, taskID string) []*workspace.LogEntry {
	byAgent := r.ws.Logs.GetLogs(workspace.LogFilter{AgentID: agentID, Limit: recentLogLimit})
	byTask := r.ws.Logs.GetLogs(workspace.LogFilter{TaskID: taskID, Limit: recentLogLimit})

	seen := map[string]bool{}
	var out []*workspace.LogEntry
	for _, entry := range append(byAgent, byTask...) {
		if seen[entry.ID] {
			continue
		}
		seen[entry.ID] = true
		out = append(out, entry)
		if len(out) == recentLogLimit {
			break
		}
	}
	return out
}

// clipMemory bounds the memory slice by characters, then by tokens. The
// character cut backs up to a rune boundary so no multibyte rune is split.
func (r *Retriever) clipMemory(content string) string {
	if len(content) > memoryCharBudget {
		cut := memoryCharBudget
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut]
	}
	if r.encoder == nil {
		return content
	}
	tokens := r.encoder.Encode(content, nil, nil)
	if len(tokens) <= memoryTokenBudget {
		return content
	}
	return r.encoder.Decode(tokens[:memoryTokenBudget])
}
