// Package assistant orchestrates one agent execution end to end: asset
// packaging, context retrieval, the gated agent run, and workspace
// bookkeeping.
package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"fable/internal/agent"
	"fable/internal/executions"
	"fable/internal/logging"
	"fable/internal/registry"
	"fable/internal/taskstack"
	"fable/internal/workspace"
)

// ExecutionSummary is the caller-facing result of execute_for_task.
type ExecutionSummary struct {
	ExecutionID string            `json:"execution_id"`
	Status      executions.Status `json:"status"`
	Results     map[string]any    `json:"results,omitempty"`
	Error       string            `json:"error,omitempty"`
	WorkspaceID string            `json:"workspace_id"`
}

// Service is the assistant orchestrator. One instance serves all agents.
type Service struct {
	registry   *registry.Registry
	tasks      *taskstack.Store
	executions *executions.Store
	ws         *workspace.Workspace
	retriever  *Retriever
	logger     logging.Logger
}

// New builds the assistant service.
func New(reg *registry.Registry, tasks *taskstack.Store, execs *executions.Store, ws *workspace.Workspace, logger logging.Logger) *Service {
	logger = logging.OrNop(logger)
	return &Service{
		registry:   reg,
		tasks:      tasks,
		executions: execs,
		ws:         ws,
		retriever:  NewRetriever(ws, logger),
		logger:     logger,
	}
}

// ExecuteForTask runs one agent against one task. On failure the summary is
// still returned alongside the error so callers can report the execution id.
func (s *Service) ExecuteForTask(ctx context.Context, agentID, taskID string, additionalInputs map[string]any) (*ExecutionSummary, error) {
	descriptor, err := s.registry.Descriptor(agentID)
	if err != nil {
		return nil, err
	}
	task, err := s.tasks.GetTask(taskID)
	if err != nil {
		return nil, err
	}

	assets := s.buildAssets(task, agentID, taskID, additionalInputs)

	equipped, err := s.registry.GetAgent(agentID)
	if err != nil {
		return nil, err
	}
	input, err := descriptor.BuildInput(s.ws.ID, taskID, assets, nil)
	if err != nil {
		return nil, fmt.Errorf("build input for %s: %w", agentID, err)
	}
	upstream := descriptor.Upstream(assets)

	exec := s.executions.Create(agentID, taskID, assets, "")
	started := time.Now()
	exec.Status = executions.StatusInProgress
	exec.StartedAt = &started
	if err := s.executions.Update(exec); err != nil {
		return nil, err
	}
	executionsStarted.WithLabelValues(agentID).Inc()
	s.logger.Info("Execution %s started: agent=%s task=%s", exec.ID, agentID, taskID)

	var mctx *agent.MaterializeContext
	if equipped.Materializer != nil {
		mctx = s.materializeContext(agentID, taskID)
	}

	results, runErr := equipped.Run(ctx, input, upstream, mctx)
	completed := time.Now()
	exec.CompletedAt = &completed
	executionDuration.WithLabelValues(agentID).Observe(completed.Sub(started).Seconds())

	if runErr != nil {
		exec.Status = executions.StatusFailed
		exec.Error = runErr.Error()
		if err := s.executions.Update(exec); err != nil {
			s.logger.Error("Failed to record failed execution %s: %v", exec.ID, err)
		}
		executionsFailed.WithLabelValues(agentID).Inc()
		s.logExecution(exec, agentID, taskID)
		summary := &ExecutionSummary{
			ExecutionID: exec.ID,
			Status:      executions.StatusFailed,
			Error:       runErr.Error(),
			WorkspaceID: s.ws.ID,
		}
		return summary, runErr
	}

	s.persistMediaRecords(results, agentID, taskID)

	exec.Status = executions.StatusCompleted
	exec.Results = results
	if err := s.executions.Update(exec); err != nil {
		return nil, err
	}
	executionsCompleted.WithLabelValues(agentID).Inc()
	s.logExecution(exec, agentID, taskID)

	return &ExecutionSummary{
		ExecutionID: exec.ID,
		Status:      executions.StatusCompleted,
		Results:     results,
		WorkspaceID: s.ws.ID,
	}, nil
}

// buildAssets packages the shared asset map: user text seeds, the latest
// completed result per producing agent keyed by asset_key, the retrieval
// bundle, and caller overrides last.
func (s *Service) buildAssets(task *taskstack.Task, agentID, taskID string, additionalInputs map[string]any) map[string]any {
	assets := map[string]any{}

	if overall, ok := task.Description["overall_description"].(string); ok && overall != "" {
		assets["draft_idea"] = overall
		assets["source_text"] = overall
	}

	latest := map[string]*executions.Execution{}
	for _, exec := range s.executions.ListByTask(taskID) {
		if exec.Status != executions.StatusCompleted || exec.CompletedAt == nil {
			continue
		}
		prev, ok := latest[exec.AgentID]
		if !ok || exec.CompletedAt.After(*prev.CompletedAt) {
			latest[exec.AgentID] = exec
		}
	}
	for producerID, exec := range latest {
		producer, err := s.registry.Descriptor(producerID)
		if err != nil {
			s.logger.Warn("Skipping results of unknown agent %s: %v", producerID, err)
			continue
		}
		assets[producer.AssetKey] = stripPrivateKeys(exec.Results)
	}

	assets["_workspace_context"] = s.retriever.Context(agentID, taskID)

	for k, v := range additionalInputs {
		assets[k] = v
	}
	return assets
}

// materializeContext persists emitted binaries to the workspace and writes
// the resulting path back into each asset's uri holder.
func (s *Service) materializeContext(agentID, taskID string) *agent.MaterializeContext {
	return &agent.MaterializeContext{
		PersistBinary: func(asset *agent.MediaAsset) (string, error) {
			filename := asset.SysID + asset.Extension
			meta, err := s.ws.StoreFile(asset.Bytes, filename, "materialized asset "+asset.SysID,
				agentID, []string{agentID, taskID}, nil, agentID, taskID)
			if err != nil {
				return "", err
			}
			if asset.URIHolder != nil {
				asset.URIHolder["uri"] = meta.FilePath
				asset.URIHolder["file_id"] = meta.ID
			}
			return meta.FilePath, nil
		},
	}
}

// persistMediaRecords stores every {file_content, filename?, description?}
// record found at the top level of the results or under _media_files.
func (s *Service) persistMediaRecords(results map[string]any, agentID, taskID string) {
	var records []map[string]any
	for _, v := range results {
		if rec, ok := fileRecord(v); ok {
			records = append(records, rec)
		}
	}
	if extra, ok := results["_media_files"].([]any); ok {
		for _, v := range extra {
			if rec, ok := fileRecord(v); ok {
				records = append(records, rec)
			}
		}
	}
	if len(records) == 0 {
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(4)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			content := []byte(rec["file_content"].(string))
			filename, _ := rec["filename"].(string)
			if filename == "" {
				filename = "output.txt"
			}
			description, _ := rec["description"].(string)
			meta, err := s.ws.StoreFile(content, filename, description, agentID,
				[]string{agentID, taskID}, nil, agentID, taskID)
			if err != nil {
				s.logger.Warn("Failed to persist media record %s: %v", filename, err)
				return nil
			}
			rec["file_id"] = meta.ID
			rec["uri"] = meta.FilePath
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) logExecution(exec *executions.Execution, agentID, taskID string) {
	_, err := s.ws.Logs.Add(workspace.OpWrite, workspace.ResourceExecution, exec.ID, map[string]any{
		"agent_id": agentID,
		"status":   string(exec.Status),
		"error":    exec.Error,
	}, agentID, taskID)
	if err != nil {
		s.logger.Warn("Failed to log execution %s: %v", exec.ID, err)
	}
}

func fileRecord(v any) (map[string]any, bool) {
	rec, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	if _, ok := rec["file_content"].(string); !ok {
		return nil, false
	}
	return rec, true
}

func stripPrivateKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if strings.HasPrefix(k, "_") {
			continue
		}
		out[k] = v
	}
	return out
}
