package server

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"fable/internal/errors"
	"fable/internal/executions"
	"fable/internal/workspace"
)

func (s *Server) registerAssistantRoutes(g *gin.RouterGroup) {
	g.GET("", s.getAssistant)
	g.GET("/sub-agents", s.listSubAgents)
	g.GET("/sub-agents/:id", s.getSubAgent)
	g.GET("/agents/:id/inputs", s.getAgentInputs)
	g.POST("/execute", s.executeAgent)
	g.GET("/executions/:id", s.getExecution)
	g.GET("/executions/task/:task_id", s.listTaskExecutions)

	ws := g.Group("/workspace")
	ws.GET("", s.workspaceSummary)
	ws.GET("/summary", s.workspaceSummary)
	ws.GET("/files", s.listWorkspaceFiles)
	ws.GET("/files/search", s.searchWorkspaceFiles)
	ws.GET("/files/:id", s.getWorkspaceFile)
	ws.GET("/memory", s.getMemory)
	ws.POST("/memory", s.writeMemory)
	ws.GET("/logs", s.getWorkspaceLogs)
	ws.GET("/search", s.searchWorkspace)
}

func (s *Server) getAssistant(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"assistant_id": executions.DefaultAssistantID,
		"workspace_id": s.deps.Workspace.ID,
		"agent_count":  s.deps.Registry.Count(),
	})
}

func (s *Server) listSubAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.deps.Registry.ListAgents()})
}

func (s *Server) getSubAgent(c *gin.Context) {
	d, err := s.deps.Registry.Descriptor(c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agent_name":    d.AgentName,
		"asset_key":     d.AssetKey,
		"asset_type":    d.AssetType,
		"upstream_keys": d.UpstreamKeys,
		"description":   d.CatalogEntry,
		"materializes":  d.MaterializerFactory != nil,
	})
}

func (s *Server) getAgentInputs(c *gin.Context) {
	d, err := s.deps.Registry.Descriptor(c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agent_name":    d.AgentName,
		"upstream_keys": d.UpstreamKeys,
		"user_text_key": d.UserTextKey,
	})
}

type executeRequest struct {
	AgentID          string         `json:"agent_id"`
	TaskID           string         `json:"task_id"`
	AdditionalInputs map[string]any `json:"additional_inputs"`
}

func (s *Server) executeAgent(c *gin.Context) {
	var req executeRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if req.AgentID == "" || req.TaskID == "" {
		s.abortError(c, errors.Validation("agent_id and task_id are required"))
		return
	}

	summary, err := s.deps.Assistant.ExecuteForTask(c.Request.Context(), req.AgentID, req.TaskID, req.AdditionalInputs)
	if err != nil {
		body := gin.H{"error": err.Error()}
		if summary != nil {
			body["execution"] = summary
		}
		var structureErr *errors.StructureError
		if errors.As(err, &structureErr) {
			body["structural_errors"] = structureErr.Findings
		}
		c.JSON(statusFor(err), body)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) getExecution(c *gin.Context) {
	exec, err := s.deps.Executions.Get(c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

func (s *Server) listTaskExecutions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"executions": s.deps.Executions.ListByTask(c.Param("task_id"))})
}

func (s *Server) workspaceSummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Workspace.GetSummary())
}

func (s *Server) listWorkspaceFiles(c *gin.Context) {
	filter := workspace.ListFilter{
		CreatedBy: c.Query("created_by"),
		Limit:     intQuery(c, "limit", 0),
	}
	if raw := c.Query("file_type"); raw != "" {
		ft := workspace.FileType(raw)
		filter.FileType = &ft
	}
	if raw := c.Query("tags"); raw != "" {
		filter.Tags = strings.Split(raw, ",")
	}
	c.JSON(http.StatusOK, gin.H{"files": s.deps.Workspace.Files.ListFiles(filter)})
}

func (s *Server) searchWorkspaceFiles(c *gin.Context) {
	var fileType *workspace.FileType
	if raw := c.Query("file_type"); raw != "" {
		ft := workspace.FileType(raw)
		fileType = &ft
	}
	files := s.deps.Workspace.Files.SearchFiles(c.Query("query"), fileType, intQuery(c, "limit", 0))
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (s *Server) getWorkspaceFile(c *gin.Context) {
	id := c.Param("id")
	meta, err := s.deps.Workspace.Files.GetFile(id)
	if err != nil {
		s.abortError(c, err)
		return
	}
	body := gin.H{"metadata": meta}
	if c.Query("include_content") == "true" {
		content, err := s.deps.Workspace.Files.GetFileContent(id)
		if err != nil {
			s.abortError(c, err)
			return
		}
		body["content_base64"] = base64.StdEncoding.EncodeToString(content)
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) getMemory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"content": s.deps.Workspace.Memory.Read(),
		"info":    s.deps.Workspace.Memory.GetMemoryInfo(),
	})
}

type writeMemoryRequest struct {
	Content string `json:"content"`
	Append  bool   `json:"append"`
	AgentID string `json:"agent_id"`
	TaskID  string `json:"task_id"`
}

func (s *Server) writeMemory(c *gin.Context) {
	var req writeMemoryRequest
	if !s.bindJSON(c, &req) {
		return
	}
	result := s.deps.Workspace.WriteMemory(req.Content, req.Append, req.AgentID, req.TaskID)
	c.JSON(http.StatusOK, result)
}

func (s *Server) getWorkspaceLogs(c *gin.Context) {
	filter := workspace.LogFilter{
		AgentID: c.Query("agent_id"),
		TaskID:  c.Query("task_id"),
		Limit:   intQuery(c, "limit", 0),
	}
	if raw := c.Query("operation_type"); raw != "" {
		op := workspace.OperationType(raw)
		filter.OperationType = &op
	}
	if raw := c.Query("resource_type"); raw != "" {
		rt := workspace.ResourceType(raw)
		filter.ResourceType = &rt
	}
	c.JSON(http.StatusOK, gin.H{"logs": s.deps.Workspace.Logs.GetLogs(filter)})
}

// searchWorkspace fans a query out across files, memory, and logs. types is a
// comma list; empty means all three.
func (s *Server) searchWorkspace(c *gin.Context) {
	types := c.Query("types")
	searchFiles := types == "" || strings.Contains(types, "files")
	searchMemory := types == "" || strings.Contains(types, "memory")
	searchLogs := types == "" || strings.Contains(types, "logs")

	results := s.deps.Workspace.SearchAll(c.Query("query"), searchFiles, searchMemory, searchLogs, intQuery(c, "limit", 0))
	c.JSON(http.StatusOK, results)
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
