package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fable/internal/errors"
	"fable/internal/messages"
	"fable/internal/taskstack"
)

func (s *Server) registerTaskRoutes(g *gin.RouterGroup) {
	g.POST("/create", s.createTask)
	g.GET("/list", s.listTasks)
	g.GET("/:id", s.getTask)
	g.PUT("/:id", s.updateTask)
	g.PUT("/:id/status", s.updateTaskStatus)
	g.DELETE("/:id", s.deleteTask)
	g.POST("/:id/messages", s.createTaskMessage)
}

type createTaskRequest struct {
	Description map[string]any `json:"description"`
}

func (s *Server) createTask(c *gin.Context) {
	var req createTaskRequest
	if !s.bindJSON(c, &req) {
		return
	}
	task := s.deps.Tasks.CreateTask(req.Description)
	c.JSON(http.StatusCreated, task)
}

func (s *Server) listTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": s.deps.Tasks.ListTasks()})
}

func (s *Server) getTask(c *gin.Context) {
	task, err := s.deps.Tasks.GetTask(c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) updateTask(c *gin.Context) {
	var update taskstack.TaskUpdate
	if !s.bindJSON(c, &update) {
		return
	}
	task, err := s.deps.Tasks.UpdateTask(c.Param("id"), update)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

type taskStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) updateTaskStatus(c *gin.Context) {
	var req taskStatusRequest
	if !s.bindJSON(c, &req) {
		return
	}
	status := taskstack.TaskStatus(req.Status)
	if !status.Valid() {
		s.abortError(c, errors.Validation("unknown status %q", req.Status))
		return
	}
	task, err := s.deps.Tasks.UpdateTask(c.Param("id"), taskstack.TaskUpdate{Status: &status})
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) deleteTask(c *gin.Context) {
	if err := s.deps.Tasks.DeleteTask(c.Param("id")); err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type taskMessageRequest struct {
	Content    string `json:"content"`
	SenderType string `json:"sender_type"`
}

// createTaskMessage posts a message bound to the task.
func (s *Server) createTaskMessage(c *gin.Context) {
	taskID := c.Param("id")
	if _, err := s.deps.Tasks.GetTask(taskID); err != nil {
		s.abortError(c, err)
		return
	}
	var req taskMessageRequest
	if !s.bindJSON(c, &req) {
		return
	}
	msg, err := s.deps.Messages.CreateUserMessage(req.Content, messages.SenderType(req.SenderType), taskID)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}
