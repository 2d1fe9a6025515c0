package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fable/internal/errors"
	"fable/internal/messages"
)

func (s *Server) registerMessageRoutes(g *gin.RouterGroup) {
	g.POST("/create", s.createMessage)
	g.GET("/list", s.listMessages)
	g.GET("/unread", s.listUnreadMessages)
	g.GET("/:id", s.getMessage)
	g.PUT("/:id/read-status", s.updateMessageReadStatus)
	g.GET("/:id/check", s.checkMessage)
}

type createMessageRequest struct {
	Content    string `json:"content"`
	SenderType string `json:"sender_type"`
	TaskID     string `json:"task_id"`
}

func (s *Server) createMessage(c *gin.Context) {
	var req createMessageRequest
	if !s.bindJSON(c, &req) {
		return
	}
	msg, err := s.deps.Messages.CreateUserMessage(req.Content, messages.SenderType(req.SenderType), req.TaskID)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) listMessages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"messages": s.deps.Messages.List()})
}

func (s *Server) listUnreadMessages(c *gin.Context) {
	var senderType *messages.SenderType
	if raw := c.Query("sender_type"); raw != "" {
		st := messages.SenderType(raw)
		if !st.Valid() {
			s.abortError(c, errors.Validation("unknown sender_type %q", raw))
			return
		}
		senderType = &st
	}
	checkDirector := c.Query("check_director_read") == "true"
	checkUser := c.Query("check_user_read") == "true"

	unread := s.deps.Messages.ListUnread(senderType, checkDirector, checkUser)
	c.JSON(http.StatusOK, gin.H{"messages": unread})
}

func (s *Server) getMessage(c *gin.Context) {
	msg, err := s.deps.Messages.Get(c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

type readStatusRequest struct {
	DirectorReadStatus *string `json:"director_read_status"`
	UserReadStatus     *string `json:"user_read_status"`
}

func (s *Server) updateMessageReadStatus(c *gin.Context) {
	var req readStatusRequest
	if !s.bindJSON(c, &req) {
		return
	}
	var director, user *messages.ReadStatus
	if req.DirectorReadStatus != nil {
		v := messages.ReadStatus(*req.DirectorReadStatus)
		director = &v
	}
	if req.UserReadStatus != nil {
		v := messages.ReadStatus(*req.UserReadStatus)
		user = &v
	}
	msg, err := s.deps.Messages.UpdateReadStatus(c.Param("id"), director, user)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) checkMessage(c *gin.Context) {
	id := c.Param("id")
	msg, err := s.deps.Messages.Get(id)
	if err != nil {
		s.abortError(c, err)
		return
	}
	isNew, err := s.deps.Messages.IsNewTask(id)
	if err != nil {
		s.abortError(c, err)
		return
	}
	var taskState any
	if msg.TaskID != "" {
		if task, err := s.deps.Tasks.GetTask(msg.TaskID); err == nil {
			taskState = string(task.Status)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"message":     msg,
		"is_new_task": isNew,
		"task_state":  taskState,
	})
}
