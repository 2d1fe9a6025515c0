package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"fable/internal/errors"
	"fable/internal/taskstack"
)

func (s *Server) registerLayerRoutes(g *gin.RouterGroup) {
	g.POST("/create", s.createLayer)
	g.GET("/list", s.listLayers)
	g.GET("/:index", s.getLayer)
	g.PUT("/:index/hooks", s.updateLayerHooks)
	g.POST("/:index/tasks", s.addTaskToLayer)
	g.DELETE("/:index/tasks/:task_id", s.removeTaskFromLayer)
	g.POST("/:index/tasks/replace", s.replaceTaskInLayer)
}

func (s *Server) layerIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		s.abortError(c, errors.Validation("invalid layer index %q", c.Param("index")))
		return 0, false
	}
	return index, true
}

type createLayerRequest struct {
	LayerIndex *int   `json:"layer_index"`
	PreHook    string `json:"pre_hook"`
	PostHook   string `json:"post_hook"`
}

func (s *Server) createLayer(c *gin.Context) {
	var req createLayerRequest
	if !s.bindJSON(c, &req) {
		return
	}
	layer, err := s.deps.Tasks.CreateLayer(req.LayerIndex, req.PreHook, req.PostHook)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, layer)
}

func (s *Server) listLayers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"layers": s.deps.Tasks.ListLayers()})
}

func (s *Server) getLayer(c *gin.Context) {
	index, ok := s.layerIndex(c)
	if !ok {
		return
	}
	layer, err := s.deps.Tasks.GetLayer(index)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, layer)
}

type layerHooksRequest struct {
	PreHook  *string `json:"pre_hook"`
	PostHook *string `json:"post_hook"`
}

func (s *Server) updateLayerHooks(c *gin.Context) {
	index, ok := s.layerIndex(c)
	if !ok {
		return
	}
	var req layerHooksRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if err := s.deps.Tasks.UpdateLayerHooks(index, req.PreHook, req.PostHook); err != nil {
		s.abortError(c, err)
		return
	}
	layer, err := s.deps.Tasks.GetLayer(index)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, layer)
}

type addTaskRequest struct {
	TaskID      string `json:"task_id"`
	InsertIndex *int   `json:"insert_index"`
}

func (s *Server) addTaskToLayer(c *gin.Context) {
	index, ok := s.layerIndex(c)
	if !ok {
		return
	}
	var req addTaskRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if err := s.deps.Tasks.AddTaskToLayer(index, req.TaskID, req.InsertIndex); err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": true})
}

func (s *Server) removeTaskFromLayer(c *gin.Context) {
	index, ok := s.layerIndex(c)
	if !ok {
		return
	}
	if err := s.deps.Tasks.RemoveTaskFromLayer(index, c.Param("task_id")); err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

type replaceTaskRequest struct {
	OldID string `json:"old_id"`
	NewID string `json:"new_id"`
}

func (s *Server) replaceTaskInLayer(c *gin.Context) {
	index, ok := s.layerIndex(c)
	if !ok {
		return
	}
	var req replaceTaskRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if err := s.deps.Tasks.ReplaceTaskInLayer(index, req.OldID, req.NewID); err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"replaced": true})
}

func (s *Server) registerPointerRoutes(g *gin.RouterGroup) {
	g.GET("/get", s.getPointer)
	g.PUT("/set", s.setPointer)
	g.POST("/advance", s.advancePointer)
}

func (s *Server) getPointer(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pointer": s.deps.Tasks.GetExecutionPointer()})
}

type setPointerRequest struct {
	LayerIndex int  `json:"layer_index"`
	TaskIndex  int  `json:"task_index"`
	InPreHook  bool `json:"in_pre_hook"`
	InPostHook bool `json:"in_post_hook"`
}

func (s *Server) setPointer(c *gin.Context) {
	var req setPointerRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if err := s.deps.Tasks.SetExecutionPointer(req.LayerIndex, req.TaskIndex, req.InPreHook, req.InPostHook); err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pointer": s.deps.Tasks.GetExecutionPointer()})
}

func (s *Server) advancePointer(c *gin.Context) {
	advanced := s.deps.Tasks.AdvanceExecutionPointer()
	c.JSON(http.StatusOK, gin.H{
		"advanced": advanced,
		"pointer":  s.deps.Tasks.GetExecutionPointer(),
	})
}

func (s *Server) registerStackRoutes(g *gin.RouterGroup) {
	g.GET("", s.getStack)
	g.GET("/next", s.getNextTask)
	g.POST("/insert-layer", s.insertLayerWithTasks)
	g.POST("/modify", s.modifyStack)
}

func (s *Server) getStack(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Tasks.GetSnapshot())
}

func (s *Server) getNextTask(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"next_task": s.deps.Tasks.GetNextTask()})
}

type insertLayerRequest struct {
	InsertIndex int      `json:"insert_index"`
	TaskIDs     []string `json:"task_ids"`
	PreHook     string   `json:"pre_hook"`
	PostHook    string   `json:"post_hook"`
}

func (s *Server) insertLayerWithTasks(c *gin.Context) {
	var req insertLayerRequest
	if !s.bindJSON(c, &req) {
		return
	}
	layer, err := s.deps.Tasks.InsertLayerWithTasks(req.InsertIndex, req.TaskIDs, req.PreHook, req.PostHook)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, layer)
}

type modifyStackRequest struct {
	Operations []taskstack.Operation `json:"operations"`
}

// modifyStack always answers 200; per-op failures are reported inside the
// batch result with success=false.
func (s *Server) modifyStack(c *gin.Context) {
	var req modifyStackRequest
	if !s.bindJSON(c, &req) {
		return
	}
	c.JSON(http.StatusOK, s.deps.Tasks.ModifyTaskStack(req.Operations))
}
