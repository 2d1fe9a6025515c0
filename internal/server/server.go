// Package server exposes the HTTP surface: task stack, messages, assistant,
// and workspace routes on a gin engine.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fable/internal/assistant"
	"fable/internal/executions"
	"fable/internal/logging"
	"fable/internal/messages"
	"fable/internal/registry"
	"fable/internal/taskstack"
	"fable/internal/workspace"
)

var httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fable_http_requests_total",
	Help: "HTTP requests by method, path and status.",
}, []string{"method", "path", "status"})

// Deps carries the stores and services the server fronts.
type Deps struct {
	Tasks      *taskstack.Store
	Messages   *messages.Store
	Executions *executions.Store
	Workspace  *workspace.Workspace
	Registry   *registry.Registry
	Assistant  *assistant.Service
	Logger     logging.Logger
}

// Server is the HTTP boundary.
type Server struct {
	deps   Deps
	engine *gin.Engine
	logger logging.Logger
}

// New builds the server and registers all routes.
func New(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	engine.Use(func(c *gin.Context) {
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, path, http.StatusText(c.Writer.Status())).Inc()
	})

	s := &Server{
		deps:   deps,
		engine: engine,
		logger: logging.OrNop(deps.Logger),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "fable"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	s.registerMessageRoutes(api.Group("/messages"))
	s.registerTaskRoutes(api.Group("/tasks"))
	s.registerLayerRoutes(api.Group("/layers"))
	s.registerPointerRoutes(api.Group("/execution-pointer"))
	s.registerStackRoutes(api.Group("/task-stack"))
	s.registerAssistantRoutes(api.Group("/assistant"))
}

// Handler returns the engine for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until ctx is cancelled, then drains with a shutdown grace
// period.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("HTTP server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
