// Package http wires the gin router: health, work item and run CRUD,
// sandbox lifecycle, and git status/checkpoint/revert, following the
// handler-struct-plus-route-table layout and the gin.Recovery/request
// logging middleware stack set up by the gateway this module descends
// from.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/choiros/supervisor/internal/application/orchestrator"
	"github.com/choiros/supervisor/internal/domain/sandboxdomain"
	"github.com/choiros/supervisor/internal/infrastructure/eventstore"
	"github.com/choiros/supervisor/internal/infrastructure/filehistory"
	gitops "github.com/choiros/supervisor/internal/infrastructure/git"
	"github.com/choiros/supervisor/internal/interfaces/http/handlers"
	wsiface "github.com/choiros/supervisor/internal/interfaces/websocket"
)

// Server wraps the http.Server bound to the gin router.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config is the listener configuration.
type Config struct {
	Host string
	Port int
	Mode string // "production" selects gin release mode; anything else, debug
}

// Deps bundles the application/infrastructure dependencies routes are
// wired against.
type Deps struct {
	Store        *eventstore.Store
	History      *filehistory.History
	Orchestrator *orchestrator.Orchestrator
	Git          *gitops.Ops
	IgnoreLoader func() (*gitops.IgnoreSet, error)
	Sandbox      sandboxdomain.Runner
	AgentHub     *wsiface.Hub
}

// NewServer builds the HTTP server and registers every route.
func NewServer(cfg Config, deps Deps, logger *zap.Logger) *Server {
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	workItemHandler := handlers.NewWorkItemHandler(deps.Store, logger)
	runHandler := handlers.NewRunHandler(deps.Store, deps.Orchestrator, logger)
	gitHandler := handlers.NewGitHandler(deps.Git, deps.IgnoreLoader, logger)
	lastGoodHandler := handlers.NewLastGoodHandler(deps.Git, deps.Store, logger)
	sandboxHandler := handlers.NewSandboxHandler(deps.Sandbox, logger)
	stateHandler := handlers.NewStateHandler(deps.Store, deps.History, logger)
	agentWS := wsiface.NewHandler(deps.AgentHub, deps.Orchestrator, deps.Store, logger)

	setupRoutes(router, workItemHandler, runHandler, gitHandler, lastGoodHandler, sandboxHandler, stateHandler, agentWS)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// Handler exposes the underlying http.Handler, e.g. so the websocket
// interface can share the same gin.Engine for /agent.
func (s *Server) Handler() http.Handler { return s.server.Handler }

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting HTTP server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func setupRoutes(
	router *gin.Engine,
	workItem *handlers.WorkItemHandler,
	run *handlers.RunHandler,
	git *handlers.GitHandler,
	lastGood *handlers.LastGoodHandler,
	sandbox *handlers.SandboxHandler,
	state *handlers.StateHandler,
	agentWS *wsiface.Handler,
) {
	router.GET("/agent", gin.WrapF(agentWS.ServeWS))

	router.GET("/health", state.Health)
	router.POST("/undo", state.Undo)
	router.GET("/state/ahdb", state.AHDB)

	router.POST("/work_item", workItem.Upsert)
	router.GET("/work_item/:id", workItem.Get)
	router.GET("/work_items", workItem.List)

	router.POST("/run", run.Start)
	router.PATCH("/run/:id", run.Patch)
	router.GET("/run/:id", run.Get)
	router.GET("/runs", run.List)
	router.POST("/run/:id/note", run.AddNote)
	router.POST("/run/:id/verify", run.Verify)
	router.POST("/run/:id/commit_request", run.CommitRequest)

	router.GET("/git/status", git.Status)
	router.GET("/git/log", git.Log)
	router.GET("/git/diff", git.Diff)
	router.POST("/git/checkpoint", git.Checkpoint)
	router.POST("/git/revert", git.Revert)
	router.GET("/git/last_good", lastGood.LastGood)
	router.POST("/git/rollback", lastGood.Rollback)

	router.POST("/sandbox/create", sandbox.Create)
	router.POST("/sandbox/destroy", sandbox.Destroy)
	router.POST("/sandbox/exec", sandbox.Exec)
	router.POST("/sandbox/checkpoint", sandbox.Checkpoint)
	router.POST("/sandbox/restore", sandbox.Restore)
	router.POST("/sandbox/proxy", sandbox.Proxy)
	router.POST("/sandbox/process/start", sandbox.StartProcess)
	router.POST("/sandbox/process/stop", sandbox.StopProcess)
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
