package handlers

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/choiros/supervisor/internal/domain/sandboxdomain"
)

// SandboxHandler exposes the sandbox lifecycle over HTTP for operator
// tooling; the orchestrator itself drives sandboxes directly through
// sandboxdomain.Runner, not through this handler. Handles created here are
// tracked in an in-process registry keyed by sandbox id so later calls
// (exec, checkpoint, destroy) don't need the full Config resent.
type SandboxHandler struct {
	runner sandboxdomain.Runner
	log    *zap.Logger

	mu       sync.Mutex
	handles  map[string]sandboxdomain.Handle
	procs    map[string]sandboxdomain.Process
}

func NewSandboxHandler(runner sandboxdomain.Runner, logger *zap.Logger) *SandboxHandler {
	return &SandboxHandler{
		runner:  runner,
		log:     logger,
		handles: make(map[string]sandboxdomain.Handle),
		procs:   make(map[string]sandboxdomain.Process),
	}
}

type createSandboxRequest struct {
	UserID        string            `json:"user_id" binding:"required"`
	WorkspaceID   string            `json:"workspace_id" binding:"required"`
	WorkspaceRoot string            `json:"workspace_root"`
	Env           map[string]string `json:"env"`
	AllowInternet bool              `json:"allow_internet"`
}

// Create handles POST /sandbox/create.
func (h *SandboxHandler) Create(c *gin.Context) {
	var req createSandboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg := sandboxdomain.Config{
		UserID:        req.UserID,
		WorkspaceID:   req.WorkspaceID,
		WorkspaceRoot: req.WorkspaceRoot,
		Env:           req.Env,
		AllowInternet: req.AllowInternet,
	}
	handle, err := h.runner.Create(c.Request.Context(), cfg)
	if err != nil {
		h.log.Error("sandbox create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.mu.Lock()
	h.handles[handle.SandboxID] = handle
	h.mu.Unlock()
	c.JSON(http.StatusOK, handle)
}

func (h *SandboxHandler) lookup(sandboxID string) (sandboxdomain.Handle, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	handle, ok := h.handles[sandboxID]
	return handle, ok
}

type sandboxIDRequest struct {
	SandboxID string `json:"sandbox_id" binding:"required"`
}

// Destroy handles POST /sandbox/destroy.
func (h *SandboxHandler) Destroy(c *gin.Context) {
	var req sandboxIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	handle, ok := h.lookup(req.SandboxID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "sandbox not found"})
		return
	}
	if err := h.runner.Destroy(c.Request.Context(), handle); err != nil {
		h.log.Error("sandbox destroy failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.mu.Lock()
	delete(h.handles, req.SandboxID)
	h.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"sandbox_id": req.SandboxID, "destroyed": true})
}

type execRequest struct {
	SandboxID      string            `json:"sandbox_id" binding:"required"`
	Args           []string          `json:"args" binding:"required"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Cwd            string            `json:"cwd"`
	Env            map[string]string `json:"env"`
}

// Exec handles POST /sandbox/exec.
func (h *SandboxHandler) Exec(c *gin.Context) {
	var req execRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	handle, ok := h.lookup(req.SandboxID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "sandbox not found"})
		return
	}
	result, err := h.runner.Exec(c.Request.Context(), handle, sandboxdomain.Command{
		Args:           req.Args,
		TimeoutSeconds: req.TimeoutSeconds,
		Cwd:            req.Cwd,
		Env:            req.Env,
	})
	if err != nil {
		h.log.Error("sandbox exec failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Checkpoint handles POST /sandbox/checkpoint.
func (h *SandboxHandler) Checkpoint(c *gin.Context) {
	var req sandboxIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	handle, ok := h.lookup(req.SandboxID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "sandbox not found"})
		return
	}
	cp, err := h.runner.Checkpoint(c.Request.Context(), handle)
	if err != nil {
		h.log.Error("sandbox checkpoint failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cp)
}

type restoreRequest struct {
	SandboxID    string `json:"sandbox_id" binding:"required"`
	CheckpointID string `json:"checkpoint_id" binding:"required"`
}

// Restore handles POST /sandbox/restore.
func (h *SandboxHandler) Restore(c *gin.Context) {
	var req restoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	handle, ok := h.lookup(req.SandboxID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "sandbox not found"})
		return
	}
	if err := h.runner.Restore(c.Request.Context(), handle, sandboxdomain.Checkpoint{CheckpointID: req.CheckpointID}); err != nil {
		h.log.Error("sandbox restore failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sandbox_id": req.SandboxID, "checkpoint_id": req.CheckpointID, "restored": true})
}

type proxyRequest struct {
	SandboxID string `json:"sandbox_id" binding:"required"`
	Port      int    `json:"port" binding:"required"`
}

// Proxy handles POST /sandbox/proxy.
func (h *SandboxHandler) Proxy(c *gin.Context) {
	var req proxyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	handle, ok := h.lookup(req.SandboxID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "sandbox not found"})
		return
	}
	url, err := h.runner.OpenProxy(c.Request.Context(), handle, req.Port)
	if err != nil {
		h.log.Error("sandbox proxy failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

type startProcessRequest struct {
	SandboxID      string            `json:"sandbox_id" binding:"required"`
	Args           []string          `json:"args" binding:"required"`
	Cwd            string            `json:"cwd"`
	Env            map[string]string `json:"env"`
}

// StartProcess handles POST /sandbox/process/start.
func (h *SandboxHandler) StartProcess(c *gin.Context) {
	var req startProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	handle, ok := h.lookup(req.SandboxID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "sandbox not found"})
		return
	}
	proc, err := h.runner.StartProcess(c.Request.Context(), handle, sandboxdomain.Command{Args: req.Args, Cwd: req.Cwd, Env: req.Env})
	if err != nil {
		h.log.Error("sandbox start process failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.mu.Lock()
	h.procs[proc.ProcessID] = proc
	h.mu.Unlock()
	c.JSON(http.StatusOK, proc)
}

type stopProcessRequest struct {
	SandboxID string `json:"sandbox_id" binding:"required"`
	ProcessID string `json:"process_id" binding:"required"`
}

// StopProcess handles POST /sandbox/process/stop.
func (h *SandboxHandler) StopProcess(c *gin.Context) {
	var req stopProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	handle, ok := h.lookup(req.SandboxID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "sandbox not found"})
		return
	}
	h.mu.Lock()
	proc, ok := h.procs[req.ProcessID]
	h.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "process not found"})
		return
	}
	if err := h.runner.StopProcess(c.Request.Context(), handle, proc); err != nil {
		h.log.Error("sandbox stop process failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.mu.Lock()
	delete(h.procs, req.ProcessID)
	h.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"process_id": req.ProcessID, "stopped": true})
}
