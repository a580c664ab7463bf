package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/choiros/supervisor/internal/application/orchestrator"
	domevent "github.com/choiros/supervisor/internal/domain/event"
	"github.com/choiros/supervisor/internal/domain/mood"
	"github.com/choiros/supervisor/internal/infrastructure/eventstore"
)

// RunHandler exposes the run lifecycle surface: starting a run, inspecting
// it, and recording out-of-band notes/verification/commit-request entries
// against it.
type RunHandler struct {
	store *eventstore.Store
	orch  *orchestrator.Orchestrator
	log   *zap.Logger
}

func NewRunHandler(store *eventstore.Store, orch *orchestrator.Orchestrator, logger *zap.Logger) *RunHandler {
	return &RunHandler{store: store, orch: orch, log: logger}
}

type startRunRequest struct {
	WorkItemID string `json:"work_item_id" binding:"required"`
	Mood       string `json:"mood"`
}

// Start handles POST /run. It blocks for the orchestrator's full
// execute/verify/adjudicate procedure and returns the adjudicated run;
// WS /agent clients see this run's run_status transitions through the hub
// broadcast, while live agent frames go only to a WS client that starts a
// run itself.
func (h *RunHandler) Start(c *gin.Context) {
	var req startRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	moodSeed := mood.Mood(req.Mood)
	if moodSeed == "" || !mood.Valid(moodSeed) {
		moodSeed = mood.Calm
	}

	ctx := c.Request.Context()
	run, err := h.orch.Run(ctx, req.WorkItemID, moodSeed)
	if err != nil {
		h.log.Error("run failed", zap.String("work_item_id", req.WorkItemID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, run)
}

type patchRunRequest struct {
	Status string `json:"status"`
	Mood   string `json:"mood"`
	Reason string `json:"reason"`
}

// Patch handles PATCH /run/{id} — used for operator-driven cancellation or
// manual mood override. Side effects already recorded before the patch
// arrives (per the cancellation error-handling policy) are left untouched.
func (h *RunHandler) Patch(c *gin.Context) {
	id := c.Param("id")
	var req patchRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]any{}
	if req.Status != "" {
		updates["status"] = req.Status
	}
	if req.Mood != "" {
		updates["mood"] = req.Mood
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	if err := h.store.UpdateRun(id, updates); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	if req.Status == "failed" || req.Status == "cancelled" {
		if _, err := h.store.Append("note.status", map[string]any{
			"run_id": id,
			"status": req.Status,
			"reason": req.Reason,
		}, domevent.SourceUser); err != nil {
			h.log.Warn("append cancellation event failed", zap.Error(err))
		}
	}

	row, err := h.store.GetRun(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, row)
}

// Get handles GET /run/{id}.
func (h *RunHandler) Get(c *gin.Context) {
	id := c.Param("id")
	row, err := h.store.GetRun(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, row)
}

// List handles GET /runs?status&limit.
func (h *RunHandler) List(c *gin.Context) {
	status := c.Query("status")
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	rows, err := h.store.ListRuns(status, limit)
	if err != nil {
		h.log.Error("list runs failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": rows})
}

type addNoteRequest struct {
	Type string         `json:"type" binding:"required"`
	Body map[string]any `json:"body"`
}

// AddNote handles POST /run/{id}/note — lets an operator or external tool
// attach an observation/hypothesis note outside the orchestrator's own
// procedure.
func (h *RunHandler) AddNote(c *gin.Context) {
	id := c.Param("id")
	var req addNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payload := map[string]any{"run_id": id}
	for k, v := range req.Body {
		payload[k] = v
	}
	seq, err := h.store.Append(req.Type, payload, domevent.SourceUser)
	if err != nil {
		h.log.Error("append note event failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to append note"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": id, "seq": seq})
}

// Verify handles POST /run/{id}/verify — records a manual verification
// request note; the orchestrator's own run loop runs the real plan, this
// is for re-requesting verification on a run it already adjudicated.
func (h *RunHandler) Verify(c *gin.Context) {
	id := c.Param("id")
	seq, err := h.store.Append("note.request.verify", map[string]any{"run_id": id, "manual": true}, domevent.SourceUser)
	if err != nil {
		h.log.Error("append verify request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to request verification"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": id, "seq": seq})
}

type commitRequestBody struct {
	GitSHA string         `json:"git_sha"`
	Extra  map[string]any `json:"extra"`
}

// CommitRequest handles POST /run/{id}/commit_request.
func (h *RunHandler) CommitRequest(c *gin.Context) {
	id := c.Param("id")
	var req commitRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payload := map[string]any{"git_sha": req.GitSHA}
	for k, v := range req.Extra {
		payload[k] = v
	}
	eventPayload := map[string]any{"run_id": id}
	for k, v := range payload {
		eventPayload[k] = v
	}
	raw, _ := json.Marshal(eventPayload)
	var asMap map[string]any
	_ = json.Unmarshal(raw, &asMap)

	seq, err := h.store.Append("note.request.verify", asMap, domevent.SourceUser)
	if err != nil {
		h.log.Error("append commit request event failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record commit request"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": id, "seq": seq})
}
