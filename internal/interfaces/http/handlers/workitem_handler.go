package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	domevent "github.com/choiros/supervisor/internal/domain/event"
	"github.com/choiros/supervisor/internal/domain/workitem"
	"github.com/choiros/supervisor/internal/infrastructure/eventstore"
)

// WorkItemHandler exposes the work item CRUD surface the control plane uses
// to submit and inspect requested units of work.
type WorkItemHandler struct {
	store  *eventstore.Store
	logger *zap.Logger
}

func NewWorkItemHandler(store *eventstore.Store, logger *zap.Logger) *WorkItemHandler {
	return &WorkItemHandler{store: store, logger: logger}
}

type upsertWorkItemRequest struct {
	ID                string   `json:"id"`
	UserID            string   `json:"user_id" binding:"required"`
	Prompt            string   `json:"prompt" binding:"required"`
	RiskTier          string   `json:"risk_tier"`
	RequiredVerifiers []string `json:"required_verifiers"`
}

// Upsert handles POST /work_item.
func (h *WorkItemHandler) Upsert(c *gin.Context) {
	var req upsertWorkItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	risk := workitem.RiskTier(req.RiskTier)
	if risk == "" {
		risk = workitem.RiskLow
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()

	requiredJSON, err := json.Marshal(req.RequiredVerifiers)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid required_verifiers"})
		return
	}

	row := eventstore.WorkItemModel{
		ID:                id,
		UserID:            req.UserID,
		Prompt:            req.Prompt,
		RiskTier:          string(risk),
		RequiredVerifiers: string(requiredJSON),
		Status:            string(workitem.StatusOpen),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := h.store.CreateWorkItem(row); err != nil {
		h.logger.Error("create work item failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create work item"})
		return
	}
	if _, err := h.store.Append("message", map[string]any{
		"work_item_id": id,
		"user_id":      req.UserID,
		"prompt":       req.Prompt,
	}, domevent.SourceUser); err != nil && h.logger != nil {
		h.logger.Warn("append work item message event failed", zap.Error(err))
	}

	c.JSON(http.StatusOK, row)
}

// Get handles GET /work_item/{id}.
func (h *WorkItemHandler) Get(c *gin.Context) {
	id := c.Param("id")
	row, err := h.store.GetWorkItem(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "work item not found"})
		return
	}
	c.JSON(http.StatusOK, row)
}

// List handles GET /work_items?status&limit.
func (h *WorkItemHandler) List(c *gin.Context) {
	status := c.Query("status")
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	rows, err := h.store.ListWorkItems(status, limit)
	if err != nil {
		h.logger.Error("list work items failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list work items"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"work_items": rows})
}
