package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	domevent "github.com/choiros/supervisor/internal/domain/event"
	"github.com/choiros/supervisor/internal/infrastructure/eventstore"
	"github.com/choiros/supervisor/internal/infrastructure/filehistory"
)

// StateHandler exposes the materialized AHDB projection, health, and undo
// over HTTP.
type StateHandler struct {
	store   *eventstore.Store
	history *filehistory.History
	log     *zap.Logger
}

func NewStateHandler(store *eventstore.Store, history *filehistory.History, logger *zap.Logger) *StateHandler {
	return &StateHandler{store: store, history: history, log: logger}
}

// AHDB handles GET /state/ahdb.
func (h *StateHandler) AHDB(c *gin.Context) {
	state, err := h.store.AHDBState()
	if err != nil {
		h.log.Error("read ahdb state failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ahdb state"})
		return
	}
	c.JSON(http.StatusOK, state)
}

// Health handles GET /health.
func (h *StateHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Unix()})
}

// Undo handles POST /undo?count — pops the count most recent file snapshots
// and restores them, mirroring main.py's /undo (file_history.undo(count)).
// It records a best-effort audit event afterward; undo itself is not
// event-replay machinery, the same as the original.
func (h *StateHandler) Undo(c *gin.Context) {
	count := 1
	if v := c.Query("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			count = n
		}
	}

	restored, err := h.history.Undo(count)
	if err != nil {
		h.log.Error("undo failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to undo"})
		return
	}

	if _, err := h.store.Append("undo", map[string]any{"restored_files": restored, "count": len(restored)}, domevent.SourceUser); err != nil {
		h.log.Warn("append undo audit event failed", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"restored_files": restored, "count": len(restored)})
}
