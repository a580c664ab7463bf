package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	gitops "github.com/choiros/supervisor/internal/infrastructure/git"
)

// GitHandler exposes the repository status/checkpoint/revert surface over
// HTTP, a thin wrapper over gitops.Ops for operator tooling such as the
// choirctl CLI's git-status command.
type GitHandler struct {
	ops    *gitops.Ops
	ignore func() (*gitops.IgnoreSet, error)
	log    *zap.Logger
}

func NewGitHandler(ops *gitops.Ops, ignoreLoader func() (*gitops.IgnoreSet, error), logger *zap.Logger) *GitHandler {
	return &GitHandler{ops: ops, ignore: ignoreLoader, log: logger}
}

// Status handles GET /git/status.
func (h *GitHandler) Status(c *gin.Context) {
	status, err := h.ops.GetStatus()
	if err != nil {
		h.log.Error("git status failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read git status"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// Log handles GET /git/log?count.
func (h *GitHandler) Log(c *gin.Context) {
	count := 20
	if v := c.Query("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			count = n
		}
	}
	commits, err := h.ops.Log(count)
	if err != nil {
		h.log.Error("git log failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read git log"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"commits": commits})
}

type checkpointRequest struct {
	Message      string `json:"message"`
	LastEventSeq int64  `json:"last_event_seq"`
}

// Checkpoint handles POST /git/checkpoint.
func (h *GitHandler) Checkpoint(c *gin.Context) {
	var req checkpointRequest
	_ = c.ShouldBindJSON(&req)
	if req.Message == "" {
		req.Message = "manual checkpoint"
	}

	var ignoreSet *gitops.IgnoreSet
	if h.ignore != nil {
		set, err := h.ignore()
		if err != nil {
			h.log.Warn("load ignore set failed", zap.Error(err))
		}
		ignoreSet = set
	}

	result := h.ops.Checkpoint(req.Message, req.LastEventSeq, ignoreSet)
	c.JSON(http.StatusOK, result)
}

// Revert handles POST /git/revert?sha&dry_run.
func (h *GitHandler) Revert(c *gin.Context) {
	sha := c.Query("sha")
	if sha == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sha is required"})
		return
	}
	if c.Query("dry_run") == "true" {
		c.JSON(http.StatusOK, gin.H{
			"dry_run":     true,
			"target_sha":  sha,
			"is_ancestor": h.ops.IsAncestor(sha),
		})
		return
	}
	result := h.ops.Revert(sha)
	c.JSON(http.StatusOK, result)
}

// Diff handles GET /git/diff?ref.
func (h *GitHandler) Diff(c *gin.Context) {
	ref := c.DefaultQuery("ref", "HEAD")
	diff, err := h.ops.Diff(ref)
	if err != nil {
		h.log.Error("git diff failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read git diff"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ref": ref, "diff": diff})
}

// syncState is the narrow slice of eventstore.Store the git handler needs
// for last_good/rollback, kept local so this package doesn't pull in the
// full store surface.
type syncState interface {
	GetSyncState(key string) (string, bool, error)
}

// LastGoodHandler handles GET /git/last_good and POST /git/rollback?dry_run,
// both of which read the orchestrator's last_good_checkpoint sync-state key
// rather than deriving a target from git history directly.
type LastGoodHandler struct {
	ops   *gitops.Ops
	sync  syncState
	log   *zap.Logger
}

func NewLastGoodHandler(ops *gitops.Ops, sync syncState, logger *zap.Logger) *LastGoodHandler {
	return &LastGoodHandler{ops: ops, sync: sync, log: logger}
}

const lastGoodCheckpointKey = "last_good_checkpoint"

// LastGood handles GET /git/last_good.
func (h *LastGoodHandler) LastGood(c *gin.Context) {
	sha, ok, err := h.sync.GetSyncState(lastGoodCheckpointKey)
	if err != nil {
		h.log.Error("read last good checkpoint failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read last good checkpoint"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no checkpoint recorded yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sha": sha})
}

// Rollback handles POST /git/rollback?dry_run — hard-resets to the last
// recorded good checkpoint, the same target the orchestrator itself rolls
// back to on a failed verification.
func (h *LastGoodHandler) Rollback(c *gin.Context) {
	sha, ok, err := h.sync.GetSyncState(lastGoodCheckpointKey)
	if err != nil || !ok || sha == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no checkpoint recorded yet"})
		return
	}
	if c.Query("dry_run") == "true" {
		c.JSON(http.StatusOK, gin.H{
			"dry_run":     true,
			"target_sha":  sha,
			"is_ancestor": h.ops.IsAncestor(sha),
		})
		return
	}
	result := h.ops.Revert(sha)
	c.JSON(http.StatusOK, result)
}
