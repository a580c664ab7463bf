package tool

import (
	"context"

	domaintool "github.com/choiros/supervisor/internal/domain/tool"
	gitops "github.com/choiros/supervisor/internal/infrastructure/git"
)

// EventSeqSource gives git_checkpoint the event log's current seq to embed
// in a generated checkpoint message, without depending on the full
// eventstore.Store surface.
type EventSeqSource interface {
	GetLatestSeq() (int64, error)
}

// IgnoreLoader resolves the current .choirignore rules at call time, so a
// hot-reloaded or freshly-edited ignore file is honored on every checkpoint.
type IgnoreLoader func() (*gitops.IgnoreSet, error)

// GitCheckpointTool implements git_checkpoint: stage and commit everything
// not excluded by .choirignore, matching tools.py's git_checkpoint() /
// git_ops.py's checkpoint().
type GitCheckpointTool struct {
	ops    *gitops.Ops
	seqs   EventSeqSource
	ignore IgnoreLoader
}

// NewGitCheckpointTool wires git_checkpoint to the repo ops, event log, and
// ignore-file loader it needs.
func NewGitCheckpointTool(ops *gitops.Ops, seqs EventSeqSource, ignore IgnoreLoader) *GitCheckpointTool {
	return &GitCheckpointTool{ops: ops, seqs: seqs, ignore: ignore}
}

func (t *GitCheckpointTool) Name() string         { return "git_checkpoint" }
func (t *GitCheckpointTool) Kind() domaintool.Kind { return domaintool.KindVCS }
func (t *GitCheckpointTool) Description() string {
	return "Create a git commit as a save point. Use before making risky changes."
}

func (t *GitCheckpointTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string", "description": "Commit message describing the checkpoint"},
		},
	}
}

func (t *GitCheckpointTool) Execute(ctx context.Context, args map[string]any) (*domaintool.Result, error) {
	message, _ := args["message"].(string)

	var lastSeq int64
	if t.seqs != nil {
		seq, err := t.seqs.GetLatestSeq()
		if err != nil {
			return &domaintool.Result{Success: false, Error: err.Error()}, nil
		}
		lastSeq = seq
	}

	var ignoreSet *gitops.IgnoreSet
	if t.ignore != nil {
		set, err := t.ignore()
		if err != nil {
			return &domaintool.Result{Success: false, Error: err.Error()}, nil
		}
		ignoreSet = set
	}

	result := t.ops.Checkpoint(message, lastSeq, ignoreSet)
	if !result.Success {
		return &domaintool.Result{Success: false, Error: result.Error}, nil
	}
	return &domaintool.Result{
		Success: true,
		Output:  result.Message,
		Metadata: map[string]any{
			"commit_sha": result.CommitSHA,
			"message":    result.Message,
			"changes": map[string]any{
				"committed": result.Changes,
				"ignored":   result.Ignored,
			},
		},
	}, nil
}

// GitStatusTool implements git_status: current HEAD, working-tree status,
// and recent commit history, matching tools.py's git_status().
type GitStatusTool struct {
	ops *gitops.Ops
}

// NewGitStatusTool wires git_status to the repo ops.
func NewGitStatusTool(ops *gitops.Ops) *GitStatusTool {
	return &GitStatusTool{ops: ops}
}

func (t *GitStatusTool) Name() string         { return "git_status" }
func (t *GitStatusTool) Kind() domaintool.Kind { return domaintool.KindVCS }
func (t *GitStatusTool) Description() string {
	return "Get git status and recent commit history."
}

func (t *GitStatusTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"log_count": map[string]any{"type": "integer", "description": "Number of recent commits to show (default 5)"},
		},
	}
}

func (t *GitStatusTool) Execute(ctx context.Context, args map[string]any) (*domaintool.Result, error) {
	logCount := 5
	if v, ok := intArg(args, "log_count"); ok && v > 0 {
		logCount = v
	}

	status, err := t.ops.GetStatus()
	if err != nil {
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}
	commits, err := t.ops.Log(logCount)
	if err != nil {
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}

	type commitSummary struct {
		SHA     string `json:"sha"`
		Message string `json:"message"`
	}
	summaries := make([]commitSummary, 0, len(commits))
	for _, c := range commits {
		sha := c.SHA
		if len(sha) > 8 {
			sha = sha[:8]
		}
		summaries = append(summaries, commitSummary{SHA: sha, Message: c.Message})
	}

	head := t.ops.HeadSHA()
	if len(head) > 8 {
		head = head[:8]
	}

	return &domaintool.Result{
		Success: true,
		Output:  head,
		Metadata: map[string]any{
			"head":            head,
			"status":          status,
			"recent_commits":  summaries,
		},
	}, nil
}
