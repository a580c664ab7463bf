// Package git wraps the git CLI for the checkpoint/revert operations the
// orchestrator depends on. Ported from
// original_source/supervisor/git_ops.py: same porcelain-status parsing,
// same "nothing to commit" short-circuit, same checkpoint message shape.
// git_revert is not present in the retrieved Python source (only
// referenced); its ancestor-check-then-backup-branch behavior is
// reconstructed from SPEC_FULL.md's "backup branch before hard reset"
// supplemented feature.
package git

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Ops runs git commands against one repo root.
type Ops struct {
	repoRoot string
	logger   *zap.Logger
}

// New builds Ops rooted at repoRoot.
func New(repoRoot string, logger *zap.Logger) *Ops {
	return &Ops{repoRoot: repoRoot, logger: logger}
}

func (o *Ops) run(args ...string) (stdout, stderr string, err error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = o.repoRoot
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	runErr := cmd.Run()
	return outBuf.String(), errBuf.String(), runErr
}

// HeadSHA returns the current HEAD commit sha, or "" if none exists yet.
func (o *Ops) HeadSHA() string {
	out, _, err := o.run("rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// Status is a parsed `git status --porcelain` summary.
type Status struct {
	Modified  []string
	Added     []string
	Deleted   []string
	Untracked []string
	Clean     bool
}

// GetStatus returns the working tree status.
func (o *Ops) GetStatus() (Status, error) {
	out, stderr, err := o.run("status", "--porcelain")
	if err != nil {
		return Status{}, fmt.Errorf("git status: %w: %s", err, stderr)
	}

	var st Status
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		st.Clean = true
		return st, nil
	}
	for _, line := range strings.Split(trimmed, "\n") {
		if len(line) < 3 {
			continue
		}
		code := line[:2]
		path := line[3:]
		switch {
		case code[0] == 'M' || (len(code) > 1 && code[1] == 'M'):
			st.Modified = append(st.Modified, path)
		case code[0] == 'A':
			st.Added = append(st.Added, path)
		case code[0] == 'D' || (len(code) > 1 && code[1] == 'D'):
			st.Deleted = append(st.Deleted, path)
		case code[0] == '?':
			st.Untracked = append(st.Untracked, path)
		}
	}
	return st, nil
}

// CheckpointResult is the outcome of Checkpoint.
type CheckpointResult struct {
	Success   bool
	Message   string
	CommitSHA string
	Changes   []string // paths staged and committed
	Ignored   []string // touched paths excluded by the ignore set
	Skipped   bool     // true when nothing non-ignored needed committing
	Error     string
}

// allPaths flattens a Status into every path it touches.
func (st Status) allPaths() []string {
	var paths []string
	paths = append(paths, st.Modified...)
	paths = append(paths, st.Added...)
	paths = append(paths, st.Deleted...)
	paths = append(paths, st.Untracked...)
	return paths
}

// Checkpoint stages only the paths ignoreSet doesn't filter out and commits
// them. message is used verbatim if non-empty; otherwise a timestamped
// message embedding lastEventSeq is generated, matching git_ops.py's
// checkpoint(). If every touched path is ignored (or the tree is clean),
// this is a no-op "nothing to commit" result, per §4.11.
func (o *Ops) Checkpoint(message string, lastEventSeq int64, ignoreSet *IgnoreSet) CheckpointResult {
	status, err := o.GetStatus()
	if err != nil {
		return CheckpointResult{Success: false, Error: err.Error()}
	}
	if status.Clean {
		return CheckpointResult{Success: true, Message: "nothing to commit, working tree clean", CommitSHA: o.HeadSHA(), Skipped: true}
	}

	var toStage, ignored []string
	for _, p := range status.allPaths() {
		if ignoreSet == nil || !ignoreSet.Match(p) {
			toStage = append(toStage, p)
		} else {
			ignored = append(ignored, p)
		}
	}
	if len(toStage) == 0 {
		return CheckpointResult{Success: true, Message: "nothing to commit, all changes ignored", CommitSHA: o.HeadSHA(), Ignored: ignored, Skipped: true}
	}

	if message == "" {
		message = fmt.Sprintf("checkpoint: %s (event seq %d)", time.Now().UTC().Format("20060102-150405"), lastEventSeq)
	}

	addArgs := append([]string{"add", "--"}, toStage...)
	if _, stderr, err := o.run(addArgs...); err != nil {
		return CheckpointResult{Success: false, Error: fmt.Sprintf("git add failed: %s", stderr)}
	}
	if _, stderr, err := o.run("commit", "-m", message); err != nil {
		return CheckpointResult{Success: false, Error: fmt.Sprintf("git commit failed: %s", stderr)}
	}

	sha := o.HeadSHA()
	if o.logger != nil {
		o.logger.Info("git checkpoint created", zap.String("sha", sha), zap.String("message", message))
	}
	return CheckpointResult{Success: true, Message: message, CommitSHA: sha, Changes: toStage, Ignored: ignored}
}

// IsAncestor reports whether ancestorSHA is an ancestor of (or equal to)
// current HEAD.
func (o *Ops) IsAncestor(ancestorSHA string) bool {
	_, _, err := o.run("merge-base", "--is-ancestor", ancestorSHA, "HEAD")
	return err == nil
}

// RevertResult is the outcome of Revert.
type RevertResult struct {
	Success    bool
	BackupRef  string
	ResetToSHA string
	Error      string
}

// Revert hard-resets the working tree to targetSHA, first creating a
// timestamped backup branch at current HEAD and refusing the reset if
// targetSHA is not an ancestor of HEAD.
func (o *Ops) Revert(targetSHA string) RevertResult {
	if targetSHA == "" {
		return RevertResult{Success: false, Error: "no target sha to revert to"}
	}
	if !o.IsAncestor(targetSHA) {
		return RevertResult{Success: false, Error: fmt.Sprintf("refusing revert: %s is not an ancestor of HEAD", targetSHA)}
	}

	backupRef := fmt.Sprintf("choir/backup/%s", time.Now().UTC().Format("20060102-150405"))
	if _, stderr, err := o.run("branch", backupRef, "HEAD"); err != nil {
		return RevertResult{Success: false, Error: fmt.Sprintf("backup branch failed: %s", stderr)}
	}

	if _, stderr, err := o.run("reset", "--hard", targetSHA); err != nil {
		return RevertResult{Success: false, BackupRef: backupRef, Error: fmt.Sprintf("git reset failed: %s", stderr)}
	}

	if o.logger != nil {
		o.logger.Warn("git revert executed",
			zap.String("target_sha", targetSHA),
			zap.String("backup_ref", backupRef),
		)
	}
	return RevertResult{Success: true, BackupRef: backupRef, ResetToSHA: targetSHA}
}

// Log returns the n most recent commits.
type Commit struct {
	SHA     string
	Message string
	Date    string
	Author  string
}

func (o *Ops) Log(n int) ([]Commit, error) {
	out, stderr, err := o.run("log", fmt.Sprintf("-%d", n), "--pretty=format:%H|%s|%ai|%an")
	if err != nil {
		return nil, fmt.Errorf("git log: %w: %s", err, stderr)
	}
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, nil
	}
	var commits []Commit
	for _, line := range strings.Split(trimmed, "\n") {
		parts := strings.SplitN(line, "|", 4)
		if len(parts) < 4 {
			continue
		}
		commits = append(commits, Commit{SHA: parts[0], Message: parts[1], Date: parts[2], Author: parts[3]})
	}
	return commits, nil
}

// Diff returns the diff against ref.
func (o *Ops) Diff(ref string) (string, error) {
	out, stderr, err := o.run("diff", ref)
	if err != nil {
		return "", fmt.Errorf("git diff: %w: %s", err, stderr)
	}
	return out, nil
}
