// Package tool implements the fixed six-tool surface (§4.10): read_file,
// write_file, edit_file, bash, git_checkpoint, git_status. Ported from
// original_source/supervisor/agent/tools.py's AgentTools, restructured into
// one domaintool.Tool per operation the way the teacher's
// internal/infrastructure/tool/builtin_tools.go structures its own tools —
// one small struct + Name/Kind/Description/Schema/Execute per file, rather
// than tools.py's single god-object with an execute_tool dispatch switch.
package tool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	domaintool "github.com/choiros/supervisor/internal/domain/tool"
	domevent "github.com/choiros/supervisor/internal/domain/event"
	"github.com/choiros/supervisor/internal/infrastructure/filehistory"
)

// EventAppender is the minimal eventstore.Store surface the file tools need,
// kept as an interface so tests can fake it without an on-disk database.
type EventAppender interface {
	Append(eventType string, payload map[string]any, source domevent.Source) (int64, error)
}

func resolvePath(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

func displayPath(root, abs string) string {
	rel, err := filepath.Rel(root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return abs
	}
	return filepath.ToSlash(rel)
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ReadFileTool implements read_file: content plus optional head/tail
// slicing, matching tools.py's read_file exactly.
type ReadFileTool struct {
	root   string
	logger *zap.Logger
}

// NewReadFileTool roots file resolution at workspaceRoot.
func NewReadFileTool(workspaceRoot string, logger *zap.Logger) *ReadFileTool {
	return &ReadFileTool{root: workspaceRoot, logger: logger}
}

func (t *ReadFileTool) Name() string             { return "read_file" }
func (t *ReadFileTool) Kind() domaintool.Kind     { return domaintool.KindRead }
func (t *ReadFileTool) Description() string {
	return "Read file contents. Use head/tail for large files."
}

func (t *ReadFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Path to the file to read (relative to the workspace or absolute)"},
			"head": map[string]any{"type": "integer", "description": "Return only the first N lines"},
			"tail": map[string]any{"type": "integer", "description": "Return only the last N lines"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (*domaintool.Result, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return &domaintool.Result{Success: false, Error: "path is required"}, nil
	}
	abs := resolvePath(t.root, path)

	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return &domaintool.Result{Success: false, Error: fmt.Sprintf("not found: %s", path)}, nil
	}
	if err != nil {
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}
	if info.IsDir() {
		return &domaintool.Result{Success: false, Error: fmt.Sprintf("not a file: %s", path)}, nil
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}

	lines := strings.Split(string(raw), "\n")
	total := len(lines)
	returned := lines
	if head, ok := intArg(args, "head"); ok && head < total {
		returned = lines[:head]
	} else if tail, ok := intArg(args, "tail"); ok && tail < total {
		returned = lines[total-tail:]
	}

	return &domaintool.Result{
		Success: true,
		Output:  strings.Join(returned, "\n"),
		Metadata: map[string]any{
			"total_lines":    total,
			"returned_lines": len(returned),
		},
	}, nil
}

func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// WriteFileTool implements write_file: pre-snapshot to file history, create
// parent directories, write, then emit file.write.
type WriteFileTool struct {
	root    string
	history *filehistory.History
	events  EventAppender
	logger  *zap.Logger
}

// NewWriteFileTool wires write_file to the workspace, history, and event
// log it mutates.
func NewWriteFileTool(workspaceRoot string, history *filehistory.History, events EventAppender, logger *zap.Logger) *WriteFileTool {
	return &WriteFileTool{root: workspaceRoot, history: history, events: events, logger: logger}
}

func (t *WriteFileTool) Name() string         { return "write_file" }
func (t *WriteFileTool) Kind() domaintool.Kind { return domaintool.KindEdit }
func (t *WriteFileTool) Description() string {
	return "Create or overwrite file with content."
}

func (t *WriteFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "Path to the file to write"},
			"content": map[string]any{"type": "string", "description": "Content to write to the file"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (*domaintool.Result, error) {
	path, _ := args["path"].(string)
	content, hasContent := args["content"].(string)
	if path == "" {
		return &domaintool.Result{Success: false, Error: "path is required"}, nil
	}
	if !hasContent {
		return &domaintool.Result{Success: false, Error: "content is required"}, nil
	}
	abs := resolvePath(t.root, path)

	if t.history != nil {
		if err := t.history.SaveState(abs); err != nil {
			return &domaintool.Result{Success: false, Error: err.Error()}, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}

	rel := displayPath(t.root, abs)
	if t.events != nil {
		if _, err := t.events.Append("file.write", map[string]any{
			"path":         rel,
			"content_hash": contentHash([]byte(content)),
			"size_bytes":   len(content),
		}, domevent.SourceAgent); err != nil {
			return &domaintool.Result{Success: false, Error: err.Error()}, nil
		}
	}

	return &domaintool.Result{
		Success: true,
		Output:  fmt.Sprintf("wrote %s (%d bytes)", rel, len(content)),
		Metadata: map[string]any{
			"path":          rel,
			"bytes_written": len(content),
		},
	}, nil
}

// editChange is one entry in edit_file's response, mirroring tools.py's
// per-edit change record.
type editChange struct {
	OldText     string `json:"old_text"`
	NewText     string `json:"new_text,omitempty"`
	Occurrences int    `json:"occurrences,omitempty"`
	Status      string `json:"status"`
}

func truncatePreview(s string) string {
	if len(s) > 50 {
		return s[:50] + "..."
	}
	return s
}

// EditFileTool implements edit_file: replace-all-occurrences text matching
// with an optional dry_run, matching tools.py's edit_file exactly.
type EditFileTool struct {
	root    string
	history *filehistory.History
	events  EventAppender
	logger  *zap.Logger
}

// NewEditFileTool wires edit_file to the workspace, history, and event log.
func NewEditFileTool(workspaceRoot string, history *filehistory.History, events EventAppender, logger *zap.Logger) *EditFileTool {
	return &EditFileTool{root: workspaceRoot, history: history, events: events, logger: logger}
}

func (t *EditFileTool) Name() string         { return "edit_file" }
func (t *EditFileTool) Kind() domaintool.Kind { return domaintool.KindEdit }
func (t *EditFileTool) Description() string {
	return "Replace exact text matches in a file. Returns a per-edit change summary."
}

func (t *EditFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Path to the file to edit"},
			"edits": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"old_text": map[string]any{"type": "string"},
						"new_text": map[string]any{"type": "string"},
					},
					"required": []string{"old_text", "new_text"},
				},
			},
			"dry_run": map[string]any{"type": "boolean", "default": false},
		},
		"required": []string{"path", "edits"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]any) (*domaintool.Result, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return &domaintool.Result{Success: false, Error: "path is required"}, nil
	}
	rawEdits, _ := args["edits"].([]any)
	dryRun, _ := args["dry_run"].(bool)

	abs := resolvePath(t.root, path)
	raw, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return &domaintool.Result{Success: false, Error: fmt.Sprintf("not found: %s", path)}, nil
		}
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}

	original := string(raw)
	content := original
	var changes []editChange

	for _, e := range rawEdits {
		edit, _ := e.(map[string]any)
		oldText, _ := edit["old_text"].(string)
		newText, _ := edit["new_text"].(string)

		if !strings.Contains(content, oldText) {
			changes = append(changes, editChange{OldText: truncatePreview(oldText), Status: "not_found"})
			continue
		}

		count := strings.Count(content, oldText)
		content = strings.ReplaceAll(content, oldText, newText)
		changes = append(changes, editChange{
			OldText:     truncatePreview(oldText),
			NewText:     truncatePreview(newText),
			Occurrences: count,
			Status:      "replaced",
		})
	}

	modified := content != original
	if dryRun {
		return &domaintool.Result{
			Success: true,
			Output:  fmt.Sprintf("dry run: %d edit(s) would modify=%v", len(changes), modified),
			Metadata: map[string]any{"changes": changes, "would_modify": modified},
		}, nil
	}

	if modified {
		if t.history != nil {
			if err := t.history.SaveState(abs); err != nil {
				return &domaintool.Result{Success: false, Error: err.Error()}, nil
			}
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			return &domaintool.Result{Success: false, Error: err.Error()}, nil
		}
		if t.events != nil {
			rel := displayPath(t.root, abs)
			if _, err := t.events.Append("file.write", map[string]any{
				"path":         rel,
				"content_hash": contentHash([]byte(content)),
				"size_bytes":   len(content),
			}, domevent.SourceAgent); err != nil {
				return &domaintool.Result{Success: false, Error: err.Error()}, nil
			}
		}
	}

	return &domaintool.Result{
		Success:  true,
		Output:   fmt.Sprintf("%d edit(s) applied, modified=%v", len(changes), modified),
		Metadata: map[string]any{"changes": changes, "modified": modified},
	}, nil
}
