package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domaintool "github.com/choiros/supervisor/internal/domain/tool"
	"github.com/choiros/supervisor/internal/domain/sandboxdomain"
)

const (
	defaultBashTimeoutSeconds = 300
	bashPreviewChars          = 500
)

// BashTool implements bash: runs a shell command inside the sandbox,
// streaming combined stdout/stderr to a per-command log file and returning
// only a bounded preview, matching tools.py's bash().
type BashTool struct {
	runner sandboxdomain.Runner
	handle sandboxdomain.Handle
	logDir string
	logger *zap.Logger
}

// NewBashTool wires bash to the sandbox handle it executes inside, logging
// full output under logDir.
func NewBashTool(runner sandboxdomain.Runner, handle sandboxdomain.Handle, logDir string, logger *zap.Logger) *BashTool {
	return &BashTool{runner: runner, handle: handle, logDir: logDir, logger: logger}
}

func (t *BashTool) Name() string         { return "bash" }
func (t *BashTool) Kind() domaintool.Kind { return domaintool.KindExecute }
func (t *BashTool) Description() string {
	return "Execute a shell command. Output is streamed to a log file; only a preview is returned."
}

func (t *BashTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string", "description": "Shell command to execute"},
			"timeout": map[string]any{"type": "integer", "description": "Timeout in seconds (default 300)"},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) Execute(ctx context.Context, args map[string]any) (*domaintool.Result, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return &domaintool.Result{Success: false, Error: "command is required"}, nil
	}

	timeout := defaultBashTimeoutSeconds
	if v, ok := intArg(args, "timeout"); ok && v > 0 {
		timeout = v
	}

	result, err := t.runner.Exec(ctx, t.handle, sandboxdomain.Command{
		Args:           []string{"sh", "-c", command},
		TimeoutSeconds: timeout,
	})
	if err != nil {
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}

	combined := result.Stdout
	if result.Stderr != "" {
		combined += result.Stderr
	}
	if result.TimedOut {
		combined += "\n[TIMEOUT - process killed]\n"
	}

	if err := os.MkdirAll(t.logDir, 0o755); err != nil {
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}
	logPath := filepath.Join(t.logDir, fmt.Sprintf("cmd_%s.txt", uuid.NewString()[:8]))
	if err := os.WriteFile(logPath, []byte(combined), 0o644); err != nil {
		t.logger.Warn("failed to write bash output log", zap.Error(err))
	}

	preview := combined
	truncated := false
	if len(preview) > bashPreviewChars {
		preview = preview[:bashPreviewChars]
		truncated = true
	}

	return &domaintool.Result{
		Success: result.ExitCode == 0 && !result.TimedOut,
		Output:  preview,
		Metadata: map[string]any{
			"exit_code":      result.ExitCode,
			"output_file":    logPath,
			"output_preview": preview,
			"truncated":      truncated,
		},
	}, nil
}
