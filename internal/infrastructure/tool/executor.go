package tool

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	domaintool "github.com/choiros/supervisor/internal/domain/tool"
	sandboxdomain "github.com/choiros/supervisor/internal/domain/sandboxdomain"
	"github.com/choiros/supervisor/internal/infrastructure/filehistory"
	gitops "github.com/choiros/supervisor/internal/infrastructure/git"
)

// Call is one model-issued tool invocation, keyed by the provider's call ID
// so results can be matched back up in the conversation.
type Call struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// CallResult pairs a Call's ID back up with its outcome.
type CallResult struct {
	CallID  string
	Output  string
	Success bool
	Error   error
}

// Executor is the policy-enforcing dispatcher the agent loop drives: it
// resolves a tool call against the registry, checks the policy, times and
// logs the call, and normalizes the outcome. Adapted from the teacher's
// internal/infrastructure/tool/executor.go, trimmed to this supervisor's
// fixed six-tool surface (no skill/browser/python subsystems to delegate
// to).
type Executor struct {
	registry domaintool.Registry
	policy   *domaintool.Policy
	logger   *zap.Logger
}

// NewExecutor pairs a registry and policy with the logger it reports
// durations and outcomes to.
func NewExecutor(registry domaintool.Registry, policy *domaintool.Policy, logger *zap.Logger) *Executor {
	return &Executor{registry: registry, policy: policy, logger: logger}
}

// Execute runs one tool call, enforcing policy before dispatch.
func (e *Executor) Execute(ctx context.Context, call Call) (*CallResult, error) {
	start := time.Now()

	if !e.policy.IsAllowed(call.Name) {
		e.logger.Warn("tool execution denied by policy", zap.String("tool", call.Name))
		return &CallResult{
			CallID:  call.ID,
			Output:  fmt.Sprintf("tool %q is not allowed by the current policy", call.Name),
			Success: false,
			Error:   fmt.Errorf("tool not allowed: %s", call.Name),
		}, nil
	}

	t, ok := e.registry.Get(call.Name)
	if !ok {
		e.logger.Warn("tool not found", zap.String("tool", call.Name))
		return &CallResult{
			CallID:  call.ID,
			Output:  fmt.Sprintf("tool %q not found", call.Name),
			Success: false,
			Error:   fmt.Errorf("tool not found: %s", call.Name),
		}, nil
	}

	e.logger.Info("executing tool", zap.String("tool", call.Name), zap.String("call_id", call.ID))

	result, err := t.Execute(ctx, call.Arguments)
	duration := time.Since(start)

	if err != nil {
		e.logger.Error("tool execution error", zap.String("tool", call.Name), zap.Duration("duration", duration), zap.Error(err))
		return &CallResult{CallID: call.ID, Output: err.Error(), Success: false, Error: err}, nil
	}

	e.logger.Info("tool execution completed",
		zap.String("tool", call.Name),
		zap.Duration("duration", duration),
		zap.Bool("success", result.Success),
	)

	var callErr error
	if result.Error != "" {
		callErr = fmt.Errorf("%s", result.Error)
	}
	return &CallResult{
		CallID:  call.ID,
		Output:  result.DisplayOrOutput(),
		Success: result.Success,
		Error:   callErr,
	}, nil
}

// Definitions returns the policy-filtered tool definitions for this turn's
// model request.
func (e *Executor) Definitions() []domaintool.Definition {
	return domaintool.NewPolicyEnforcer(e.policy, e.registry).FilteredList()
}

// BuiltinDeps bundles everything the six builtin tools need to construct
// themselves, so RegisterBuiltinTools has one argument instead of a dozen.
type BuiltinDeps struct {
	WorkspaceRoot string
	History       *filehistory.History
	Events        EventAppender
	Runner        sandboxdomain.Runner
	SandboxHandle sandboxdomain.Handle
	BashLogDir    string
	GitOps        *gitops.Ops
	EventSeqs     EventSeqSource
	IgnoreLoader  IgnoreLoader
	Logger        *zap.Logger
}

// RegisterBuiltinTools wires the fixed six-tool surface into the registry.
func RegisterBuiltinTools(registry domaintool.Registry, deps BuiltinDeps) error {
	builtins := []domaintool.Tool{
		NewReadFileTool(deps.WorkspaceRoot, deps.Logger),
		NewWriteFileTool(deps.WorkspaceRoot, deps.History, deps.Events, deps.Logger),
		NewEditFileTool(deps.WorkspaceRoot, deps.History, deps.Events, deps.Logger),
		NewBashTool(deps.Runner, deps.SandboxHandle, deps.BashLogDir, deps.Logger),
		NewGitCheckpointTool(deps.GitOps, deps.EventSeqs, deps.IgnoreLoader),
		NewGitStatusTool(deps.GitOps),
	}

	for _, t := range builtins {
		if err := registry.Register(t); err != nil {
			return fmt.Errorf("register builtin tool %s: %w", t.Name(), err)
		}
	}
	return nil
}
