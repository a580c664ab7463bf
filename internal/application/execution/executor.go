// Package execution adapts agentloop.Loop to the orchestrator's narrow
// Executor interface, and carries an optional live frame sink through
// context so a caller watching over a websocket sees the same thinking/
// text/tool_use/tool_result frames the loop emits internally, without the
// orchestrator itself needing to know streaming exists.
package execution

import (
	"context"
	"fmt"

	"github.com/choiros/supervisor/internal/application/agentloop"
	domaintool "github.com/choiros/supervisor/internal/domain/tool"
	"github.com/choiros/supervisor/internal/domain/sandboxdomain"
	gitops "github.com/choiros/supervisor/internal/infrastructure/git"
	"github.com/choiros/supervisor/internal/infrastructure/filehistory"
	"github.com/choiros/supervisor/internal/infrastructure/llm"
	domtool "github.com/choiros/supervisor/internal/infrastructure/tool"
	"go.uber.org/zap"
)

type frameSinkKey struct{}

// WithFrameSink attaches a channel the LoopExecutor forwards every frame to
// as it runs. A full channel drops frames rather than blocking the loop —
// a disconnected or slow websocket client must never stall a run.
func WithFrameSink(ctx context.Context, sink chan<- agentloop.Frame) context.Context {
	return context.WithValue(ctx, frameSinkKey{}, sink)
}

func frameSinkFromContext(ctx context.Context) (chan<- agentloop.Frame, bool) {
	sink, ok := ctx.Value(frameSinkKey{}).(chan<- agentloop.Frame)
	return sink, ok
}

// ToolExecutorFactory builds the tool executor for one run, bound to the
// sandbox handle the orchestrator provisioned for it. The fixed six-tool
// surface (read_file, write_file, edit_file, bash, git_checkpoint,
// git_status) is handle-bound — bash runs inside the sandbox process, the
// file tools resolve paths under the sandbox's workspace root — so it
// cannot be built once at startup the way the LLM provider can.
type ToolExecutorFactory func(handle sandboxdomain.Handle) (*domtool.Executor, error)

// HandleToolExecutorDeps bundles every collaborator the fixed tool surface
// needs that does NOT vary per run; only the sandbox handle does. Grounded
// on infrastructure/tool.BuiltinDeps, which this factory fills in per call.
type HandleToolExecutorDeps struct {
	Runner       sandboxdomain.Runner
	History      *filehistory.History
	Events       domtool.EventAppender
	BashLogDir   string
	GitOps       *gitops.Ops
	EventSeqs    domtool.EventSeqSource
	IgnoreLoader domtool.IgnoreLoader
	Policy       *domaintool.Policy
	Logger       *zap.Logger
}

// NewHandleToolExecutor returns a ToolExecutorFactory that builds a fresh
// registry and policy-enforcing executor for each handle it's given.
func NewHandleToolExecutor(deps HandleToolExecutorDeps) ToolExecutorFactory {
	policy := deps.Policy
	if policy == nil {
		policy = &domaintool.Policy{}
	}
	return func(handle sandboxdomain.Handle) (*domtool.Executor, error) {
		registry := domaintool.NewInMemoryRegistry()
		err := domtool.RegisterBuiltinTools(registry, domtool.BuiltinDeps{
			WorkspaceRoot: handle.Config.WorkspaceRoot,
			History:       deps.History,
			Events:        deps.Events,
			Runner:        deps.Runner,
			SandboxHandle: handle,
			BashLogDir:    deps.BashLogDir,
			GitOps:        deps.GitOps,
			EventSeqs:     deps.EventSeqs,
			IgnoreLoader:  deps.IgnoreLoader,
			Logger:        deps.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build run tool registry: %w", err)
		}
		return domtool.NewExecutor(registry, policy, deps.Logger), nil
	}
}

// LoopExecutor drives one agentloop.Loop run per orchestrator.Executor
// call. The LLM provider and event log are fixed across every run; the
// tool executor is rebuilt per call from the sandbox handle via
// toolExec, since the tool surface is handle-bound.
type LoopExecutor struct {
	provider llm.Provider
	toolExec ToolExecutorFactory
	events   agentloop.EventAppender
	cfg      agentloop.Config
}

// NewLoopExecutor builds an orchestrator.Executor that drives provider
// through a per-run tool executor built by toolExec.
func NewLoopExecutor(provider llm.Provider, toolExec ToolExecutorFactory, events agentloop.EventAppender, cfg agentloop.Config) *LoopExecutor {
	return &LoopExecutor{provider: provider, toolExec: toolExec, events: events, cfg: cfg}
}

// Execute satisfies orchestrator.Executor.
func (e *LoopExecutor) Execute(ctx context.Context, runID, prompt string, handle sandboxdomain.Handle) (bool, error) {
	toolExecutor, err := e.toolExec(handle)
	if err != nil {
		return false, err
	}
	loop := agentloop.New(e.provider, toolExecutor, e.events)

	result, frameCh := loop.Run(ctx, e.cfg, prompt)
	sink, hasSink := frameSinkFromContext(ctx)

	for f := range frameCh {
		if !hasSink {
			continue
		}
		select {
		case sink <- f:
		default:
		}
	}

	if result.Err != nil {
		return false, result.Err
	}
	switch result.Reason {
	case agentloop.ReasonEndTurn, agentloop.ReasonNoToolUse:
		return true, nil
	default:
		return false, fmt.Errorf("agent loop terminated: %s", result.Reason)
	}
}
