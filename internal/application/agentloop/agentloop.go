// Package agentloop drives an LLM against the fixed tool surface for one
// run — "Ralph" in the spec's own naming. Ported from
// original_source/supervisor/agent/ralph.py's RalphLoop: send
// conversation+tools, stream text/tool_use/tool_result frames, feed tool
// results back as the next turn, stop on no-tool-call or stop_reason
// end_turn. The turn budget, tool allowlist (with its submit_result
// exception), and persisted tool.call events are this module's additions
// over the Python original, per §4.8. Event framing and the
// emit-into-a-channel shape follow the teacher's
// internal/domain/service/agent_loop.go; tool calls run one after another
// on the loop's own goroutine. Trimmed of everything this
// supervisor's fixed six-tool surface doesn't need (no context
// compaction, no per-model policy, no loop-detection reflection prompts —
// the turn budget is this system's only loop guard).
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"

	domevent "github.com/choiros/supervisor/internal/domain/event"
	"github.com/choiros/supervisor/internal/infrastructure/llm"
	domtool "github.com/choiros/supervisor/internal/infrastructure/tool"
)

// FrameType labels one event emitted during a run, matching the WS framing
// named in SPEC_FULL.md's domain stack.
type FrameType string

const (
	FrameThinking   FrameType = "thinking"
	FrameText       FrameType = "text"
	FrameToolUse    FrameType = "tool_use"
	FrameToolResult FrameType = "tool_result"
	FrameMessage    FrameType = "message"
	FrameError      FrameType = "error"
	FrameDone       FrameType = "done"
)

// Frame is one event the loop emits as it runs. Type decides which other
// fields are set: Content for thinking/text/message, ToolName/ToolArgs for
// tool_use, ToolName/ToolOutput/ToolOK for tool_result, Err for error.
type Frame struct {
	Type       FrameType
	Content    string
	ToolName   string
	ToolArgs   map[string]any
	ToolOutput string
	ToolOK     bool
	Err        string
}

// TerminalReason explains why the loop stopped.
type TerminalReason string

const (
	ReasonEndTurn           TerminalReason = "end_turn"
	ReasonNoToolUse         TerminalReason = "no_tool_use"
	ReasonTurnBudgetExceeded TerminalReason = "turn_budget_exceeded"
	ReasonLLMError          TerminalReason = "llm_error"
)

// Result is what Run returns once the channel it fed closes.
type Result struct {
	FinalMessage string
	Turns        int
	Reason       TerminalReason
	Err          error
}

// EventAppender is the minimal eventstore.Store surface the loop needs to
// persist tool.call events and turn-budget failures.
type EventAppender interface {
	Append(eventType string, payload map[string]any, source domevent.Source) (int64, error)
}

// submitResultTool is the one tool name allowed through an allowlist even
// when a task restricts the rest of the surface, per §4.8 point 6.
const submitResultTool = "submit_result"

// Config bounds one loop invocation.
type Config struct {
	Model        string
	SystemPrompt string
	MaxTurns     int      // turn budget (e.g. 20); <=0 means default of 20
	AllowedTools []string // empty means "whatever the executor's policy allows"
}

func (c Config) maxTurns() int {
	if c.MaxTurns <= 0 {
		return 20
	}
	return c.MaxTurns
}

func (c Config) toolAllowed(name string) bool {
	if len(c.AllowedTools) == 0 {
		return true
	}
	if name == submitResultTool {
		return true
	}
	for _, allowed := range c.AllowedTools {
		if allowed == name {
			return true
		}
	}
	return false
}

// Loop drives one agent run: LLM <-> tools, turn-bounded.
type Loop struct {
	provider llm.Provider
	executor *domtool.Executor
	events   EventAppender
}

// New wires a Loop to the provider it talks to, the executor it dispatches
// tool calls through, and the event log it persists tool.call events to.
func New(provider llm.Provider, executor *domtool.Executor, events EventAppender) *Loop {
	return &Loop{provider: provider, executor: executor, events: events}
}

// Run drives the loop for one user prompt. It emits frames on the returned
// channel until the run terminates, then closes it; *result is only safe
// to read once the channel is drained and closed (the same contract as the
// teacher's AgentLoop.Run, which fills its result pointer before closing
// its event channel).
func (l *Loop) Run(ctx context.Context, cfg Config, userPrompt string) (*Result, <-chan Frame) {
	frameCh := make(chan Frame, 64)
	result := &Result{}

	go func() {
		defer close(frameCh)
		*result = l.runLoop(ctx, cfg, userPrompt, frameCh)
	}()

	return result, frameCh
}

// RunSync drives the loop to completion, draining the frames into a slice,
// and returns both — convenient for tests and for the orchestrator, which
// needs the Result synchronously.
func (l *Loop) RunSync(ctx context.Context, cfg Config, userPrompt string) (Result, []Frame) {
	result, frameCh := l.Run(ctx, cfg, userPrompt)
	var frames []Frame
	for f := range frameCh {
		frames = append(frames, f)
	}
	return *result, frames
}

func (l *Loop) runLoop(ctx context.Context, cfg Config, userPrompt string, frameCh chan<- Frame) Result {
	emit := func(f Frame) {
		select {
		case frameCh <- f:
		case <-ctx.Done():
		}
	}

	defs := l.executor.Definitions()
	toolDefs := make([]llm.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		if !cfg.toolAllowed(d.Name) {
			continue
		}
		toolDefs = append(toolDefs, llm.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}

	messages := []llm.Message{}
	if cfg.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: cfg.SystemPrompt})
	}
	messages = append(messages, llm.Message{Role: "user", Content: userPrompt})

	emit(Frame{Type: FrameThinking, Content: "processing request"})

	maxTurns := cfg.maxTurns()
	var lastText string

	for turn := 1; turn <= maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return Result{Turns: turn, Reason: ReasonLLMError, Err: err}
		}

		resp, err := l.provider.Generate(ctx, &llm.Request{
			Messages: messages,
			Tools:    toolDefs,
			Model:    cfg.Model,
		})
		if err != nil {
			emit(Frame{Type: FrameError, Err: err.Error()})
			return Result{Turns: turn, Reason: ReasonLLMError, Err: err}
		}

		if resp.Content != "" {
			emit(Frame{Type: FrameText, Content: resp.Content})
			lastText = resp.Content
		}

		if len(resp.ToolCalls) == 0 {
			emit(Frame{Type: FrameMessage, Content: lastText})
			emit(Frame{Type: FrameDone})
			return Result{FinalMessage: lastText, Turns: turn, Reason: ReasonNoToolUse}
		}

		messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		for _, tc := range resp.ToolCalls {
			var args map[string]any
			if tc.Arguments != "" {
				_ = json.Unmarshal([]byte(tc.Arguments), &args)
			}

			emit(Frame{Type: FrameToolUse, ToolName: tc.Name, ToolArgs: args})

			if !cfg.toolAllowed(tc.Name) {
				output := fmt.Sprintf("tool %q is not in this task's allowed-tool set", tc.Name)
				emit(Frame{Type: FrameToolResult, ToolName: tc.Name, ToolOutput: output, ToolOK: false})
				messages = append(messages, llm.Message{Role: "tool", Content: output, ToolCallID: tc.ID, Name: tc.Name})
				continue
			}

			callResult, execErr := l.executor.Execute(ctx, domtool.Call{ID: tc.ID, Name: tc.Name, Arguments: args})
			if execErr != nil {
				callResult = &domtool.CallResult{CallID: tc.ID, Output: execErr.Error(), Success: false, Error: execErr}
			}

			if l.events != nil {
				_, _ = l.events.Append("tool.call", map[string]any{
					"tool":    tc.Name,
					"input":   args,
					"output":  callResult.Output,
					"success": callResult.Success,
				}, domevent.SourceAgent)
			}

			emit(Frame{Type: FrameToolResult, ToolName: tc.Name, ToolOutput: callResult.Output, ToolOK: callResult.Success})
			messages = append(messages, llm.Message{Role: "tool", Content: callResult.Output, ToolCallID: tc.ID, Name: tc.Name})
		}

		if resp.FinishReason == "end_turn" || resp.FinishReason == "stop" {
			emit(Frame{Type: FrameMessage, Content: lastText})
			emit(Frame{Type: FrameDone})
			return Result{FinalMessage: lastText, Turns: turn, Reason: ReasonEndTurn}
		}
	}

	if l.events != nil {
		_, _ = l.events.Append("note.status", map[string]any{
			"stage":  "adjudicate",
			"status": "failed",
			"reason": string(ReasonTurnBudgetExceeded),
		}, domevent.SourceSystem)
	}
	emit(Frame{Type: FrameError, Err: "turn budget exceeded"})
	return Result{Turns: maxTurns, Reason: ReasonTurnBudgetExceeded, Err: fmt.Errorf("turn budget of %d exceeded", maxTurns)}
}
