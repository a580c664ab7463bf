package agentloop

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domevent "github.com/choiros/supervisor/internal/domain/event"
	domaintool "github.com/choiros/supervisor/internal/domain/tool"
	"github.com/choiros/supervisor/internal/infrastructure/llm"
	"github.com/choiros/supervisor/internal/infrastructure/llm/mock"
	domtool "github.com/choiros/supervisor/internal/infrastructure/tool"
)

type recordingAppender struct {
	events []string
}

func (r *recordingAppender) Append(eventType string, payload map[string]any, source domevent.Source) (int64, error) {
	r.events = append(r.events, eventType)
	return int64(len(r.events)), nil
}

func testLogger() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}

func newExecutor(t *testing.T) *domtool.Executor {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0o644))
	registry := domaintool.NewInMemoryRegistry()
	require.NoError(t, registry.Register(domtool.NewReadFileTool(dir, testLogger())))
	return domtool.NewExecutor(registry, &domaintool.Policy{}, testLogger())
}

func TestLoopStopsOnNoToolUse(t *testing.T) {
	provider := mock.New(llm.Response{Content: "all done", FinishReason: "end_turn"})
	appender := &recordingAppender{}
	loop := New(provider, newExecutor(t), appender)

	result, frames := loop.RunSync(context.Background(), Config{Model: "mock-model"}, "do the thing")

	assert.Equal(t, ReasonNoToolUse, result.Reason)
	assert.Equal(t, "all done", result.FinalMessage)
	assert.NotEmpty(t, frames)
	assert.Equal(t, FrameDone, frames[len(frames)-1].Type)
}

func TestLoopExecutesToolThenStops(t *testing.T) {
	provider := mock.New(
		llm.Response{
			ToolCalls: []llm.ToolCall{{ID: "call1", Name: "read_file", Arguments: `{"path":"a.txt"}`}},
		},
		llm.Response{Content: "read it", FinishReason: "end_turn"},
	)
	appender := &recordingAppender{}
	loop := New(provider, newExecutor(t), appender)

	result, frames := loop.RunSync(context.Background(), Config{Model: "mock-model"}, "read the file")

	assert.Equal(t, ReasonNoToolUse, result.Reason)
	assert.Contains(t, appender.events, "tool.call")

	var sawToolResult bool
	for _, f := range frames {
		if f.Type == FrameToolResult && f.ToolName == "read_file" {
			sawToolResult = true
			assert.True(t, f.ToolOK)
		}
	}
	assert.True(t, sawToolResult)
}

func TestLoopRejectsDisallowedTool(t *testing.T) {
	provider := mock.New(
		llm.Response{
			ToolCalls: []llm.ToolCall{{ID: "call1", Name: "read_file", Arguments: `{"path":"a.txt"}`}},
		},
		llm.Response{Content: "done", FinishReason: "end_turn"},
	)
	appender := &recordingAppender{}
	loop := New(provider, newExecutor(t), appender)

	result, frames := loop.RunSync(context.Background(), Config{
		Model:        "mock-model",
		AllowedTools: []string{"submit_result"},
	}, "try to read a file")

	assert.Equal(t, ReasonNoToolUse, result.Reason)
	assert.NotContains(t, appender.events, "tool.call")

	var rejected bool
	for _, f := range frames {
		if f.Type == FrameToolResult && !f.ToolOK {
			rejected = true
		}
	}
	assert.True(t, rejected)
}

func TestLoopEnforcesTurnBudget(t *testing.T) {
	resp := llm.Response{
		ToolCalls: []llm.ToolCall{{ID: "call1", Name: "read_file", Arguments: `{"path":"a.txt"}`}},
	}
	// no finish reason and always has tool calls, never terminates on its own
	provider := mock.New(resp)
	appender := &recordingAppender{}
	loop := New(provider, newExecutor(t), appender)

	result, _ := loop.RunSync(context.Background(), Config{Model: "mock-model", MaxTurns: 2}, "loop forever")

	assert.Equal(t, ReasonTurnBudgetExceeded, result.Reason)
	assert.Error(t, result.Err)
	assert.Contains(t, appender.events, "note.status")
}
