package execution

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/choiros/supervisor/internal/application/agentloop"
	domevent "github.com/choiros/supervisor/internal/domain/event"
	"github.com/choiros/supervisor/internal/domain/sandboxdomain"
	"github.com/choiros/supervisor/internal/infrastructure/llm"
	"github.com/choiros/supervisor/internal/infrastructure/llm/mock"
)

type noopAppender struct{}

func (noopAppender) Append(eventType string, payload map[string]any, source domevent.Source) (int64, error) {
	return 1, nil
}

func testLogger() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}

func newTestHandle(dir string) sandboxdomain.Handle {
	return sandboxdomain.Handle{Config: sandboxdomain.Config{WorkspaceRoot: dir}}
}

func TestLoopExecutorSucceedsOnNoToolUse(t *testing.T) {
	dir := t.TempDir()
	factory := NewHandleToolExecutor(HandleToolExecutorDeps{Logger: testLogger()})
	provider := mock.New(llm.Response{Content: "done", FinishReason: "end_turn"})
	exec := NewLoopExecutor(provider, factory, noopAppender{}, agentloop.Config{Model: "mock-model"})

	success, err := exec.Execute(context.Background(), "run-1", "do the thing", newTestHandle(dir))
	require.NoError(t, err)
	assert.True(t, success)
}

func TestLoopExecutorFailsOnTurnBudget(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0o644))
	factory := NewHandleToolExecutor(HandleToolExecutorDeps{Logger: testLogger()})
	resp := llm.Response{
		ToolCalls: []llm.ToolCall{{ID: "call1", Name: "read_file", Arguments: `{"path":"a.txt"}`}},
	}
	provider := mock.New(resp)
	exec := NewLoopExecutor(provider, factory, noopAppender{}, agentloop.Config{Model: "mock-model", MaxTurns: 2})

	success, err := exec.Execute(context.Background(), "run-1", "loop forever", newTestHandle(dir))
	assert.False(t, success)
	assert.Error(t, err)
}

func TestLoopExecutorForwardsFramesToSink(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0o644))
	factory := NewHandleToolExecutor(HandleToolExecutorDeps{Logger: testLogger()})
	provider := mock.New(
		llm.Response{
			ToolCalls: []llm.ToolCall{{ID: "call1", Name: "read_file", Arguments: `{"path":"a.txt"}`}},
		},
		llm.Response{Content: "read it", FinishReason: "end_turn"},
	)
	exec := NewLoopExecutor(provider, factory, noopAppender{}, agentloop.Config{Model: "mock-model"})

	sink := make(chan agentloop.Frame, 16)
	ctx := WithFrameSink(context.Background(), sink)

	success, err := exec.Execute(ctx, "run-1", "read the file", newTestHandle(dir))
	require.NoError(t, err)
	assert.True(t, success)
	close(sink)

	var sawToolUse bool
	for f := range sink {
		if f.Type == agentloop.FrameToolUse && f.ToolName == "read_file" {
			sawToolUse = true
		}
	}
	assert.True(t, sawToolUse)
}
