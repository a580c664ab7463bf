package tool

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domevent "github.com/choiros/supervisor/internal/domain/event"
	sandboxdomain "github.com/choiros/supervisor/internal/domain/sandboxdomain"
	domaintool "github.com/choiros/supervisor/internal/domain/tool"
	"github.com/choiros/supervisor/internal/infrastructure/filehistory"
	gitops "github.com/choiros/supervisor/internal/infrastructure/git"
	"github.com/choiros/supervisor/internal/infrastructure/sandbox"
)

func runGit(dir string, args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	return cmd.Run()
}

type fakeAppender struct {
	events []map[string]any
}

func (f *fakeAppender) Append(eventType string, payload map[string]any, source domevent.Source) (int64, error) {
	evt := map[string]any{"type": eventType, "source": source}
	for k, v := range payload {
		evt[k] = v
	}
	f.events = append(f.events, evt)
	return int64(len(f.events)), nil
}

func testLogger() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}

func TestReadFileToolHeadTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\nfour"), 0o644))

	tool := NewReadFileTool(dir, testLogger())
	res, err := tool.Execute(context.Background(), map[string]any{"path": "a.txt", "head": float64(2)})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "one\ntwo", res.Output)
}

func TestReadFileToolNotFound(t *testing.T) {
	dir := t.TempDir()
	tool := NewReadFileTool(dir, testLogger())
	res, err := tool.Execute(context.Background(), map[string]any{"path": "missing.txt"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestWriteFileToolCreatesAndEmitsEvent(t *testing.T) {
	dir := t.TempDir()
	history := filehistory.New()
	appender := &fakeAppender{}
	tool := NewWriteFileTool(dir, history, appender, testLogger())

	res, err := tool.Execute(context.Background(), map[string]any{"path": "sub/a.txt", "content": "hello"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	got, err := os.ReadFile(filepath.Join(dir, "sub/a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.Len(t, appender.events, 1)
	assert.Equal(t, "file.write", appender.events[0]["type"])
}

func TestEditFileToolReplacesAndReportsNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo bar foo"), 0o644))

	history := filehistory.New()
	appender := &fakeAppender{}
	tool := NewEditFileTool(dir, history, appender, testLogger())

	res, err := tool.Execute(context.Background(), map[string]any{
		"path": "a.txt",
		"edits": []any{
			map[string]any{"old_text": "foo", "new_text": "baz"},
			map[string]any{"old_text": "nope", "new_text": "x"},
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "baz bar baz", string(got))
	assert.Len(t, appender.events, 1)
}

func TestEditFileToolDryRunDoesNotWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo"), 0o644))

	tool := NewEditFileTool(dir, filehistory.New(), &fakeAppender{}, testLogger())
	res, err := tool.Execute(context.Background(), map[string]any{
		"path":    "a.txt",
		"edits":   []any{map[string]any{"old_text": "foo", "new_text": "bar"}},
		"dry_run": true,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "foo", string(got))
}

func TestBashToolExecutesAndWritesLogFile(t *testing.T) {
	dir := t.TempDir()
	runner, err := sandbox.NewProcessRunner(t.TempDir(), testLogger())
	require.NoError(t, err)
	ctx := context.Background()
	handle, err := runner.Create(ctx, sandboxdomain.Config{
		UserID:        "u1",
		WorkspaceID:   "w1",
		WorkspaceRoot: dir,
	})
	require.NoError(t, err)
	defer runner.Destroy(ctx, handle)

	tool := NewBashTool(runner, handle, t.TempDir(), testLogger())
	res, err := tool.Execute(ctx, map[string]any{"command": "echo hi"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Output, "hi")
	assert.NotEmpty(t, res.Metadata["output_file"])
}

func TestGitCheckpointToolSkipsWhenAllIgnored(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, runGit(dir, "init"))
	require.NoError(t, runGit(dir, "config", "user.email", "a@b.c"))
	require.NoError(t, runGit(dir, "config", "user.name", "tester"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed.txt"), []byte("seed"), 0o644))
	require.NoError(t, runGit(dir, "add", "-A"))
	require.NoError(t, runGit(dir, "commit", "-m", "seed"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.log"), []byte("x"), 0o644))
	ops := gitops.New(dir, testLogger())
	ignoreSet := gitops.NewIgnoreSet([]string{"*.log"})

	gt := NewGitCheckpointTool(ops, nil, func() (*gitops.IgnoreSet, error) { return ignoreSet, nil })
	res, err := gt.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestGitStatusTool(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, runGit(dir, "init"))
	require.NoError(t, runGit(dir, "config", "user.email", "a@b.c"))
	require.NoError(t, runGit(dir, "config", "user.name", "tester"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed.txt"), []byte("seed"), 0o644))
	require.NoError(t, runGit(dir, "add", "-A"))
	require.NoError(t, runGit(dir, "commit", "-m", "seed"))

	ops := gitops.New(dir, testLogger())
	st := NewGitStatusTool(ops)
	res, err := st.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestExecutorDeniesDisallowedTool(t *testing.T) {
	registry := domaintool.NewInMemoryRegistry()
	require.NoError(t, registry.Register(NewReadFileTool(t.TempDir(), testLogger())))
	policy := &domaintool.Policy{DenyList: []string{"read_file"}}
	exec := NewExecutor(registry, policy, testLogger())

	res, err := exec.Execute(context.Background(), Call{ID: "1", Name: "read_file", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Error(t, res.Error)
}

func TestExecutorRunsAllowedTool(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0o644))
	registry := domaintool.NewInMemoryRegistry()
	require.NoError(t, registry.Register(NewReadFileTool(dir, testLogger())))
	policy := &domaintool.Policy{}
	exec := NewExecutor(registry, policy, testLogger())

	res, err := exec.Execute(context.Background(), Call{ID: "1", Name: "read_file", Arguments: map[string]any{"path": "a.txt"}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "hi", res.Output)
}
