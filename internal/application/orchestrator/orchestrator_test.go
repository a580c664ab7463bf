package orchestrator

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domevent "github.com/choiros/supervisor/internal/domain/event"
	"github.com/choiros/supervisor/internal/domain/mood"
	"github.com/choiros/supervisor/internal/domain/sandboxdomain"
	"github.com/choiros/supervisor/internal/domain/workitem"
	gitops "github.com/choiros/supervisor/internal/infrastructure/git"
	"github.com/choiros/supervisor/internal/infrastructure/eventstore"
	"github.com/choiros/supervisor/internal/infrastructure/notify"
	"github.com/choiros/supervisor/internal/infrastructure/verifier"
)

func testLogger() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}

func runGit(dir string, args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	return cmd.Run()
}

func newTestRepo(t *testing.T) (string, *gitops.Ops) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, runGit(dir, "init"))
	require.NoError(t, runGit(dir, "config", "user.email", "test@example.com"))
	require.NoError(t, runGit(dir, "config", "user.name", "test"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("init"), 0o644))
	require.NoError(t, runGit(dir, "add", "."))
	require.NoError(t, runGit(dir, "commit", "-m", "init"))
	return dir, gitops.New(dir, testLogger())
}

type noteRecord struct {
	RunID string
	Type  string
	Body  map[string]any
}

type fakeStore struct {
	seq           int64
	workItems     map[string]*eventstore.WorkItemModel
	runs          map[string]*eventstore.RunModel
	notes         []noteRecord
	verifications int
	commitRequests int
	checkpoints   int
	syncState     map[string]string
	touchedPaths  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workItems: map[string]*eventstore.WorkItemModel{},
		runs:      map[string]*eventstore.RunModel{},
		syncState: map[string]string{},
	}
}

// Append stands in for the real materializer dispatch, just enough for
// orchestrator tests to observe which projections a call path would have
// produced.
func (f *fakeStore) Append(eventType string, payload map[string]any, source domevent.Source) (int64, error) {
	f.seq++
	switch {
	case strings.HasPrefix(eventType, "note."):
		runID, _ := payload["run_id"].(string)
		f.notes = append(f.notes, noteRecord{RunID: runID, Type: eventType, Body: payload})
		if eventType == "note.request.verify" {
			f.commitRequests++
		}
	case eventType == "receipt.verifier.attestations":
		f.verifications++
	}
	return f.seq, nil
}

func (f *fakeStore) GetEventPathsSince(sinceSeq int64) ([]string, error) {
	return f.touchedPaths, nil
}

func (f *fakeStore) GetLatestSeq() (int64, error) { return f.seq, nil }

func (f *fakeStore) GetWorkItem(id string) (*eventstore.WorkItemModel, error) {
	wi, ok := f.workItems[id]
	if !ok {
		return nil, errors.New("work item not found")
	}
	return wi, nil
}

func (f *fakeStore) UpdateWorkItemStatus(id, status string) error {
	wi, ok := f.workItems[id]
	if !ok {
		return errors.New("work item not found")
	}
	wi.Status = status
	return nil
}

func (f *fakeStore) CreateRun(r eventstore.RunModel) error {
	cp := r
	f.runs[r.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateRun(id string, updates map[string]any) error {
	r, ok := f.runs[id]
	if !ok {
		return errors.New("run not found")
	}
	if v, ok := updates["status"].(string); ok {
		r.Status = v
	}
	if v, ok := updates["mood"].(string); ok {
		r.Mood = v
	}
	if v, ok := updates["verifier_plan_id"].(string); ok {
		r.VerifierPlanID = v
	}
	if v, ok := updates["ended_seq"].(int64); ok {
		r.EndedSeq = v
	}
	if v, ok := updates["sandbox_id"].(string); ok {
		r.SandboxID = v
	}
	return nil
}

func (f *fakeStore) GetRun(id string) (*eventstore.RunModel, error) {
	r, ok := f.runs[id]
	if !ok {
		return nil, errors.New("run not found")
	}
	return r, nil
}

func (f *fakeStore) RecordCheckpoint(commitSHA, message string, lastEventSeq int64) error {
	f.checkpoints++
	return nil
}

func (f *fakeStore) SetSyncState(key, value string) error {
	f.syncState[key] = value
	return nil
}

func (f *fakeStore) GetSyncState(key string) (string, bool, error) {
	v, ok := f.syncState[key]
	return v, ok, nil
}

func (f *fakeStore) hasNote(noteType string) bool {
	for _, n := range f.notes {
		if n.Type == noteType {
			return true
		}
	}
	return false
}

type fakeSandbox struct {
	execResult   sandboxdomain.Result
	execErr      error
	destroyCount int
	checkpointID string
	restores     []sandboxdomain.Checkpoint
}

func (f *fakeSandbox) Create(ctx context.Context, cfg sandboxdomain.Config) (sandboxdomain.Handle, error) {
	return sandboxdomain.Handle{SandboxID: "sbx-1", Config: cfg}, nil
}
func (f *fakeSandbox) Destroy(ctx context.Context, handle sandboxdomain.Handle) error {
	f.destroyCount++
	return nil
}
func (f *fakeSandbox) Exec(ctx context.Context, handle sandboxdomain.Handle, cmd sandboxdomain.Command) (sandboxdomain.Result, error) {
	return f.execResult, f.execErr
}
func (f *fakeSandbox) Checkpoint(ctx context.Context, handle sandboxdomain.Handle) (sandboxdomain.Checkpoint, error) {
	return sandboxdomain.Checkpoint{CheckpointID: f.checkpointID}, nil
}
func (f *fakeSandbox) Restore(ctx context.Context, handle sandboxdomain.Handle, cp sandboxdomain.Checkpoint) error {
	f.restores = append(f.restores, cp)
	return nil
}
func (f *fakeSandbox) StartProcess(ctx context.Context, handle sandboxdomain.Handle, cmd sandboxdomain.Command) (sandboxdomain.Process, error) {
	return sandboxdomain.Process{}, nil
}
func (f *fakeSandbox) StopProcess(ctx context.Context, handle sandboxdomain.Handle, proc sandboxdomain.Process) error {
	return nil
}
func (f *fakeSandbox) OpenProxy(ctx context.Context, handle sandboxdomain.Handle, port int) (string, error) {
	return "", nil
}

var _ sandboxdomain.Runner = (*fakeSandbox)(nil)

type fakeExecutor struct {
	success   bool
	err       error
	calls     int
	onExecute func()
}

func (f *fakeExecutor) Execute(ctx context.Context, runID, prompt string, handle sandboxdomain.Handle) (bool, error) {
	f.calls++
	if f.onExecute != nil {
		f.onExecute()
	}
	return f.success, f.err
}

type fakeCatalogSource struct {
	catalog verifier.Catalog
}

func (f fakeCatalogSource) Current() verifier.Catalog { return f.catalog }

type fakeNotifySink struct {
	calls int
}

func (f *fakeNotifySink) Notify(ctx context.Context, event notify.Event) error {
	f.calls++
	return nil
}

func newWorkItem(requiredVerifiers string) *eventstore.WorkItemModel {
	return &eventstore.WorkItemModel{
		ID:                "wi-1",
		UserID:             "user-1",
		Prompt:             "do the thing",
		RiskTier:           string(workitem.RiskLow),
		RequiredVerifiers:  requiredVerifiers,
		Status:             string(workitem.StatusOpen),
	}
}

func newOrchestrator(t *testing.T, store *fakeStore, sandbox *fakeSandbox, executor *fakeExecutor, notifySink notify.Sink, repoDir string, ops *gitops.Ops) *Orchestrator {
	t.Helper()
	artifacts, err := verifier.NewArtifactStore(filepath.Join(repoDir, ".artifacts"))
	require.NoError(t, err)
	verifierRunner := verifier.NewRunner(artifacts, sandbox, 30, testLogger())
	catalog := fakeCatalogSource{catalog: verifier.Catalog{
		Verifiers: []verifier.CatalogEntry{{ID: "smoke", Command: "true"}},
	}}
	ignoreLoader := func() (*gitops.IgnoreSet, error) { return gitops.NewIgnoreSet(nil), nil }

	return New(store, executor, verifierRunner, catalog, sandbox, ops, notifySink, ignoreLoader, sandboxdomain.Config{}, false, testLogger())
}

func TestRunVerifiedCreatesCheckpointAndCommitRequest(t *testing.T) {
	repoDir, ops := newTestRepo(t)
	store := newFakeStore()
	store.workItems["wi-1"] = newWorkItem(`["smoke"]`)

	sandbox := &fakeSandbox{execResult: sandboxdomain.Result{ExitCode: 0}}
	executor := &fakeExecutor{success: true, onExecute: func() {
		require.NoError(t, os.WriteFile(filepath.Join(repoDir, "output.txt"), []byte("hello"), 0o644))
	}}

	orch := newOrchestrator(t, store, sandbox, executor, notify.NoopSink{}, repoDir, ops)

	result, err := orch.Run(context.Background(), "wi-1", mood.Calm)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "verified", result.Status)
	assert.Equal(t, 1, executor.calls)
	assert.Equal(t, 1, sandbox.destroyCount)
	assert.Equal(t, 1, store.commitRequests)
	assert.True(t, store.hasNote("note.status"))

	lastGood, ok, err := store.GetSyncState(lastGoodCheckpointKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ops.HeadSHA(), lastGood)
	assert.Equal(t, string(workitem.StatusResolved), store.workItems["wi-1"].Status)
}

func TestRunFailedVerificationTriggersRollback(t *testing.T) {
	repoDir, ops := newTestRepo(t)
	store := newFakeStore()
	store.workItems["wi-1"] = newWorkItem(`["smoke"]`)

	sandbox := &fakeSandbox{execResult: sandboxdomain.Result{ExitCode: 1}}
	executor := &fakeExecutor{success: true}
	notifySink := &fakeNotifySink{}

	orch := newOrchestrator(t, store, sandbox, executor, notifySink, repoDir, ops)

	result, err := orch.Run(context.Background(), "wi-1", mood.Calm)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, 0, store.commitRequests)
	assert.Equal(t, 1, sandbox.destroyCount)
	assert.Equal(t, 1, notifySink.calls)
	assert.Equal(t, string(workitem.StatusFailed), store.workItems["wi-1"].Status)
	assert.True(t, store.hasNote("note.status"))
	assert.True(t, store.hasNote("note.observation"))
}

func TestRunExecutorFailureSkipsVerification(t *testing.T) {
	repoDir, ops := newTestRepo(t)
	store := newFakeStore()
	store.workItems["wi-1"] = newWorkItem(`["smoke"]`)

	sandbox := &fakeSandbox{execResult: sandboxdomain.Result{ExitCode: 0}}
	executor := &fakeExecutor{success: false, err: errors.New("agent loop crashed")}

	orch := newOrchestrator(t, store, sandbox, executor, notify.NoopSink{}, repoDir, ops)

	result, err := orch.Run(context.Background(), "wi-1", mood.Calm)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, 0, store.verifications)
	assert.Equal(t, 0, store.commitRequests)
	assert.Equal(t, 1, sandbox.destroyCount)
	assert.True(t, store.hasNote("note.hyperthesis"))
}
