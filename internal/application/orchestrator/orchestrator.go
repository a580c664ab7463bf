// Package orchestrator implements the Run Orchestrator: the state machine
// binding the agent loop, verifier planner/runner, sandbox lifecycle, and
// git checkpoint/rollback into one run's Execute -> Verify -> Adjudicate
// procedure. Ported step-for-step from
// original_source/supervisor/run_orchestrator.py's run_async, with the
// run/mood domain packages doing the state and policy work that file left
// as loose locals and dict literals.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domevent "github.com/choiros/supervisor/internal/domain/event"
	"github.com/choiros/supervisor/internal/domain/mood"
	"github.com/choiros/supervisor/internal/domain/run"
	"github.com/choiros/supervisor/internal/domain/sandboxdomain"
	"github.com/choiros/supervisor/internal/domain/verification"
	"github.com/choiros/supervisor/internal/domain/workitem"
	gitops "github.com/choiros/supervisor/internal/infrastructure/git"
	"github.com/choiros/supervisor/internal/infrastructure/eventbus"
	"github.com/choiros/supervisor/internal/infrastructure/eventstore"
	"github.com/choiros/supervisor/internal/infrastructure/notify"
	"github.com/choiros/supervisor/internal/infrastructure/verifier"
)

// lastGoodCheckpointKey is the sync_state key holding the repository sha a
// failed run rolls back to. sandboxCheckpointKey is per-user, matching
// db.py's f"sandbox_checkpoint:{user_id}" pattern.
const lastGoodCheckpointKey = "last_good_checkpoint"

func sandboxCheckpointKey(userID string) string {
	return "sandbox_checkpoint:" + userID
}

// Store is the slice of eventstore.Store the orchestrator depends on,
// narrowed so tests can supply a fake instead of a live database.
type Store interface {
	Append(eventType string, payload map[string]any, source domevent.Source) (int64, error)
	GetEventPathsSince(sinceSeq int64) ([]string, error)
	GetLatestSeq() (int64, error)
	GetWorkItem(id string) (*eventstore.WorkItemModel, error)
	UpdateWorkItemStatus(id, status string) error
	CreateRun(r eventstore.RunModel) error
	UpdateRun(id string, updates map[string]any) error
	GetRun(id string) (*eventstore.RunModel, error)
	RecordCheckpoint(commitSHA, message string, lastEventSeq int64) error
	SetSyncState(key, value string) error
	GetSyncState(key string) (string, bool, error)
}

// CatalogSource serves the latest verifier catalog, satisfied by
// *verifier.CatalogLoader.
type CatalogSource interface {
	Current() verifier.Catalog
}

// IgnoreLoader resolves the current .choirignore rules at checkpoint time.
type IgnoreLoader func() (*gitops.IgnoreSet, error)

// Executor drives one run's agent work against a provisioned sandbox. It
// reports whether the run's work completed successfully; any error is
// recorded as a note.hyperthesis and treated as failure, matching
// run_orchestrator.py's try/except around execute_run.
type Executor interface {
	Execute(ctx context.Context, runID, prompt string, handle sandboxdomain.Handle) (bool, error)
}

// Orchestrator binds the run lifecycle's collaborators together.
type Orchestrator struct {
	store          Store
	executor       Executor
	verifierRunner *verifier.Runner
	catalog        CatalogSource
	sandbox        sandboxdomain.Runner
	git            *gitops.Ops
	notify         notify.Sink
	ignore         IgnoreLoader

	sandboxTemplate   sandboxdomain.Config
	keepSandboxOnExit bool
	logger            *zap.Logger

	bus eventbus.Bus
}

// SetEventBus attaches a bus the orchestrator publishes run-lifecycle
// transitions to (run.status with the run id, new status, and mood). Optional:
// an orchestrator with no bus attached behaves exactly as before, since every
// caller that cares about a run's progress already gets it from GetRun or the
// per-run executor frame stream.
func (o *Orchestrator) SetEventBus(bus eventbus.Bus) {
	o.bus = bus
}

func (o *Orchestrator) publishRunStatus(runID, status string, moodVal mood.Mood) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(context.Background(), eventbus.NewEvent("run.status", map[string]any{
		"run_id": runID,
		"status": status,
		"mood":   string(moodVal),
	}))
}

// New wires an Orchestrator. sandboxTemplate supplies the resource caps and
// network policy every run's sandbox is created with; UserID/WorkspaceID
// are overwritten per run.
func New(
	store Store,
	executor Executor,
	verifierRunner *verifier.Runner,
	catalog CatalogSource,
	sandbox sandboxdomain.Runner,
	git *gitops.Ops,
	notifySink notify.Sink,
	ignore IgnoreLoader,
	sandboxTemplate sandboxdomain.Config,
	keepSandboxOnExit bool,
	logger *zap.Logger,
) *Orchestrator {
	if notifySink == nil {
		notifySink = notify.NoopSink{}
	}
	return &Orchestrator{
		store:             store,
		executor:          executor,
		verifierRunner:    verifierRunner,
		catalog:           catalog,
		sandbox:           sandbox,
		git:               git,
		notify:            notifySink,
		ignore:            ignore,
		sandboxTemplate:   sandboxTemplate,
		keepSandboxOnExit: keepSandboxOnExit,
		logger:            logger,
	}
}

// Run executes the full Execute -> Verify -> Adjudicate procedure for one
// work item and returns the run's final durable record.
func (o *Orchestrator) Run(ctx context.Context, workItemID string, moodSeed mood.Mood) (*eventstore.RunModel, error) {
	workItemRow, err := o.store.GetWorkItem(workItemID)
	if err != nil {
		return nil, fmt.Errorf("load work item: %w", err)
	}
	userID := workItemRow.UserID
	runID := uuid.NewString()
	now := time.Now().UTC()

	if err := o.store.CreateRun(eventstore.RunModel{
		ID:         runID,
		WorkItemID: workItemID,
		UserID:     userID,
		Status:     string(run.StatusRunning),
		Mood:       string(moodSeed),
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	if err := o.store.UpdateWorkItemStatus(workItemID, string(workitem.StatusRunning)); err != nil && o.logger != nil {
		o.logger.Warn("mark work item running failed", zap.Error(err))
	}
	o.publishRunStatus(runID, string(run.StatusRunning), moodSeed)

	// Step 1: note.status{stage:execute}. CreateRun already set
	// status=running.
	if err := o.addNote(runID, "note.status", map[string]any{"stage": "execute", "status": "running", "mood": string(moodSeed)}); err != nil {
		return nil, fmt.Errorf("record run start: %w", err)
	}

	// Step 2: ensure a last_good_checkpoint exists.
	if err := o.ensureLastGoodCheckpoint(); err != nil && o.logger != nil {
		o.logger.Warn("ensure last good checkpoint failed", zap.Error(err))
	}

	// Step 3: provision the sandbox, restoring a prior checkpoint if one
	// is recorded for this user.
	handle, restoreResult := o.createSandbox(ctx, userID, runID)
	if handle != nil {
		o.bestEffortNote(runID, "note.observation", map[string]any{"event": "sandbox.create", "sandbox_id": handle.SandboxID})
		if restoreResult != nil {
			o.bestEffortNote(runID, "note.observation", map[string]any{"event": "sandbox.restore", "result": restoreResult})
		}
	} else if restoreResult != nil {
		o.bestEffortNote(runID, "note.observation", map[string]any{"event": "sandbox.create", "result": restoreResult})
	}
	defer o.destroySandbox(ctx, handle)

	var sandboxHandle sandboxdomain.Handle
	if handle != nil {
		sandboxHandle = *handle
	}

	// Step 4: capture start_seq strictly before the executor runs.
	startSeq, err := o.store.GetLatestSeq()
	if err != nil {
		return nil, fmt.Errorf("get latest seq: %w", err)
	}

	// The state machine tracks the run's lifecycle in-process so later
	// transitions are validated against the adjacency table; CreateRun
	// already persisted status=running, this mirrors it.
	machine := run.New(runID, startSeq, moodSeed, o.logger)
	if err := machine.Transition(run.StatusRunning); err != nil {
		return nil, fmt.Errorf("enter running: %w", err)
	}

	// Step 5: invoke the executor.
	success, execErr := o.runExecutor(ctx, runID, workItemRow.Prompt, sandboxHandle)
	if execErr != nil {
		success = false
		o.bestEffortNote(runID, "note.hyperthesis", map[string]any{"error": execErr.Error(), "bound": "re-run with isolated executor"})
	}

	// Step 6: touched paths strictly after start_seq.
	touchedPaths, err := o.store.GetEventPathsSince(startSeq)
	if err != nil {
		return nil, fmt.Errorf("get touched paths since run start: %w", err)
	}

	// Step 7: work item's required verifiers and risk tier.
	var requiredVerifiers []string
	if workItemRow.RequiredVerifiers != "" {
		_ = json.Unmarshal([]byte(workItemRow.RequiredVerifiers), &requiredVerifiers)
	}
	riskTier := workitem.RiskTier(workItemRow.RiskTier)

	// Step 8: select the verifier plan.
	catalog := o.catalog.Current()
	plan, err := verifier.Select(catalog, touchedPaths, moodSeed, riskTier, requiredVerifiers)
	if err != nil {
		return nil, fmt.Errorf("select verifier plan: %w", err)
	}

	// Step 9: executor failure skips verification entirely.
	if !success {
		if err := machine.Transition(run.StatusFailed); err != nil {
			return nil, fmt.Errorf("transition to failed: %w", err)
		}
		if err := o.store.UpdateRun(runID, map[string]any{
			"status":           string(run.StatusFailed),
			"mood":             string(mood.Skeptical),
			"verifier_plan_id": plan.PlanID,
		}); err != nil {
			return nil, fmt.Errorf("update run failed status: %w", err)
		}
		if err := o.addNote(runID, "note.status", map[string]any{"stage": "verify", "status": "failed", "mood": string(mood.Skeptical)}); err != nil && o.logger != nil {
			o.logger.Warn("record failed-before-verify note failed", zap.Error(err))
		}
		o.publishRunStatus(runID, string(run.StatusFailed), mood.Skeptical)
		o.rollback(ctx, runID, workItemID, userID, handle)
		return o.store.GetRun(runID)
	}

	// Step 10: run every selected verifier.
	if err := machine.Transition(run.StatusVerifying); err != nil {
		return nil, fmt.Errorf("transition to verifying: %w", err)
	}
	if err := o.addNote(runID, "note.status", map[string]any{"stage": "verify", "status": "verifying", "mood": string(moodSeed)}); err != nil && o.logger != nil {
		o.logger.Warn("record verifying note failed", zap.Error(err))
	}

	specs := verifier.BuildSpecs(catalog, plan)
	results, attestations, runAllErr := o.verifierRunner.RunAll(ctx, sandboxHandle, specs, plan.InputsHash)
	if runAllErr != nil {
		o.bestEffortNote(runID, "note.hyperthesis", map[string]any{"error": runAllErr.Error(), "bound": "verifier execution aborted mid-plan"})
	}
	for i, result := range results {
		attMap := toMap(attestations[i])
		if _, appendErr := o.store.Append("receipt.verifier.attestations", map[string]any{"run_id": runID, "attestation": attMap}, domevent.SourceSystem); appendErr != nil && o.logger != nil {
			o.logger.Warn("append verifier attestation event failed", zap.String("verifier_id", result.VerifierID), zap.Error(appendErr))
		}
	}

	allPassed := runAllErr == nil && len(results) == len(specs) && verification.AllPassed(results)

	// Step 11/12: adjudicate.
	finalStatus := run.StatusFailed
	if allPassed {
		finalStatus = run.StatusVerified
	}
	if err := machine.Transition(finalStatus); err != nil {
		return nil, fmt.Errorf("transition to %s: %w", finalStatus, err)
	}

	endSeq, err := o.store.GetLatestSeq()
	if err != nil {
		return nil, fmt.Errorf("get end seq: %w", err)
	}
	updates := map[string]any{
		"status":           string(finalStatus),
		"mood":             string(mood.Skeptical),
		"verifier_plan_id": plan.PlanID,
		"ended_seq":        endSeq,
	}
	if handle != nil {
		updates["sandbox_id"] = handle.SandboxID
	}
	if err := o.store.UpdateRun(runID, updates); err != nil {
		return nil, fmt.Errorf("update run adjudicated status: %w", err)
	}
	if err := o.addNote(runID, "note.status", map[string]any{"stage": "adjudicate", "status": string(finalStatus), "mood": string(mood.Skeptical)}); err != nil {
		return nil, fmt.Errorf("record adjudication note: %w", err)
	}
	o.publishRunStatus(runID, string(finalStatus), mood.Skeptical)

	if allPassed {
		o.onVerified(ctx, runID, workItemID, userID, startSeq, plan, attestations, handle)
	} else {
		o.rollback(ctx, runID, workItemID, userID, handle)
	}

	return o.store.GetRun(runID)
}

// runExecutor invokes the executor, converting a panic into an error the
// same way a Python exception would unwind out of execute_run.
func (o *Orchestrator) runExecutor(ctx context.Context, runID, prompt string, handle sandboxdomain.Handle) (success bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			success = false
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return o.executor.Execute(ctx, runID, prompt, handle)
}

// onVerified performs step 11: repository checkpoint, sandbox checkpoint,
// commit request, work item resolution.
func (o *Orchestrator) onVerified(ctx context.Context, runID, workItemID, userID string, startSeq int64, plan verifier.Plan, attestations []verification.Attestation, handle *sandboxdomain.Handle) {
	var ignoreSet *gitops.IgnoreSet
	if o.ignore != nil {
		set, err := o.ignore()
		if err != nil && o.logger != nil {
			o.logger.Warn("load ignore set for checkpoint failed", zap.Error(err))
		}
		ignoreSet = set
	}

	checkpointResult := o.git.Checkpoint(fmt.Sprintf("verified checkpoint: run %s", runID), startSeq, ignoreSet)
	o.bestEffortNote(runID, "note.observation", map[string]any{"event": "checkpoint", "result": toMap(checkpointResult)})
	if checkpointResult.Success && checkpointResult.CommitSHA != "" {
		if err := o.store.SetSyncState(lastGoodCheckpointKey, checkpointResult.CommitSHA); err != nil && o.logger != nil {
			o.logger.Warn("set last good checkpoint failed", zap.Error(err))
		}
		if err := o.store.RecordCheckpoint(checkpointResult.CommitSHA, checkpointResult.Message, startSeq); err != nil && o.logger != nil {
			o.logger.Warn("record checkpoint failed", zap.Error(err))
		}
	}

	if handle != nil {
		cp, err := o.sandbox.Checkpoint(ctx, *handle)
		if err != nil {
			o.bestEffortNote(runID, "note.observation", map[string]any{"event": "sandbox.checkpoint", "error": err.Error()})
		} else {
			if err := o.store.SetSyncState(sandboxCheckpointKey(userID), cp.CheckpointID); err != nil && o.logger != nil {
				o.logger.Warn("set last sandbox checkpoint failed", zap.Error(err))
			}
			o.bestEffortNote(runID, "note.observation", map[string]any{"event": "sandbox.checkpoint", "result": map[string]any{"checkpoint_id": cp.CheckpointID}})
		}
	}

	commitPayload := map[string]any{
		"verifier_plan":    toMap(plan),
		"verifier_results": attestationsToMaps(attestations),
		"status":           "ready_for_review",
	}
	eventPayload := map[string]any{"run_id": runID}
	for k, v := range commitPayload {
		eventPayload[k] = v
	}
	if _, err := o.store.Append("note.request.verify", eventPayload, domevent.SourceSystem); err != nil && o.logger != nil {
		o.logger.Warn("append commit request event failed", zap.Error(err))
	}

	if err := o.store.UpdateWorkItemStatus(workItemID, string(workitem.StatusResolved)); err != nil && o.logger != nil {
		o.logger.Warn("mark work item resolved failed", zap.Error(err))
	}
}

// rollback performs step 12: revert the repository to last_good_checkpoint,
// restore the sandbox to its last checkpoint, notify, and mark the work
// item failed.
func (o *Orchestrator) rollback(ctx context.Context, runID, workItemID, userID string, handle *sandboxdomain.Handle) {
	lastGood, ok, err := o.store.GetSyncState(lastGoodCheckpointKey)
	var revertResult gitops.RevertResult
	if err != nil || !ok || lastGood == "" {
		if o.logger != nil {
			o.logger.Warn("no last good checkpoint recorded, skipping repository rollback", zap.String("run_id", runID))
		}
	} else {
		revertResult = o.git.Revert(lastGood)
		o.bestEffortNote(runID, "note.observation", map[string]any{"event": "rollback", "last_good": lastGood, "result": toMap(revertResult)})
	}

	if handle != nil {
		lastSandboxCP, ok, _ := o.store.GetSyncState(sandboxCheckpointKey(userID))
		if ok && lastSandboxCP != "" {
			restoreErr := o.sandbox.Restore(ctx, *handle, sandboxdomain.Checkpoint{CheckpointID: lastSandboxCP})
			if restoreErr != nil {
				o.bestEffortNote(runID, "note.observation", map[string]any{"event": "sandbox.restore", "result": map[string]any{"success": false, "error": restoreErr.Error()}})
			} else {
				o.bestEffortNote(runID, "note.observation", map[string]any{"event": "sandbox.restore", "result": map[string]any{"success": true, "checkpoint_id": lastSandboxCP}})
			}
		}
	}

	o.notifyRollback(ctx, runID, revertResult)
	o.publishRunStatus(runID, "rolled_back", mood.Skeptical)

	if err := o.store.UpdateWorkItemStatus(workItemID, string(workitem.StatusFailed)); err != nil && o.logger != nil {
		o.logger.Warn("mark work item failed failed", zap.Error(err))
	}
}

func (o *Orchestrator) notifyRollback(ctx context.Context, runID string, result gitops.RevertResult) {
	err := o.notify.Notify(ctx, notify.Event{
		Title: "Run rolled back",
		Body:  fmt.Sprintf("run %s failed verification; reverted to last good checkpoint", runID),
		Fields: map[string]string{
			"run_id":     runID,
			"backup_ref": result.BackupRef,
			"reset_to":   result.ResetToSHA,
		},
		Urgent: true,
	})
	if err != nil && o.logger != nil {
		o.logger.Warn("rollback notification failed", zap.String("run_id", runID), zap.Error(err))
	}
}

// ensureLastGoodCheckpoint snapshots the current HEAD as last_good the
// first time a run looks for it, matching
// run_orchestrator.py's _ensure_last_good_checkpoint.
func (o *Orchestrator) ensureLastGoodCheckpoint() error {
	_, ok, err := o.store.GetSyncState(lastGoodCheckpointKey)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	head := o.git.HeadSHA()
	if head == "" {
		return nil
	}
	return o.store.SetSyncState(lastGoodCheckpointKey, head)
}

// createSandbox provisions a sandbox for userID/runID and, if a sandbox
// checkpoint is recorded for this user, attempts to restore it. Both legs
// are defensive: a failure returns a nil handle or a result map describing
// the failure rather than propagating an error, matching
// run_orchestrator.py's _create_sandbox.
func (o *Orchestrator) createSandbox(ctx context.Context, userID, runID string) (*sandboxdomain.Handle, map[string]any) {
	cfg := o.sandboxTemplate
	cfg.UserID = userID
	cfg.WorkspaceID = runID

	handle, err := o.sandbox.Create(ctx, cfg)
	if err != nil {
		return nil, map[string]any{"success": false, "error": err.Error()}
	}

	checkpointID, ok, err := o.store.GetSyncState(sandboxCheckpointKey(userID))
	if err != nil || !ok || checkpointID == "" {
		return &handle, nil
	}

	if err := o.sandbox.Restore(ctx, handle, sandboxdomain.Checkpoint{CheckpointID: checkpointID}); err != nil {
		return &handle, map[string]any{"success": false, "error": err.Error(), "checkpoint_id": checkpointID}
	}
	return &handle, map[string]any{"success": true, "checkpoint_id": checkpointID}
}

// destroySandbox releases the sandbox unless KeepOnExit is set, always
// running (via defer at the call site) regardless of which exit path the
// run took.
func (o *Orchestrator) destroySandbox(ctx context.Context, handle *sandboxdomain.Handle) {
	if handle == nil || o.keepSandboxOnExit {
		return
	}
	if err := o.sandbox.Destroy(ctx, *handle); err != nil && o.logger != nil {
		o.logger.Warn("sandbox destroy failed", zap.String("sandbox_id", handle.SandboxID), zap.Error(err))
	}
}

// addNote appends noteType as an event; the materializer is the sole writer
// of run_notes, projecting it there keyed by the seq the event was assigned.
func (o *Orchestrator) addNote(runID, noteType string, body map[string]any) error {
	payload := make(map[string]any, len(body)+1)
	for k, v := range body {
		payload[k] = v
	}
	payload["run_id"] = runID

	if _, err := o.store.Append(noteType, payload, domevent.SourceSystem); err != nil {
		return fmt.Errorf("append %s event: %w", noteType, err)
	}
	return nil
}

// bestEffortNote records an observational note, logging but not
// propagating a failure — these notes narrate steps that are themselves
// already best-effort (sandbox restore, rollback, checkpoint).
func (o *Orchestrator) bestEffortNote(runID, noteType string, body map[string]any) {
	if err := o.addNote(runID, noteType, body); err != nil && o.logger != nil {
		o.logger.Warn("failed to record note", zap.String("run_id", runID), zap.String("note_type", noteType), zap.Error(err))
	}
}

// toMap round-trips v through JSON into a plain map, so structured results
// (CheckpointResult, RevertResult, Attestation, Plan) can be embedded in a
// note body or event payload without hand-written field mapping.
func toMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"marshal_error": err.Error()}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"unmarshal_error": err.Error()}
	}
	return m
}

func attestationsToMaps(attestations []verification.Attestation) []map[string]any {
	out := make([]map[string]any, 0, len(attestations))
	for _, a := range attestations {
		out = append(out, toMap(a))
	}
	return out
}
