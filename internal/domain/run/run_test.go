package run

import (
	"testing"

	"go.uber.org/zap"

	"github.com/choiros/supervisor/internal/domain/mood"
)

func TestValidTransitionSequence(t *testing.T) {
	sm := New("run-1", 0, mood.Calm, zap.NewNop())

	if err := sm.Transition(StatusRunning); err != nil {
		t.Fatalf("created->running: %v", err)
	}
	if err := sm.Transition(StatusVerifying); err != nil {
		t.Fatalf("running->verifying: %v", err)
	}
	if err := sm.Transition(StatusVerified); err != nil {
		t.Fatalf("verifying->verified: %v", err)
	}
	if got := sm.Status(); got != StatusVerified {
		t.Fatalf("status = %s, want verified", got)
	}
	if !sm.Status().IsTerminal() {
		t.Fatal("verified should be terminal")
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	sm := New("run-2", 0, mood.Calm, zap.NewNop())
	if err := sm.Transition(StatusVerified); err == nil {
		t.Fatal("expected error transitioning created->verified directly")
	}
	if got := sm.Status(); got != StatusCreated {
		t.Fatalf("status changed after rejected transition: %s", got)
	}
}

func TestTerminalStateHasNoOutgoing(t *testing.T) {
	sm := New("run-3", 0, mood.Calm, zap.NewNop())
	_ = sm.Transition(StatusRunning)
	_ = sm.Transition(StatusFailed)
	if err := sm.Transition(StatusRunning); err == nil {
		t.Fatal("expected error transitioning out of terminal failed state")
	}
}

func TestListenerInvokedOnTransition(t *testing.T) {
	sm := New("run-4", 0, mood.Calm, zap.NewNop())
	var seen []string
	sm.OnTransition(func(from, to Status, snap Snapshot) {
		seen = append(seen, string(from)+"->"+string(to))
	})
	_ = sm.Transition(StatusRunning)
	_ = sm.Transition(StatusFailed)

	if len(seen) != 2 {
		t.Fatalf("listener fired %d times, want 2", len(seen))
	}
	if seen[0] != "created->running" || seen[1] != "running->failed" {
		t.Fatalf("unexpected listener sequence: %v", seen)
	}
}

func TestSetMoodTracksPrevious(t *testing.T) {
	sm := New("run-5", 0, mood.Calm, zap.NewNop())
	sm.SetMood(mood.Skeptical)
	sm.SetMood(mood.Paranoid)

	snap := sm.Snapshot()
	if snap.Mood != mood.Paranoid {
		t.Fatalf("mood = %s, want PARANOID", snap.Mood)
	}
	if snap.PreviousMood != mood.Skeptical {
		t.Fatalf("previous mood = %s, want SKEPTICAL", snap.PreviousMood)
	}
}

func TestAddNoteAccumulates(t *testing.T) {
	sm := New("run-6", 0, mood.Calm, zap.NewNop())
	sm.AddNote(Note{Kind: "note.status", Stage: "execute", Status: "started"})
	sm.AddNote(Note{Kind: "note.status", Stage: "verify", Status: "started"})

	snap := sm.Snapshot()
	if len(snap.Notes) != 2 {
		t.Fatalf("notes = %d, want 2", len(snap.Notes))
	}
}
