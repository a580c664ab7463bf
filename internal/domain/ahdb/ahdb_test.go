package ahdb

import "testing"

func TestApplyLastWriterWins(t *testing.T) {
	s := NewState()
	s.Apply(Delta{Seq: 1, Slot: SlotBelieve, Value: "v1"})
	s.Apply(Delta{Seq: 3, Slot: SlotBelieve, Value: "v3"})
	s.Apply(Delta{Seq: 2, Slot: SlotBelieve, Value: "v2-out-of-order"})

	got, ok := s.Get(SlotBelieve)
	if !ok || got != "v3" {
		t.Fatalf("Get(believe) = (%q, %v), want (v3, true)", got, ok)
	}
}

func TestApplyIndependentSlots(t *testing.T) {
	s := NewState()
	s.Apply(Delta{Seq: 1, Slot: SlotAssert, Value: "a"})
	s.Apply(Delta{Seq: 1, Slot: SlotDrive, Value: "d"})

	a, _ := s.Get(SlotAssert)
	d, _ := s.Get(SlotDrive)
	if a != "a" || d != "d" {
		t.Fatalf("got assert=%q drive=%q", a, d)
	}
	if _, ok := s.Get(SlotHypothesize); ok {
		t.Fatal("unset slot should report ok=false")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s := NewState()
	s.Apply(Delta{Seq: 1, Slot: SlotAssert, Value: "a"})
	snap := s.Snapshot()
	snap[SlotAssert] = "mutated"

	got, _ := s.Get(SlotAssert)
	if got != "a" {
		t.Fatalf("mutating snapshot affected state: %q", got)
	}
}
