package event

import "testing"

func TestNormalizeLegacyUppercase(t *testing.T) {
	cases := map[string]string{
		"FILE_WRITE":           "file.write",
		"FILE_DELETE":          "file.delete",
		"TOOL_CALL":            "tool.call",
		"CONVERSATION_MESSAGE": "message",
		"CHECKPOINT":           "checkpoint",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeReceiptPrefix(t *testing.T) {
	if got := Normalize("RECEIPT/verifier_results"); got != "receipt.verifier.results" {
		t.Errorf("got %q", got)
	}
	if got := Normalize("RECEIPT/Read"); got != "receipt.read" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeReceiptSuffix(t *testing.T) {
	if got := Normalize("COMMIT_RECEIPT"); got != "receipt.commit" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeAlreadyCanonicalPassesThrough(t *testing.T) {
	for _, want := range CanonicalTypes {
		if got := Normalize(want); got != want {
			t.Errorf("Normalize(%q) = %q, want unchanged", want, got)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"FILE_WRITE", "RECEIPT/verifier_results", "COMMIT_RECEIPT", "note.status", "Some_Weird/Type"}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestNormalizeEmpty(t *testing.T) {
	if got := Normalize(""); got != "" {
		t.Errorf("Normalize(\"\") = %q, want empty", got)
	}
}

func TestBuildSubject(t *testing.T) {
	got := BuildSubject("u1", SourceAgent, "file.write")
	want := "choiros.u1.agent.file.write"
	if got != want {
		t.Errorf("BuildSubject = %q, want %q", got, want)
	}
}
