// Package event defines the canonical event contract: the append-only,
// dotted-lowercase vocabulary every component in the supervisor emits into,
// and reads from, the event log.
package event

import "strings"

// Source identifies who caused an event.
type Source string

const (
	SourceUser   Source = "user"
	SourceAgent  Source = "agent"
	SourceSystem Source = "system"
)

// Stream / subject constants for the optional external pub/sub mirror.
const (
	Stream       = "CHOIR"
	SubjectRoot  = "choiros"
	SubjectGlob  = "choiros.>"
)

// CanonicalTypes is the v0 vocabulary. Types outside this set are still
// accepted (payload is opaque). Normalize rewrites the legacy aliases below
// and the RECEIPT/x and X_RECEIPT forms to receipt.x; other types pass
// through unchanged aside from lower-casing/dot-normalization.
var CanonicalTypes = []string{
	// Core
	"file.write", "file.delete", "file.move",
	"message", "tool.call", "tool.result",
	"window.open", "window.close", "checkpoint", "undo",
	// Notes
	"note.observation", "note.hypothesis", "note.hyperthesis", "note.conjecture",
	"note.status", "note.request.help", "note.request.verify",
	// Receipts
	"receipt.read", "receipt.patch", "receipt.verifier",
	"receipt.net", "receipt.db", "receipt.export", "receipt.publish",
	"receipt.context.footprint", "receipt.verifier.results", "receipt.verifier.attestations",
	"receipt.discrepancy.report", "receipt.commit", "receipt.ahdb.delta",
	"receipt.evidence.set.hash", "receipt.retrieval", "receipt.conjecture.set",
	"receipt.policy.decision.tokens", "receipt.security.attestations",
	"receipt.hyperthesis.delta", "receipt.expansion.plan", "receipt.projection.rebuild",
	"receipt.attack.report", "receipt.disclosure.objects", "receipt.mitigation.proposals",
	"receipt.preference.decision", "receipt.timeout",
}

var legacyEventTypeMap = map[string]string{
	"FILE_WRITE":          "file.write",
	"FILE_DELETE":         "file.delete",
	"FILE_MOVE":           "file.move",
	"CONVERSATION_MESSAGE": "message",
	"TOOL_CALL":           "tool.call",
	"TOOL_RESULT":         "tool.result",
	"WINDOW_OPEN":         "window.open",
	"WINDOW_CLOSE":        "window.close",
	"CHECKPOINT":          "checkpoint",
	"UNDO":                "undo",
}

// Event is one entry in the append-only log. Payload is an opaque map;
// concrete event types parse the fields they need out of it.
type Event struct {
	Seq         int64          `json:"seq"`
	ExternalSeq *int64         `json:"external_seq,omitempty"`
	Timestamp   string         `json:"timestamp"`
	Type        string         `json:"type"`
	Source      Source         `json:"source"`
	Payload     map[string]any `json:"payload"`
}

func normalizeSegments(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.ReplaceAll(v, "/", ".")
	v = strings.ReplaceAll(v, "_", ".")
	return v
}

// Normalize maps legacy uppercase/underscored event type names onto the
// canonical dotted-lowercase vocabulary. It is idempotent:
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(eventType string) string {
	raw := strings.TrimSpace(eventType)
	if raw == "" {
		return raw
	}
	upper := strings.ToUpper(raw)
	if canonical, ok := legacyEventTypeMap[upper]; ok {
		return canonical
	}
	if strings.HasPrefix(upper, "RECEIPT/") {
		suffix := raw[strings.Index(raw, "/")+1:]
		return "receipt." + normalizeSegments(suffix)
	}
	if strings.HasSuffix(upper, "_RECEIPT") && upper != "RECEIPT" {
		suffix := raw[:len(raw)-len("_RECEIPT")]
		return "receipt." + normalizeSegments(suffix)
	}
	return normalizeSegments(raw)
}

// BuildSubject renders the external pub/sub subject for an event.
func BuildSubject(userID string, source Source, eventType string) string {
	return SubjectRoot + "." + userID + "." + string(source) + "." + eventType
}
