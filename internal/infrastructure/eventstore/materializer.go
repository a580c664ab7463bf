// materializer.go is the sole writer of projection tables — Open Question
// decision #2. Every Append call and every RebuildProjections replay goes
// through applyToProjections so the two code paths can never drift.
// Dispatch logic is ported case-for-case from
// original_source/supervisor/db.py's _materialize_projection.
package eventstore

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/choiros/supervisor/internal/domain/ahdb"
)

func upsertFile(tx *gorm.DB, row *FileModel) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"content_hash", "updated_at"}),
	}).Create(row).Error
}

func upsertAHDBState(tx *gorm.DB, row *AHDBStateModel) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slot"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "last_seq", "updated_at"}),
	}).Create(row).Error
}

func (s *Store) applyToProjections(tx *gorm.DB, seq int64, eventType string, payload map[string]any, ts time.Time) error {
	switch {
	case eventType == "file.write":
		path, _ := payload["path"].(string)
		if path == "" {
			return nil
		}
		hash, _ := payload["content_hash"].(string)
		return upsertFile(tx, &FileModel{Path: path, ContentHash: hash, UpdatedAt: ts})

	case eventType == "file.delete":
		path, _ := payload["path"].(string)
		if path == "" {
			return nil
		}
		return tx.Where("path = ?", path).Delete(&FileModel{}).Error

	case eventType == "file.move":
		from, _ := payload["from"].(string)
		to, _ := payload["to"].(string)
		if from == "" || to == "" {
			return nil
		}
		var existing FileModel
		if err := tx.Where("path = ?", from).First(&existing).Error; err == nil {
			existing.Path = to
			existing.UpdatedAt = ts
			if err := tx.Where("path = ?", from).Delete(&FileModel{}).Error; err != nil {
				return err
			}
			return upsertFile(tx, &existing)
		}
		return nil

	case eventType == "message":
		return s.applyMessage(tx, seq, payload, ts)

	case eventType == "tool.call":
		return s.applyToolCall(tx, seq, payload, ts)

	case eventType == "receipt.ahdb.delta":
		return s.applyAHDBDelta(tx, seq, payload, ts)

	case eventType == "receipt.verifier.attestations":
		return s.applyVerifierAttestation(tx, seq, payload, ts)

	case strings.HasPrefix(eventType, "note."):
		return s.applyNote(tx, seq, eventType, payload, ts)
	}
	return nil
}

// conversationID pulls payload["conversation_id"] out as an int64, tolerant
// of the shapes it arrives in after a JSON round trip (float64) or a direct
// Go call (int/int64/string).
func conversationID(payload map[string]any) *int64 {
	raw, ok := payload["conversation_id"]
	if !ok || raw == nil {
		return nil
	}
	var id int64
	switch v := raw.(type) {
	case float64:
		id = int64(v)
	case int64:
		id = v
	case int:
		id = int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil
		}
		id = n
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil
		}
		id = n
	default:
		return nil
	}
	return &id
}

// ensureConversation inserts a conversation row the first time
// materialization sees its id, mirroring db.py's _ensure_conversation.
func ensureConversation(tx *gorm.DB, id int64, ts time.Time) error {
	var existing ConversationModel
	err := tx.Where("id = ?", id).First(&existing).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}
	return tx.Create(&ConversationModel{ID: id, StartedAt: ts}).Error
}

func (s *Store) applyMessage(tx *gorm.DB, seq int64, payload map[string]any, ts time.Time) error {
	convID := conversationID(payload)
	if convID != nil {
		if err := ensureConversation(tx, *convID, ts); err != nil {
			return err
		}
	}

	role, _ := payload["role"].(string)
	content, _ := payload["content"].(string)
	if content == "" {
		content, _ = payload["prompt"].(string)
	}

	if err := tx.Create(&MessageModel{
		ConversationID: convID,
		EventSeq:       seq,
		Role:           role,
		Content:        content,
		Timestamp:      ts,
	}).Error; err != nil {
		return err
	}

	if convID != nil {
		return tx.Model(&ConversationModel{}).Where("id = ?", *convID).Update("last_seq", seq).Error
	}
	return nil
}

func (s *Store) applyToolCall(tx *gorm.DB, seq int64, payload map[string]any, ts time.Time) error {
	convID := conversationID(payload)
	if convID != nil {
		if err := ensureConversation(tx, *convID, ts); err != nil {
			return err
		}
	}

	toolName, _ := payload["tool_name"].(string)
	if toolName == "" {
		toolName, _ = payload["tool"].(string)
	}
	toolInput, ok := payload["tool_input"]
	if !ok {
		toolInput = payload["input"]
	}
	toolResult, ok := payload["tool_result"]
	if !ok {
		toolResult = payload["output"]
	}

	return tx.Create(&ToolCallModel{
		ConversationID: convID,
		EventSeq:       seq,
		ToolName:       toolName,
		ToolInput:      JSONValue{Data: toolInput},
		ToolResult:     JSONValue{Data: toolResult},
		Timestamp:      ts,
	}).Error
}

// applyNote writes every note.* event to run_notes, and additionally to
// run_commit_requests for the note.request.verify special case — both
// keyed off run_id, per db.py's note.* branch. body falls back to the
// whole payload when there's no separate "body" wrapper key, so orchestrator
// call sites that merge run_id straight into the event payload still work.
func (s *Store) applyNote(tx *gorm.DB, seq int64, eventType string, payload map[string]any, ts time.Time) error {
	runID, _ := payload["run_id"].(string)
	if runID == "" {
		return nil
	}

	body := payload
	if b, ok := payload["body"].(map[string]any); ok {
		body = b
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	if err := tx.Create(&RunNoteModel{RunID: runID, NoteType: eventType, Body: string(raw), EventSeq: seq, CreatedAt: ts}).Error; err != nil {
		return err
	}
	if eventType == "note.request.verify" {
		return tx.Create(&CommitRequestModel{RunID: runID, Payload: string(raw), EventSeq: seq, CreatedAt: ts}).Error
	}
	return nil
}

func (s *Store) applyVerifierAttestation(tx *gorm.DB, seq int64, payload map[string]any, ts time.Time) error {
	runID, _ := payload["run_id"].(string)
	attestation, ok := payload["attestation"]
	if runID == "" || !ok || attestation == nil {
		return nil
	}
	raw, err := json.Marshal(attestation)
	if err != nil {
		return err
	}
	return tx.Create(&RunVerificationModel{RunID: runID, Attestation: string(raw), EventSeq: seq, CreatedAt: ts}).Error
}

// extractAHDBDelta mirrors db.py's _extract_ahdb_delta: the actual
// {slot: value} delta may be wrapped under a delta/ahdb_delta/ahdb key, or
// may have slot names sitting directly at the payload's top level.
func extractAHDBDelta(payload map[string]any) map[string]any {
	for _, key := range []string{"delta", "ahdb_delta", "ahdb"} {
		if wrapped, ok := payload[key].(map[string]any); ok {
			return wrapped
		}
	}

	slots := []ahdb.Slot{ahdb.SlotAssert, ahdb.SlotHypothesize, ahdb.SlotDrive, ahdb.SlotBelieve}
	found := false
	for _, slot := range slots {
		if _, ok := payload[string(slot)]; ok {
			found = true
			break
		}
	}
	if !found {
		return nil
	}
	delta := make(map[string]any, len(slots))
	for _, slot := range slots {
		if v, ok := payload[string(slot)]; ok {
			delta[string(slot)] = v
		}
	}
	return delta
}

// applyAHDBDelta records one ahdb_deltas audit row for the whole event, then
// folds every slot the delta touches into ahdb_state with per-slot
// last-writer-wins, matching db.py's _apply_ahdb_delta and
// tests/test_ahdb_projection.py (each new delta replaces a slot's entire
// value; it never merges into the previous list).
func (s *Store) applyAHDBDelta(tx *gorm.DB, seq int64, payload map[string]any, ts time.Time) error {
	delta := extractAHDBDelta(payload)
	if delta == nil {
		return nil
	}

	if err := tx.Create(&AHDBDeltaModel{EventSeq: seq, Delta: JSONValue{Data: delta}, Timestamp: ts}).Error; err != nil {
		return err
	}

	for slot, value := range delta {
		if slot == "" {
			continue
		}
		var current AHDBStateModel
		err := tx.Where("slot = ?", slot).First(&current).Error
		if err == nil && current.LastSeq >= seq {
			continue // stale delta, last-writer-wins per internal/domain/ahdb
		}
		if err := upsertAHDBState(tx, &AHDBStateModel{Slot: slot, Value: JSONValue{Data: value}, LastSeq: seq, UpdatedAt: ts}); err != nil {
			return err
		}
	}
	return nil
}

// RebuildProjections truncates and replays every projection table from the
// full event log, in seq order. This is the only other caller of
// applyToProjections besides Append — the invariant Open Question decision
// #2 establishes.
func (s *Store) RebuildProjections() error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		tables := []any{
			&FileModel{},
			&AHDBStateModel{},
			&AHDBDeltaModel{},
			&ConversationModel{},
			&MessageModel{},
			&ToolCallModel{},
			&RunNoteModel{},
			&RunVerificationModel{},
			&CommitRequestModel{},
		}
		for _, table := range tables {
			if err := tx.Where("1 = 1").Delete(table).Error; err != nil {
				return err
			}
		}

		var events []EventModel
		if err := tx.Order("seq asc").Find(&events).Error; err != nil {
			return err
		}
		for _, e := range events {
			var payload map[string]any
			if err := json.Unmarshal([]byte(e.Payload), &payload); err != nil {
				continue // tolerate malformed legacy payloads during replay
			}
			if err := s.applyToProjections(tx, e.Seq, e.Type, payload, e.Timestamp); err != nil {
				return err
			}
		}
		return nil
	})
}

// AHDBState reconstructs the current ahdb.State from the materialized
// ahdb_state table.
func (s *Store) AHDBState() (*ahdb.State, error) {
	var rows []AHDBStateModel
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	state := ahdb.NewState()
	for _, r := range rows {
		state.Apply(ahdb.Delta{Seq: r.LastSeq, Slot: ahdb.Slot(r.Slot), Value: r.Value.Data})
	}
	return state, nil
}
