// store.go is the durable event log plus work-item/run/note/verification/
// commit-request/checkpoint CRUD, ported method-for-method from
// original_source/supervisor/db.py's EventStore (minus the NATS publish
// path — this spec's event log has no external pub/sub source of truth;
// gorm+sqlite/postgres IS the source of truth here, with eventbus.Bus as an
// optional external mirror instead of db.py's "NATS is the source of truth,
// SQLite is a projection" arrangement).
package eventstore

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/choiros/supervisor/pkg/errors"

	domevent "github.com/choiros/supervisor/internal/domain/event"
)

// Store is the event-sourced persistence layer: append-only event log plus
// every derived projection and control-surface table.
type Store struct {
	db *gorm.DB
}

// New wraps an already-opened *gorm.DB (see Open) as a Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Append normalizes eventType, writes it to the event log, and folds it
// into projections in the same transaction. Returns the assigned seq.
func (s *Store) Append(eventType string, payload map[string]any, source domevent.Source) (int64, error) {
	normalized := domevent.Normalize(eventType)
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, apperrors.NewInvalidInput(fmt.Sprintf("marshal event payload: %v", err))
	}

	var seq int64
	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		row := EventModel{Timestamp: now, Type: normalized, Source: string(source), Payload: string(raw)}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		seq = row.Seq
		return s.applyToProjections(tx, seq, normalized, payload, now)
	})
	if txErr != nil {
		return 0, apperrors.NewInternalWithCause("append event", txErr)
	}
	return seq, nil
}

// GetEvents returns events after sinceSeq, optionally filtered by type,
// newest-seq-last, capped at limit.
func (s *Store) GetEvents(sinceSeq int64, eventType string, limit int) ([]EventModel, error) {
	q := s.db.Where("seq > ?", sinceSeq).Order("seq asc").Limit(limit)
	if eventType != "" {
		q = q.Where("type = ?", eventType)
	}
	var rows []EventModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, apperrors.NewInternalWithCause("get events", err)
	}
	return rows, nil
}

// GetEventPathsSince returns the unique set of file paths touched by
// file.write/file.delete/file.move events since sinceSeq, used by the
// orchestrator to scope the verifier plan to what a run actually changed.
func (s *Store) GetEventPathsSince(sinceSeq int64) ([]string, error) {
	var rows []EventModel
	err := s.db.Where("seq > ? AND type IN ?", sinceSeq, []string{"file.write", "file.delete", "file.move"}).Find(&rows).Error
	if err != nil {
		return nil, apperrors.NewInternalWithCause("get event paths", err)
	}

	seen := make(map[string]bool)
	var paths []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	for _, r := range rows {
		var payload map[string]any
		if err := json.Unmarshal([]byte(r.Payload), &payload); err != nil {
			continue
		}
		if p, ok := payload["path"].(string); ok {
			add(p)
		}
		if p, ok := payload["from"].(string); ok {
			add(p)
		}
		if p, ok := payload["to"].(string); ok {
			add(p)
		}
	}
	return paths, nil
}

// GetLatestSeq returns the highest assigned event seq, or 0 if the log is
// empty.
func (s *Store) GetLatestSeq() (int64, error) {
	var row EventModel
	err := s.db.Order("seq desc").Limit(1).Find(&row).Error
	if err != nil {
		return 0, apperrors.NewInternalWithCause("get latest seq", err)
	}
	return row.Seq, nil
}

// CreateWorkItem inserts a new work item row.
func (s *Store) CreateWorkItem(w WorkItemModel) error {
	if err := s.db.Create(&w).Error; err != nil {
		return apperrors.NewInternalWithCause("create work item", err)
	}
	return nil
}

// GetWorkItem fetches a work item by id.
func (s *Store) GetWorkItem(id string) (*WorkItemModel, error) {
	var w WorkItemModel
	err := s.db.Where("id = ?", id).First(&w).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperrors.NewNotFound(fmt.Sprintf("work item %s", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalWithCause("get work item", err)
	}
	return &w, nil
}

// ListWorkItems lists work items, optionally filtered by status.
func (s *Store) ListWorkItems(status string, limit int) ([]WorkItemModel, error) {
	q := s.db.Order("created_at desc").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []WorkItemModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, apperrors.NewInternalWithCause("list work items", err)
	}
	return rows, nil
}

// UpdateWorkItemStatus updates a work item's status and updated_at.
func (s *Store) UpdateWorkItemStatus(id, status string) error {
	res := s.db.Model(&WorkItemModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return apperrors.NewInternalWithCause("update work item", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NewNotFound(fmt.Sprintf("work item %s", id))
	}
	return nil
}

// CreateRun inserts a new run row.
func (s *Store) CreateRun(r RunModel) error {
	if err := s.db.Create(&r).Error; err != nil {
		return apperrors.NewInternalWithCause("create run", err)
	}
	return nil
}

// UpdateRun applies a partial update to a run row.
func (s *Store) UpdateRun(id string, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	res := s.db.Model(&RunModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return apperrors.NewInternalWithCause("update run", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NewNotFound(fmt.Sprintf("run %s", id))
	}
	return nil
}

// GetRun fetches a run by id.
func (s *Store) GetRun(id string) (*RunModel, error) {
	var r RunModel
	err := s.db.Where("id = ?", id).First(&r).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperrors.NewNotFound(fmt.Sprintf("run %s", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalWithCause("get run", err)
	}
	return &r, nil
}

// ListRuns lists runs, optionally filtered by status.
func (s *Store) ListRuns(status string, limit int) ([]RunModel, error) {
	q := s.db.Order("created_at desc").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []RunModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, apperrors.NewInternalWithCause("list runs", err)
	}
	return rows, nil
}

// GetRunVerifications returns every attestation recorded against a run, in
// the order they were appended.
func (s *Store) GetRunVerifications(runID string) ([]RunVerificationModel, error) {
	var rows []RunVerificationModel
	if err := s.db.Where("run_id = ?", runID).Order("event_seq asc").Find(&rows).Error; err != nil {
		return nil, apperrors.NewInternalWithCause("get run verifications", err)
	}
	return rows, nil
}

// RecordCheckpoint records a git checkpoint tied to lastEventSeq.
func (s *Store) RecordCheckpoint(commitSHA, message string, lastEventSeq int64) error {
	row := CheckpointModel{CommitSHA: commitSHA, LastEventSeq: lastEventSeq, Message: message, CreatedAt: time.Now().UTC()}
	if err := s.db.Create(&row).Error; err != nil {
		return apperrors.NewInternalWithCause("record checkpoint", err)
	}
	return nil
}

// GetLastCheckpoint returns the most recently recorded checkpoint, if any.
func (s *Store) GetLastCheckpoint() (*CheckpointModel, error) {
	var row CheckpointModel
	err := s.db.Order("id desc").Limit(1).Find(&row).Error
	if err != nil {
		return nil, apperrors.NewInternalWithCause("get last checkpoint", err)
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

// SetSyncState upserts a flat key/value pair (used for
// sandbox_checkpoint:<user_id> style keys).
func (s *Store) SetSyncState(key, value string) error {
	row := SyncStateModel{Key: key, Value: value}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
	if err != nil {
		return apperrors.NewInternalWithCause("set sync state", err)
	}
	return nil
}

// GetSyncState reads a flat key/value pair, returning ("", false) if unset.
func (s *Store) GetSyncState(key string) (string, bool, error) {
	var row SyncStateModel
	err := s.db.Where("key = ?", key).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NewInternalWithCause("get sync state", err)
	}
	return row.Value, true, nil
}
