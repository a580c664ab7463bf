// models.go defines the gorm-backed schema: the append-only event log plus
// every materialized projection, ported table-for-table from
// original_source/supervisor/db.py's _init_schema.
package eventstore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONValue stores an arbitrary JSON-serializable value (scalar, list, or
// object) in a text column. AHDB slot values and deltas are never plain
// strings — a slot's value is typically a list of assertion/hypothesis
// objects — so the flat string columns db.py gets away with (Python just
// re-parses the TEXT column on read) need a type on the Go side that round
// trips through database/sql without losing structure.
type JSONValue struct {
	Data any
}

func (j JSONValue) Value() (driver.Value, error) {
	raw, err := json.Marshal(j.Data)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (j *JSONValue) Scan(src any) error {
	if src == nil {
		j.Data = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, &j.Data)
	case string:
		return json.Unmarshal([]byte(v), &j.Data)
	default:
		return fmt.Errorf("eventstore: unsupported Scan source %T for JSONValue", src)
	}
}

// EventModel is the append-only event log. Seq is the autoincrement
// ordering primary key the whole system replays against.
type EventModel struct {
	Seq         int64  `gorm:"primaryKey;autoIncrement"`
	ExternalSeq *int64 `gorm:"index"`
	Timestamp   time.Time `gorm:"index;not null"`
	Type        string    `gorm:"index;not null"`
	Source      string    `gorm:"not null"`
	Payload     string    `gorm:"type:text;not null"` // canonical JSON
}

func (EventModel) TableName() string { return "events" }

// FileModel is the materialized latest-known state of one tracked file
// path.
type FileModel struct {
	Path        string `gorm:"primaryKey"`
	ContentHash string
	UpdatedAt   time.Time `gorm:"not null"`
}

func (FileModel) TableName() string { return "files" }

// AHDBStateModel is the materialized last-writer-wins value of one AHDB
// slot. Value holds the slot's full current value (typically a list of
// objects), replaced wholesale by every new delta for that slot.
type AHDBStateModel struct {
	Slot      string    `gorm:"primaryKey"`
	Value     JSONValue `gorm:"type:text;not null"`
	LastSeq   int64     `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (AHDBStateModel) TableName() string { return "ahdb_state" }

// AHDBDeltaModel is the append-only audit log of AHDB deltas, one row per
// receipt.ahdb.delta event. Delta holds the whole extracted {slot: value}
// map the event carried, not a single slot's value, so a rebuild can see
// exactly what each event contributed.
type AHDBDeltaModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	EventSeq  int64     `gorm:"index;not null"`
	Delta     JSONValue `gorm:"type:text;not null"`
	Timestamp time.Time `gorm:"not null"`
}

func (AHDBDeltaModel) TableName() string { return "ahdb_deltas" }

// ConversationModel groups messages and tool calls that share a
// conversation_id, lazily created the first time materialization sees that
// id, mirroring db.py's _ensure_conversation.
type ConversationModel struct {
	ID        int64 `gorm:"primaryKey"`
	StartedAt time.Time `gorm:"not null"`
	LastSeq   int64
}

func (ConversationModel) TableName() string { return "conversations" }

// MessageModel is one materialized message event.
type MessageModel struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	ConversationID *int64 `gorm:"index"`
	EventSeq       int64  `gorm:"index;not null"`
	Role           string
	Content        string    `gorm:"type:text"`
	Timestamp      time.Time `gorm:"not null"`
}

func (MessageModel) TableName() string { return "messages" }

// ToolCallModel is one materialized tool.call event.
type ToolCallModel struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	ConversationID *int64    `gorm:"index"`
	EventSeq       int64     `gorm:"index;not null"`
	ToolName       string
	ToolInput      JSONValue `gorm:"type:text"`
	ToolResult     JSONValue `gorm:"type:text"`
	Timestamp      time.Time `gorm:"not null"`
}

func (ToolCallModel) TableName() string { return "tool_calls" }

// WorkItemModel is the durable record of a requested unit of work.
type WorkItemModel struct {
	ID                string `gorm:"primaryKey"`
	UserID            string `gorm:"index"`
	Prompt            string `gorm:"type:text;not null"`
	RiskTier          string `gorm:"not null"`
	RequiredVerifiers string `gorm:"type:text"` // JSON array
	Status            string `gorm:"index;not null"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (WorkItemModel) TableName() string { return "work_items" }

// RunModel is the durable record of one execution attempt against a work
// item.
type RunModel struct {
	ID             string `gorm:"primaryKey"`
	WorkItemID     string `gorm:"index"`
	UserID         string `gorm:"index"`
	Status         string `gorm:"index;not null"`
	Mood           string
	SandboxID      string
	StartedSeq     int64
	EndedSeq       int64
	VerifierPlanID string
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (RunModel) TableName() string { return "runs" }

// RunNoteModel is one typed note attached to a run.
type RunNoteModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	RunID     string `gorm:"index;not null"`
	NoteType  string `gorm:"not null"`
	Body      string `gorm:"type:text;not null"` // JSON
	EventSeq  int64  `gorm:"index"`
	CreatedAt time.Time `gorm:"not null"`
}

func (RunNoteModel) TableName() string { return "run_notes" }

// RunVerificationModel is one verifier attestation recorded against a run.
type RunVerificationModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	RunID       string `gorm:"index;not null"`
	Attestation string `gorm:"type:text;not null"` // JSON
	EventSeq    int64  `gorm:"index"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (RunVerificationModel) TableName() string { return "run_verifications" }

// CommitRequestModel is the durable record of a verified run's changes
// being accepted.
type CommitRequestModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	RunID     string `gorm:"index;not null"`
	Payload   string `gorm:"type:text;not null"` // JSON
	EventSeq  int64  `gorm:"index"`
	CreatedAt time.Time `gorm:"not null"`
}

func (CommitRequestModel) TableName() string { return "run_commit_requests" }

// CheckpointModel is one git checkpoint, tying a commit sha to the event
// seq it was made at.
type CheckpointModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	CommitSHA    string `gorm:"not null"`
	LastEventSeq int64  `gorm:"not null"`
	Message      string
	CreatedAt    time.Time `gorm:"not null"`
}

func (CheckpointModel) TableName() string { return "checkpoints" }

// SyncStateModel is a flat key/value table for small bits of durable state
// (e.g. last-good-checkpoint keys) that don't warrant their own table.
type SyncStateModel struct {
	Key   string `gorm:"primaryKey"`
	Value string `gorm:"type:text;not null"`
}

func (SyncStateModel) TableName() string { return "sync_state" }
