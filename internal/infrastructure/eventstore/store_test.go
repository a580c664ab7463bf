package eventstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choiros/supervisor/internal/infrastructure/config"

	domevent "github.com/choiros/supervisor/internal/domain/event"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(config.DatabaseConfig{Type: "sqlite", DSN: "file::memory:?cache=shared"})
	require.NoError(t, err)
	return New(db)
}

func TestAppendAssignsIncrementingSeq(t *testing.T) {
	s := newTestStore(t)

	seq1, err := s.Append("FILE_WRITE", map[string]any{"path": "a.txt", "content_hash": "h1"}, domevent.SourceAgent)
	require.NoError(t, err)
	seq2, err := s.Append("FILE_WRITE", map[string]any{"path": "b.txt", "content_hash": "h2"}, domevent.SourceAgent)
	require.NoError(t, err)

	assert.Equal(t, seq1+1, seq2)
}

func TestAppendMaterializesFileProjection(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Append("file.write", map[string]any{"path": "a.txt", "content_hash": "h1"}, domevent.SourceAgent)
	require.NoError(t, err)

	var row FileModel
	require.NoError(t, s.db.Where("path = ?", "a.txt").First(&row).Error)
	assert.Equal(t, "h1", row.ContentHash)
}

func TestAppendFileMoveRenamesProjection(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Append("file.write", map[string]any{"path": "a.txt", "content_hash": "h1"}, domevent.SourceAgent)
	require.NoError(t, err)
	_, err = s.Append("file.move", map[string]any{"from": "a.txt", "to": "b.txt"}, domevent.SourceAgent)
	require.NoError(t, err)

	var count int64
	s.db.Model(&FileModel{}).Where("path = ?", "a.txt").Count(&count)
	assert.Equal(t, int64(0), count)

	var row FileModel
	require.NoError(t, s.db.Where("path = ?", "b.txt").First(&row).Error)
	assert.Equal(t, "h1", row.ContentHash)
}

func TestAppendFileDeleteRemovesProjection(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Append("file.write", map[string]any{"path": "a.txt", "content_hash": "h1"}, domevent.SourceAgent)
	require.NoError(t, err)
	_, err = s.Append("file.delete", map[string]any{"path": "a.txt"}, domevent.SourceAgent)
	require.NoError(t, err)

	var count int64
	s.db.Model(&FileModel{}).Where("path = ?", "a.txt").Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestAppendAHDBDeltaIsLastWriterWins(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Append("receipt.ahdb.delta", map[string]any{"delta": map[string]any{"assert": []any{map[string]any{"id": "a1"}}}}, domevent.SourceAgent)
	require.NoError(t, err)
	_, err = s.Append("receipt.ahdb.delta", map[string]any{"delta": map[string]any{"assert": []any{map[string]any{"id": "a2"}}}}, domevent.SourceAgent)
	require.NoError(t, err)

	state, err := s.AHDBState()
	require.NoError(t, err)
	value, ok := state.Get("assert")
	require.True(t, ok)
	assert.Equal(t, []any{map[string]any{"id": "a2"}}, value)

	var deltaRows []AHDBDeltaModel
	require.NoError(t, s.db.Find(&deltaRows).Error)
	assert.Len(t, deltaRows, 2)
}

func TestAppendAHDBDeltaAcceptsTopLevelSlots(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Append("receipt.ahdb.delta", map[string]any{
		"assert": []any{map[string]any{"id": "a1"}},
		"drive":  []any{map[string]any{"id": "d1"}},
	}, domevent.SourceAgent)
	require.NoError(t, err)

	state, err := s.AHDBState()
	require.NoError(t, err)
	assertValue, ok := state.Get("assert")
	require.True(t, ok)
	assert.Equal(t, []any{map[string]any{"id": "a1"}}, assertValue)
	driveValue, ok := state.Get("drive")
	require.True(t, ok)
	assert.Equal(t, []any{map[string]any{"id": "d1"}}, driveValue)
}

func TestRebuildProjectionsReproducesState(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Append("file.write", map[string]any{"path": "a.txt", "content_hash": "h1"}, domevent.SourceAgent)
	require.NoError(t, err)
	_, err = s.Append("file.write", map[string]any{"path": "b.txt", "content_hash": "h2"}, domevent.SourceAgent)
	require.NoError(t, err)
	_, err = s.Append("file.delete", map[string]any{"path": "a.txt"}, domevent.SourceAgent)
	require.NoError(t, err)

	require.NoError(t, s.RebuildProjections())

	var rows []FileModel
	require.NoError(t, s.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "b.txt", rows[0].Path)
}

func TestGetEventPathsSinceDedups(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Append("file.write", map[string]any{"path": "a.txt", "content_hash": "h1"}, domevent.SourceAgent)
	require.NoError(t, err)
	seq2, err := s.Append("file.write", map[string]any{"path": "a.txt", "content_hash": "h2"}, domevent.SourceAgent)
	require.NoError(t, err)
	_, err = s.Append("file.write", map[string]any{"path": "b.txt", "content_hash": "h3"}, domevent.SourceAgent)
	require.NoError(t, err)

	paths, err := s.GetEventPathsSince(seq2 - 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, paths)
}

func TestWorkItemLifecycle(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateWorkItem(WorkItemModel{ID: "wi1", UserID: "u1", Prompt: "do thing", RiskTier: "low", Status: "open"}))

	got, err := s.GetWorkItem("wi1")
	require.NoError(t, err)
	assert.Equal(t, "open", got.Status)

	require.NoError(t, s.UpdateWorkItemStatus("wi1", "resolved"))
	got, err = s.GetWorkItem("wi1")
	require.NoError(t, err)
	assert.Equal(t, "resolved", got.Status)

	_, err = s.GetWorkItem("missing")
	assert.Error(t, err)
}

func TestSyncStateUpsertOverwrites(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetSyncState("k1", "v1"))
	v, ok, err := s.GetSyncState("k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	require.NoError(t, s.SetSyncState("k1", "v2"))
	v, ok, err = s.GetSyncState("k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", v)

	_, ok, err = s.GetSyncState("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
