package filehistory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveStateThenUndoRestoresContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	h := New()
	require.NoError(t, h.SaveState(path))
	require.NoError(t, os.WriteFile(path, []byte("mutated"), 0o644))

	restored, err := h.Undo(1)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, restored)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
}

func TestUndoDeletesFileThatDidNotExist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.txt")

	h := New()
	require.NoError(t, h.SaveState(path)) // file doesn't exist yet
	require.NoError(t, os.WriteFile(path, []byte("created"), 0o644))

	_, err := h.Undo(1)
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestHistoryCapsAtMaxPerPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("v0"), 0o644))

	h := New()
	for i := 0; i < MaxPerPath+10; i++ {
		require.NoError(t, h.SaveState(path))
	}
	assert.Equal(t, MaxPerPath, h.Size())
}

func TestUndoMultipleAcrossPaths(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.txt")
	pathB := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(pathA, []byte("a0"), 0o644))
	require.NoError(t, os.WriteFile(pathB, []byte("b0"), 0o644))

	h := New()
	require.NoError(t, h.SaveState(pathA))
	require.NoError(t, os.WriteFile(pathA, []byte("a1"), 0o644))
	require.NoError(t, h.SaveState(pathB))
	require.NoError(t, os.WriteFile(pathB, []byte("b1"), 0o644))

	restored, err := h.Undo(2)
	require.NoError(t, err)
	assert.Len(t, restored, 2)

	gotA, _ := os.ReadFile(pathA)
	gotB, _ := os.ReadFile(pathB)
	assert.Equal(t, "a0", string(gotA))
	assert.Equal(t, "b0", string(gotB))
}

func TestClearResetsSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("v"), 0o644))

	h := New()
	require.NoError(t, h.SaveState(path))
	h.Clear()
	assert.Equal(t, 0, h.Size())
}
