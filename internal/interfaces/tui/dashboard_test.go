package tui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	gitops "github.com/choiros/supervisor/internal/infrastructure/git"
	"github.com/choiros/supervisor/internal/infrastructure/eventstore"
)

func TestViewShowsLoadingBeforeFirstSnapshot(t *testing.T) {
	m := NewModel(nil, nil)
	out := m.View()
	assert.Contains(t, out, "loading")
}

func TestViewRendersRunsAndWorkItems(t *testing.T) {
	m := NewModel(nil, nil)
	m.loaded = true
	m.snap = snapshot{
		headSHA: "abcdef1234567890",
		runs: []eventstore.RunModel{
			{ID: "run-aaaaaaaa", Status: "verified", Mood: "calm"},
			{ID: "run-bbbbbbbb", Status: "failed", Mood: "skeptical"},
		},
		workItems: []eventstore.WorkItemModel{
			{ID: "wi-aaaaaaaa", Status: "running", Prompt: "fix the flaky test"},
		},
		gitStatus: gitops.Status{Clean: true},
	}

	out := m.View()
	assert.Contains(t, out, "verified")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "fix the flaky test")
	assert.Contains(t, out, "abcdef12")
}

func TestViewSurfacesSnapshotError(t *testing.T) {
	m := NewModel(nil, nil)
	m.loaded = true
	m.snap = snapshot{err: assertError("boom")}
	out := m.View()
	assert.Contains(t, out, "boom")
}

func TestRenderGitShowsDirtyTreeCount(t *testing.T) {
	m := NewModel(nil, nil)
	m.loaded = true
	m.snap = snapshot{gitStatus: gitops.Status{Modified: []string{"a.go"}, Untracked: []string{"b.go"}}}
	out := m.renderGit()
	assert.True(t, strings.Contains(out, "2 touched"))
}

type assertError string

func (e assertError) Error() string { return string(e) }
