package websocket

import (
	"testing"

	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/choiros/supervisor/internal/application/agentloop"
	domevent "github.com/choiros/supervisor/internal/domain/event"
	"github.com/choiros/supervisor/internal/infrastructure/config"
	"github.com/choiros/supervisor/internal/infrastructure/eventstore"
)

func newTestStore(t *testing.T) *eventstore.Store {
	t.Helper()
	db, err := eventstore.Open(config.DatabaseConfig{Type: "sqlite", DSN: "file::memory:?cache=shared"})
	require.NoError(t, err)
	return eventstore.New(db)
}

func testLogger() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}

func TestTranslateFrameMapsEveryAgentLoopType(t *testing.T) {
	cases := []struct {
		in   agentloop.Frame
		want FrameType
	}{
		{agentloop.Frame{Type: agentloop.FrameThinking, Content: "hm"}, FrameThinking},
		{agentloop.Frame{Type: agentloop.FrameText, Content: "hi"}, FrameText},
		{agentloop.Frame{Type: agentloop.FrameMessage, Content: "hi"}, FrameText},
		{agentloop.Frame{Type: agentloop.FrameToolUse, ToolName: "read_file"}, FrameToolUse},
		{agentloop.Frame{Type: agentloop.FrameToolResult, ToolName: "read_file", ToolOK: true}, FrameToolResult},
		{agentloop.Frame{Type: agentloop.FrameError, Err: "boom"}, FrameError},
		{agentloop.Frame{Type: agentloop.FrameDone}, FrameDone},
	}
	for _, tc := range cases {
		got := translateFrame(tc.in)
		assert.Equal(t, tc.want, got.Type)
	}
}

func TestVerificationPayloadSummarizesAttestations(t *testing.T) {
	store := newTestStore(t)
	h := &Handler{store: store, log: testLogger()}

	now := eventstore.RunModel{ID: "run-1", WorkItemID: "wi-1", UserID: "u-1", Status: "verified", VerifierPlanID: "plan-1"}
	require.NoError(t, store.CreateRun(now))

	_, err := store.Append("receipt.verifier.attestations", map[string]any{
		"run_id":      "run-1",
		"attestation": map[string]any{"verifier_id": "smoke", "passed": true},
	}, domevent.SourceSystem)
	require.NoError(t, err)

	_, err = store.Append("receipt.verifier.attestations", map[string]any{
		"run_id":      "run-1",
		"attestation": map[string]any{"verifier_id": "lint", "passed": false},
	}, domevent.SourceSystem)
	require.NoError(t, err)

	payload := h.verificationPayload(&now)
	results, ok := payload["results"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, results, 2)
	assert.Equal(t, "smoke", results[0]["id"])
	assert.Equal(t, "pass", results[0]["status"])
	assert.Equal(t, "lint", results[1]["id"])
	assert.Equal(t, "fail", results[1]["status"])
	assert.Equal(t, "plan-1", payload["verifier_plan"])
}
