package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoopSinkNeverErrors(t *testing.T) {
	s := NoopSink{}
	err := s.Notify(context.Background(), Event{Title: "rollback", Urgent: true})
	assert.NoError(t, err)
}

func TestFormatEventIncludesTitleBodyAndFields(t *testing.T) {
	out := formatEvent(Event{
		Title:  "Run rolled back",
		Body:   "verifier failures exceeded threshold",
		Fields: map[string]string{"run_id": "abc123"},
		Urgent: true,
	})
	assert.Contains(t, out, "Run rolled back")
	assert.Contains(t, out, "verifier failures exceeded threshold")
	assert.Contains(t, out, "run_id")
	assert.Contains(t, out, "abc123")
	assert.Contains(t, out, "⚠️")
}
