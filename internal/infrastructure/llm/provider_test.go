package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreateProviderDefaultsToOpenAI(t *testing.T) {
	p, err := CreateProvider(ProviderConfig{Name: "primary"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "primary", p.Name())
}

func TestCreateProviderUnknownType(t *testing.T) {
	_, err := CreateProvider(ProviderConfig{Type: "does-not-exist"}, zap.NewNop())
	assert.Error(t, err)
}

func TestOpenAICompatSupportsModelEmptyAllowsAny(t *testing.T) {
	p := NewOpenAICompatProvider(ProviderConfig{Name: "p"}, zap.NewNop())
	assert.True(t, p.SupportsModel("anything"))
}

func TestOpenAICompatSupportsModelRestricted(t *testing.T) {
	p := NewOpenAICompatProvider(ProviderConfig{Name: "p", Models: []string{"gpt-4o"}}, zap.NewNop())
	assert.True(t, p.SupportsModel("gpt-4o"))
	assert.False(t, p.SupportsModel("gpt-3.5"))
}

func TestToWireRequestPreservesToolCalls(t *testing.T) {
	req := &Request{
		Model: "gpt-4o",
		Messages: []Message{
			{Role: "assistant", ToolCalls: []ToolCall{{ID: "1", Name: "read_file", Arguments: `{"path":"a.txt"}`}}},
		},
		Tools: []ToolDefinition{{Name: "read_file", Description: "reads a file"}},
	}
	wr := toWireRequest(req, true)
	require.Len(t, wr.Messages, 1)
	require.Len(t, wr.Messages[0].ToolCalls, 1)
	assert.Equal(t, "read_file", wr.Messages[0].ToolCalls[0].Function.Name)
	assert.True(t, wr.Stream)
	require.Len(t, wr.Tools, 1)
	assert.Equal(t, "read_file", wr.Tools[0].Function.Name)
}
