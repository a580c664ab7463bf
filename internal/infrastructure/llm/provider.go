// Package llm is the minimal LLM provider surface the agent loop is
// consumed through. Per this system's scope, concrete provider depth (model
// routing, circuit breakers, streaming SSE parsers per vendor) is
// deliberately out of scope — the loop only ever talks to the Client
// interface below, with one real HTTP-backed implementation and a factory
// registry so a deployment can swap providers without touching the loop.
package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Message is one turn in a conversation sent to the model.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a single function-call the model asked to make.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON
}

// ToolDefinition describes one tool the model may call.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON schema
}

// Request is sent to the model for one turn.
type Request struct {
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Model       string           `json:"model"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature"`
}

// StreamChunk is one incremental delta of a streaming response.
type StreamChunk struct {
	DeltaText     string
	DeltaToolCall *ToolCall
	FinishReason  string // "stop", "tool_calls", "" while still streaming
}

// Response is the model's full reply for one turn.
type Response struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	ModelUsed    string     `json:"model_used"`
	TokensUsed   int        `json:"tokens_used"`
	FinishReason string     `json:"finish_reason"`
}

// Client is the interface the agent loop drives the model through.
type Client interface {
	// Generate sends a request and returns the full response.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// GenerateStream sends a request and streams deltas on deltaCh, which
	// the caller must drain until closed. Returns the accumulated response.
	GenerateStream(ctx context.Context, req *Request, deltaCh chan<- StreamChunk) (*Response, error)
}

// Provider is a named, introspectable Client — the thing a factory builds.
type Provider interface {
	Client
	Name() string
	Models() []string
	SupportsModel(model string) bool
	IsAvailable(ctx context.Context) bool
}

// ProviderConfig configures one provider instance.
type ProviderConfig struct {
	Name    string   `mapstructure:"name"`
	Type    string   `mapstructure:"type"` // "openai" (default), registered providers
	BaseURL string   `mapstructure:"base_url"`
	APIKey  string   `mapstructure:"api_key"`
	Models  []string `mapstructure:"models"`
	Timeout time.Duration
}

// Factory builds a Provider from config. Providers register themselves via
// init() in their own package — adding a new provider type means
// implementing Provider and calling RegisterFactory("type", New).
type Factory func(cfg ProviderConfig, logger *zap.Logger) Provider

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{}
)

// RegisterFactory registers a provider factory under typeName.
func RegisterFactory(typeName string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// CreateProvider builds a Provider using the registered factory for
// cfg.Type, defaulting to "openai" when Type is unset.
func CreateProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	t := cfg.Type
	if t == "" {
		t = "openai"
	}

	factoryMu.RLock()
	factory, ok := factories[t]
	factoryMu.RUnlock()
	if !ok {
		factoryMu.RLock()
		available := make([]string, 0, len(factories))
		for k := range factories {
			available = append(available, k)
		}
		factoryMu.RUnlock()
		return nil, fmt.Errorf("unknown llm provider type %q (available: %v)", t, available)
	}
	return factory(cfg, logger), nil
}
