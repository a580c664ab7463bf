package llm

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OpenAICompatProvider is a Go-native client for the OpenAI chat-completions
// wire format, which Anthropic-, Bailian-, and Ollama-compatible endpoints
// all speak behind a proxy. It is intentionally the only concrete provider
// in this package — the agent loop depends on Client, never on this type.
type OpenAICompatProvider struct {
	name    string
	baseURL string
	apiKey  string
	models  []string
	client  *http.Client
	logger  *zap.Logger
}

// NewOpenAICompatProvider builds a provider against cfg.BaseURL (defaulting
// to the public OpenAI API).
func NewOpenAICompatProvider(cfg ProviderConfig, logger *zap.Logger) *OpenAICompatProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	// No total client Timeout: long LLM inferences must not be killed by a
	// wall-clock budget. Cancellation is the caller's context; the
	// transport-level timeouts below only bound connection setup.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &OpenAICompatProvider{
		name:    cfg.Name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		models:  cfg.Models,
		client:  &http.Client{Transport: transport},
		logger:  logger.With(zap.String("provider", cfg.Name)),
	}
}

var _ Provider = (*OpenAICompatProvider)(nil)

func (p *OpenAICompatProvider) Name() string    { return p.name }
func (p *OpenAICompatProvider) Models() []string { return p.models }

func (p *OpenAICompatProvider) SupportsModel(model string) bool {
	if len(p.models) == 0 {
		return true
	}
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

func (p *OpenAICompatProvider) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	p.authenticate(req)
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

func (p *OpenAICompatProvider) authenticate(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
}

type wireMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	ToolCalls  []wireToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type wireChoice struct {
	Message      wireMessage `json:"message"`
	Delta        wireMessage `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type wireResponse struct {
	Choices []wireChoice `json:"choices"`
	Usage   struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

func toWireRequest(req *Request, stream bool) wireRequest {
	wr := wireRequest{Model: req.Model, MaxTokens: req.MaxTokens, Temperature: req.Temperature, Stream: stream}
	for _, m := range req.Messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name}
		for _, tc := range m.ToolCalls {
			wtc := wireToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = tc.Arguments
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		wr.Messages = append(wr.Messages, wm)
	}
	for _, t := range req.Tools {
		wt := wireTool{Type: "function"}
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Parameters
		wr.Tools = append(wr.Tools, wt)
	}
	return wr
}

func fromWireMessage(m wireMessage) ([]ToolCall, string) {
	var calls []ToolCall
	for _, wtc := range m.ToolCalls {
		calls = append(calls, ToolCall{ID: wtc.ID, Name: wtc.Function.Name, Arguments: wtc.Function.Arguments})
	}
	return calls, m.Content
}

// Generate performs a single, non-streaming chat-completion call.
func (p *OpenAICompatProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(toWireRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	p.authenticate(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call provider %s: %w", p.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("provider %s returned %d: %s", p.name, resp.StatusCode, string(raw))
	}

	var wr wireResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(wr.Choices) == 0 {
		return nil, fmt.Errorf("provider %s returned no choices", p.name)
	}

	calls, content := fromWireMessage(wr.Choices[0].Message)
	return &Response{
		Content:      content,
		ToolCalls:    calls,
		ModelUsed:    wr.Model,
		TokensUsed:   wr.Usage.TotalTokens,
		FinishReason: wr.Choices[0].FinishReason,
	}, nil
}

// GenerateStream performs a streaming chat-completion call, emitting one
// StreamChunk per server-sent-event "data:" line until "[DONE]".
func (p *OpenAICompatProvider) GenerateStream(ctx context.Context, req *Request, deltaCh chan<- StreamChunk) (*Response, error) {
	defer close(deltaCh)

	body, err := json.Marshal(toWireRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	p.authenticate(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call provider %s: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("provider %s returned %d: %s", p.name, resp.StatusCode, string(raw))
	}

	var content strings.Builder
	var toolCalls []ToolCall
	finish := ""
	model := ""
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var wr wireResponse
		if err := json.Unmarshal([]byte(payload), &wr); err != nil {
			p.logger.Warn("skipping malformed stream chunk", zap.Error(err))
			continue
		}
		if wr.Model != "" {
			model = wr.Model
		}
		if len(wr.Choices) == 0 {
			continue
		}

		choice := wr.Choices[0]
		calls, delta := fromWireMessage(choice.Delta)
		if delta != "" {
			content.WriteString(delta)
		}
		toolCalls = append(toolCalls, calls...)
		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}

		var chunkCall *ToolCall
		if len(calls) > 0 {
			chunkCall = &calls[0]
		}
		select {
		case deltaCh <- StreamChunk{DeltaText: delta, DeltaToolCall: chunkCall, FinishReason: choice.FinishReason}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream scan error: %w", err)
	}

	return &Response{Content: content.String(), ToolCalls: toolCalls, ModelUsed: model, FinishReason: finish}, nil
}

func init() {
	RegisterFactory("openai", func(cfg ProviderConfig, logger *zap.Logger) Provider {
		return NewOpenAICompatProvider(cfg, logger)
	})
}
