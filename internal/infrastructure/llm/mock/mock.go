// Package mock is a scripted llm.Provider for agent-loop tests: no network,
// deterministic, lets a test drive the loop through a fixed turn sequence.
package mock

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/choiros/supervisor/internal/infrastructure/llm"
)

// Provider replays a fixed sequence of responses, one per Generate call,
// looping the last response once exhausted so a misbehaving test doesn't
// panic on an extra call. A Provider built with no responses returns an
// empty Response on every call.
type Provider struct {
	mu        sync.Mutex
	responses []llm.Response
	calls     int
	requests  []*llm.Request
}

// New returns a Provider that yields responses in order.
func New(responses ...llm.Response) *Provider {
	return &Provider{responses: responses}
}

func (p *Provider) Name() string    { return "mock" }
func (p *Provider) Models() []string { return []string{"mock-model"} }

func (p *Provider) SupportsModel(model string) bool { return true }

func (p *Provider) IsAvailable(ctx context.Context) bool { return true }

// Generate returns the next scripted response.
func (p *Provider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	if len(p.responses) == 0 {
		p.calls++
		return &llm.Response{}, nil
	}
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++

	resp := p.responses[idx]
	return &resp, nil
}

// GenerateStream replays the next scripted response as a single text chunk.
func (p *Provider) GenerateStream(ctx context.Context, req *llm.Request, deltaCh chan<- llm.StreamChunk) (*llm.Response, error) {
	resp, err := p.Generate(ctx, req)
	if err != nil {
		close(deltaCh)
		return nil, err
	}
	select {
	case deltaCh <- llm.StreamChunk{DeltaText: resp.Content, FinishReason: resp.FinishReason}:
	case <-ctx.Done():
		close(deltaCh)
		return nil, ctx.Err()
	}
	close(deltaCh)
	return resp, nil
}

// Requests returns every request Generate has seen, for assertions.
func (p *Provider) Requests() []*llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*llm.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

var _ llm.Provider = (*Provider)(nil)

func init() {
	llm.RegisterFactory("mock", func(cfg llm.ProviderConfig, logger *zap.Logger) llm.Provider {
		return New()
	})
}
