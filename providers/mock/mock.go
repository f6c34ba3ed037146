// Package mock provides a scripted chat provider for tests and test mode.
package mock

import (
	"context"
	"sync"

	"github.com/AltairaLabs/IntakeKit/providers"
)

// Provider is a deterministic in-memory chat provider. Responses are either
// popped from a queued script or produced by a response function. It records
// every request for assertions.
type Provider struct {
	id string

	mu        sync.Mutex
	queue     []providers.ChatResponse
	responder func(req providers.ChatRequest) providers.ChatResponse
	requests  []providers.ChatRequest
	closed    bool
}

// Option configures a mock Provider.
type Option func(*Provider)

// WithResponder sets a function consulted when the queue is empty.
func WithResponder(fn func(req providers.ChatRequest) providers.ChatResponse) Option {
	return func(p *Provider) {
		p.responder = fn
	}
}

// New creates a mock provider.
func New(id string, opts ...Option) *Provider {
	p := &Provider{id: id}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ID returns the provider ID.
func (p *Provider) ID() string {
	return p.id
}

// Enqueue appends responses to the script. Each Chat call consumes one.
func (p *Provider) Enqueue(responses ...providers.ChatResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, responses...)
}

// Chat returns the next scripted response. With an empty queue it falls back
// to the responder function, or to a fixed canned reply.
func (p *Provider) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return providers.ChatResponse{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)

	if len(p.queue) > 0 {
		resp := p.queue[0]
		p.queue = p.queue[1:]
		return resp, nil
	}

	if p.responder != nil {
		return p.responder(req), nil
	}

	return providers.ChatResponse{Content: "Thank you. Could you repeat that, please?"}, nil
}

// Requests returns a copy of every request seen so far.
func (p *Provider) Requests() []providers.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]providers.ChatRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// Close marks the provider closed.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
