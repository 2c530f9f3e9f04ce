// Package mock provides a scripted [llm.Provider] for tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/ashureev/classroom-labs/internal/llm"
)

// ErrExhausted is returned once every scripted reply has been consumed.
var ErrExhausted = errors.New("mock: no scripted replies left")

// Provider replays Replies in order and records every request.
type Provider struct {
	mu sync.Mutex

	// Replies are returned one per Complete call.
	Replies []string
	// Err, if non-nil, is returned by every Complete call.
	Err error

	calls []llm.CompletionRequest
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.Replies) == 0 {
		return nil, ErrExhausted
	}
	reply := p.Replies[0]
	p.Replies = p.Replies[1:]
	return &llm.CompletionResponse{Content: reply}, nil
}

// Calls returns the requests received so far.
func (p *Provider) Calls() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.calls))
	copy(out, p.calls)
	return out
}
