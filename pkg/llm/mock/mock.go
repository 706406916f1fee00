// Package mock provides an in-memory [llm.Provider] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/darasahub/voicenav/pkg/llm"
)

// Provider is a scripted [llm.Provider]. Responses are returned in order;
// when the script runs out, Fallback is returned.
type Provider struct {
	mu sync.Mutex

	// Responses are returned one per Complete call, in order.
	Responses []string

	// Fallback is returned once Responses is exhausted.
	Fallback string

	// Err, when non-nil, is returned by every Complete call.
	Err error

	// Requests records every request received.
	Requests []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements [llm.Provider].
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Requests = append(p.Requests, req)
	if p.Err != nil {
		return "", p.Err
	}
	if len(p.Responses) > 0 {
		resp := p.Responses[0]
		p.Responses = p.Responses[1:]
		return resp, nil
	}
	return p.Fallback, nil
}

// Calls returns how many Complete calls have been made.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}
