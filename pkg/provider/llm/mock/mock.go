// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the requests the pipeline builds and
// to feed controlled replies without a live backend.
//
// Example:
//
//	p := &mock.Provider{Response: &llm.Response{Content: "Salve, mi dica."}}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/centralino-ai/centralino/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Req is the Request passed to Complete.
	Req llm.Request
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Response is returned by Complete when Err is nil. If nil, a default
	// empty response is returned.
	Response *llm.Response

	// Err, if non-nil, is returned as the error from Complete.
	Err error

	// Delay, if set, runs before each call returns; returning an error
	// aborts the call. Used to exercise timeout paths.
	Delay func(ctx context.Context) error

	// Calls records every invocation of Complete.
	Calls []CompleteCall
}

// Compile-time assertion that Provider implements llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns Response, Err.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if p.Delay != nil {
		if err := p.Delay(ctx); err != nil {
			return nil, err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, CompleteCall{Req: req})
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Response != nil {
		resp := *p.Response
		return &resp, nil
	}
	return &llm.Response{}, nil
}

// CallCount returns how many times Complete was invoked. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastRequest returns the most recent request, or a zero Request if none.
func (p *Provider) LastRequest() llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return llm.Request{}
	}
	return p.Calls[len(p.Calls)-1].Req
}
