// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/centralino-ai/centralino/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is the PCM returned by Synthesize when Err is nil.
	Audio []byte

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// Delay, if set, runs before each call returns; returning an error
	// aborts the call. Used to exercise timeout paths.
	Delay func(ctx context.Context) error

	// Calls records every request passed to Synthesize.
	Calls []tts.Request
}

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and returns Audio, Err.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	if p.Delay != nil {
		if err := p.Delay(ctx); err != nil {
			return nil, err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, req)
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Audio, nil
}

// CallCount returns how many times Synthesize was invoked. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
