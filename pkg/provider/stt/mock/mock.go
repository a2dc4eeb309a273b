// Package mock provides a test double for the stt package interfaces.
//
// Script results by appending to Results/Errs; each Transcribe call consumes
// the next entry (the last one repeats). Recorded calls can be inspected
// through Calls.
package mock

import (
	"context"
	"sync"

	"github.com/centralino-ai/centralino/pkg/provider/stt"
)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results are returned in order by successive Transcribe calls. When
	// exhausted, the last entry repeats. Empty means zero-value results.
	Results []stt.Result

	// Errs are paired with Results by index; a nil entry means success.
	Errs []error

	// Delay, if set, is waited (or ctx expiry, whichever first) before
	// each call returns. Used to exercise timeout paths.
	Delay func(ctx context.Context) error

	// Calls records the WAV payload sizes of every Transcribe invocation.
	Calls []int

	next int
}

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Transcribe returns the next scripted result.
func (p *Provider) Transcribe(ctx context.Context, wav []byte) (stt.Result, error) {
	if p.Delay != nil {
		if err := p.Delay(ctx); err != nil {
			return stt.Result{}, err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, len(wav))

	i := p.next
	if i >= len(p.Results) && len(p.Results) > 0 {
		i = len(p.Results) - 1
	}
	p.next++

	var err error
	if i < len(p.Errs) {
		err = p.Errs[i]
	}
	if err != nil {
		return stt.Result{}, err
	}
	if i < len(p.Results) {
		return p.Results[i], nil
	}
	return stt.Result{}, nil
}

// CallCount returns how many times Transcribe was invoked. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
