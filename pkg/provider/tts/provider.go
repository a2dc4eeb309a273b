// Package tts defines the Provider interface for speech synthesis backends.
//
// Providers return one complete reply as raw 24 kHz 16-bit mono PCM; the
// call session resamples and μ-law encodes it for the carrier. Streaming
// synthesis is deliberately absent: replies are short by prompt design and
// playback pacing dominates latency anyway.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any speech synthesis backend.
type Provider interface {
	// Synthesize converts text to raw PCM at SampleRate. The caller sets
	// the deadline through ctx. An empty text input is an error.
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}
