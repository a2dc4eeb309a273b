// Package llm defines the Provider interface for reply-generation backends.
//
// The conversation layer supplies a fixed system prompt and a rolling tail of
// caller/assistant messages; providers return the full reply text plus token
// usage. Streaming is deliberately absent: replies are short by prompt
// design and are synthesized as a whole before playback.
//
// Implementations must be safe for concurrent use; turns from different
// calls may overlap.
package llm

import "context"

// Provider is the abstraction over any reply-generation backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// The caller sets the deadline through ctx. A nil error guarantees a
	// non-nil response.
	Complete(ctx context.Context, req Request) (*Response, error)
}
