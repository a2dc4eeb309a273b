// Package stt defines the Provider interface for speech transcription backends.
//
// The media pipeline segments caller speech upstream, so providers receive one
// complete WAV utterance per request rather than a live audio stream. The
// result carries the transcript together with a confidence score in [0,1]
// that downstream quality checks use to flag doubtful turns.
//
// Implementations must be safe for concurrent use; utterances from different
// calls may be transcribed in parallel.
package stt

import "context"

// Provider is the abstraction over any transcription backend.
type Provider interface {
	// Transcribe submits a complete WAV utterance and blocks until the
	// service responds or ctx expires. The caller sets the deadline.
	//
	// An empty transcript with a nil error means the service heard nothing
	// usable; callers should end the turn without replying.
	Transcribe(ctx context.Context, wav []byte) (Result, error)
}
