package tts

// SampleRate is the PCM sample rate every provider must emit, in Hz.
const SampleRate = 24000

// Request describes one synthesis job.
type Request struct {
	// Text is the reply to speak.
	Text string

	// Voice selects the voice profile. Empty means provider default.
	Voice string

	// Speed is the playback rate multiplier in [0.5, 1.5]. Zero means
	// provider default.
	Speed float64
}
