package stt

import "time"

// Result is the outcome of transcribing one utterance.
type Result struct {
	// Text is the transcribed speech, whitespace-trimmed. May be empty.
	Text string

	// Confidence is the recognition confidence in [0,1]. Zero when Text is
	// empty. Derived from segment log-probabilities where the service
	// reports them; see ConfidenceFromAvgLogprob.
	Confidence float64

	// AudioDuration is the length of the submitted audio as reported by
	// the service. Zero if the service does not report it.
	AudioDuration time.Duration

	// Retried reports that the request succeeded only after a transient
	// failure. Callers surface this as a quality flag on the turn.
	Retried bool
}

// confidenceAnchors maps mean segment log-probability to confidence.
// Sorted ascending by log-probability; values between anchors are
// interpolated linearly, values outside are clamped.
var confidenceAnchors = []struct {
	logprob    float64
	confidence float64
}{
	{-3.0, 0.05},
	{-2.0, 0.35},
	{-1.5, 0.60},
	{-1.0, 0.85},
	{-0.5, 1.00},
}

// ConfidenceFromAvgLogprob maps a mean segment log-probability to a
// confidence score in [0,1] using a fixed monotone anchor table.
func ConfidenceFromAvgLogprob(lp float64) float64 {
	first := confidenceAnchors[0]
	if lp <= first.logprob {
		return first.confidence
	}
	for i := 1; i < len(confidenceAnchors); i++ {
		hi := confidenceAnchors[i]
		if lp <= hi.logprob {
			lo := confidenceAnchors[i-1]
			frac := (lp - lo.logprob) / (hi.logprob - lo.logprob)
			return lo.confidence + frac*(hi.confidence-lo.confidence)
		}
	}
	return confidenceAnchors[len(confidenceAnchors)-1].confidence
}
