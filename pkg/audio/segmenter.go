package audio

import "time"

// Default segmentation parameters, tuned for conversational telephone speech.
const (
	DefaultSilenceDuration   = 1200 * time.Millisecond
	DefaultMinSpeechDuration = 500 * time.Millisecond
	DefaultSilenceRMS        = 500
)

// SegmenterConfig holds the tunable thresholds of the silence detector.
type SegmenterConfig struct {
	// SilenceDuration is how long the signal must stay below SilenceRMS
	// after speech before the utterance is considered finished.
	SilenceDuration time.Duration
	// MinSpeechDuration is the minimum speech length worth transcribing;
	// shorter bursts are discarded as noise.
	MinSpeechDuration time.Duration
	// SilenceRMS is the energy threshold separating speech from silence.
	SilenceRMS int
}

// Utterance is one detected stretch of caller speech, still μ-law encoded.
type Utterance struct {
	Mulaw          []byte
	SpeechStart    time.Time
	SilenceAt      time.Time
	PeakRMS        int
	SpeechDuration time.Duration
}

// Segmenter accumulates inbound μ-law chunks and cuts them into utterances
// at sustained-silence boundaries. Audio during micro-pauses inside an
// utterance is kept so the transcript does not lose trailing syllables.
//
// The caller supplies the clock; the segmenter never reads wall time itself.
// Not safe for concurrent use; each call session owns one segmenter.
type Segmenter struct {
	cfg SegmenterConfig

	buf          []byte
	speaking     bool
	speechStart  time.Time
	silenceStart time.Time
	peakRMS      int
}

// NewSegmenter returns a segmenter with zero-value fields of cfg replaced
// by the package defaults.
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = DefaultSilenceDuration
	}
	if cfg.MinSpeechDuration <= 0 {
		cfg.MinSpeechDuration = DefaultMinSpeechDuration
	}
	if cfg.SilenceRMS <= 0 {
		cfg.SilenceRMS = DefaultSilenceRMS
	}
	return &Segmenter{cfg: cfg}
}

// SetConfig replaces the thresholds. Takes effect on the next Push; an
// in-flight utterance keeps accumulating under the new values.
func (s *Segmenter) SetConfig(cfg SegmenterConfig) {
	if cfg.SilenceDuration > 0 {
		s.cfg.SilenceDuration = cfg.SilenceDuration
	}
	if cfg.MinSpeechDuration > 0 {
		s.cfg.MinSpeechDuration = cfg.MinSpeechDuration
	}
	if cfg.SilenceRMS > 0 {
		s.cfg.SilenceRMS = cfg.SilenceRMS
	}
}

// Push feeds one inbound μ-law chunk observed at time now. It returns a
// finished utterance when sustained silence closes one, or nil.
func (s *Segmenter) Push(mulaw []byte, now time.Time) *Utterance {
	if len(mulaw) == 0 {
		return nil
	}
	rms := MulawRms(mulaw)

	if rms > s.cfg.SilenceRMS {
		if !s.speaking {
			s.speaking = true
			s.speechStart = now
		}
		s.buf = append(s.buf, mulaw...)
		if rms > s.peakRMS {
			s.peakRMS = rms
		}
		s.silenceStart = time.Time{}
		return nil
	}

	if !s.speaking {
		// Leading silence carries no information.
		return nil
	}

	// Keep micro-pause audio inside the utterance.
	s.buf = append(s.buf, mulaw...)
	if s.silenceStart.IsZero() {
		s.silenceStart = now
		return nil
	}
	if now.Sub(s.silenceStart) < s.cfg.SilenceDuration {
		return nil
	}

	speech := s.silenceStart.Sub(s.speechStart)
	if speech < s.cfg.MinSpeechDuration {
		s.reset()
		return nil
	}
	u := &Utterance{
		Mulaw:          s.buf,
		SpeechStart:    s.speechStart,
		SilenceAt:      s.silenceStart,
		PeakRMS:        s.peakRMS,
		SpeechDuration: speech,
	}
	s.reset()
	return u
}

// Flush closes any in-progress utterance at time now, typically when the
// media stream ends mid-speech. Discards speech shorter than the minimum.
func (s *Segmenter) Flush(now time.Time) *Utterance {
	if !s.speaking {
		return nil
	}
	end := s.silenceStart
	if end.IsZero() {
		end = now
	}
	speech := end.Sub(s.speechStart)
	if speech < s.cfg.MinSpeechDuration {
		s.reset()
		return nil
	}
	u := &Utterance{
		Mulaw:          s.buf,
		SpeechStart:    s.speechStart,
		SilenceAt:      end,
		PeakRMS:        s.peakRMS,
		SpeechDuration: speech,
	}
	s.reset()
	return u
}

// SpeechActive reports whether the segmenter is inside an utterance.
func (s *Segmenter) SpeechActive() bool { return s.speaking }

func (s *Segmenter) reset() {
	s.buf = nil
	s.speaking = false
	s.speechStart = time.Time{}
	s.silenceStart = time.Time{}
	s.peakRMS = 0
}
