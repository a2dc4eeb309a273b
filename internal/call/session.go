// Package call owns one phone call end to end: the carrier media stream,
// silence segmentation, the turn pipeline (transcribe, reply, synthesize,
// play back), and clean teardown with analytics and transcript
// finalization.
package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/centralino-ai/centralino/internal/analytics"
	"github.com/centralino-ai/centralino/internal/config"
	"github.com/centralino-ai/centralino/internal/convo"
	"github.com/centralino-ai/centralino/internal/knowledge"
	"github.com/centralino-ai/centralino/internal/location"
	"github.com/centralino-ai/centralino/internal/observe"
	"github.com/centralino-ai/centralino/internal/transcripts"
	"github.com/centralino-ai/centralino/pkg/audio"
	"github.com/centralino-ai/centralino/pkg/provider/llm"
	"github.com/centralino-ai/centralino/pkg/provider/stt"
	"github.com/centralino-ai/centralino/pkg/provider/tts"
)

// Stage deadlines. A stage that misses its deadline emits the matching
// failed event and the turn degrades instead of stalling the call.
const (
	sttTimeout    = 15 * time.Second
	llmTimeout    = 10 * time.Second
	ttsTimeout    = 10 * time.Second
	hangupTimeout = 5 * time.Second

	// hangupDrain is the pause between the goodbye playback finishing and
	// the hangup request, so the carrier delivers the final audio.
	hangupDrain = 500 * time.Millisecond

	// longSilenceAfter is how long the caller may stay quiet while the agent
	// listens before the quality event fires.
	longSilenceAfter = 5 * time.Second
)

// State is the lifecycle position of a call session.
type State int32

const (
	StateAccepted State = iota
	StateHandshake
	StateGreeting
	StateListening
	StateProcessing
	StateHangingUp
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateHandshake:
		return "handshake"
	case StateGreeting:
		return "greeting"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateHangingUp:
		return "hanging_up"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// StreamWriter sends one outbound text frame on the carrier media stream.
type StreamWriter interface {
	Write(ctx context.Context, msg []byte) error
}

// HangupClient ends the call out of band at the carrier.
type HangupClient interface {
	Hangup(ctx context.Context, callSid string) error
}

// Events is the dashboard surface the session notifies. Implemented by the
// dashboard hub.
type Events interface {
	CallStarted(callID, caller, called string)
	TranscriptUpdate(callID, speaker, text string, turnIndex, latencyMs int)
	ProcessingStatus(callID, status string)
	CallEnded(callID string, durationSeconds int)
	Error(callID, errorType, message string)
}

// Deps are the collaborators a session needs. All fields except Location,
// Hangup, and Metrics are required.
type Deps struct {
	STT         stt.Provider
	LLM         llm.Provider
	TTS         tts.Provider
	Knowledge   *knowledge.Store
	Recorder    *analytics.Recorder
	Events      Events
	Transcripts *transcripts.Store
	Hangup      HangupClient
	Location    *location.Flow
	Metrics     *observe.Metrics

	// Params returns the current live tunables. Sampled at call start and
	// again at each turn boundary.
	Params func() config.Params

	// Clock replaces time.Now in tests.
	Clock func() time.Time

	// Sleep replaces playback pacing and drain sleeps in tests.
	Sleep func(time.Duration)
}

// Session is one live call. The media reader feeds it frames; a single
// worker goroutine runs the greeting and then one turn per utterance.
type Session struct {
	deps Deps

	callID    string
	caller    string
	called    string
	streamSid string

	conv   *convo.Conversation
	seg    *audio.Segmenter
	writer StreamWriter

	now   func() time.Time
	sleep func(time.Duration)

	state    atomic.Int32
	speaking atomic.Bool
	// interrupted marks that the caller spoke over the current playback,
	// so the advisory event fires once per playback.
	interrupted atomic.Bool
	// hangingUp means no further utterances start a turn.
	hangingUp atomic.Bool

	// utterances has capacity 1; a newer utterance replaces a queued one.
	utterances chan *audio.Utterance

	// mediaFrames counts inbound chunks; owned by the reader goroutine.
	mediaFrames int

	// silenceStart and longSilenceFired track caller silence while
	// listening; owned by the reader goroutine.
	silenceStart     time.Time
	longSilenceFired bool

	// turnMu serializes turn processing against the final flush at close.
	turnMu sync.Mutex

	started time.Time

	transcriptMu sync.Mutex
	transcript   []transcripts.Turn

	closeOnce sync.Once
	done      chan struct{}
}

// NewSession builds the session for a connected media stream and emits the
// call-started events. The knowledge snapshot and conversation prompt are
// fixed here for the life of the call.
func NewSession(deps Deps, callID, caller, called, streamSid string, writer StreamWriter) (*Session, error) {
	if callID == "" {
		return nil, fmt.Errorf("call: missing call sid in stream start")
	}
	snap := deps.Knowledge.Snapshot()
	if snap == nil {
		return nil, fmt.Errorf("call: no knowledge snapshot available")
	}
	params := deps.Params()

	s := &Session{
		deps:       deps,
		callID:     callID,
		caller:     caller,
		called:     called,
		streamSid:  streamSid,
		conv:       convo.New(snap, params.LLM.ContextTurns),
		writer:     writer,
		now:        time.Now,
		sleep:      time.Sleep,
		utterances: make(chan *audio.Utterance, 1),
		done:       make(chan struct{}),
	}
	if deps.Clock != nil {
		s.now = deps.Clock
	}
	if deps.Sleep != nil {
		s.sleep = deps.Sleep
	}
	s.seg = audio.NewSegmenter(segmenterConfig(params))
	s.started = s.now()
	s.state.Store(int32(StateHandshake))

	deps.Recorder.StartCall(callID, caller, called)
	deps.Recorder.Emit(callID, analytics.EventStreamConnected, map[string]any{"stream_sid": streamSid})
	deps.Events.CallStarted(callID, caller, called)
	if deps.Metrics != nil {
		deps.Metrics.ActiveCalls.Add(context.Background(), 1)
	}
	slog.Info("call session started", "call_id", callID, "caller", caller)
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// CallID returns the carrier call sid.
func (s *Session) CallID() string { return s.callID }

// Run plays the greeting and then processes utterances until the stream
// closes or a goodbye hangs up. Blocks; callers run it in a goroutine.
func (s *Session) Run(ctx context.Context) {
	s.playGreeting(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case utt := <-s.utterances:
			if s.hangingUp.Load() {
				continue
			}
			s.processTurn(ctx, utt)
		}
	}
}

// HandleMedia feeds one decoded inbound μ-law chunk into segmentation.
// Called from the stream reader goroutine.
func (s *Session) HandleMedia(chunk []byte) {
	if s.State() == StateEnded {
		return
	}

	if s.speaking.Load() {
		s.silenceStart = time.Time{}
		s.longSilenceFired = false
		// No barge-in: audio during playback is observed, not acted on.
		if !s.interrupted.Load() && audio.MulawRms(chunk) > s.currentSilenceRMS() {
			s.interrupted.Store(true)
			s.deps.Recorder.Emit(s.callID, analytics.EventInterruptDetected, map[string]any{
				"rms": audio.MulawRms(chunk),
			})
		}
		return
	}

	// Live tunables reach the segmenter between utterances. The segmenter
	// is only ever touched from the reader goroutine.
	s.mediaFrames++
	if s.mediaFrames%100 == 0 && !s.seg.SpeechActive() {
		s.seg.SetConfig(segmenterConfig(s.deps.Params()))
	}

	wasActive := s.seg.SpeechActive()
	utt := s.seg.Push(chunk, s.now())
	if !wasActive && s.seg.SpeechActive() {
		s.deps.Recorder.Emit(s.callID, analytics.EventSpeechStarted, nil)
	}
	if utt != nil {
		s.enqueue(utt)
	}
	s.watchSilence()
}

// watchSilence flags a caller who goes quiet while the agent listens. One
// event per listening period; speech or a playback restarts the period.
// Owned by the reader goroutine.
func (s *Session) watchSilence() {
	if s.seg.SpeechActive() {
		s.silenceStart = time.Time{}
		s.longSilenceFired = false
		return
	}
	if s.silenceStart.IsZero() {
		s.silenceStart = s.now()
		return
	}
	if s.longSilenceFired {
		return
	}
	if quiet := s.now().Sub(s.silenceStart); quiet >= longSilenceAfter {
		s.longSilenceFired = true
		s.deps.Recorder.Emit(s.callID, analytics.EventLongSilence, map[string]any{
			"silence_ms": int(quiet.Milliseconds()),
		})
	}
}

// HandleMark records a playback checkpoint echoed back by the carrier.
func (s *Session) HandleMark(name string) {
	s.deps.Recorder.Emit(s.callID, analytics.EventMarkReceived, map[string]any{"name": name})
}

// enqueue applies the replace-on-full policy: at most one utterance waits;
// a newer one evicts it.
func (s *Session) enqueue(utt *audio.Utterance) {
	for {
		select {
		case s.utterances <- utt:
			return
		default:
			select {
			case old := <-s.utterances:
				slog.Debug("queued utterance replaced", "call_id", s.callID, "discarded_ms", old.SpeechDuration.Milliseconds())
			default:
			}
		}
	}
}

// Close ends the session: flushes any in-progress utterance through the
// pipeline, finalizes analytics, saves the transcript, and notifies the
// dashboard. Idempotent.
func (s *Session) Close(ctx context.Context, reason string) {
	s.closeOnce.Do(func() {
		// Stop the worker before the final flush so the turn mutex is the
		// only serialization needed.
		close(s.done)

		if !s.hangingUp.Load() {
			if utt := s.seg.Flush(s.now()); utt != nil {
				s.processTurn(ctx, utt)
			}
		}

		s.state.Store(int32(StateEnded))
		duration := int(s.now().Sub(s.started).Seconds())

		if _, err := s.deps.Recorder.EndCall(s.callID, reason); err != nil {
			slog.Warn("analytics finalization failed", "call_id", s.callID, "err", err)
		}
		s.saveTranscript(duration)
		s.deps.Events.CallEnded(s.callID, duration)

		if s.deps.Metrics != nil {
			s.deps.Metrics.ActiveCalls.Add(context.Background(), -1)
			s.deps.Metrics.RecordCallEnded(context.Background(), reason)
		}
		slog.Info("call session ended", "call_id", s.callID, "reason", reason, "duration_s", duration)
	})
}

func (s *Session) saveTranscript(durationSeconds int) {
	s.transcriptMu.Lock()
	turns := append([]transcripts.Turn(nil), s.transcript...)
	s.transcriptMu.Unlock()

	rec := &transcripts.Record{
		CallID:          s.callID,
		Caller:          s.caller,
		Called:          s.called,
		StartedAt:       s.started.Format(time.RFC3339Nano),
		EndedAt:         s.now().Format(time.RFC3339Nano),
		DurationSeconds: durationSeconds,
		Status:          "ended",
		Turns:           turns,
	}
	if err := s.deps.Transcripts.Save(rec); err != nil {
		slog.Warn("transcript save failed", "call_id", s.callID, "err", err)
	}
}

func (s *Session) recordTranscriptTurn(speaker, text string) {
	s.transcriptMu.Lock()
	s.transcript = append(s.transcript, transcripts.Turn{
		Speaker:   speaker,
		Text:      text,
		Timestamp: s.now().Format(time.RFC3339Nano),
	})
	s.transcriptMu.Unlock()
}

func (s *Session) currentSilenceRMS() int {
	return s.deps.Params().Audio.SilenceThreshold
}

func segmenterConfig(p config.Params) audio.SegmenterConfig {
	return audio.SegmenterConfig{
		SilenceDuration:   time.Duration(p.Audio.SilenceDurationMs) * time.Millisecond,
		MinSpeechDuration: time.Duration(p.Audio.MinSpeechDurationMs) * time.Millisecond,
		SilenceRMS:        p.Audio.SilenceThreshold,
	}
}
