package analytics

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// timeLayout is the timestamp format used in event streams. Nanosecond
// precision keeps event ordering unambiguous within a turn.
const timeLayout = time.RFC3339Nano

// Thresholds are the quality limits applied while recording and when
// deriving turn flags. They are sampled per call so live tuning applies to
// the next call without disturbing active ones.
type Thresholds struct {
	Confidence     float64
	SlowResponseMs int
	Echo           float64
	Repeat         float64
}

// DefaultThresholds returns the baseline quality limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Confidence:     0.80,
		SlowResponseMs: 4000,
		Echo:           0.60,
		Repeat:         0.80,
	}
}

// Broadcaster receives every emitted event for live forwarding. Implemented
// by the dashboard hub; a nil broadcaster disables forwarding.
type Broadcaster interface {
	AnalyticsEvent(callID string, evt Event)
}

// recentTranscript pairs a caller transcript with the turn it occurred in,
// for repeat detection.
type recentTranscript struct {
	turn int
	text string
}

// session is the in-memory state for one instrumented call.
type session struct {
	callID  string
	caller  string
	called  string
	started time.Time

	events    []Event
	counter   int
	turnIndex int

	// recentAIOutputs holds the last 3 AI replies for echo detection.
	recentAIOutputs []string
	// recentCallerTranscripts holds the last 5 caller turns for repeat
	// detection.
	recentCallerTranscripts []recentTranscript

	thresholds Thresholds

	// diskOK turns false after the first write failure; the session then
	// runs memory-only and the stream is still derivable at call end.
	diskOK bool
}

// Recorder owns analytics sessions for active calls and the on-disk
// analytics tree. Safe for concurrent use.
type Recorder struct {
	root        string
	now         func() time.Time
	broadcaster Broadcaster
	thresholds  func() Thresholds

	mu       sync.Mutex
	sessions map[string]*session
}

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithBroadcaster forwards every emitted event to b.
func WithBroadcaster(b Broadcaster) RecorderOption {
	return func(r *Recorder) { r.broadcaster = b }
}

// WithClock replaces the time source. Used in tests.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// WithThresholds supplies live quality limits; the function is called once
// per call at start.
func WithThresholds(fn func() Thresholds) RecorderOption {
	return func(r *Recorder) { r.thresholds = fn }
}

// NewRecorder creates a recorder writing under root. The directory is
// created lazily per call; a failure there degrades that call to
// memory-only recording.
func NewRecorder(root string, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		root:       root,
		now:        time.Now,
		thresholds: DefaultThresholds,
		sessions:   make(map[string]*session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StartCall begins instrumenting a call and emits the call_started event as
// turn 0.
func (r *Recorder) StartCall(callID, caller, called string) {
	s := &session{
		callID:     callID,
		caller:     caller,
		called:     called,
		started:    r.now(),
		thresholds: r.thresholds(),
		diskOK:     true,
	}

	if err := os.MkdirAll(r.callDir(callID), 0o755); err != nil {
		slog.Warn("analytics directory unavailable, recording in memory only", "call_id", callID, "err", err)
		s.diskOK = false
	}

	r.mu.Lock()
	r.sessions[callID] = s
	r.mu.Unlock()

	r.Emit(callID, EventCallStarted, map[string]any{
		"caller": caller,
		"called": called,
	})
	slog.Info("analytics started", "call_id", callID)
}

// StartTurn marks the start of a new conversation turn and returns its
// index. Turn 0 is the greeting; caller turns start at 1.
func (r *Recorder) StartTurn(callID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if !ok {
		return 0
	}
	s.turnIndex++
	return s.turnIndex
}

// Emit records one event in the call's stream: appended in memory, appended
// to events.jsonl, and forwarded to the broadcaster. Unknown call IDs are
// dropped with a warning.
func (r *Recorder) Emit(callID string, typ EventType, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}

	r.mu.Lock()
	s, ok := r.sessions[callID]
	if !ok {
		r.mu.Unlock()
		slog.Warn("cannot emit analytics event, no session", "call_id", callID, "type", typ)
		return
	}
	evt := Event{
		ID:        fmt.Sprintf("evt_%04d", s.counter),
		Type:      typ,
		Timestamp: r.now().Format(timeLayout),
		TurnIndex: s.turnIndex,
		Data:      data,
	}
	s.events = append(s.events, evt)
	s.counter++
	diskOK := s.diskOK
	r.mu.Unlock()

	if diskOK {
		if err := r.appendEvent(callID, evt); err != nil {
			slog.Warn("event write failed, call degrades to memory-only", "call_id", callID, "err", err)
			r.mu.Lock()
			if s, ok := r.sessions[callID]; ok {
				s.diskOK = false
			}
			r.mu.Unlock()
		}
	}

	if r.broadcaster != nil {
		r.broadcaster.AnalyticsEvent(callID, evt)
	}
}

// WhisperCompleted records a finished transcription and runs the quality
// checks: low confidence, echo against the last AI replies, and repeats
// against recent caller turns.
func (r *Recorder) WhisperCompleted(callID, transcript string, durationMs int, confidence float64, retried bool) {
	r.Emit(callID, EventWhisperCompleted, map[string]any{
		"transcript":  transcript,
		"duration_ms": durationMs,
		"confidence":  confidence,
		"retried":     retried,
		"language":    "it",
	})

	r.mu.Lock()
	s, ok := r.sessions[callID]
	if !ok {
		r.mu.Unlock()
		return
	}
	th := s.thresholds
	aiOutputs := append([]string(nil), s.recentAIOutputs...)
	recents := append([]recentTranscript(nil), s.recentCallerTranscripts...)
	turn := s.turnIndex

	s.recentCallerTranscripts = append(s.recentCallerTranscripts, recentTranscript{turn: turn, text: transcript})
	if len(s.recentCallerTranscripts) > 5 {
		s.recentCallerTranscripts = s.recentCallerTranscripts[len(s.recentCallerTranscripts)-5:]
	}
	r.mu.Unlock()

	if confidence > 0 && confidence < th.Confidence {
		r.Emit(callID, EventLowConfidence, map[string]any{
			"confidence": confidence,
			"threshold":  th.Confidence,
		})
	}

	if score := MaxSimilarity(transcript, aiOutputs); score >= th.Echo {
		r.Emit(callID, EventEchoDetected, map[string]any{
			"similarity_score": score,
			"matched_text":     truncate(transcript, 50),
		})
	}

	if score, origin := bestRepeat(transcript, recents); score >= th.Repeat {
		r.Emit(callID, EventRepeatDetected, map[string]any{
			"similarity_score": score,
			"original_turn":    origin,
		})
	}
}

// ClaudeCompleted records a finished reply generation and tracks the reply
// for echo detection.
func (r *Recorder) ClaudeCompleted(callID, response string, durationMs, inputTokens, outputTokens int) {
	r.Emit(callID, EventClaudeCompleted, map[string]any{
		"response":      response,
		"duration_ms":   durationMs,
		"input_tokens":  inputTokens,
		"output_tokens": outputTokens,
	})

	r.mu.Lock()
	if s, ok := r.sessions[callID]; ok {
		s.recentAIOutputs = append(s.recentAIOutputs, response)
		if len(s.recentAIOutputs) > 3 {
			s.recentAIOutputs = s.recentAIOutputs[len(s.recentAIOutputs)-3:]
		}
	}
	r.mu.Unlock()
}

// Events returns a copy of the event stream of an active call.
func (r *Recorder) Events(callID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if !ok {
		return nil
	}
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Active reports whether callID has a live analytics session.
func (r *Recorder) Active(callID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[callID]
	return ok
}

// EndCall finishes instrumentation: emits call_ended, derives turns and the
// call summary from the event stream, persists both, and drops the session.
func (r *Recorder) EndCall(callID, reason string) (*Summary, error) {
	r.mu.Lock()
	s, ok := r.sessions[callID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("analytics: no session for call %s", callID)
	}

	r.Emit(callID, EventCallEnded, map[string]any{
		"reason":      reason,
		"total_turns": s.turnIndex,
	})

	r.mu.Lock()
	delete(r.sessions, callID)
	events := s.events
	r.mu.Unlock()

	ended := r.now()
	turns := ComputeTurns(events, s.thresholds)
	summary := ComputeSummary(s.callID, s.caller, s.called, s.started, ended, turns)

	if s.diskOK {
		if err := writeJSONFile(filepath.Join(r.callDir(callID), "turns.json"), turns); err != nil {
			slog.Warn("failed to save turns", "call_id", callID, "err", err)
		}
		if err := writeJSONFile(filepath.Join(r.callDir(callID), "summary.json"), summary); err != nil {
			slog.Warn("failed to save summary", "call_id", callID, "err", err)
		}
	}

	slog.Info("analytics completed", "call_id", callID, "turns", len(turns), "avg_latency_ms", summary.AvgTotalMs)
	return summary, nil
}

func (r *Recorder) callDir(callID string) string {
	return filepath.Join(r.root, callID)
}

func (r *Recorder) appendEvent(callID string, evt Event) error {
	line, err := evt.MarshalLine()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(r.callDir(callID), "events.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// bestRepeat returns the highest similarity against recent caller turns and
// the turn index it came from.
func bestRepeat(transcript string, recents []recentTranscript) (float64, int) {
	best, origin := 0.0, -1
	for _, rt := range recents {
		if s := Similarity(transcript, rt.text); s > best {
			best, origin = s, rt.turn
		}
	}
	return best, origin
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
