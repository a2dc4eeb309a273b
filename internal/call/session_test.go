package call

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/centralino-ai/centralino/internal/analytics"
	"github.com/centralino-ai/centralino/internal/carrier"
	"github.com/centralino-ai/centralino/internal/config"
	"github.com/centralino-ai/centralino/internal/convo"
	"github.com/centralino-ai/centralino/internal/knowledge"
	"github.com/centralino-ai/centralino/internal/transcripts"
	"github.com/centralino-ai/centralino/pkg/audio"
	"github.com/centralino-ai/centralino/pkg/provider/llm"
	llmmock "github.com/centralino-ai/centralino/pkg/provider/llm/mock"
	"github.com/centralino-ai/centralino/pkg/provider/stt"
	sttmock "github.com/centralino-ai/centralino/pkg/provider/stt/mock"
	ttsmock "github.com/centralino-ai/centralino/pkg/provider/tts/mock"
)

const testCallSid = "CA100"

type fakeEvents struct {
	mu          sync.Mutex
	started     []string
	transcripts []string // speaker: prefix of text
	statuses    []string
	ended       []int
	errors      []string // error type
}

func (e *fakeEvents) CallStarted(callID, caller, called string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, callID)
}

func (e *fakeEvents) TranscriptUpdate(callID, speaker, text string, turnIndex, latencyMs int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transcripts = append(e.transcripts, speaker+": "+text)
}

func (e *fakeEvents) ProcessingStatus(callID, status string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses = append(e.statuses, status)
}

func (e *fakeEvents) CallEnded(callID string, durationSeconds int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ended = append(e.ended, durationSeconds)
}

func (e *fakeEvents) Error(callID, errorType, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors = append(e.errors, errorType)
}

type fakeStream struct {
	mu     sync.Mutex
	frames []*carrier.Frame
}

func (f *fakeStream) Write(ctx context.Context, msg []byte) error {
	frame, err := carrier.ParseFrame(msg)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeStream) counts() (media, marks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fr := range f.frames {
		switch fr.Event {
		case carrier.EventMedia:
			media++
		case carrier.EventMark:
			marks++
		}
	}
	return media, marks
}

type fakeHangup struct {
	mu    sync.Mutex
	calls []string
}

func (h *fakeHangup) Hangup(ctx context.Context, callSid string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, callSid)
	return nil
}

func (h *fakeHangup) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

type harness struct {
	stt    *sttmock.Provider
	llm    *llmmock.Provider
	tts    *ttsmock.Provider
	events *fakeEvents
	stream *fakeStream
	hangup *fakeHangup
	rec    *analytics.Recorder
	trans  *transcripts.Store
	params config.Params
	clock  func() time.Time
	deps   Deps
	sess   *Session

	sleepMu sync.Mutex
	slept   []time.Duration
}

func (h *harness) recordSleep(d time.Duration) {
	h.sleepMu.Lock()
	defer h.sleepMu.Unlock()
	h.slept = append(h.slept, d)
}

func (h *harness) sleptContains(d time.Duration) bool {
	h.sleepMu.Lock()
	defer h.sleepMu.Unlock()
	for _, s := range h.slept {
		if s == d {
			return true
		}
	}
	return false
}

func newHarness(t *testing.T, opts ...func(*harness)) *harness {
	t.Helper()
	know, err := knowledge.NewStore(filepath.Join(t.TempDir(), "knowledge.json"))
	if err != nil {
		t.Fatalf("knowledge store: %v", err)
	}

	h := &harness{
		stt:    &sttmock.Provider{Results: []stt.Result{{Text: "Quanto costa il servizio?", Confidence: 0.95}}},
		llm:    &llmmock.Provider{Response: &llm.Response{Content: "Costa venti euro.", Usage: llm.Usage{InputTokens: 120, OutputTokens: 16}}},
		tts:    &ttsmock.Provider{Audio: make([]byte, 4800)},
		events: &fakeEvents{},
		stream: &fakeStream{},
		hangup: &fakeHangup{},
		rec:    analytics.NewRecorder(t.TempDir()),
		trans:  transcripts.NewStore(filepath.Join(t.TempDir(), "transcripts")),
		params: config.DefaultParams(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.deps = Deps{
		STT:         h.stt,
		LLM:         h.llm,
		TTS:         h.tts,
		Knowledge:   know,
		Recorder:    h.rec,
		Events:      h.events,
		Transcripts: h.trans,
		Hangup:      h.hangup,
		Params:      func() config.Params { return h.params },
		Clock:       h.clock,
		Sleep:       h.recordSleep,
	}
	sess, err := NewSession(h.deps, testCallSid, "+393331234567", "+390551112222", "MS1", h.stream)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	h.sess = sess
	return h
}

func (h *harness) eventTypes() []analytics.EventType {
	var types []analytics.EventType
	for _, evt := range h.rec.Events(testCallSid) {
		types = append(types, evt.Type)
	}
	return types
}

func (h *harness) findEvent(typ analytics.EventType) (analytics.Event, bool) {
	for _, evt := range h.rec.Events(testCallSid) {
		if evt.Type == typ {
			return evt, true
		}
	}
	return analytics.Event{}, false
}

func (h *harness) countEvents(typ analytics.EventType) int {
	n := 0
	for _, evt := range h.rec.Events(testCallSid) {
		if evt.Type == typ {
			n++
		}
	}
	return n
}

func utterance(speech time.Duration) *audio.Utterance {
	return &audio.Utterance{
		Mulaw:          make([]byte, 8000),
		SpeechDuration: speech,
	}
}

func assertTypes(t *testing.T, got, want []analytics.EventType) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestSession_GreetingEventOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.sess.playGreeting(context.Background())

	assertTypes(t, h.eventTypes(), []analytics.EventType{
		analytics.EventCallStarted,
		analytics.EventStreamConnected,
		analytics.EventGreetingStarted,
		analytics.EventTTSStarted,
		analytics.EventTTSCompleted,
		analytics.EventPlaybackStarted,
		analytics.EventPlaybackCompleted,
		analytics.EventGreetingCompleted,
	})

	if h.sess.State() != StateListening {
		t.Errorf("state = %s, want listening", h.sess.State())
	}
	media, marks := h.stream.counts()
	if media == 0 || marks != 1 {
		t.Errorf("stream frames: media=%d marks=%d", media, marks)
	}
	if len(h.tts.Calls) != 1 || h.tts.Calls[0].Text != h.sess.conv.Greeting() {
		t.Errorf("tts calls = %+v", h.tts.Calls)
	}
}

func TestSession_GreetingOnlyCall(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.sess.playGreeting(ctx)
	h.sess.Close(ctx, "completed")

	if h.sess.State() != StateEnded {
		t.Errorf("state = %s", h.sess.State())
	}
	if len(h.events.ended) != 1 {
		t.Errorf("dashboard call-ended notifications = %v", h.events.ended)
	}

	rec, err := h.trans.Get(testCallSid)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if len(rec.Turns) != 1 || rec.Turns[0].Speaker != "ai" {
		t.Errorf("transcript turns = %+v", rec.Turns)
	}
}

func TestSession_SingleExchange(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.sess.playGreeting(ctx)
	h.sess.processTurn(ctx, utterance(900*time.Millisecond))

	turnEvents := h.eventTypes()[8:]
	assertTypes(t, turnEvents, []analytics.EventType{
		analytics.EventSilenceDetected,
		analytics.EventWhisperStarted,
		analytics.EventWhisperCompleted,
		analytics.EventClaudeStarted,
		analytics.EventClaudeCompleted,
		analytics.EventTTSStarted,
		analytics.EventTTSCompleted,
		analytics.EventPlaybackStarted,
		analytics.EventPlaybackCompleted,
	})

	if h.sess.conv.Len() != 3 {
		t.Errorf("history length = %d, want greeting + caller + reply", h.sess.conv.Len())
	}
	if got := h.events.transcripts; len(got) != 3 ||
		got[1] != "caller: Quanto costa il servizio?" ||
		got[2] != "ai: Costa venti euro." {
		t.Errorf("dashboard transcripts = %v", got)
	}
	if h.llm.CallCount() != 1 {
		t.Errorf("llm calls = %d", h.llm.CallCount())
	}
	req := h.llm.LastRequest()
	if req.MaxTokens != h.params.LLM.MaxTokens || len(req.Messages) == 0 {
		t.Errorf("llm request = %+v", req)
	}
	if last := req.Messages[len(req.Messages)-1]; last.Role != llm.RoleUser {
		t.Errorf("last context message = %+v", last)
	}
}

func TestSession_QuickReplyBypassesModel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(h *harness) {
		h.stt.Results = []stt.Result{{Text: "Grazie.", Confidence: 0.97}}
	})
	ctx := context.Background()
	h.sess.playGreeting(ctx)
	h.sess.processTurn(ctx, utterance(600*time.Millisecond))

	if h.llm.CallCount() != 0 {
		t.Errorf("model should not be called for a quick reply, got %d calls", h.llm.CallCount())
	}
	started, ok := h.findEvent(analytics.EventClaudeStarted)
	if !ok || started.Data["quick_reply"] != true {
		t.Errorf("claude_started = %+v", started)
	}
	completed, ok := h.findEvent(analytics.EventClaudeCompleted)
	if !ok {
		t.Fatal("claude_completed missing")
	}
	if completed.Data["response"] != "Prego." ||
		completed.Data["input_tokens"] != 0 || completed.Data["output_tokens"] != 0 {
		t.Errorf("claude_completed data = %+v", completed.Data)
	}
	if len(h.tts.Calls) != 2 || h.tts.Calls[1].Text != "Prego." {
		t.Errorf("tts calls = %+v", h.tts.Calls)
	}
}

func TestSession_STTFailureEndsTurn(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(h *harness) {
		h.stt.Errs = []error{errors.New("transcription service down")}
	})
	ctx := context.Background()
	h.sess.playGreeting(ctx)
	h.sess.processTurn(ctx, utterance(time.Second))

	if _, ok := h.findEvent(analytics.EventWhisperFailed); !ok {
		t.Error("whisper_failed missing")
	}
	if _, ok := h.findEvent(analytics.EventClaudeStarted); ok {
		t.Error("no reply generation after STT failure")
	}
	if h.countEvents(analytics.EventTTSStarted) != 1 {
		t.Error("only the greeting may reach TTS")
	}
	if h.sess.conv.Len() != 1 {
		t.Errorf("history must be untouched, length = %d", h.sess.conv.Len())
	}
	if len(h.events.errors) != 1 || h.events.errors[0] != "stt_failed" {
		t.Errorf("dashboard errors = %v", h.events.errors)
	}
	if h.sess.State() != StateListening {
		t.Errorf("state = %s, want listening", h.sess.State())
	}
}

func TestSession_EmptyTranscriptEndsTurn(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(h *harness) {
		h.stt.Results = []stt.Result{{Text: "", Confidence: 0}}
	})
	ctx := context.Background()
	h.sess.playGreeting(ctx)
	h.sess.processTurn(ctx, utterance(time.Second))

	if _, ok := h.findEvent(analytics.EventWhisperCompleted); !ok {
		t.Error("whisper_completed missing")
	}
	if _, ok := h.findEvent(analytics.EventClaudeStarted); ok {
		t.Error("empty transcript must not reach the model")
	}
	if h.sess.conv.Len() != 1 {
		t.Errorf("history length = %d", h.sess.conv.Len())
	}
}

func TestSession_LLMFailureFallsBackToStallPhrase(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(h *harness) {
		h.llm.Err = errors.New("model overloaded")
	})
	ctx := context.Background()
	h.sess.playGreeting(ctx)
	h.sess.processTurn(ctx, utterance(time.Second))

	if _, ok := h.findEvent(analytics.EventClaudeFailed); !ok {
		t.Error("claude_failed missing")
	}
	if _, ok := h.findEvent(analytics.EventClaudeCompleted); ok {
		t.Error("claude_completed must not follow claude_failed")
	}
	if len(h.tts.Calls) != 2 || h.tts.Calls[1].Text != convo.StallPhrase {
		t.Errorf("tts calls = %+v", h.tts.Calls)
	}
	hist := h.sess.conv.History()
	if hist[len(hist)-1].Content != convo.StallPhrase {
		t.Errorf("last history entry = %+v", hist[len(hist)-1])
	}
}

func TestSession_TTSFailureKeepsReplyInHistory(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.sess.playGreeting(ctx)
	mediaBefore, _ := h.stream.counts()
	h.tts.Err = errors.New("synthesis failed")
	h.sess.processTurn(ctx, utterance(time.Second))

	if h.countEvents(analytics.EventTTSFailed) != 1 {
		t.Error("tts_failed missing")
	}
	if h.countEvents(analytics.EventPlaybackStarted) != 1 {
		t.Error("failed synthesis must not start playback")
	}
	mediaAfter, _ := h.stream.counts()
	if mediaAfter != mediaBefore {
		t.Errorf("media frames grew from %d to %d", mediaBefore, mediaAfter)
	}
	hist := h.sess.conv.History()
	if hist[len(hist)-1].Content != "Costa venti euro." {
		t.Errorf("reply must stay in history, last = %+v", hist[len(hist)-1])
	}
}

func TestSession_GoodbyeHangsUp(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(h *harness) {
		h.llm.Response = &llm.Response{Content: "Va bene, arrivederci e buona giornata."}
	})
	ctx := context.Background()
	h.sess.playGreeting(ctx)
	h.sess.processTurn(ctx, utterance(time.Second))

	if h.hangup.count() != 1 {
		t.Fatalf("hangup calls = %d", h.hangup.count())
	}
	if h.sess.State() != StateHangingUp {
		t.Errorf("state = %s", h.sess.State())
	}
	if !h.sleptContains(hangupDrain) {
		t.Error("playback drain pause missing before hangup")
	}
}

func TestSession_GoodbyeQuickReplyHangsUp(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(h *harness) {
		h.stt.Results = []stt.Result{{Text: "Arrivederci!", Confidence: 0.96}}
	})
	ctx := context.Background()
	h.sess.playGreeting(ctx)
	h.sess.processTurn(ctx, utterance(600*time.Millisecond))

	if h.llm.CallCount() != 0 {
		t.Errorf("quick reply must bypass the model, got %d calls", h.llm.CallCount())
	}
	if len(h.tts.Calls) != 2 || h.tts.Calls[1].Text != "Arrivederci." {
		t.Errorf("tts calls = %+v", h.tts.Calls)
	}
	if h.hangup.count() != 1 {
		t.Fatalf("hangup calls = %d, want the farewell to end the call", h.hangup.count())
	}
	if h.sess.State() != StateHangingUp {
		t.Errorf("state = %s", h.sess.State())
	}
}

func TestSession_EnqueueReplacesQueued(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	first := utterance(time.Second)
	second := utterance(2 * time.Second)

	h.sess.enqueue(first)
	h.sess.enqueue(second)

	select {
	case got := <-h.sess.utterances:
		if got != second {
			t.Error("queued utterance was not replaced by the newer one")
		}
	default:
		t.Fatal("queue empty")
	}
}

func TestSession_InterruptDetectedOncePerPlayback(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.sess.speaking.Store(true)

	loud := loudChunk(8000)
	h.sess.HandleMedia(loud)
	h.sess.HandleMedia(loud)

	if n := h.countEvents(analytics.EventInterruptDetected); n != 1 {
		t.Errorf("interrupt_detected count = %d", n)
	}
}

func TestSession_LongSilenceFlaggedOncePerPeriod(t *testing.T) {
	t.Parallel()
	now := time.Now()
	h := newHarness(t, func(h *harness) {
		h.clock = func() time.Time { return now }
	})

	quiet := quietChunk()
	h.sess.HandleMedia(quiet)
	now = now.Add(4 * time.Second)
	h.sess.HandleMedia(quiet)
	if n := h.countEvents(analytics.EventLongSilence); n != 0 {
		t.Fatalf("long_silence count = %d before the threshold", n)
	}

	now = now.Add(2 * time.Second)
	h.sess.HandleMedia(quiet)
	if n := h.countEvents(analytics.EventLongSilence); n != 1 {
		t.Fatalf("long_silence count = %d, want 1", n)
	}
	evt, _ := h.findEvent(analytics.EventLongSilence)
	if ms, _ := evt.Data["silence_ms"].(int); ms < 5000 {
		t.Errorf("silence_ms = %v", evt.Data["silence_ms"])
	}

	// Staying quiet must not refire within the same listening period.
	now = now.Add(30 * time.Second)
	h.sess.HandleMedia(quiet)
	if n := h.countEvents(analytics.EventLongSilence); n != 1 {
		t.Errorf("long_silence count = %d after continued silence, want 1", n)
	}
}

func TestSession_CloseFlushesBufferedSpeech(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(h *harness) {
		h.params.Audio.MinSpeechDurationMs = 40
	})
	ctx := context.Background()
	h.sess.playGreeting(ctx)

	loud := loudChunk(8000)
	for i := 0; i < 10; i++ {
		h.sess.HandleMedia(loud)
	}
	if h.countEvents(analytics.EventSpeechStarted) != 1 {
		t.Fatal("speech_started missing")
	}
	h.sess.Close(ctx, "completed")

	if h.stt.CallCount() != 1 {
		t.Errorf("buffered speech must be transcribed at close, stt calls = %d", h.stt.CallCount())
	}
	rec, err := h.trans.Get(testCallSid)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if len(rec.Turns) != 3 {
		t.Errorf("transcript turns = %+v", rec.Turns)
	}
}

// No t.Parallel: swaps the global tracer provider.
func TestSession_TurnEmitsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})

	h := newHarness(t, func(h *harness) {
		h.stt.Errs = []error{errors.New("transcription service down")}
	})
	h.sess.processTurn(context.Background(), utterance(time.Second))

	names := make(map[string]bool)
	for _, s := range exp.GetSpans() {
		names[s.Name] = true
	}
	for _, want := range []string{"call.turn", "stt.transcribe"} {
		if !names[want] {
			t.Errorf("span %q not recorded, got %v", want, names)
		}
	}

	failed, ok := h.findEvent(analytics.EventWhisperFailed)
	if !ok {
		t.Fatal("whisper_failed missing")
	}
	cid, _ := failed.Data["trace_id"].(string)
	if len(cid) != 32 {
		t.Errorf("whisper_failed trace_id = %q, want a trace id", cid)
	}
}

// quietChunk returns 20ms of mu-law silence.
func quietChunk() []byte {
	chunk := make([]byte, 160)
	for i := range chunk {
		chunk[i] = 0xff
	}
	return chunk
}

// loudChunk returns 20ms of constant-amplitude mu-law audio.
func loudChunk(amplitude int16) []byte {
	pcm := make([]byte, 320)
	for i := 0; i < len(pcm); i += 2 {
		pcm[i] = byte(uint16(amplitude) & 0xff)
		pcm[i+1] = byte(uint16(amplitude) >> 8)
	}
	return audio.PCMToMulaw(pcm)
}
