package call

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/centralino-ai/centralino/internal/analytics"
	"github.com/centralino-ai/centralino/internal/config"
	"github.com/centralino-ai/centralino/internal/convo"
	"github.com/centralino-ai/centralino/internal/location"
	"github.com/centralino-ai/centralino/internal/observe"
	"github.com/centralino-ai/centralino/pkg/audio"
	"github.com/centralino-ai/centralino/pkg/provider/llm"
	"github.com/centralino-ai/centralino/pkg/provider/tts"
)

// playGreeting runs turn 0: synthesize and play the precomputed greeting
// before any caller input is accepted.
func (s *Session) playGreeting(ctx context.Context) {
	s.state.Store(int32(StateGreeting))
	params := s.deps.Params()
	greeting := s.conv.Greeting()

	s.deps.Recorder.Emit(s.callID, analytics.EventGreetingStarted, nil)
	s.synthesizeAndPlay(ctx, greeting, params)
	s.deps.Recorder.Emit(s.callID, analytics.EventGreetingCompleted, nil)

	s.deps.Events.TranscriptUpdate(s.callID, "ai", greeting, 0, 0)
	s.recordTranscriptTurn("ai", greeting)
	s.state.Store(int32(StateListening))
}

// processTurn runs the full pipeline for one caller utterance. Failures in
// a stage degrade the turn, never the call.
func (s *Session) processTurn(ctx context.Context, utt *audio.Utterance) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	ctx, span := observe.StartSpan(ctx, "call.turn",
		trace.WithAttributes(attribute.String("call_id", s.callID)))
	defer span.End()

	s.state.Store(int32(StateProcessing))
	defer func() {
		if !s.hangingUp.Load() && s.State() != StateEnded {
			s.state.Store(int32(StateListening))
		}
	}()

	params := s.deps.Params()
	turnStart := s.now()
	idx := s.deps.Recorder.StartTurn(s.callID)
	span.SetAttributes(attribute.Int("turn", idx))

	s.deps.Recorder.Emit(s.callID, analytics.EventSilenceDetected, map[string]any{
		"speech_duration_ms": int(utt.SpeechDuration.Milliseconds()),
		"audio_bytes":        len(utt.Mulaw),
	})

	transcript, sttDur, ok := s.transcribe(ctx, utt)
	if !ok || strings.TrimSpace(transcript) == "" {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordTurn(ctx, "discarded")
		}
		return
	}

	s.deps.Events.TranscriptUpdate(s.callID, "caller", transcript, idx, 0)
	s.recordTranscriptTurn("caller", transcript)
	s.conv.AddCaller(transcript)

	if s.deps.Location != nil {
		if conf, reason, hit := location.DetectDelivery(transcript); hit {
			s.deps.Recorder.Emit(s.callID, analytics.EventLocationRequested, map[string]any{
				"confidence": conf,
				"reason":     reason,
			})
			s.deps.Location.RequestSend(s.callID, s.caller, conf, reason)
		}
	}

	reply, llmDur := s.generateReply(ctx, transcript, params)
	s.conv.AddAssistant(reply)

	latencyMs := int((sttDur + llmDur).Milliseconds())
	s.deps.Events.TranscriptUpdate(s.callID, "ai", reply, idx, latencyMs)
	s.recordTranscriptTurn("ai", reply)

	s.synthesizeAndPlay(ctx, reply, params)

	if s.deps.Metrics != nil {
		s.deps.Metrics.TurnDuration.Record(ctx, s.now().Sub(turnStart).Seconds())
	}

	if convo.ContainsGoodbye(reply) {
		s.hangingUp.Store(true)
		s.state.Store(int32(StateHangingUp))
		observe.Logger(ctx).Info("goodbye detected, hanging up", "call_id", s.callID)
		s.sleep(hangupDrain)
		s.requestHangup()
	}
}

// transcribe runs STT over the utterance. A failed or empty transcription
// ends the turn; the conversation history is untouched.
func (s *Session) transcribe(ctx context.Context, utt *audio.Utterance) (string, time.Duration, bool) {
	ctx, span := observe.StartSpan(ctx, "stt.transcribe")
	defer span.End()

	s.deps.Events.ProcessingStatus(s.callID, "transcribing")
	s.deps.Recorder.Emit(s.callID, analytics.EventWhisperStarted, map[string]any{
		"audio_bytes": len(utt.Mulaw),
	})

	wav := audio.PrepareForSTT(utt.Mulaw)
	sttCtx, cancel := context.WithTimeout(ctx, sttTimeout)
	defer cancel()

	start := s.now()
	res, err := s.deps.STT.Transcribe(sttCtx, wav)
	dur := s.now().Sub(start)

	if err != nil {
		span.RecordError(err)
		s.deps.Recorder.Emit(s.callID, analytics.EventWhisperFailed, s.withTrace(ctx, map[string]any{
			"error":       err.Error(),
			"duration_ms": int(dur.Milliseconds()),
		}))
		s.deps.Events.Error(s.callID, "stt_failed", err.Error())
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordProviderError(ctx, "stt", "transcribe")
		}
		return "", dur, false
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.STTDuration.Record(ctx, dur.Seconds())
	}
	s.deps.Recorder.WhisperCompleted(s.callID, res.Text, int(dur.Milliseconds()), res.Confidence, res.Retried)
	return res.Text, dur, true
}

// generateReply produces the AI reply, short-circuiting through the
// quick-reply lexicon when the transcript is trivial. On model failure the
// fixed stall phrase stands in; the caller never hears dead air because of
// a provider error.
func (s *Session) generateReply(ctx context.Context, transcript string, params config.Params) (string, time.Duration) {
	if quick, ok := convo.QuickReply(transcript); ok {
		// Synthetic zero-usage events keep turn numbering and aggregation
		// uniform with full turns.
		s.deps.Recorder.Emit(s.callID, analytics.EventClaudeStarted, map[string]any{
			"quick_reply": true,
		})
		s.deps.Recorder.ClaudeCompleted(s.callID, quick, 0, 0, 0)
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordTurn(ctx, "quick_reply")
		}
		return quick, 0
	}

	ctx, span := observe.StartSpan(ctx, "llm.complete")
	defer span.End()

	s.deps.Events.ProcessingStatus(s.callID, "thinking")
	tail := s.conv.Tail()
	s.deps.Recorder.Emit(s.callID, analytics.EventClaudeStarted, map[string]any{
		"context_messages": len(tail),
	})

	llmCtx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()

	start := s.now()
	resp, err := s.deps.LLM.Complete(llmCtx, llm.Request{
		SystemPrompt: s.conv.SystemPrompt(),
		Messages:     tail,
		MaxTokens:    params.LLM.MaxTokens,
	})
	dur := s.now().Sub(start)

	if err != nil {
		span.RecordError(err)
		s.deps.Recorder.Emit(s.callID, analytics.EventClaudeFailed, s.withTrace(ctx, map[string]any{
			"error":       err.Error(),
			"duration_ms": int(dur.Milliseconds()),
		}))
		s.deps.Events.Error(s.callID, "llm_failed", err.Error())
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordProviderError(ctx, "llm", "complete")
		}
		return convo.StallPhrase, dur
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.LLMDuration.Record(ctx, dur.Seconds())
		s.deps.Metrics.RecordTurn(ctx, "full")
	}
	s.deps.Recorder.ClaudeCompleted(s.callID, resp.Content, int(dur.Milliseconds()), resp.Usage.InputTokens, resp.Usage.OutputTokens)
	return resp.Content, dur
}

// synthesizeAndPlay converts the reply to audio and streams it. On TTS
// failure the reply stays in history but no audio goes out.
func (s *Session) synthesizeAndPlay(ctx context.Context, text string, params config.Params) {
	ctx, span := observe.StartSpan(ctx, "tts.synthesize")
	defer span.End()

	s.deps.Events.ProcessingStatus(s.callID, "speaking")
	s.deps.Recorder.Emit(s.callID, analytics.EventTTSStarted, map[string]any{
		"text_length": len(text),
	})

	ttsCtx, cancel := context.WithTimeout(ctx, ttsTimeout)
	defer cancel()

	start := s.now()
	pcm, err := s.deps.TTS.Synthesize(ttsCtx, tts.Request{
		Text:  text,
		Voice: params.TTS.Voice,
		Speed: params.TTS.Speed,
	})
	dur := s.now().Sub(start)

	if err != nil || len(pcm) == 0 {
		data := s.withTrace(ctx, map[string]any{"duration_ms": int(dur.Milliseconds())})
		if err != nil {
			span.RecordError(err)
			data["error"] = err.Error()
			s.deps.Events.Error(s.callID, "tts_failed", err.Error())
		}
		s.deps.Recorder.Emit(s.callID, analytics.EventTTSFailed, data)
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordProviderError(ctx, "tts", "synthesize")
		}
		return
	}

	audioDur := audio.PCMDuration(len(pcm), tts.SampleRate)
	s.deps.Recorder.Emit(s.callID, analytics.EventTTSCompleted, map[string]any{
		"duration_ms":       int(dur.Milliseconds()),
		"audio_bytes":       len(pcm),
		"audio_duration_ms": int(audioDur.Milliseconds()),
	})
	if s.deps.Metrics != nil {
		s.deps.Metrics.TTSDuration.Record(ctx, dur.Seconds(),
			metric.WithAttributes(observe.Attr("voice", params.TTS.Voice)))
	}

	s.playback(ctx, pcm, audioDur)
	s.deps.Events.ProcessingStatus(s.callID, "listening")
}

// withTrace tags event data with the active trace id so a failed stage in
// the analytics log can be matched to its span.
func (s *Session) withTrace(ctx context.Context, data map[string]any) map[string]any {
	if cid := observe.CorrelationID(ctx); cid != "" {
		data["trace_id"] = cid
	}
	return data
}

func (s *Session) requestHangup() {
	if s.deps.Hangup == nil {
		slog.Warn("no hangup client configured", "call_id", s.callID)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
	defer cancel()
	if err := s.deps.Hangup.Hangup(ctx, s.callID); err != nil {
		slog.Error("hangup request failed", "call_id", s.callID, "err", err)
		s.deps.Events.Error(s.callID, "hangup_failed", err.Error())
	}
}
