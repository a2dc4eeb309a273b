package call

import (
	"context"
	"log/slog"
	"time"

	"github.com/centralino-ai/centralino/internal/analytics"
	"github.com/centralino-ai/centralino/internal/carrier"
	"github.com/centralino-ai/centralino/pkg/audio"
	"github.com/centralino-ai/centralino/pkg/provider/tts"
)

const (
	// playbackChunkLen is the number of base64 characters per outbound media
	// frame. 640 characters is 480 μ-law bytes, 60ms at 8kHz. Multiple of 4
	// so every chunk is independently decodable.
	playbackChunkLen = 640

	// playbackChunkPause paces outbound frames so the carrier buffer never
	// runs more than slightly ahead of real time.
	playbackChunkPause = 20 * time.Millisecond
)

// playback streams synthesized PCM to the carrier as paced μ-law media
// frames, then a mark so the carrier can confirm delivery.
func (s *Session) playback(ctx context.Context, pcm []byte, expected time.Duration) {
	s.interrupted.Store(false)
	s.speaking.Store(true)
	defer s.speaking.Store(false)

	s.deps.Recorder.Emit(s.callID, analytics.EventPlaybackStarted, map[string]any{
		"expected_duration_ms": int(expected.Milliseconds()),
	})
	start := s.now()

	payload := audio.PrepareForCarrier(pcm, tts.SampleRate)
	for off := 0; off < len(payload); off += playbackChunkLen {
		if ctx.Err() != nil {
			break
		}
		end := off + playbackChunkLen
		if end > len(payload) {
			end = len(payload)
		}
		msg, err := carrier.MediaMessage(s.streamSid, payload[off:end])
		if err != nil {
			slog.Warn("media frame encode failed", "call_id", s.callID, "err", err)
			break
		}
		if err := s.writer.Write(ctx, msg); err != nil {
			slog.Warn("media frame write failed", "call_id", s.callID, "err", err)
			break
		}
		s.sleep(playbackChunkPause)
	}

	if msg, err := carrier.MarkMessage(s.streamSid, "response_end"); err == nil {
		if err := s.writer.Write(ctx, msg); err != nil {
			slog.Debug("mark write failed", "call_id", s.callID, "err", err)
		}
	}

	actual := s.now().Sub(start)
	s.deps.Recorder.Emit(s.callID, analytics.EventPlaybackCompleted, map[string]any{
		"actual_duration_ms": int(actual.Milliseconds()),
	})
	if s.deps.Metrics != nil {
		s.deps.Metrics.PlaybackDuration.Record(ctx, actual.Seconds())
	}
}
