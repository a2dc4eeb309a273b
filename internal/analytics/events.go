// Package analytics captures granular per-call instrumentation and derives
// turn and call level metrics from it.
//
// Every pipeline stage emits typed events into a per-call stream. Events are
// held in memory and appended to <root>/<call_id>/events.jsonl as they
// happen; when the call ends, turns.json and summary.json are derived from
// the stream. The derivation is a pure function of the events, so the same
// stream always reproduces the same turns and summary.
package analytics

import "encoding/json"

// EventType is the closed set of instrumentation event types.
type EventType string

const (
	// Call lifecycle
	EventCallStarted       EventType = "call_started"
	EventStreamConnected   EventType = "stream_connected"
	EventGreetingStarted   EventType = "greeting_started"
	EventGreetingCompleted EventType = "greeting_completed"
	EventCallEnded         EventType = "call_ended"

	// Audio input
	EventSpeechStarted   EventType = "speech_started"
	EventSilenceDetected EventType = "silence_detected"

	// Processing
	EventWhisperStarted   EventType = "whisper_started"
	EventWhisperCompleted EventType = "whisper_completed"
	EventWhisperFailed    EventType = "whisper_failed"
	EventClaudeStarted    EventType = "claude_started"
	EventClaudeCompleted  EventType = "claude_completed"
	EventClaudeFailed     EventType = "claude_failed"
	EventTTSStarted       EventType = "tts_started"
	EventTTSCompleted     EventType = "tts_completed"
	EventTTSFailed        EventType = "tts_failed"

	// Output
	EventPlaybackStarted   EventType = "playback_started"
	EventPlaybackCompleted EventType = "playback_completed"
	EventMarkReceived      EventType = "mark_received"

	// Quality and anomalies
	EventEchoDetected      EventType = "echo_detected"
	EventInterruptDetected EventType = "interrupt_detected"
	EventRepeatDetected    EventType = "repeat_detected"
	EventLowConfidence     EventType = "low_confidence"
	EventLongSilence       EventType = "long_silence"
	EventLocationRequested EventType = "location_requested"
)

// QualityFlag marks a quality issue on a turn.
type QualityFlag string

const (
	FlagEcho               QualityFlag = "ECHO"
	FlagLowConfidence      QualityFlag = "LOW_CONFIDENCE"
	FlagSlowResponse       QualityFlag = "SLOW_RESPONSE"
	FlagInterrupted        QualityFlag = "INTERRUPTED"
	FlagRepeat             QualityFlag = "REPEAT"
	FlagTranscriptionEmpty QualityFlag = "TRANSCRIPTION_EMPTY"
	FlagAPIRetry           QualityFlag = "API_RETRY"
)

// Event is a single instrumentation record. Data holds event-specific
// payload fields; after a JSON round trip all numbers are float64.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp string         `json:"timestamp"`
	TurnIndex int            `json:"turn_index"`
	Data      map[string]any `json:"data"`
}

// MarshalLine renders the event as one JSONL line without the trailing
// newline.
func (e Event) MarshalLine() ([]byte, error) {
	return json.Marshal(e)
}
