// Package carrier implements the telephony carrier integration: the media
// stream wire frames exchanged over the stream WebSocket, TwiML generation
// for the inbound call webhook, and the REST client used for call control
// (hangup) and outbound SMS.
package carrier

import (
	"encoding/json"
	"fmt"
)

// Event discriminates inbound media stream frames.
type Event string

const (
	EventConnected Event = "connected"
	EventStart     Event = "start"
	EventMedia     Event = "media"
	EventMark      Event = "mark"
	EventStop      Event = "stop"
)

// Frame is one JSON message on the media stream WebSocket. Exactly one of
// the pointer fields is set, matching Event.
type Frame struct {
	Event     Event       `json:"event"`
	StreamSid string      `json:"streamSid,omitempty"`
	Start     *StartFrame `json:"start,omitempty"`
	Media     *MediaFrame `json:"media,omitempty"`
	Mark      *MarkFrame  `json:"mark,omitempty"`
	Stop      *StopFrame  `json:"stop,omitempty"`
}

// StartFrame carries stream metadata. CustomParameters holds the values set
// in the <Stream> TwiML (call_sid, caller).
type StartFrame struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

// MediaFrame carries one chunk of base64-encoded mu-law audio.
type MediaFrame struct {
	Payload string `json:"payload"`
}

// MarkFrame echoes back a named position in the outbound audio stream once
// the carrier has played everything queued before it.
type MarkFrame struct {
	Name string `json:"name"`
}

// StopFrame signals the end of the stream.
type StopFrame struct {
	CallSid string `json:"callSid"`
}

// ParseFrame decodes one inbound WebSocket message. Unknown events decode
// without error; callers ignore frames they do not handle.
func ParseFrame(data []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("carrier: parse frame: %w", err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("carrier: frame has no event field")
	}
	return f, nil
}

// MediaMessage builds an outbound media frame carrying base64 mu-law audio.
func MediaMessage(streamSid, payload string) ([]byte, error) {
	return json.Marshal(Frame{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &MediaFrame{Payload: payload},
	})
}

// MarkMessage builds an outbound mark frame. The carrier echoes the mark
// back after playing all audio queued before it, which is how playback
// completion is detected.
func MarkMessage(streamSid, name string) ([]byte, error) {
	return json.Marshal(Frame{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      &MarkFrame{Name: name},
	})
}
