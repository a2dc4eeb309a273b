// Package dashboard fans out live call events to operator dashboard
// sessions over WebSocket.
//
// The hub keeps a registry of active calls so a subscriber connecting
// mid-call receives the current state in an init frame. Outbound frames are
// a closed set of JSON shapes; each is serialized once per broadcast and
// delivered through a per-session buffered channel. A session that cannot
// keep up or whose write fails is dropped, never blocked on.
package dashboard

import "github.com/centralino-ai/centralino/internal/analytics"

// Outbound frame types.
const (
	frameInit                = "init"
	frameCallStarted         = "call_started"
	frameTranscript          = "transcript"
	frameProcessing          = "processing"
	frameCallEnded           = "call_ended"
	frameError               = "error"
	frameAnalyticsEvent      = "analytics_event"
	frameLocationSendPending = "location_send_pending"
	frameLocationSent        = "location_sent"
	frameLocationCancelled   = "location_cancelled"
	frameHeartbeat           = "heartbeat"
	framePong                = "pong"
)

// Inbound frame types.
const (
	inboundPing           = "ping"
	inboundSendLocation   = "send_location"
	inboundCancelLocation = "cancel_location"
)

// TurnView is one transcript line in an active call's state.
type TurnView struct {
	Index     int    `json:"index"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	LatencyMs int    `json:"latency_ms,omitempty"`
}

// ActiveCall is the per-call state replayed to new subscribers.
type ActiveCall struct {
	CallID              string     `json:"call_sid"`
	Caller              string     `json:"caller"`
	Called              string     `json:"called"`
	StartedAt           string     `json:"started_at"`
	Status              string     `json:"status"`
	Turns               []TurnView `json:"turns"`
	LocationSendPending bool       `json:"location_send_pending"`
}

type initFrame struct {
	Type        string       `json:"type"`
	ActiveCalls []ActiveCall `json:"active_calls"`
	Timestamp   string       `json:"timestamp"`
}

type callStartedFrame struct {
	Type      string `json:"type"`
	CallID    string `json:"call_sid"`
	Caller    string `json:"caller"`
	Called    string `json:"called"`
	Timestamp string `json:"timestamp"`
}

type transcriptFrame struct {
	Type      string `json:"type"`
	CallID    string `json:"call_sid"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	TurnIndex int    `json:"turn_index"`
	LatencyMs int    `json:"latency_ms,omitempty"`
	Timestamp string `json:"timestamp"`
}

type processingFrame struct {
	Type      string `json:"type"`
	CallID    string `json:"call_sid"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type callEndedFrame struct {
	Type            string `json:"type"`
	CallID          string `json:"call_sid"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Timestamp       string `json:"timestamp"`
}

type errorFrame struct {
	Type      string `json:"type"`
	CallID    string `json:"call_sid"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type analyticsEventFrame struct {
	Type      string          `json:"type"`
	CallID    string          `json:"call_sid"`
	Event     analytics.Event `json:"event"`
	Timestamp string          `json:"timestamp"`
}

type locationSendPendingFrame struct {
	Type           string  `json:"type"`
	CallID         string  `json:"call_sid"`
	Caller         string  `json:"caller"`
	Confidence     float64 `json:"confidence"`
	Reason         string  `json:"reason"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	Timestamp      string  `json:"timestamp"`
}

type locationSentFrame struct {
	Type      string `json:"type"`
	CallID    string `json:"call_sid"`
	Caller    string `json:"caller"`
	Trigger   string `json:"trigger"`
	Success   bool   `json:"success"`
	Timestamp string `json:"timestamp"`
}

type locationCancelledFrame struct {
	Type      string `json:"type"`
	CallID    string `json:"call_sid"`
	Timestamp string `json:"timestamp"`
}

type heartbeatFrame struct {
	Type            string `json:"type"`
	ActiveCallCount int    `json:"active_call_count"`
	Timestamp       string `json:"timestamp"`
}

type pongFrame struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// inboundFrame covers every subscriber command; unused fields stay empty.
type inboundFrame struct {
	Type   string `json:"type"`
	CallID string `json:"call_sid"`
	Caller string `json:"caller"`
}
