package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/centralino-ai/centralino/internal/analytics"
	"github.com/centralino-ai/centralino/internal/observe"
)

// sendBuffer is the per-session outbound queue depth. A session this far
// behind is dropped rather than blocking the broadcast path.
const sendBuffer = 64

// LocationCommands is what the hub needs from the location-send flow to act
// on subscriber commands. Wired by the application to avoid a package cycle.
type LocationCommands interface {
	// SendNow fires a pending location send immediately.
	SendNow(callID, caller string)
	// Cancel aborts a pending send and announces the cancellation.
	Cancel(callID string)
	// Discard aborts a pending send silently. Used when the call ends.
	Discard(callID string)
}

type subscriber struct {
	send chan []byte
}

// Hub is the dashboard broadcaster. Safe for concurrent use; implements
// [analytics.Broadcaster].
type Hub struct {
	now      func() time.Time
	metrics  *observe.Metrics
	location LocationCommands

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	activeCalls map[string]*ActiveCall
}

// Option configures a [Hub].
type Option func(*Hub)

// WithClock replaces the frame timestamp source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// WithMetrics records subscriber counts on the given metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a hub with no subscribers and no active calls.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		now:         time.Now,
		subscribers: make(map[*subscriber]struct{}),
		activeCalls: make(map[string]*ActiveCall),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetLocationCommands wires the location-send flow. Must be called before
// subscribers connect; commands received while unset are dropped with a
// warning.
func (h *Hub) SetLocationCommands(lc LocationCommands) {
	h.mu.Lock()
	h.location = lc
	h.mu.Unlock()
}

// CallStarted registers the call and announces it.
func (h *Hub) CallStarted(callID, caller, called string) {
	ts := h.timestamp()
	h.mu.Lock()
	h.activeCalls[callID] = &ActiveCall{
		CallID:    callID,
		Caller:    caller,
		Called:    called,
		StartedAt: ts,
		Status:    "connected",
		Turns:     []TurnView{},
	}
	h.mu.Unlock()

	h.broadcast(callStartedFrame{Type: frameCallStarted, CallID: callID, Caller: caller, Called: called, Timestamp: ts})
}

// TranscriptUpdate appends a transcript line to the call state and
// announces it. latencyMs is 0 for caller turns.
func (h *Hub) TranscriptUpdate(callID, speaker, text string, turnIndex, latencyMs int) {
	ts := h.timestamp()
	h.mu.Lock()
	if call, ok := h.activeCalls[callID]; ok {
		call.Turns = append(call.Turns, TurnView{
			Index:     turnIndex,
			Speaker:   speaker,
			Text:      text,
			Timestamp: ts,
			LatencyMs: latencyMs,
		})
	}
	h.mu.Unlock()

	h.broadcast(transcriptFrame{
		Type: frameTranscript, CallID: callID, Speaker: speaker, Text: text,
		TurnIndex: turnIndex, LatencyMs: latencyMs, Timestamp: ts,
	})
}

// ProcessingStatus announces a pipeline stage change for the call.
func (h *Hub) ProcessingStatus(callID, status string) {
	h.broadcast(processingFrame{Type: frameProcessing, CallID: callID, Status: status, Timestamp: h.timestamp()})
}

// CallEnded removes the call from the registry, silently drops any pending
// location send, and announces the end.
func (h *Hub) CallEnded(callID string, durationSeconds int) {
	h.mu.Lock()
	delete(h.activeCalls, callID)
	lc := h.location
	h.mu.Unlock()

	if lc != nil {
		lc.Discard(callID)
	}
	h.broadcast(callEndedFrame{Type: frameCallEnded, CallID: callID, DurationSeconds: durationSeconds, Timestamp: h.timestamp()})
}

// Error announces a non-routine condition on the call.
func (h *Hub) Error(callID, errorType, message string) {
	h.broadcast(errorFrame{Type: frameError, CallID: callID, ErrorType: errorType, Message: message, Timestamp: h.timestamp()})
}

// AnalyticsEvent forwards an instrumentation event to all subscribers.
func (h *Hub) AnalyticsEvent(callID string, evt analytics.Event) {
	h.broadcast(analyticsEventFrame{Type: frameAnalyticsEvent, CallID: callID, Event: evt, Timestamp: h.timestamp()})
}

// LocationSendPending announces that a location SMS is queued with a
// countdown the dashboard can interrupt.
func (h *Hub) LocationSendPending(callID, caller string, confidence float64, reason string, timeoutSeconds int) {
	h.mu.Lock()
	if call, ok := h.activeCalls[callID]; ok {
		call.LocationSendPending = true
	}
	h.mu.Unlock()

	h.broadcast(locationSendPendingFrame{
		Type: frameLocationSendPending, CallID: callID, Caller: caller,
		Confidence: confidence, Reason: reason, TimeoutSeconds: timeoutSeconds,
		Timestamp: h.timestamp(),
	})
}

// LocationSent announces the outcome of a location SMS attempt.
func (h *Hub) LocationSent(callID, caller, trigger string, success bool) {
	h.mu.Lock()
	if call, ok := h.activeCalls[callID]; ok {
		call.LocationSendPending = false
	}
	h.mu.Unlock()

	h.broadcast(locationSentFrame{
		Type: frameLocationSent, CallID: callID, Caller: caller,
		Trigger: trigger, Success: success, Timestamp: h.timestamp(),
	})
}

// LocationCancelled announces that a pending location send was cancelled.
func (h *Hub) LocationCancelled(callID string) {
	h.mu.Lock()
	if call, ok := h.activeCalls[callID]; ok {
		call.LocationSendPending = false
	}
	h.mu.Unlock()

	h.broadcast(locationCancelledFrame{Type: frameLocationCancelled, CallID: callID, Timestamp: h.timestamp()})
}

// Status is the snapshot served on the dashboard status endpoint.
type Status struct {
	ConnectedClients int          `json:"connected_clients"`
	ActiveCalls      int          `json:"active_calls"`
	Calls            []ActiveCall `json:"calls"`
}

// CurrentStatus returns a snapshot of subscribers and active calls.
func (h *Hub) CurrentStatus() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Status{
		ConnectedClients: len(h.subscribers),
		ActiveCalls:      len(h.activeCalls),
		Calls:            h.snapshotCallsLocked(),
	}
}

// ActiveCallCount returns the number of registered calls.
func (h *Hub) ActiveCallCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.activeCalls)
}

// broadcast serializes the frame once and queues it on every subscriber.
// Subscribers with a full queue are dropped.
func (h *Hub) broadcast(frame any) {
	msg, err := json.Marshal(frame)
	if err != nil {
		slog.Error("dashboard frame marshal failed", "err", err)
		return
	}

	h.mu.Lock()
	var dropped []*subscriber
	for sub := range h.subscribers {
		select {
		case sub.send <- msg:
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		h.removeLocked(sub)
	}
	h.mu.Unlock()

	for range dropped {
		slog.Warn("dashboard subscriber dropped, send queue full")
	}
}

func (h *Hub) subscribe() (*subscriber, []byte) {
	sub := &subscriber{send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	init := initFrame{Type: frameInit, ActiveCalls: h.snapshotCallsLocked(), Timestamp: h.timestamp()}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.DashboardSessions.Add(context.Background(), 1)
	}
	msg, err := json.Marshal(init)
	if err != nil {
		slog.Error("dashboard init frame marshal failed", "err", err)
		msg = []byte(`{"type":"init","active_calls":[]}`)
	}
	return sub, msg
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	_, present := h.subscribers[sub]
	h.removeLocked(sub)
	h.mu.Unlock()
	if present && h.metrics != nil {
		h.metrics.DashboardSessions.Add(context.Background(), -1)
	}
}

func (h *Hub) removeLocked(sub *subscriber) {
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.send)
	}
}

// handleInbound dispatches one subscriber command. Returns the direct reply
// for this session, or nil.
func (h *Hub) handleInbound(data []byte) []byte {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		slog.Warn("dashboard inbound frame malformed", "err", err)
		return nil
	}

	switch frame.Type {
	case inboundPing:
		msg, _ := json.Marshal(pongFrame{Type: framePong, Timestamp: h.timestamp()})
		return msg

	case inboundSendLocation:
		if frame.CallID == "" || frame.Caller == "" {
			slog.Warn("send_location missing call_sid or caller")
			return nil
		}
		if lc := h.locationCommands(); lc != nil {
			lc.SendNow(frame.CallID, frame.Caller)
		} else {
			slog.Warn("send_location received but no location flow wired", "call_id", frame.CallID)
		}

	case inboundCancelLocation:
		if frame.CallID == "" {
			return nil
		}
		if lc := h.locationCommands(); lc != nil {
			lc.Cancel(frame.CallID)
		}

	default:
		slog.Warn("dashboard inbound frame unknown", "type", frame.Type)
	}
	return nil
}

func (h *Hub) locationCommands() LocationCommands {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.location
}

func (h *Hub) heartbeatMessage() []byte {
	h.mu.Lock()
	count := len(h.activeCalls)
	h.mu.Unlock()
	msg, _ := json.Marshal(heartbeatFrame{Type: frameHeartbeat, ActiveCallCount: count, Timestamp: h.timestamp()})
	return msg
}

func (h *Hub) snapshotCallsLocked() []ActiveCall {
	calls := make([]ActiveCall, 0, len(h.activeCalls))
	for _, call := range h.activeCalls {
		c := *call
		c.Turns = append([]TurnView(nil), call.Turns...)
		calls = append(calls, c)
	}
	return calls
}

func (h *Hub) timestamp() string {
	return h.now().Format(time.RFC3339Nano)
}
