package dashboard

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/centralino-ai/centralino/internal/analytics"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
}

func decodeFrame(t *testing.T, msg []byte) map[string]any {
	t.Helper()
	var frame map[string]any
	if err := json.Unmarshal(msg, &frame); err != nil {
		t.Fatalf("frame not valid JSON: %v", err)
	}
	return frame
}

// drain reads every frame currently queued on the subscriber.
func drain(sub *subscriber) [][]byte {
	var out [][]byte
	for {
		select {
		case msg := <-sub.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHub_InitFrameOnSubscribe(t *testing.T) {
	t.Parallel()
	h := NewHub(WithClock(fixedClock))
	h.CallStarted("CA1", "+39333", "+39055")

	sub, init := h.subscribe()
	defer h.unsubscribe(sub)

	frame := decodeFrame(t, init)
	if frame["type"] != "init" {
		t.Fatalf("type = %v, want init", frame["type"])
	}
	calls := frame["active_calls"].([]any)
	if len(calls) != 1 {
		t.Fatalf("init lists %d calls, want 1", len(calls))
	}
	call := calls[0].(map[string]any)
	if call["call_sid"] != "CA1" || call["status"] != "connected" {
		t.Errorf("init call = %v", call)
	}
}

func TestHub_BroadcastReachesAllSubscribers(t *testing.T) {
	t.Parallel()
	h := NewHub(WithClock(fixedClock))

	sub1, _ := h.subscribe()
	sub2, _ := h.subscribe()
	defer h.unsubscribe(sub1)
	defer h.unsubscribe(sub2)

	h.TranscriptUpdate("CA1", "caller", "pronto", 1, 0)

	for _, sub := range []*subscriber{sub1, sub2} {
		select {
		case msg := <-sub.send:
			frame := decodeFrame(t, msg)
			if frame["type"] != "transcript" || frame["text"] != "pronto" {
				t.Errorf("frame = %v", frame)
			}
		default:
			t.Error("subscriber did not receive the broadcast")
		}
	}
}

func TestHub_TranscriptRecordedInActiveCall(t *testing.T) {
	t.Parallel()
	h := NewHub(WithClock(fixedClock))
	h.CallStarted("CA1", "+39333", "+39055")
	h.TranscriptUpdate("CA1", "ai", "Pronto", 0, 0)
	h.TranscriptUpdate("CA1", "caller", "Buongiorno", 1, 0)

	status := h.CurrentStatus()
	if status.ActiveCalls != 1 || len(status.Calls[0].Turns) != 2 {
		t.Fatalf("status = %+v", status)
	}
	if status.Calls[0].Turns[1].Speaker != "caller" {
		t.Errorf("turn = %+v", status.Calls[0].Turns[1])
	}
}

func TestHub_CallEndedClearsRegistry(t *testing.T) {
	t.Parallel()
	h := NewHub(WithClock(fixedClock))
	h.CallStarted("CA1", "+39333", "+39055")
	h.CallEnded("CA1", 42)

	if h.ActiveCallCount() != 0 {
		t.Error("call still registered after CallEnded")
	}
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	t.Parallel()
	h := NewHub(WithClock(fixedClock))
	sub, _ := h.subscribe()

	// Never drained: the queue fills, then the next broadcast drops it.
	for i := 0; i <= sendBuffer; i++ {
		h.ProcessingStatus("CA1", "thinking")
	}

	if h.enqueue(sub, []byte("{}")) {
		t.Error("slow subscriber should have been dropped")
	}
	if h.CurrentStatus().ConnectedClients != 0 {
		t.Error("dropped subscriber still counted")
	}
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	h := NewHub(WithClock(fixedClock))
	sub, _ := h.subscribe()
	h.unsubscribe(sub)

	h.ProcessingStatus("CA1", "thinking")

	// The channel is closed and empty, no frame was delivered after
	// unsubscribe.
	if msg, ok := <-sub.send; ok {
		t.Errorf("received %s after unsubscribe", msg)
	}
}

func TestHub_AnalyticsEventForwarded(t *testing.T) {
	t.Parallel()
	h := NewHub(WithClock(fixedClock))
	sub, _ := h.subscribe()
	defer h.unsubscribe(sub)

	var _ analytics.Broadcaster = h
	h.AnalyticsEvent("CA1", analytics.Event{ID: "evt_0003", Type: analytics.EventSilenceDetected})

	msg := <-sub.send
	frame := decodeFrame(t, msg)
	if frame["type"] != "analytics_event" {
		t.Fatalf("type = %v", frame["type"])
	}
	evt := frame["event"].(map[string]any)
	if evt["id"] != "evt_0003" {
		t.Errorf("event = %v", evt)
	}
}

type fakeLocationCommands struct {
	mu       sync.Mutex
	sends    []string
	cancels  []string
	discards []string
}

func (f *fakeLocationCommands) SendNow(callID, caller string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, callID+"/"+caller)
}

func (f *fakeLocationCommands) Cancel(callID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, callID)
}

func (f *fakeLocationCommands) Discard(callID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discards = append(f.discards, callID)
}

func TestHub_InboundCommands(t *testing.T) {
	t.Parallel()
	h := NewHub(WithClock(fixedClock))
	flow := &fakeLocationCommands{}
	h.SetLocationCommands(flow)

	if reply := h.handleInbound([]byte(`{"type":"ping"}`)); reply == nil {
		t.Error("ping should get a pong reply")
	} else if decodeFrame(t, reply)["type"] != "pong" {
		t.Errorf("reply = %s", reply)
	}

	h.handleInbound([]byte(`{"type":"send_location","call_sid":"CA1","caller":"+39333"}`))
	h.handleInbound([]byte(`{"type":"send_location","call_sid":"CA1"}`)) // missing caller, dropped
	h.handleInbound([]byte(`{"type":"cancel_location","call_sid":"CA2"}`))
	h.handleInbound([]byte(`{"type":"mystery"}`))
	h.handleInbound([]byte(`not json`))

	flow.mu.Lock()
	defer flow.mu.Unlock()
	if len(flow.sends) != 1 || flow.sends[0] != "CA1/+39333" {
		t.Errorf("sends = %v", flow.sends)
	}
	if len(flow.cancels) != 1 || flow.cancels[0] != "CA2" {
		t.Errorf("cancels = %v", flow.cancels)
	}
}

func TestHub_CallEndedDiscardsPendingLocation(t *testing.T) {
	t.Parallel()
	h := NewHub(WithClock(fixedClock))
	flow := &fakeLocationCommands{}
	h.SetLocationCommands(flow)

	h.CallStarted("CA1", "+39333", "+39055")
	h.LocationSendPending("CA1", "+39333", 0.9, "corriere", 30)
	h.CallEnded("CA1", 10)

	flow.mu.Lock()
	defer flow.mu.Unlock()
	if len(flow.discards) != 1 || flow.discards[0] != "CA1" {
		t.Errorf("discards = %v", flow.discards)
	}
	if len(flow.cancels) != 0 {
		t.Error("CallEnded must not announce a cancellation")
	}
}

func TestHub_LocationPendingFlagTracksState(t *testing.T) {
	t.Parallel()
	h := NewHub(WithClock(fixedClock))
	h.CallStarted("CA1", "+39333", "+39055")

	h.LocationSendPending("CA1", "+39333", 0.9, "corriere", 30)
	if !h.CurrentStatus().Calls[0].LocationSendPending {
		t.Error("pending flag not set")
	}
	h.LocationSent("CA1", "+39333", "manual", true)
	if h.CurrentStatus().Calls[0].LocationSendPending {
		t.Error("pending flag not cleared after send")
	}
}
