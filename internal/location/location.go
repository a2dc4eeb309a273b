// Package location runs the delayed location-SMS flow: when a call looks
// like a courier asking for directions, the dashboard is notified and an
// SMS with the house position is scheduled. Operators can fire it early or
// cancel it during the countdown; otherwise the timer sends it.
package location

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/centralino-ai/centralino/internal/knowledge"
	"github.com/centralino-ai/centralino/internal/sched"
)

// DefaultTimeout is the countdown before an unattended pending send fires.
const DefaultTimeout = 30 * time.Second

// testCallPrefix marks simulated calls: lifecycle signals are emitted but
// no real SMS leaves the system.
const testCallPrefix = "TEST-"

// Notifier receives the lifecycle signals of a location send. Implemented
// by the dashboard hub.
type Notifier interface {
	LocationSendPending(callID, caller string, confidence float64, reason string, timeoutSeconds int)
	LocationSent(callID, caller, trigger string, success bool)
	LocationCancelled(callID string)
}

// SMSSender delivers the location message. Implemented by the carrier REST
// client.
type SMSSender interface {
	SendSMS(ctx context.Context, to, from, body string) (string, error)
}

// Flow owns pending location sends, one per call.
type Flow struct {
	scheduler *sched.Scheduler
	notifier  Notifier
	sender    SMSSender
	know      func() *knowledge.Snapshot
	from      string
	timeout   time.Duration

	mu   sync.Mutex
	sent map[string]bool
}

// Option configures a [Flow].
type Option func(*Flow)

// WithTimeout overrides the auto-send countdown.
func WithTimeout(d time.Duration) Option {
	return func(f *Flow) { f.timeout = d }
}

// NewFlow creates the flow. sender may be nil when SMS is not configured;
// sends then fail gracefully with a broadcast failure signal. know provides
// the current knowledge snapshot for message formatting.
func NewFlow(scheduler *sched.Scheduler, notifier Notifier, sender SMSSender, know func() *knowledge.Snapshot, from string, opts ...Option) *Flow {
	f := &Flow{
		scheduler: scheduler,
		notifier:  notifier,
		sender:    sender,
		know:      know,
		from:      from,
		timeout:   DefaultTimeout,
		sent:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// RequestSend reacts to a pending signal: notifies subscribers and starts
// the countdown. A call that already has a pending or completed send is
// left alone.
func (f *Flow) RequestSend(callID, caller string, confidence float64, reason string) {
	f.mu.Lock()
	already := f.sent[callID]
	f.mu.Unlock()
	if already || f.scheduler.Pending(callID) {
		slog.Debug("location send already pending or done", "call_id", callID)
		return
	}

	slog.Info("location send pending", "call_id", callID, "caller", caller, "reason", reason)
	f.notifier.LocationSendPending(callID, caller, confidence, reason, int(f.timeout.Seconds()))
	f.scheduler.Schedule(callID, f.timeout, func() {
		f.fire(callID, caller, "timeout")
	})
}

// SendNow fires a send immediately, cancelling the countdown. Satisfies the
// dashboard's location command surface.
func (f *Flow) SendNow(callID, caller string) {
	f.scheduler.Cancel(callID)
	f.fire(callID, caller, "manual")
}

// Cancel aborts the countdown without sending and announces the
// cancellation.
func (f *Flow) Cancel(callID string) {
	f.scheduler.Cancel(callID)
	slog.Info("location send cancelled", "call_id", callID)
	f.notifier.LocationCancelled(callID)
}

// Discard aborts the countdown silently. Used when the call ends.
func (f *Flow) Discard(callID string) {
	f.scheduler.Cancel(callID)
}

// Pending reports whether a countdown is running for the call.
func (f *Flow) Pending(callID string) bool {
	return f.scheduler.Pending(callID)
}

// fire delivers the SMS and announces the outcome. At most one send per
// call: a manual send racing the countdown (or a repeated command) must not
// message the caller twice.
func (f *Flow) fire(callID, caller, trigger string) {
	f.mu.Lock()
	if f.sent[callID] {
		f.mu.Unlock()
		slog.Debug("location already sent", "call_id", callID, "trigger", trigger)
		return
	}
	f.sent[callID] = true
	f.mu.Unlock()

	if strings.HasPrefix(callID, testCallPrefix) {
		slog.Info("test call, skipping real SMS", "call_id", callID, "trigger", trigger)
		f.notifier.LocationSent(callID, caller, trigger, true)
		return
	}

	success := f.sendSMS(callID, caller)
	f.notifier.LocationSent(callID, caller, trigger, success)
}

func (f *Flow) sendSMS(callID, caller string) bool {
	if f.sender == nil || f.from == "" {
		slog.Warn("SMS not configured, location send failed", "call_id", callID)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	to := NormalizeNumber(caller)
	sid, err := f.sender.SendSMS(ctx, to, f.from, f.MessageBody())
	if err != nil {
		slog.Error("location SMS failed", "call_id", callID, "to", to, "err", err)
		return false
	}
	slog.Info("location SMS sent", "call_id", callID, "to", to, "sms_sid", sid)
	return true
}

// MessageBody renders the location SMS from the current knowledge snapshot.
func (f *Flow) MessageBody() string {
	snap := f.know()
	var b strings.Builder
	b.WriteString("📍 Ecco la posizione esatta:\n")
	b.WriteString(snap.Location.Address.Full())
	if url := snap.Location.GoogleMapsURL; url != "" {
		b.WriteString("\n\n🗺 ")
		b.WriteString(url)
	}
	return b.String()
}

// NormalizeNumber coerces a caller number into E.164, assuming Italy when
// the country code is missing.
func NormalizeNumber(number string) string {
	n := strings.TrimSpace(number)
	n = strings.ReplaceAll(n, " ", "")
	switch {
	case n == "" || strings.HasPrefix(n, "+"):
		return n
	case strings.HasPrefix(n, "0"):
		return "+39" + n[1:]
	case strings.HasPrefix(n, "3"):
		return "+39" + n
	default:
		return "+" + n
	}
}
