package dashboard

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SimulateCall drives a short scripted call through the hub so operators can
// verify their dashboard receives frames end to end. The call id carries the
// TEST- prefix, which the location flow treats as no-SMS. Returns the call
// id; stops early if ctx is cancelled.
func (h *Hub) SimulateCall(ctx context.Context) string {
	callID := "TEST-" + uuid.NewString()[:8]
	caller := "+39 328 TEST"
	called := "+44 2070 460437"

	steps := []func(){
		func() { h.CallStarted(callID, caller, called) },
		func() { h.ProcessingStatus(callID, "speaking") },
		func() {
			h.TranscriptUpdate(callID, "ai", "Pronto. Mi scusi, sono inglese e il mio italiano non è perfetto.", 0, 0)
		},
		func() { h.ProcessingStatus(callID, "listening") },
		func() { h.ProcessingStatus(callID, "transcribing") },
		func() {
			h.TranscriptUpdate(callID, "caller", "Buongiorno, sono il corriere. Ho un pacco per Via Barachini.", 1, 0)
		},
		func() {
			h.LocationSendPending(callID, caller, 0.85, "Delivery detected (corriere, pacco, Via)", 15)
		},
		func() { h.ProcessingStatus(callID, "thinking") },
		func() {
			h.TranscriptUpdate(callID, "ai", "Sì, è l'indirizzo giusto. Via Paolo Barachini 7, San Giuliano Terme. Cancello verde.", 2, 850)
		},
		func() { h.CallEnded(callID, 15) },
	}

	for _, step := range steps {
		select {
		case <-ctx.Done():
			return callID
		default:
		}
		step()
		sleepCtx(ctx, 300*time.Millisecond)
	}
	return callID
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
