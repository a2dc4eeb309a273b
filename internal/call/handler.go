package call

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/centralino-ai/centralino/internal/carrier"
	"github.com/centralino-ai/centralino/pkg/audio"
)

// Handler terminates the carrier side: the inbound call webhook that answers
// with stream TwiML, and the media stream WebSocket that drives one Session
// per call.
type Handler struct {
	deps Deps

	// streamURL is the public wss:// URL the carrier connects back to.
	streamURL string

	// called is the business number calls arrive on, recorded in transcripts.
	called string
}

// NewHandler builds the carrier-facing handler. streamURL is the externally
// reachable WebSocket endpoint for the media stream; when empty the webhook
// derives it from the request host.
func NewHandler(deps Deps, streamURL, called string) *Handler {
	return &Handler{deps: deps, streamURL: streamURL, called: called}
}

// VoiceWebhook answers the carrier's inbound-call webhook with TwiML that
// connects the media stream back to this service.
func (h *Handler) VoiceWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	callSid := r.FormValue("CallSid")
	caller := r.FormValue("From")
	slog.Info("inbound call", "call_id", callSid, "caller", caller)

	streamURL := h.streamURL
	if streamURL == "" {
		streamURL = "wss://" + r.Host + "/twilio/stream"
	}
	w.Header().Set("Content-Type", "application/xml")
	io.WriteString(w, carrier.StreamTwiML(streamURL, callSid, caller))
}

// StreamHTTP upgrades the media stream WebSocket and serves it until the
// carrier disconnects.
func (h *Handler) StreamHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The carrier connects without a browser origin.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("media stream accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	h.ServeStream(r.Context(), conn)
}

type wsWriter struct {
	conn *websocket.Conn
}

func (w wsWriter) Write(ctx context.Context, msg []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, msg)
}

// ServeStream reads carrier frames until stop or error. The session starts
// on the start frame and is always closed exactly once on exit, so a dropped
// stream still finalizes analytics and the transcript.
func (h *Handler) ServeStream(ctx context.Context, conn *websocket.Conn) {
	var sess *Session
	reason := "stream_closed"
	defer func() {
		if sess != nil {
			sess.Close(context.Background(), reason)
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				reason = "completed"
			}
			return
		}
		frame, err := carrier.ParseFrame(data)
		if err != nil {
			slog.Debug("unparseable stream frame", "err", err)
			continue
		}

		switch frame.Event {
		case carrier.EventConnected:
			// Handshake acknowledgement, no payload.

		case carrier.EventStart:
			if sess != nil || frame.Start == nil {
				continue
			}
			callSid := frame.Start.CustomParameters["call_sid"]
			if callSid == "" {
				callSid = frame.Start.CallSid
			}
			caller := frame.Start.CustomParameters["caller"]
			s, err := NewSession(h.deps, callSid, caller, h.called, frame.Start.StreamSid, wsWriter{conn})
			if err != nil {
				slog.Error("session start rejected", "err", err)
				conn.Close(websocket.StatusPolicyViolation, "bad start frame")
				return
			}
			sess = s
			go sess.Run(ctx)

		case carrier.EventMedia:
			if sess == nil || frame.Media == nil {
				continue
			}
			chunk, err := audio.DecodePayload(frame.Media.Payload)
			if err != nil {
				slog.Debug("bad media payload", "call_id", sess.CallID(), "err", err)
				continue
			}
			sess.HandleMedia(chunk)

		case carrier.EventMark:
			if sess != nil && frame.Mark != nil {
				sess.HandleMark(frame.Mark.Name)
			}

		case carrier.EventStop:
			reason = "completed"
			return
		}
	}
}
