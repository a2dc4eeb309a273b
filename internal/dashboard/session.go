package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// heartbeatInterval is how long a session may stay silent before the hub
// sends it a heartbeat frame.
const heartbeatInterval = 30 * time.Second

// ServeHTTP upgrades the request to a WebSocket subscriber session and
// blocks until the session ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The dashboard is same-deployment; the reverse proxy owns origin
		// policy.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("dashboard websocket accept failed", "err", err)
		return
	}
	h.serve(r.Context(), conn)
}

// serve runs one subscriber session: registers it, replays current state as
// an init frame, then pumps frames both ways until the connection drops.
func (h *Hub) serve(ctx context.Context, conn *websocket.Conn) {
	sub, init := h.subscribe()
	defer h.unsubscribe(sub)

	slog.Info("dashboard subscriber connected")
	h.enqueue(sub, init)

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for msg := range sub.send {
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		readCtx, cancel := context.WithTimeout(ctx, heartbeatInterval)
		_, data, err := conn.Read(readCtx)
		cancel()

		switch {
		case err == nil:
			if reply := h.handleInbound(data); reply != nil {
				h.enqueue(sub, reply)
			}

		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			// Quiet session: keep it alive with the active-call count.
			if !h.enqueue(sub, h.heartbeatMessage()) {
				slog.Info("dashboard subscriber disconnected")
				<-writeDone
				return
			}

		default:
			slog.Info("dashboard subscriber disconnected")
			h.unsubscribe(sub)
			<-writeDone
			return
		}
	}
}

// enqueue queues msg for one session, holding the hub lock so a concurrent
// drop cannot close the channel mid-send. Reports whether the session is
// still registered.
func (h *Hub) enqueue(sub *subscriber, msg []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; !ok {
		return false
	}
	select {
	case sub.send <- msg:
		return true
	default:
		h.removeLocked(sub)
		return false
	}
}
