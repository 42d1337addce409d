package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mediacheck/mediacheck/internal/batch"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames.
	maxMessageSize = 4096
)

// wsMessage is the envelope of every WebSocket frame. The first frame after
// the upgrade carries Status; later frames carry Event.
type wsMessage struct {
	Type   string        `json:"type"`
	Status *batch.Status `json:"status,omitempty"`
	Event  *batch.Event  `json:"event,omitempty"`
}

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
}

// checkOrigin accepts requests without an Origin header, same-host origins
// and the configured allowed origins.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if host, ok := strings.CutPrefix(origin, "http://"); ok && host == r.Host {
		return true
	}
	if host, ok := strings.CutPrefix(origin, "https://"); ok && host == r.Host {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// StreamWS handles GET /api/v1/ws. It pushes the same events as StreamSSE
// over a WebSocket connection.
func (h *Handler) StreamWS(w http.ResponseWriter, r *http.Request) {
	st, err := h.ctrl.Status(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an error status.
		h.log.Debugw("websocket upgrade failed", "error", err)
		return
	}

	ch := h.hub.Subscribe(streamBuffer)
	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, ch, done, &st)
	h.hub.Unsubscribe(ch)
}

// readPump discards client messages and keeps the read deadline moving with
// pongs. It closes done when the peer goes away.
func (h *Handler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				h.log.Warnw("websocket read error", "error", err)
			}
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, ch <-chan batch.Event, done <-chan struct{}, st *batch.Status) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
	if err := conn.WriteJSON(wsMessage{Type: statusEventSSE, Status: st}); err != nil {
		h.log.Debugw("websocket write failed", "error", err)
		return
	}

	for {
		select {
		case <-done:
			return
		case ev, ok := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteJSON(wsMessage{Type: string(ev.Type), Event: &ev}); err != nil {
				h.log.Debugw("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
