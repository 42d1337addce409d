package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	streamBuffer   = 64
	sseKeepalive   = 15 * time.Second
	statusEventSSE = "status"
)

// StreamSSE handles GET /api/v1/events.
// It sends the current batch status, then every controller event until the
// client disconnects or the server shuts down.
func (h *Handler) StreamSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	st, err := h.ctrl.Status(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	ch := h.hub.Subscribe(streamBuffer)
	defer h.hub.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Send the current status so the client has an initial state.
	writeSSEEvent(w, flusher, statusEventSSE, st)

	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()

	for {
		select {
		case ev, open := <-ch:
			if !open {
				return
			}
			writeSSEEvent(w, flusher, string(ev.Type), ev)
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// writeSSEEvent serialises data as JSON and writes a single SSE event frame.
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
