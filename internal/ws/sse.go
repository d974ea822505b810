package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const sseHeartbeat = 30 * time.Second

// HandleSSE streams events as text/event-stream until the request ends or
// the hub drops the client.
func (h *Hub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// the stream outlives the server's WriteTimeout
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warnw("Failed to clear SSE write deadline", "error", err)
	}

	ctx := r.Context()
	client := h.add(ctx, "sse", nil, parseTopics(r))
	defer h.remove(ctx, client)

	if !client.queue(ackMessage(client.subscribed())) {
		return
	}

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-client.send:
			if !ok {
				return
			}
			writeSSE(w, eventType(msg), msg)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data []byte) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func eventType(msg []byte) string {
	var m struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &m); err != nil || m.Type == "" {
		return "message"
	}
	return m.Type
}
