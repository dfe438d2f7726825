package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/qrshield/qrshield-go/internal/classify"
	"github.com/qrshield/qrshield-go/internal/sse"
)

const streamHydrateLimit = 20

// StreamHandler serves SSE streams of live scans.
type StreamHandler struct {
	hub       *sse.Hub
	store     HistoryStore
	keepalive time.Duration
}

// NewStreamHandler creates a new StreamHandler. store may be nil, in which
// case new subscribers are not hydrated.
func NewStreamHandler(hub *sse.Hub, store HistoryStore) *StreamHandler {
	return &StreamHandler{hub: hub, store: store, keepalive: 30 * time.Second}
}

// HandleSSE handles GET /api/stream/events?status=SAFE|MALICIOUS
// It sends the most recent scans first, then streams live scans with
// periodic keepalives.
func (sh *StreamHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	topic := sse.TopicAll
	if status := strings.ToUpper(r.URL.Query().Get("status")); status != "" {
		if status != string(classify.StatusSafe) && status != string(classify.StatusMalicious) {
			jsonError(w, "invalid status", http.StatusBadRequest)
			return
		}
		topic = status
	}

	// Subscribe before hydrating so no scan falls in between.
	ch, cancel := sh.hub.Subscribe(topic)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if sh.store != nil {
		recent, _ := sh.store.RecentScans(r.Context(), streamHydrateLimit)
		for i := len(recent) - 1; i >= 0; i-- {
			s := recent[i]
			if topic != sse.TopicAll && s.Status != topic {
				continue
			}
			data, _ := json.Marshal(s)
			fmt.Fprintf(w, "event: scan\ndata: %s\n\n", data)
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(sh.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, event.Data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
