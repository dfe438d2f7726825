package sse

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/qrshield/qrshield-go/internal/db"
)

// TopicAll receives every scan. Scans are also published on a topic named
// after their status (SAFE, MALICIOUS).
const TopicAll = "all"

// Event represents a server-sent event to be published to subscribers.
type Event struct {
	Type string // "scan"
	Data []byte // JSON payload
}

// ScanPublisher receives every recorded scan.
type ScanPublisher interface {
	PublishScan(s *db.Scan)
}

// Fanout forwards scans to several publishers.
type Fanout []ScanPublisher

// PublishScan implements ScanPublisher.
func (f Fanout) PublishScan(s *db.Scan) {
	for _, p := range f {
		p.PublishScan(s)
	}
}

// Hub is a fan-out hub that manages per-topic SSE subscriptions.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{} // topic -> set of channels
	logger      *slog.Logger
}

// NewHub creates a new SSE hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[chan Event]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a new subscriber for the given topic.
// It returns a channel that will receive events and a cancel function that
// must be called when the subscriber disconnects.
func (h *Hub) Subscribe(topic string) (chan Event, func()) {
	ch := make(chan Event, 64)
	h.mu.Lock()
	if h.subscribers[topic] == nil {
		h.subscribers[topic] = make(map[chan Event]struct{})
	}
	h.subscribers[topic][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers[topic], ch)
		if len(h.subscribers[topic]) == 0 {
			delete(h.subscribers, topic)
		}
		close(ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish sends an event to all subscribers of the given topic.
// If a subscriber's channel is full, the event is dropped and a warning is logged.
func (h *Hub) Publish(topic string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers[topic] {
		select {
		case ch <- event:
		default:
			h.logger.Warn("sse: dropped event for slow client", "topic", topic)
		}
	}
}

// PublishScan implements ScanPublisher.
func (h *Hub) PublishScan(s *db.Scan) {
	data, err := json.Marshal(s)
	if err != nil {
		h.logger.Warn("sse: marshal scan failed", "err", err)
		return
	}
	event := Event{Type: "scan", Data: data}
	h.Publish(TopicAll, event)
	h.Publish(s.Status, event)
}

// SubscriberCount returns the number of active subscribers for the given topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[topic])
}
