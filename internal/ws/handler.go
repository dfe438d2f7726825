package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qrshield/qrshield-go/internal/db"
)

// HydrateLimit is the number of recent scans sent to a new connection.
const HydrateLimit = 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ScanStore provides the recent scan history used to hydrate new clients.
type ScanStore interface {
	RecentScans(ctx context.Context, limit int) ([]db.Scan, error)
}

type scanMessage struct {
	Type string `json:"type"`
	*db.Scan
}

// client wraps a connection with its write lock. gorilla/websocket supports
// one concurrent writer per connection.
type client struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// Manager tracks active WebSocket connections and broadcasts scans.
type Manager struct {
	mu          sync.RWMutex
	connections []*client
	logger      *slog.Logger
	store       ScanStore
}

// NewManager creates a new WebSocket manager. store may be nil, in which case
// new connections are not hydrated.
func NewManager(store ScanStore, logger *slog.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

// HandleWS upgrades an HTTP connection to WebSocket and registers it.
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn}

	// Hydrate before registering so history arrives ahead of live scans.
	m.hydrate(r.Context(), c)

	m.mu.Lock()
	m.connections = append(m.connections, c)
	m.mu.Unlock()

	defer func() {
		m.remove(c)
		conn.Close()
	}()

	// Keep connection alive, read messages (we ignore them)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (m *Manager) hydrate(ctx context.Context, c *client) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	scans, err := m.store.RecentScans(ctx, HydrateLimit)
	if err != nil {
		m.logger.Warn("websocket hydrate failed", "err", err)
		return
	}
	// Oldest first, like the live feed.
	for i := len(scans) - 1; i >= 0; i-- {
		if err := c.sendJSON(scanMessage{Type: "scan", Scan: &scans[i]}); err != nil {
			return
		}
	}
}

// PublishScan broadcasts a scan to all connected clients.
func (m *Manager) PublishScan(s *db.Scan) {
	m.Broadcast(scanMessage{Type: "scan", Scan: s})
}

// Broadcast sends a message to all connected WebSocket clients.
func (m *Manager) Broadcast(data any) {
	m.mu.RLock()
	clients := make([]*client, len(m.connections))
	copy(clients, m.connections)
	m.mu.RUnlock()

	msg, err := json.Marshal(data)
	if err != nil {
		m.logger.Error("websocket marshal failed", "err", err)
		return
	}
	for _, c := range clients {
		if err := c.write(msg); err != nil {
			m.remove(c)
			c.conn.Close()
		}
	}
}

// Count returns the number of connected clients.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *Manager) remove(target *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.connections {
		if c == target {
			m.connections = append(m.connections[:i], m.connections[i+1:]...)
			return
		}
	}
}

func (c *client) sendJSON(data any) error {
	msg, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.write(msg)
}

func (c *client) write(msg []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}
