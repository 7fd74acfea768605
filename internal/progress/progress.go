// Package progress implements the A5 editor-host progress push
// (SPEC_FULL.md §5): a local websocket listener opened under
// `--mode vscode` that streams per-file progress events to an attached
// editor host. It is a push-only channel -- no diagnostics rendering,
// no request/response protocol, just a broadcast. Grounded on the
// teacher's internal/api/websocket.go (WebSocketHub), adapted from a
// live trace feed to per-file analysis progress events.
package progress

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one per-file progress update streamed to attached clients.
type Event struct {
	File      string        `json:"file"`
	RuleCount int           `json:"ruleCount"`
	Elapsed   time.Duration `json:"elapsed"`
}

func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return strings.Contains(origin, r.Host)
		},
	}
}

// Hub manages websocket connections for the `--mode vscode` progress
// feed. Safe for concurrent use: Broadcast may be called from the
// runner's file-completion callback while clients connect and
// disconnect concurrently.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*websocket.Conn]bool
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates a progress Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:  make(map[*websocket.Conn]bool),
		upgrader: newUpgrader(),
		logger:   logger.With("component", "progress.Hub"),
	}
}

// HandleWebSocket upgrades an incoming HTTP request to a websocket
// connection and registers it as a progress listener.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	h.logger.Debug("progress client connected", "remote", conn.RemoteAddr())

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			_ = conn.Close()
			h.logger.Debug("progress client disconnected", "remote", conn.RemoteAddr())
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Broadcast sends a progress Event to every connected client. A marshal
// failure is logged and the broadcast is skipped, matching the
// teacher's Broadcast -- a progress push is advisory, never fatal to
// the analysis run it reports on.
func (h *Hub) Broadcast(event Event) {
	msg, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal progress event", "error", err)
		return
	}

	h.mu.RLock()
	var dead []*websocket.Conn
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug("failed to write to progress client", "error", err)
			dead = append(dead, conn)
		}
	}
	h.mu.RUnlock()

	if len(dead) == 0 {
		return
	}
	h.mu.Lock()
	for _, conn := range dead {
		delete(h.clients, conn)
		_ = conn.Close()
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected editor-host clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every connected client. Called on analyzer shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.Close()
		delete(h.clients, conn)
	}
}
