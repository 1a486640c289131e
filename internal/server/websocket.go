// Package server implements the snippets HTTP server: the JSON API, the
// notice feed and the static site.
package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zot/snippets/internal/config"
	"github.com/zot/snippets/internal/notice"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the page may be served from the asset cache origin
	},
}

const writeWait = 10 * time.Second

// WebSocketEndpoint pushes notices to connected pages.
type WebSocketEndpoint struct {
	config      *config.Config
	notices     *notice.Board
	connections map[string]*websocket.Conn // connectionID -> conn
	mu          sync.RWMutex
}

// NewWebSocketEndpoint creates a new WebSocket endpoint.
func NewWebSocketEndpoint(cfg *config.Config, notices *notice.Board) *WebSocketEndpoint {
	return &WebSocketEndpoint{
		config:      cfg,
		notices:     notices,
		connections: make(map[string]*websocket.Conn),
	}
}

// Log logs a message via the config.
func (ws *WebSocketEndpoint) Log(level int, format string, args ...any) {
	ws.config.Log(level, format, args...)
}

// HandleWebSocket upgrades the request and streams notices until the page
// disconnects. Active notices are sent first.
func (ws *WebSocketEndpoint) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sub, cancel := ws.notices.Subscribe()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		ws.Log(0, "WebSocket upgrade failed: %v", err)
		return
	}

	connectionID := uuid.NewString()
	ws.mu.Lock()
	ws.connections[connectionID] = conn
	ws.mu.Unlock()
	ws.Log(1, "WebSocket connected: conn=%s", connectionID)

	go ws.writePump(connectionID, conn, sub)
	go ws.readPump(connectionID, conn, cancel)
}

// writePump is the only writer on conn.
func (ws *WebSocketEndpoint) writePump(connectionID string, conn *websocket.Conn, sub <-chan notice.Notice) {
	for _, n := range ws.notices.Active() {
		if err := ws.write(conn, n); err != nil {
			return
		}
	}
	for n := range sub {
		if err := ws.write(conn, n); err != nil {
			ws.Log(1, "WebSocket write failed: conn=%s: %v", connectionID, err)
			return
		}
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (ws *WebSocketEndpoint) write(conn *websocket.Conn, n notice.Notice) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(n)
}

// readPump waits for the page to go away. Pages send nothing.
func (ws *WebSocketEndpoint) readPump(connectionID string, conn *websocket.Conn, cancel func()) {
	defer func() {
		cancel()
		ws.onDisconnect(connectionID)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.Log(0, "WebSocket error: %v", err)
			}
			return
		}
	}
}

// onDisconnect handles connection close.
func (ws *WebSocketEndpoint) onDisconnect(connectionID string) {
	ws.mu.Lock()
	delete(ws.connections, connectionID)
	ws.mu.Unlock()
	ws.Log(1, "WebSocket disconnected: conn=%s", connectionID)
}

// Count returns the number of connected pages.
func (ws *WebSocketEndpoint) Count() int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return len(ws.connections)
}

// Close disconnects every page.
func (ws *WebSocketEndpoint) Close() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for id, conn := range ws.connections {
		conn.Close()
		delete(ws.connections, id)
	}
}
