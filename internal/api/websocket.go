package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/ecowatch/backend/internal/batch"
	"github.com/ecowatch/backend/internal/models"
)

// WebSocket message types for the progress protocol
const (
	// Server -> Client messages
	MsgTypeSnapshot = "snapshot"
	MsgTypeItem     = "item"
	MsgTypePong     = "pong"

	// Client -> Server messages
	MsgTypePing = "ping"
)

// WSMessage is the envelope for all progress protocol messages.
type WSMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// WSItemUpdate carries one item's state plus the derived batch progress.
type WSItemUpdate struct {
	Item           models.UploadItem `json:"item"`
	GlobalProgress int               `json:"globalProgress"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Same trust model as the REST API; CORS is enforced there.
		return true
	},
}

// WebSocketHandler pushes batch progress to connected clients.
type WebSocketHandler struct {
	session *batch.Session

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

// NewWebSocketHandler creates a progress push handler.
func NewWebSocketHandler(session *batch.Session) *WebSocketHandler {
	return &WebSocketHandler{
		session: session,
		conns:   make(map[*websocket.Conn]bool),
	}
}

// HandleWebSocket upgrades the connection, sends an initial snapshot and
// keeps the connection registered until the client goes away.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade failed: %w", err)
	}

	h.mu.Lock()
	h.conns[conn] = true
	h.mu.Unlock()

	// Initial state so the client doesn't have to poll once.
	h.send(conn, WSMessage{
		Type:      MsgTypeSnapshot,
		Payload:   h.session.Snapshot(),
		Timestamp: time.Now().UnixMilli(),
	})

	go h.readLoop(conn)
	return nil
}

// BroadcastItem pushes a single item update to all connected clients. It is
// wired as the pipeline's progress observer.
func (h *WebSocketHandler) BroadcastItem(item models.UploadItem, globalProgress int) {
	h.broadcast(WSMessage{
		Type: MsgTypeItem,
		Payload: WSItemUpdate{
			Item:           item,
			GlobalProgress: globalProgress,
		},
		Timestamp: time.Now().UnixMilli(),
	})
}

func (h *WebSocketHandler) readLoop(conn *websocket.Conn) {
	defer h.drop(conn)

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == MsgTypePing {
			h.send(conn, WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()})
		}
	}
}

func (h *WebSocketHandler) broadcast(msg WSMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.conns {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

func (h *WebSocketHandler) send(conn *websocket.Conn, msg WSMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		conn.Close()
		delete(h.conns, conn)
	}
}

func (h *WebSocketHandler) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn.Close()
	delete(h.conns, conn)
}
