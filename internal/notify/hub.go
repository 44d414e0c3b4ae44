// Package notify fans trade and balance events out to websocket clients.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bintrade-core/internal/auth"
	"bintrade-core/internal/events"
	"bintrade-core/internal/monitor"
)

// Event names delivered to clients.
const (
	EventTradeUpdate    = "trade-update"
	EventBalanceUpdate  = "balance-update"
	EventTradeCompleted = "trade-completed"
	EventMarketUpdate   = "market-update"
	EventAuthenticated  = "authenticated"
	EventError          = "error"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 4096
)

// Message is the frame written to clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// TokenVerifier resolves a session token to its claims.
type TokenVerifier interface {
	Parse(token string) (*auth.UserClaims, error)
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

// Hub tracks connected clients and per-user rooms. Sends never block; a client whose
// buffer is full misses the message.
type Hub struct {
	tokens  TokenVerifier
	metrics *monitor.SystemMetrics
	buffer  int

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	rooms   map[string]map[*client]struct{}
}

// NewHub creates a hub. tokens may be nil, in which case clients can only receive broadcasts.
func NewHub(tokens TokenVerifier, metrics *monitor.SystemMetrics) *Hub {
	return &Hub{
		tokens:  tokens,
		metrics: metrics,
		buffer:  64,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		rooms:   make(map[string]map[*client]struct{}),
	}
}

// ToUser delivers an event to every connection in the user's room.
func (h *Hub) ToUser(userID, event string, payload any) {
	data, ok := encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[userID] {
		c.trySend(data)
	}
}

// Broadcast delivers an event to every connected client.
func (h *Hub) Broadcast(event string, payload any) {
	data, ok := encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.trySend(data)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns how many connections joined the user's room.
func (h *Hub) RoomSize(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID])
}

// RelayMarket rebroadcasts bus market snapshots until ctx is cancelled.
func (h *Hub) RelayMarket(ctx context.Context, bus *events.Bus) {
	if bus == nil {
		return
	}
	stream, unsub := bus.Subscribe(events.EventMarketUpdate, 8)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				h.Broadcast(EventMarketUpdate, msg)
			}
		}
	}()
}

// ServeWS upgrades the request. A `token` query parameter joins the user's room immediately;
// otherwise the client may send {"type":"authenticate","token":"..."} later.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] upgrade error: %v", err)
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, h.buffer)}
	h.register(c)

	if token := r.URL.Query().Get("token"); token != "" {
		h.authenticate(c, token)
	}

	go c.writePump()
	c.readPump()
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.AddWSClients(1)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.leaveRoomLocked(c)
	close(c.send)
	h.mu.Unlock()
	h.metrics.AddWSClients(-1)
}

// leaveRoomLocked drops c from its room and removes the room once empty. Caller holds h.mu.
func (h *Hub) leaveRoomLocked(c *client) {
	if c.userID == "" {
		return
	}
	room := h.rooms[c.userID]
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.userID)
	}
}

func (h *Hub) authenticate(c *client, token string) {
	if h.tokens == nil {
		c.trySendMessage(EventError, "authentication unavailable")
		return
	}
	claims, err := h.tokens.Parse(token)
	if err != nil {
		c.trySendMessage(EventError, "invalid token")
		return
	}

	h.mu.Lock()
	if c.userID != claims.UserID {
		h.leaveRoomLocked(c)
	}
	c.userID = claims.UserID
	room, ok := h.rooms[claims.UserID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[claims.UserID] = room
	}
	room[c] = struct{}{}
	h.mu.Unlock()

	c.trySendMessage(EventAuthenticated, map[string]string{"userId": claims.UserID})
}

type inbound struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] read error: %v", err)
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.trySendMessage(EventError, "invalid frame")
			continue
		}
		switch msg.Type {
		case "authenticate":
			c.hub.authenticate(c, msg.Token)
		case "ping":
			c.trySendMessage("pong", nil)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend must be called with the hub lock held (read or write) so send is not closed concurrently.
func (c *client) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) trySendMessage(event string, payload any) {
	data, ok := encode(event, payload)
	if !ok {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, live := c.hub.clients[c]; live {
		c.trySend(data)
	}
}

func encode(event string, payload any) ([]byte, bool) {
	data, err := json.Marshal(Message{Event: event, Data: payload})
	if err != nil {
		log.Printf("[WS] encode %s error: %v", event, err)
		return nil, false
	}
	return data, true
}
