package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	sendBufferSize = 32
)

// Hub pushes room events to the websocket clients watching that room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

// Client is one websocket connection subscribed to a room.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	roomID string
	userID string
	send   chan []byte
	once   sync.Once
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Client]struct{})}
}

// Notify broadcasts event to the room's clients. Clients with a full buffer are dropped.
func (h *Hub) Notify(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode event")
	}

	// Sends and closes of client channels both happen under mu.
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[event.RoomID] {
		select {
		case c.send <- data:
		default:
			logger.Warn(ctx, "websocket client too slow, dropping",
				zap.String("room_id", c.roomID),
				zap.String("user_id", c.userID),
			)
			h.removeLocked(c)
		}
	}
	return nil
}

// Serve registers conn for roomID and pumps messages until the peer disconnects.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, roomID, userID string) {
	c := &Client{
		hub:    h,
		conn:   conn,
		roomID: roomID,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
	}
	h.register(c)
	logger.Debug(ctx, "websocket client joined", zap.String("room_id", roomID), zap.String("user_id", userID))

	go c.writePump()
	c.readPump()
}

// Count returns the number of clients watching roomID.
func (h *Hub) Count(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.rooms[c.roomID]
	if !ok {
		clients = make(map[*Client]struct{})
		h.rooms[c.roomID] = clients
	}
	clients[c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	if clients, ok := h.rooms[c.roomID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, c.roomID)
		}
	}
	c.once.Do(func() { close(c.send) })
}

// readPump discards inbound frames; the socket is push-only but must be read
// to process control frames.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

var _ Notifier = (*Hub)(nil)
