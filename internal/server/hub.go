package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/pkg/device"
)

const clientSendBuffer = 64

// wsMessage is the envelope pushed to websocket clients.
type wsMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan []byte, clientSendBuffer)}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Hub fans device notifications out to websocket clients. Clients that
// cannot keep up are disconnected.
type Hub struct {
	snapshot func() device.Snapshot

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub builds a hub; snapshot, when set, is sent to each new client.
func NewHub(snapshot func() device.Snapshot) *Hub {
	return &Hub{snapshot: snapshot, clients: make(map[*client]struct{})}
}

// AddClient registers conn and greets it with the current device snapshot.
func (h *Hub) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)
	if h.snapshot != nil {
		if data, err := json.Marshal(wsMessage{Type: "snapshot", Payload: h.snapshot()}); err == nil {
			c.send <- data
		}
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// RemoveClient unregisters c and stops its write pump.
func (h *Hub) RemoveClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends msg to every client.
func (h *Hub) Broadcast(msgType string, payload any) {
	data, err := json.Marshal(wsMessage{Type: msgType, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("ws broadcast marshal failed")
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("ws client too slow, disconnecting")
		h.RemoveClient(c)
	}
}

// Run forwards session notifications until ctx ends or events closes, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context, events <-chan device.Notification) error {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-events:
			if !ok {
				return nil
			}
			h.Broadcast("device", n)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
