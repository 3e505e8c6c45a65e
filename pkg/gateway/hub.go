package gateway

import (
	"sync"
	"time"

	"github.com/NotCoffee418/sensor_gateway/pkg/meas"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Hub tracks websocket clients for broadcasting live messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]*sync.Mutex)}
}

func (h *Hub) Add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	h.mu.Unlock()
}

func (h *Hub) Remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if ok {
		conn.Close()
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send writes msg to a single client.
func (h *Hub) Send(conn *websocket.Conn, msg *meas.MeasMsg) error {
	data, err := msg.ToJsonBytes()
	if err != nil {
		return err
	}
	return h.write(conn, data)
}

func (h *Hub) write(conn *websocket.Conn, data []byte) error {
	h.mu.RLock()
	lock, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	lock.Lock()
	defer lock.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Broadcast sends msg to every client, dropping clients that fail.
// Messages that cannot be encoded are logged and not sent.
func (h *Hub) Broadcast(msg *meas.MeasMsg) {
	data, err := msg.ToJsonBytes()
	if err != nil {
		log.Error("failed to encode message", "station", msg.Station(), "err", err)
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := h.write(client, data); err != nil {
			log.Debug("dropping websocket client", "remote", client.RemoteAddr(), "err", err)
			h.Remove(client)
		}
	}
}
