package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/apex/log"

	"roadhazard/offline"
)

type StatusMessage struct {
	Type      string         `json:"type"`
	Data      offline.Status `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Hub fans status changes out to connected websocket clients. New clients
// get the latest status on connect.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	Register   chan *Client
	Unregister chan *Client
	done       chan struct{}

	mutex  sync.RWMutex
	latest []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			return

		case client := <-h.Register:
			h.mutex.Lock()
			h.clients[client] = true
			latest := h.latest
			n := len(h.clients)
			h.mutex.Unlock()
			if latest != nil {
				client.send <- latest
			}
			log.Infof("Status client connected. Total clients: %d", n)

		case client := <-h.Unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mutex.Unlock()
			log.Infof("Status client disconnected. Total clients: %d", n)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Too slow; drop it.
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// BroadcastStatus queues st for every client. It never blocks: when the
// broadcast buffer is full the update is dropped, since a newer one
// supersedes it anyway.
func (h *Hub) BroadcastStatus(st offline.Status) {
	data, err := json.Marshal(StatusMessage{
		Type:      "status",
		Data:      st,
		Timestamp: time.Now(),
	})
	if err != nil {
		log.Errorf("Failed to marshal status message: %v", err)
		return
	}

	h.mutex.Lock()
	h.latest = data
	h.mutex.Unlock()

	select {
	case h.broadcast <- data:
	default:
		log.Warn("Status broadcast buffer full, dropping update")
	}
}

func (h *Hub) register(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
