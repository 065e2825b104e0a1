// Package bridge exposes live translation progress over a local WebSocket
// endpoint, so editor plugins and dashboards can watch a running job without
// polling the backend themselves.
package bridge

import (
	"sync"

	"github.com/opentranslator/client/internal/poller"
)

// Hub maintains the set of active subscribers and fans poll events out to them
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan poller.Event
	done       chan struct{}

	mu sync.RWMutex

	// last holds the most recent event so a late subscriber immediately
	// sees the current job state instead of waiting for the next poll.
	last    *poller.Event
	hasLast bool
}

// NewHub creates a hub; call Run in a goroutine to start it
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan poller.Event, 16),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until Stop is called
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if h.hasLast {
				select {
				case client.send <- *h.last:
				default:
				}
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case evt := <-h.broadcast:
			h.mu.Lock()
			h.last = &evt
			h.hasLast = true
			for client := range h.clients {
				select {
				case client.send <- evt:
				default:
					// Slow subscriber, drop the connection
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop shuts the hub down and disconnects all subscribers
func (h *Hub) Stop() {
	close(h.done)
}

// Broadcast queues an event for all subscribers; drops when the hub backlog
// is full rather than blocking the poll loop.
func (h *Hub) Broadcast(evt poller.Event) {
	select {
	case h.broadcast <- evt:
	default:
	}
}

// ClientCount returns the number of connected subscribers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Relay forwards every event from events to the hub until the channel closes.
// Run it in a goroutine next to the poll loop.
func (h *Hub) Relay(events <-chan poller.Event) {
	for evt := range events {
		h.Broadcast(evt)
	}
}
