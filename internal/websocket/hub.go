package websocket

import (
	"context"
	"sync"
)

// TopicAll receives every restore progress event regardless of job.
// The dashboard's global activity feed subscribes here.
const TopicAll = "restore:*"

// Hub is the central pub/sub broker for WebSocket clients. It maintains
// the registry of connected clients and routes published messages to all
// clients subscribed to a given topic.
//
// Register and unregister are serialised through the Run loop via
// channels. Publish reads the registry under a short read-lock to copy the
// target set, then sends outside the lock so a slow client cannot stall
// the event loop.
type Hub struct {
	// clients holds every connected client. Keyed by pointer for O(1)
	// register/unregister.
	clients map[*Client]struct{}

	// topics maps each topic to its subscriber set. Updated together with
	// clients, always under mu.
	topics map[string]map[*Client]struct{}

	mu sync.RWMutex

	register   chan *Client
	unregister chan *Client

	// stopped is closed when Run exits; no messages are delivered after.
	stopped chan struct{}
}

// NewHub creates an idle Hub. Call Run in a goroutine to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		topics:     make(map[string]map[*Client]struct{}),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		stopped:    make(chan struct{}),
	}
}

// Run starts the hub's event loop. It must be called exactly once, in its
// own goroutine, and exits when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			for _, topic := range client.topics {
				if h.topics[topic] == nil {
					h.topics[topic] = make(map[*Client]struct{})
				}
				h.topics[topic][client] = struct{}{}
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				for _, topic := range client.topics {
					delete(h.topics[topic], client)
					if len(h.topics[topic]) == 0 {
						delete(h.topics, topic)
					}
				}
				// Signal the client's writePump to drain and exit.
				close(client.send)
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*Client]struct{})
			h.topics = make(map[string]map[*Client]struct{})
			h.mu.Unlock()
			return
		}
	}
}

// Publish sends msg to every client subscribed to topic, and additionally
// to TopicAll subscribers. A client subscribed to both receives the
// message once. Safe to call from any goroutine. Clients whose send buffer
// is full are disconnected so a slow consumer cannot back-pressure other
// subscribers.
func (h *Hub) Publish(topic string, msg Message) {
	h.mu.RLock()
	targets := make(map[*Client]struct{})
	for c := range h.topics[topic] {
		targets[c] = struct{}{}
	}
	if topic != TopicAll {
		for c := range h.topics[TopicAll] {
			targets[c] = struct{}{}
		}
	}
	h.mu.RUnlock()

	for c := range targets {
		select {
		case c.send <- msg:
		default:
			// Send buffer full — the client is too slow to keep up.
			h.unregister <- c
		}
	}
}

// Subscribe registers client with the hub and adds it to all its topics.
func (h *Hub) Subscribe(client *Client) {
	h.register <- client
}

// Unsubscribe removes client from the hub and all its topic subscriptions.
func (h *Hub) Unsubscribe(client *Client) {
	h.unregister <- client
}

// ConnectedCount returns the current number of connected clients.
// Used by the metrics gauge and the health endpoint.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
