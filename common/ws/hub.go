package ws

import (
	"sync"
)

// Hub fans printer status messages out to in-process subscribers.
// It does not depend on net/http or gorilla/websocket; the HTTP layer
// registers one channel per websocket connection.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]chan Message
	register   chan registration
	unregister chan string
	broadcast  chan Message
	shutdown   chan struct{}
	stopOnce   sync.Once
	onDrop     func(id string, msgType string)
}

type registration struct {
	id string
	ch chan Message
}

// NewHub creates and starts a new Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[string]chan Message),
		register:   make(chan registration),
		unregister: make(chan string),
		broadcast:  make(chan Message, 100),
		shutdown:   make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.id] = reg.ch
			h.mu.Unlock()
		case id := <-h.unregister:
			h.mu.Lock()
			if ch, ok := h.clients[id]; ok {
				close(ch)
				delete(h.clients, id)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			for id, ch := range h.clients {
				select {
				case ch <- msg:
				default:
					if h.onDrop != nil {
						h.onDrop(id, msg.Type)
					}
				}
			}
			h.mu.RUnlock()
		case <-h.shutdown:
			h.mu.Lock()
			for id, ch := range h.clients {
				close(ch)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

// SetDropHandler installs a callback invoked when a subscriber's channel is full.
func (h *Hub) SetDropHandler(fn func(id string, msgType string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDrop = fn
}

// Register adds a subscriber channel under id. The channel should be buffered.
// It reports false when the hub has been stopped.
func (h *Hub) Register(id string, ch chan Message) bool {
	select {
	case <-h.shutdown:
		return false
	default:
	}
	select {
	case h.register <- registration{id: id, ch: ch}:
		return true
	case <-h.shutdown:
		return false
	}
}

// Unregister removes the client with the given id. It is a no-op after Stop.
func (h *Hub) Unregister(id string) {
	select {
	case h.unregister <- id:
	case <-h.shutdown:
	}
}

// Broadcast sends a message to all registered clients (non-blocking per-client).
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		// Drop if broadcast queue full
	}
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop shuts down the hub and closes all client channels.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.shutdown) })
}
