package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// LobbyUpdate is pushed to lobby clients when the set of active rooms changes.
type LobbyUpdate struct {
	Type      string    `json:"type"`
	Room      string    `json:"room"`
	Creator   string    `json:"creator"`
	Username  string    `json:"username,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub tracks lobby clients and fans lobby updates out to them.
type Hub struct {
	clients    map[string]*Client // clientID -> Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan LobbyUpdate
	done       chan struct{}
	mu         sync.RWMutex
	dropped    int
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan LobbyUpdate, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Println("[hub] Shutting down...")
			h.closeAllClients()
			close(h.done)
			return
		case client := <-h.register:
			h.handleRegister(client)
		case client := <-h.unregister:
			h.handleUnregister(client)
		case update := <-h.broadcast:
			h.handleBroadcast(update)
		}
	}
}

// Wait blocks until the hub has stopped.
func (h *Hub) Wait() {
	<-h.done
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		client.Close()
	}
	h.clients = make(map[string]*Client)
}

func (h *Hub) handleRegister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID()] = client
	log.Printf("[hub] Lobby client %s (%s) registered", client.ID(), client.Username)
}

func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID()]; ok {
		delete(h.clients, client.ID())
		log.Printf("[hub] Lobby client %s (%s) unregistered", client.ID(), client.Username)
	}
}

func (h *Hub) handleBroadcast(update LobbyUpdate) {
	data, err := json.Marshal(update)
	if err != nil {
		log.Printf("[hub] Failed to marshal lobby update: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		if err := client.Send(data); err != nil {
			// Closed or too slow; it will not receive anything further.
			delete(h.clients, id)
			h.dropped++
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues an update for every lobby client.
func (h *Hub) Broadcast(update LobbyUpdate) {
	select {
	case h.broadcast <- update:
	case <-h.done:
	}
}

// ClientCount returns the number of connected lobby clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many clients were removed because a send failed.
func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
