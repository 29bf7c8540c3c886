package gateway

import (
	"sync"

	"go.uber.org/zap"

	"github.com/plazaworld/plaza/internals/metrics"
)

// Hub tracks the clients attached to this instance, keyed by client id.
// Last writer wins per id: registering over a live connection terminates
// the stale one.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]*Client
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[int64]*Client),
		logger:  logger,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	prior := h.clients[client.ID]
	h.clients[client.ID] = client
	count := len(h.clients)
	h.mu.Unlock()

	if prior != nil && prior != client {
		h.logger.Info("Terminating stale connection",
			zap.Int64("client_id", client.ID),
		)
		prior.Terminate()
	}
	metrics.ConnectedClients.Set(float64(count))
}

// Unregister removes the client only when it still owns its id, so a
// takeover's teardown cannot evict the replacement.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if current, ok := h.clients[client.ID]; ok && current == client {
		delete(h.clients, client.ID)
	}
	count := len(h.clients)
	h.mu.Unlock()

	client.closeSend()
	metrics.ConnectedClients.Set(float64(count))
}

func (h *Hub) Get(id int64) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[id]
	return client, ok
}

// Owns reports whether this exact client is still the registered holder of
// its id.
func (h *Hub) Owns(client *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[client.ID] == client
}

func (h *Hub) All() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

func (h *Hub) Broadcast(raw []byte) {
	for _, client := range h.All() {
		client.SendRaw(raw)
	}
}
