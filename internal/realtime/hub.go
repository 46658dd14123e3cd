package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/bazaarline/marketplace-backend/pkg/logger"
)

const sendBuffer = 16

// client is one live socket. Writes go through send so a slow socket never
// blocks delivery to the others.
type client struct {
	merchantID uuid.UUID
	send       chan Notification
	done       chan struct{}
	closeOnce  sync.Once
}

func newClient(merchantID uuid.UUID) *client {
	return &client{
		merchantID: merchantID,
		send:       make(chan Notification, sendBuffer),
		done:       make(chan struct{}),
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Hub is the process-wide registry of merchant connections. Entries are added
// on connect and removed on disconnect.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*client]struct{}
	logg    *logger.Logger
}

func NewHub(logg *logger.Logger) *Hub {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Hub{clients: make(map[uuid.UUID]map[*client]struct{}), logg: logg}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.merchantID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.merchantID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[c.merchantID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.merchantID)
		}
	}
	c.close()
}

// Connections reports how many sockets a merchant has open here.
func (h *Hub) Connections(merchantID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[merchantID])
}

// Deliver hands n to every local socket of its merchant and returns how many
// received it. Full buffers drop the message.
func (h *Hub) Deliver(ctx context.Context, n Notification) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for c := range h.clients[n.MerchantID] {
		select {
		case c.send <- n:
			delivered++
		default:
			h.logg.Warn(h.logg.WithMerchantID(ctx, n.MerchantID.String()), "realtime.send_buffer_full")
		}
	}
	return delivered
}
