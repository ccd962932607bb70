package notify

import (
	"context"
	"sync"

	"ms-turnos/internal/metrics"
	"ms-turnos/internal/models"
)

const clientBuffer = 10

// Hub is the in-process registry of live-display subscribers.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan models.TurnEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan models.TurnEvent]struct{})}
}

// Subscribe registers a client until ctx is done, after which its channel is closed.
func (h *Hub) Subscribe(ctx context.Context) <-chan models.TurnEvent {
	ch := make(chan models.TurnEvent, clientBuffer)

	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	metrics.SSEClients.Inc()

	go func() {
		<-ctx.Done()
		h.remove(ch)
	}()

	return ch
}

// Broadcast skips clients whose buffer is full.
func (h *Hub) Broadcast(ev models.TurnEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) Deliver(_ context.Context, ev models.TurnEvent) error {
	h.Broadcast(ev)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(ch chan models.TurnEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[ch]; !ok {
		return
	}
	delete(h.clients, ch)
	close(ch)
	metrics.SSEClients.Dec()
}
