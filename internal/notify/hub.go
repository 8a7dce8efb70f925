// Package notify fans persisted notifications out to the live connections of their
// recipients.
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"flowboard/internal/metrics"
)

// Channel is one live connection of a user.
type Channel interface {
	Send(ctx context.Context, payload []byte) error
}

// Hub maps user ids to their open channels. It is safe for concurrent use.
type Hub struct {
	mu      sync.Mutex
	conns   map[string]map[Channel]struct{}
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewHub(log zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		conns:   make(map[string]map[Channel]struct{}),
		log:     log,
		metrics: m,
	}
}

func (h *Hub) Register(userID string, ch Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[userID]
	if !ok {
		set = make(map[Channel]struct{})
		h.conns[userID] = set
	}
	set[ch] = struct{}{}
}

// Unregister drops the channel. Unknown users or channels are ignored.
func (h *Hub) Unregister(userID string, ch Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[userID]
	if !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(h.conns, userID)
	}
}

// Connections reports how many channels the user has open.
func (h *Hub) Connections(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}

// Send writes payload to every channel of the user and returns how many writes succeeded.
// A failing channel is logged and left registered; its own connection loop removes it.
func (h *Hub) Send(ctx context.Context, userID string, payload []byte) int {
	h.mu.Lock()
	targets := make([]Channel, 0, len(h.conns[userID]))
	for ch := range h.conns[userID] {
		targets = append(targets, ch)
	}
	h.mu.Unlock()

	delivered := 0
	for _, ch := range targets {
		if err := ch.Send(ctx, payload); err != nil {
			h.log.Debug().Err(err).Str("user_id", userID).Msg("notification push failed")
			h.metrics.NotificationDelivered(false)
			continue
		}
		h.metrics.NotificationDelivered(true)
		delivered++
	}
	return delivered
}
