package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/sjawhar/doobs/internal/recognition"
)

// Hub fans events out to websocket subscribers. It implements
// recognition.EventSink.
type Hub struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	closed  bool
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger.With(slog.String("component", "hub")),
		clients: make(map[chan []byte]struct{}),
	}
}

// Subscribe registers a subscriber. After Close it returns a closed channel.
func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.clients[ch] = struct{}{}
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; !ok {
		return
	}
	delete(h.clients, ch)
	close(ch)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

// Broadcast delivers msg to every subscriber. Slow subscribers miss messages
// rather than block the sender.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
			h.logger.Debug("dropping event for slow subscriber")
		}
	}
}

func (h *Hub) SnapshotChanged(snapshot recognition.Snapshot) {
	h.broadcastEvent(newSnapshotEvent(snapshot))
}

func (h *Hub) Lifecycle(event recognition.LifecycleEvent) {
	h.broadcastEvent(LifecycleEvent{
		Event:  newEvent("lifecycle", event.At),
		Kind:   event.Kind,
		Code:   event.Code,
		Detail: event.Detail,
		Words:  event.Words,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("event marshal error", slog.String("error", err.Error()))
		return
	}
	h.Broadcast(payload)
}
