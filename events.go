package main

import (
	"context"
	"sync"
)

// EventHub fans unsolicited modem lines out to websocket subscribers.
type EventHub struct {
	mu   sync.RWMutex
	pool map[chan string]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{pool: make(map[chan string]struct{})}
}

// Broadcast sends a line to all subscribers without blocking. A subscriber
// whose channel is full misses the line.
func (h *EventHub) Broadcast(line string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.pool {
		select {
		case ch <- line:
		default:
		}
	}
}

// Subscribe returns a channel receiving broadcast lines and a function that
// unsubscribes and closes it.
func (h *EventHub) Subscribe(buffer int) (<-chan string, func()) {
	if buffer <= 0 {
		buffer = 100
	}
	ch := make(chan string, buffer)

	h.mu.Lock()
	h.pool[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.pool[ch]; ok {
			delete(h.pool, ch)
			close(ch)
		}
	}
}

// Pump broadcasts every line from src until ctx is done or src closes.
func (h *EventHub) Pump(ctx context.Context, src <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-src:
			if !ok {
				return nil
			}
			h.Broadcast(line)
		}
	}
}
