package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/NLCLC-CM/microbit/internal/message"
)

// Hub fans every sent message out to all attached channels
type Hub struct {
	mu        sync.Mutex
	channels  []*Channel
	producers int
	closed    bool
}

// NewHub creates a hub without sinks or producers
func NewHub() *Hub {
	return &Hub{}
}

// Attach registers a sink channel. Messages sent before Attach are not replayed.
func (h *Hub) Attach(name string) *Channel {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := newChannel(name)
	if h.closed {
		ch.closed = true
	}
	h.channels = append(h.channels, ch)
	return ch
}

// Producer returns a new sending handle. The hub closes once every producer
// obtained from it has been closed.
func (h *Hub) Producer() *Producer {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.closed {
		h.producers++
	}
	return &Producer{hub: h}
}

// Channels returns the attached channels in attach order
func (h *Hub) Channels() []*Channel {
	h.mu.Lock()
	defer h.mu.Unlock()

	channels := make([]*Channel, len(h.channels))
	copy(channels, h.channels)
	return channels
}

// Closed reports whether every producer has closed
func (h *Hub) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Hub) send(msg message.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	if len(h.channels) == 0 {
		return ErrNoReceiver
	}

	var errs []error
	for _, ch := range h.channels {
		if err := ch.send(msg); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", ch.name, err))
		}
	}
	return errors.Join(errs...)
}

func (h *Hub) release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.producers--
	if h.producers > 0 || h.closed {
		return
	}

	h.closed = true
	for _, ch := range h.channels {
		ch.close()
	}
	slog.Debug("Dispatch hub closed", "sinks", len(h.channels))
}

// Producer is one sending side of a hub
type Producer struct {
	hub  *Hub
	once sync.Once
}

// Send enqueues msg for every attached sink without blocking. A sink whose
// consumer is gone is reported in the returned error; the others still receive msg.
func (p *Producer) Send(msg message.Message) error {
	return p.hub.send(msg)
}

// Close releases the producer. It is safe to call more than once.
func (p *Producer) Close() {
	p.once.Do(p.hub.release)
}
