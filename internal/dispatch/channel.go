// Package dispatch distributes completed messages from producers to sinks.
//
// Every sink gets its own unbounded FIFO [Channel]. A [Hub] feeds the same message to
// all channels under one lock, so every sink observes the same order. Producers never
// block: the line rate of the transport is the only backpressure.
package dispatch

import (
	"errors"
	"sync"

	"github.com/oleiade/lane"

	"github.com/NLCLC-CM/microbit/internal/message"
)

var (
	// ErrClosed is returned when sending after every producer closed
	ErrClosed = errors.New("dispatch: hub closed")

	// ErrNoReceiver is returned when a channel's consumer has gone away
	ErrNoReceiver = errors.New("dispatch: no receiver")
)

// Channel is an unbounded FIFO queue read by exactly one sink
type Channel struct {
	name string

	mu       sync.Mutex
	cond     *sync.Cond
	queue    *lane.Queue
	closed   bool // producer side, Recv drains then stops
	detached bool // receiver side, sends fail
}

func newChannel(name string) *Channel {
	c := &Channel{
		name:  name,
		queue: lane.NewQueue(),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Name returns the sink name the channel was attached with
func (c *Channel) Name() string {
	return c.name
}

func (c *Channel) send(msg message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.detached {
		return ErrNoReceiver
	}
	if c.closed {
		return ErrClosed
	}
	c.queue.Enqueue(msg)
	c.cond.Signal()
	return nil
}

// Recv blocks until a message is available. It returns false once the channel is
// closed and every queued message has been received, or after Detach.
func (c *Channel) Recv() (message.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.queue.Empty() && !c.closed && !c.detached {
		c.cond.Wait()
	}
	if c.queue.Empty() {
		return message.Message{}, false
	}
	return c.queue.Dequeue().(message.Message), true
}

// Detach marks the receiving side as gone. Queued messages are discarded and later
// sends report ErrNoReceiver.
func (c *Channel) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.detached = true
	for !c.queue.Empty() {
		c.queue.Dequeue()
	}
	c.cond.Broadcast()
}

// Len returns the number of queued messages
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Size()
}

func (c *Channel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.cond.Broadcast()
}
