package sinks

import (
	"sync"

	"github.com/NLCLC-CM/microbit/internal/dispatch"
	"github.com/NLCLC-CM/microbit/internal/message"
)

// Store keeps every message in arrival order for the web view
type Store struct {
	mu       sync.RWMutex
	messages []message.Message
}

var _ dispatch.Sink = &Store{}

// NewStore creates a store holding the given initial messages
func NewStore(seed ...message.Message) *Store {
	messages := make([]message.Message, 0, len(seed)+64)
	messages = append(messages, seed...)
	return &Store{messages: messages}
}

// Consume appends msg
func (s *Store) Consume(msg message.Message) error {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of all messages. Render from the copy, not under the lock.
func (s *Store) Snapshot() []message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]message.Message, len(s.messages))
	copy(copied, s.messages)
	return copied
}

// Since returns a copy of the messages after the first n
func (s *Store) Since(n int) []message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n < 0 {
		n = 0
	}
	if n >= len(s.messages) {
		return nil
	}
	copied := make([]message.Message, len(s.messages)-n)
	copy(copied, s.messages[n:])
	return copied
}

// Len returns the number of stored messages
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
