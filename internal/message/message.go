package message

import (
	"time"

	"github.com/google/uuid"

	"github.com/NLCLC-CM/microbit/pkg/wire"
)

// Source names where a message entered the relay
type Source string

const (
	SourceSerial Source = "serial"
	SourcePTY    Source = "pty"
	SourceStdin  Source = "stdin"
	SourceWeb    Source = "web"
	SourceDemo   Source = "demo"
)

// Message is a completed record stamped when it entered the relay.
// It is passed by value; nobody mutates it after New.
type Message struct {
	ID         string    `json:"id"`
	Author     string    `json:"author"`
	Body       string    `json:"message"`
	Source     Source    `json:"source"`
	ReceivedAt time.Time `json:"received_at"`
}

// New stamps a record with a fresh ID
func New(rec wire.Record, source Source, at time.Time) Message {
	return Message{
		ID:         uuid.NewString(),
		Author:     rec.Author,
		Body:       rec.Body,
		Source:     source,
		ReceivedAt: at.UTC(),
	}
}

// Record returns the author and body without metadata
func (m Message) Record() wire.Record {
	return wire.Record{Author: m.Author, Body: m.Body}
}

// String formats the message the way the console shows it
func (m Message) String() string {
	return m.Author + ": " + m.Body
}
