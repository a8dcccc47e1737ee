package sinks

import (
	"fmt"
	"io"

	"github.com/NLCLC-CM/microbit/internal/dispatch"
	"github.com/NLCLC-CM/microbit/internal/message"
)

// Console prints every message as "author: body"
type Console struct {
	w io.Writer
}

var _ dispatch.Sink = &Console{}

// NewConsole creates a console sink writing to w
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Consume writes one line. A write error is returned as is; the caller stops the sink.
func (c *Console) Consume(msg message.Message) error {
	if _, err := fmt.Fprintln(c.w, msg.String()); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
