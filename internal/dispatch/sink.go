package dispatch

import (
	"fmt"
	"log/slog"

	"github.com/NLCLC-CM/microbit/internal/message"
)

// Sink consumes completed messages. Consume is only called from one goroutine.
type Sink interface {
	Consume(msg message.Message) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(msg message.Message) error

func (f SinkFunc) Consume(msg message.Message) error {
	return f(msg)
}

// Serve feeds sink from ch until the channel closes. A sink error detaches the
// channel, so producers see ErrNoReceiver for this sink from then on.
func Serve(ch *Channel, sink Sink) error {
	for {
		msg, ok := ch.Recv()
		if !ok {
			slog.Debug("Sink finished", "sink", ch.Name())
			return nil
		}
		if err := sink.Consume(msg); err != nil {
			ch.Detach()
			return fmt.Errorf("sink %s: %w", ch.Name(), err)
		}
	}
}
