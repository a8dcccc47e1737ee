package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"github.com/NLCLC-CM/microbit/internal/message"
	"github.com/NLCLC-CM/microbit/internal/metrics"
	"github.com/NLCLC-CM/microbit/pkg/wire"
)

// Sender accepts completed messages, typically a dispatch.Producer
type Sender interface {
	Send(msg message.Message) error
}

// Loop reads wire lines from a transport and emits reassembled messages.
//
// The pending table lives inside Run and is only touched by the goroutine running
// it; the counters are mirrored atomically for diagnostics.
type Loop struct {
	src    io.Reader
	out    Sender
	source message.Source
	clk    clock.Clock

	linesRead    atomic.Uint64
	completed    atomic.Uint64
	sendFailures atomic.Uint64
	pending      atomic.Int64
}

// Option configures a Loop
type Option func(*Loop)

// WithClock sets the clock used to stamp messages
func WithClock(clk clock.Clock) Option {
	return func(l *Loop) {
		l.clk = clk
	}
}

// WithSource sets the source recorded on every message
func WithSource(source message.Source) Option {
	return func(l *Loop) {
		l.source = source
	}
}

// New creates a loop reading from src and sending to out
func New(src io.Reader, out Sender, opts ...Option) *Loop {
	l := &Loop{
		src:    src,
		out:    out,
		source: message.SourceSerial,
		clk:    clock.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run reads until the transport ends. It returns nil on end of stream and the read
// error otherwise; either way the loop is finished and is not restarted.
func (l *Loop) Run() error {
	table := wire.NewPendingTable()
	reader := bufio.NewReader(l.src)

	slog.Info("Ingestion started", "source", l.source)
	for {
		line, err := reader.ReadString('\n')
		eof := errors.Is(err, io.EOF)
		// A line cut short by a failed read is not a record
		if line != "" && (err == nil || eof) {
			l.handleLine(table, line)
		}
		if err != nil {
			if eof {
				slog.Info("Ingestion finished, end of stream", "lines", l.linesRead.Load(), "pending", table.Len())
				return nil
			}
			slog.Error("Ingestion stopped, read failed", "error", err, "lines", l.linesRead.Load(), "pending", table.Len(), "dropped", len(line))
			return fmt.Errorf("failed to read line: %w", err)
		}
	}
}

func (l *Loop) handleLine(table *wire.PendingTable, line string) {
	l.linesRead.Add(1)
	metrics.LinesRead.Inc()

	frag := wire.Parse(line)
	rec, done := table.Ingest(frag)
	l.pending.Store(int64(table.Len()))
	metrics.PendingAuthors.Set(float64(table.Len()))
	if !done {
		slog.Debug("Fragment pending", "author", frag.Author, "pending", table.Len())
		return
	}

	msg := message.New(rec, l.source, l.clk.Now())
	l.completed.Add(1)
	metrics.RecordsCompleted.WithLabelValues(string(l.source)).Inc()

	if err := l.out.Send(msg); err != nil {
		l.sendFailures.Add(1)
		metrics.SendFailures.WithLabelValues(string(l.source)).Inc()
		slog.Warn("Failed to distribute message", "author", msg.Author, "id", msg.ID, "error", err)
	}
}

// Stats is a point-in-time view of the loop's counters
type Stats struct {
	LinesRead    uint64
	Completed    uint64
	SendFailures uint64
	Pending      int
}

// Stats returns the current counters. Safe to call from any goroutine.
func (l *Loop) Stats() Stats {
	return Stats{
		LinesRead:    l.linesRead.Load(),
		Completed:    l.completed.Load(),
		SendFailures: l.sendFailures.Load(),
		Pending:      int(l.pending.Load()),
	}
}
