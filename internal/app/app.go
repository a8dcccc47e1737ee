// Package app wires a transport, the ingestion loop, the distribution channel and
// the sinks into one running relay.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"github.com/NLCLC-CM/microbit/internal/config"
	"github.com/NLCLC-CM/microbit/internal/diag"
	"github.com/NLCLC-CM/microbit/internal/dispatch"
	"github.com/NLCLC-CM/microbit/internal/ingest"
	"github.com/NLCLC-CM/microbit/internal/live"
	"github.com/NLCLC-CM/microbit/internal/message"
	"github.com/NLCLC-CM/microbit/internal/metrics"
	"github.com/NLCLC-CM/microbit/internal/server"
	"github.com/NLCLC-CM/microbit/internal/sinks"
	"github.com/NLCLC-CM/microbit/internal/transport"
	"github.com/NLCLC-CM/microbit/pkg/wire"
)

// Sink names as they appear in logs, metrics and the stats page
const (
	SinkConsole = "console"
	SinkStore   = "store"
	SinkLive    = "live"
)

// Opener opens the configured transport
type Opener func(cfg config.Transport) (transport.Port, error)

// App is one relay instance. Build it with New, start it with Run.
type App struct {
	cfg    *config.Config
	stdout io.Writer
	clk    clock.Clock
	open   Opener

	hub   *dispatch.Hub
	store *sinks.Store
	live  *live.Hub

	loop      atomic.Pointer[ingest.Loop]
	portName  atomic.Value // string
	ingesting atomic.Bool
}

// Option configures an App
type Option func(*App)

// WithClock sets the clock used to stamp messages
func WithClock(clk clock.Clock) Option {
	return func(a *App) {
		a.clk = clk
	}
}

// WithOpener replaces transport.Open
func WithOpener(open Opener) Option {
	return func(a *App) {
		a.open = open
	}
}

// DemoMessages are shown before anything arrived, with --demo
func DemoMessages(clk clock.Clock) []message.Message {
	now := clk.Now()
	return []message.Message{
		message.New(wire.Record{Author: "Person 1", Body: "This is a sample message"}, message.SourceDemo, now),
		message.New(wire.Record{Author: "Person 2", Body: "This is another sample message"}, message.SourceDemo, now),
		message.New(wire.Record{Author: "Person 3", Body: "This is the third sample message"}, message.SourceDemo, now),
	}
}

// New builds the relay. Console output goes to stdout.
func New(cfg *config.Config, stdout io.Writer, opts ...Option) *App {
	a := &App{
		cfg:    cfg,
		stdout: stdout,
		clk:    clock.New(),
		open:   transport.Open,
		hub:    dispatch.NewHub(),
		live:   live.NewHub(),
	}
	for _, opt := range opts {
		opt(a)
	}

	var seed []message.Message
	if cfg.Demo {
		seed = DemoMessages(a.clk)
	}
	a.store = sinks.NewStore(seed...)
	a.portName.Store("")
	return a
}

// Store returns the shared message store
func (a *App) Store() *sinks.Store {
	return a.store
}

// Live returns the hub of SSE and WebSocket clients
func (a *App) Live() *live.Hub {
	return a.live
}

// counted wraps a sink so every consumed message is counted
func counted(name string, sink dispatch.Sink) dispatch.Sink {
	return dispatch.SinkFunc(func(msg message.Message) error {
		if err := sink.Consume(msg); err != nil {
			return err
		}
		metrics.SinkMessages.WithLabelValues(name).Inc()
		return nil
	})
}

// Run starts the relay and blocks until it is done.
//
// Without the web view the relay is done when ingestion ends. With it, the web view
// keeps serving stored messages and form submissions until ctx is cancelled. On
// cancellation the transport is closed, producers are released and every sink
// drains its queue before Run returns.
func (a *App) Run(ctx context.Context) error {
	sinkSet := map[string]dispatch.Sink{SinkStore: a.store}
	if a.cfg.Console {
		sinkSet[SinkConsole] = sinks.NewConsole(a.stdout)
	}
	if a.cfg.Web.Enabled {
		sinkSet[SinkLive] = a.live
	}

	// All sinks and producers are registered before anything is sent
	var consumers sync.WaitGroup
	for _, name := range []string{SinkConsole, SinkStore, SinkLive} {
		sink, ok := sinkSet[name]
		if !ok {
			continue
		}
		ch := a.hub.Attach(name)
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			if err := dispatch.Serve(ch, counted(name, sink)); err != nil {
				slog.Error("Sink stopped", "sink", name, "error", err)
			}
		}()
	}

	ingestProducer := a.hub.Producer()
	var webProducer *dispatch.Producer
	if a.cfg.Web.Enabled {
		webProducer = a.hub.Producer()
	}
	release := func() {
		ingestProducer.Close()
		if webProducer != nil {
			webProducer.Close()
		}
	}

	port, err := a.open(a.cfg.Transport)
	if err != nil {
		release()
		consumers.Wait()
		return fmt.Errorf("failed to open %s transport: %w", a.cfg.Transport.Kind, err)
	}
	a.portName.Store(port.Name())
	slog.Info("Transport open", "kind", a.cfg.Transport.Kind, "port", port.Name())

	loop := ingest.New(port, ingestProducer, ingest.WithClock(a.clk), ingest.WithSource(port.Source()))
	a.loop.Store(loop)
	a.ingesting.Store(true)

	ingestDone := make(chan error, 1)
	go func() {
		err := loop.Run()
		a.ingesting.Store(false)
		ingestProducer.Close()
		ingestDone <- err
	}()

	var webDone chan error
	if a.cfg.Web.Enabled {
		srv, err := server.New(server.Options{
			Store:  a.store,
			Live:   a.live,
			Sender: webProducer,
			Clock:  a.clk,
			Stats:  a.Report,
		})
		if err != nil {
			_ = port.Close()
			release()
			consumers.Wait()
			return fmt.Errorf("failed to create web server: %w", err)
		}
		webDone = make(chan error, 1)
		go func() {
			webDone <- srv.Start(ctx, a.cfg.Web.Addr)
		}()
	}

	var ingestErr, webErr error
	ingestFinished := false
	if webDone == nil {
		select {
		case ingestErr = <-ingestDone:
			ingestFinished = true
		case <-ctx.Done():
		}
	} else {
		for webDone != nil {
			select {
			case ingestErr = <-ingestDone:
				ingestFinished = true
				ingestDone = nil
				if ingestErr != nil {
					slog.Error("Ingestion ended, web view keeps running", "error", ingestErr)
				} else {
					slog.Info("Ingestion ended, web view keeps running")
				}
			case webErr = <-webDone:
				webDone = nil
			}
		}
	}

	if err := port.Close(); err != nil {
		slog.Debug("Closing transport", "error", err)
	}
	if !ingestFinished {
		// Stdin cannot be interrupted; its loop is abandoned with the process
		slog.Info("Stopping ingestion", "port", port.Name())
	}
	release()
	consumers.Wait()
	slog.Info("Relay stopped", "stored", a.store.Len())

	return errors.Join(ingestErr, webErr)
}

// Report collects the diagnostics shown on the stats page
func (a *App) Report() diag.Report {
	report := diag.Report{
		Source:      a.cfg.Transport.Kind,
		Device:      a.portName.Load().(string),
		Ingesting:   a.ingesting.Load(),
		HubClosed:   a.hub.Closed(),
		Stored:      a.store.Len(),
		LiveClients: a.live.ClientCount(),
		LiveDropped: a.live.Dropped(),
		GeneratedAt: a.clk.Now(),
	}
	if loop := a.loop.Load(); loop != nil {
		stats := loop.Stats()
		report.LinesRead = stats.LinesRead
		report.Completed = stats.Completed
		report.SendFailures = stats.SendFailures
		report.Pending = stats.Pending
	}
	for _, ch := range a.hub.Channels() {
		report.Queues = append(report.Queues, diag.QueueInfo{Sink: ch.Name(), Depth: ch.Len()})
	}
	diag.SortQueues(report.Queues)

	if info, err := diag.Self(); err != nil {
		slog.Debug("Process stats unavailable", "error", err)
	} else {
		report.Process = info
	}
	return report
}
