// Package transport opens the line-oriented byte streams the relay reads from.
//
// Every port enforces the configured read timeout, so a silent link ends the
// ingestion loop instead of hanging it. A timeout is reported as ErrReadTimeout.
package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/NLCLC-CM/microbit/internal/config"
	"github.com/NLCLC-CM/microbit/internal/message"
)

// ErrReadTimeout is returned when no byte arrived within the read timeout
var ErrReadTimeout = errors.New("transport: read timeout")

// Port is an open line source
type Port interface {
	io.ReadCloser

	// Name identifies the port in logs, e.g. the device path
	Name() string

	// Source is recorded on every message read from the port
	Source() message.Source
}

// Open opens the transport described by cfg
func Open(cfg config.Transport) (Port, error) {
	switch cfg.Kind {
	case config.KindSerial:
		return openSerial(cfg)
	case config.KindPTY:
		return openPTY(cfg)
	case config.KindStdin:
		return openStdin(cfg), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Kind)
	}
}

// Dial opens the write side of a transport, used to simulate a device.
// For the stdin kind the lines go to stdout, so they can be piped into a relay.
func Dial(cfg config.Transport) (io.WriteCloser, error) {
	switch cfg.Kind {
	case config.KindSerial:
		return dialSerial(cfg)
	case config.KindPTY:
		// The serial default never names a relay's pty
		if cfg.Device == "" || cfg.Device == config.DefaultDevice {
			return nil, fmt.Errorf("pty transport requires --device set to the path printed by the relay")
		}
		f, err := os.OpenFile(cfg.Device, os.O_WRONLY, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", cfg.Device, err)
		}
		return f, nil
	case config.KindStdin:
		return nopCloser{os.Stdout}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Kind)
	}
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

type timeoutReader struct {
	r       io.Reader
	d       deadliner
	timeout time.Duration
}

// WithTimeout arms a read deadline before every Read of r. Readers without
// deadline support (for example a terminal on stdin) are returned unchanged.
func WithTimeout(r io.Reader, timeout time.Duration) io.Reader {
	if timeout <= 0 {
		return r
	}
	d, ok := r.(deadliner)
	if !ok {
		slog.Warn("Transport does not support read deadlines, reading without timeout")
		return r
	}
	if err := d.SetReadDeadline(time.Time{}); err != nil {
		slog.Warn("Transport does not support read deadlines, reading without timeout", "error", err)
		return r
	}
	return &timeoutReader{r: r, d: d, timeout: timeout}
}

func (t *timeoutReader) Read(p []byte) (int, error) {
	if err := t.d.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
		return 0, fmt.Errorf("failed to set read deadline: %w", err)
	}
	n, err := t.r.Read(p)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, fmt.Errorf("%w after %s: %w", ErrReadTimeout, t.timeout, err)
	}
	return n, err
}

type stdinPort struct {
	io.Reader
}

func openStdin(cfg config.Transport) Port {
	return &stdinPort{Reader: WithTimeout(os.Stdin, cfg.ReadTimeout)}
}

func (s *stdinPort) Name() string           { return "stdin" }
func (s *stdinPort) Source() message.Source { return message.SourceStdin }

// Close leaves the process's stdin open
func (s *stdinPort) Close() error { return nil }

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
