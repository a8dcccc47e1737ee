package transport

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/NLCLC-CM/microbit/internal/config"
	"github.com/NLCLC-CM/microbit/internal/message"
)

// ptyPort is a virtual serial port. Devices (or `microbit send`) write to the
// slave end, the relay reads from the master.
type ptyPort struct {
	io.Reader
	ptmx *os.File
	tty  *os.File
}

func openPTY(cfg config.Transport) (Port, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open pty: %w", err)
	}

	// Raw mode: no echo, no line editing, no newline translation
	if _, err := term.MakeRaw(int(tty.Fd())); err != nil {
		_ = ptmx.Close()
		_ = tty.Close()
		return nil, fmt.Errorf("failed to put %s into raw mode: %w", tty.Name(), err)
	}

	slog.Info("Virtual serial port ready", "device", tty.Name())
	return &ptyPort{
		Reader: WithTimeout(ptmx, cfg.ReadTimeout),
		ptmx:   ptmx,
		tty:    tty,
	}, nil
}

func (p *ptyPort) Close() error {
	ttyErr := p.tty.Close()
	if err := p.ptmx.Close(); err != nil {
		return err
	}
	return ttyErr
}

func (p *ptyPort) Name() string           { return p.tty.Name() }
func (p *ptyPort) Source() message.Source { return message.SourcePTY }
