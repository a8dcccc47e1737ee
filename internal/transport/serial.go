package transport

import (
	"fmt"
	"io"
	"log/slog"

	"go.bug.st/serial"

	"github.com/NLCLC-CM/microbit/internal/config"
	"github.com/NLCLC-CM/microbit/internal/message"
)

type serialPort struct {
	port   serial.Port
	device string
}

func openPort(cfg config.Transport) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	return port, nil
}

func openSerial(cfg config.Transport) (Port, error) {
	port, err := openPort(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("failed to set read timeout on %s: %w", cfg.Device, err)
		}
	}

	slog.Info("Serial port opened", "device", cfg.Device, "baud", cfg.Baud, "readTimeout", cfg.ReadTimeout)
	return &serialPort{port: port, device: cfg.Device}, nil
}

func dialSerial(cfg config.Transport) (io.WriteCloser, error) {
	return openPort(cfg)
}

// Read turns the zero-byte read that signals an expired timeout into ErrReadTimeout
func (s *serialPort) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if n == 0 && err == nil && len(p) > 0 {
		return 0, ErrReadTimeout
	}
	return n, err
}

func (s *serialPort) Close() error {
	return s.port.Close()
}

func (s *serialPort) Name() string           { return s.device }
func (s *serialPort) Source() message.Source { return message.SourceSerial }
