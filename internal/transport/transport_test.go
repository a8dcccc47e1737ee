package transport

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NLCLC-CM/microbit/internal/config"
	"github.com/NLCLC-CM/microbit/internal/message"
)

func TestWithTimeout_ExpiresOnSilentPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	defer func() { _ = w.Close() }()

	reader := WithTimeout(r, 50*time.Millisecond)

	_, err = w.Write([]byte("Alice,Hi\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(reader).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "Alice,Hi\n", line)

	start := time.Now()
	_, err = reader.Read(make([]byte, 16))
	require.True(t, errors.Is(err, ErrReadTimeout), "got %v", err)
	require.True(t, errors.Is(err, os.ErrDeadlineExceeded))
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestWithTimeout_Disabled(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	defer func() { _ = w.Close() }()

	require.Same(t, r, WithTimeout(r, 0))
}

func TestWithTimeout_NoDeadlineSupport(t *testing.T) {
	src := bytes.NewReader([]byte("Bob,Hi\n"))
	reader := WithTimeout(src, time.Second)
	require.Same(t, src, reader)

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, "Bob,Hi\n", string(data))
}

func TestWithTimeout_EOF(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	reader := WithTimeout(r, time.Second)
	_, err = w.Write([]byte("last"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, "last", string(data))
}

func TestPTY_DeviceWritesReachRelay(t *testing.T) {
	port, err := Open(config.Transport{Kind: config.KindPTY})
	require.NoError(t, err)
	defer func() { _ = port.Close() }()

	require.NotEmpty(t, port.Name())
	require.Equal(t, message.SourcePTY, port.Source())

	device, err := Dial(config.Transport{Kind: config.KindPTY, Device: port.Name()})
	require.NoError(t, err)
	defer func() { _ = device.Close() }()

	_, err = io.WriteString(device, "Alice,Hello wor$\nAlice,ld\n")
	require.NoError(t, err)

	reader := bufio.NewReader(port)
	first, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "Alice,Hello wor$\n", first)

	second, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "Alice,ld\n", second)
}

func TestOpen_UnknownKind(t *testing.T) {
	_, err := Open(config.Transport{Kind: "smoke-signals"})
	require.Error(t, err)

	_, err = Dial(config.Transport{Kind: "smoke-signals"})
	require.Error(t, err)
}

func TestDial_PTYRequiresDevice(t *testing.T) {
	_, err := Dial(config.Transport{Kind: config.KindPTY})
	require.Error(t, err)

	_, err = Dial(config.Transport{Kind: config.KindPTY, Device: config.DefaultDevice})
	require.ErrorContains(t, err, "--device")
}

func TestOpen_SerialMissingDevice(t *testing.T) {
	_, err := Open(config.Transport{Kind: config.KindSerial, Device: "/dev/does-not-exist-microbit", Baud: 115200})
	require.Error(t, err)
}
