package ingest

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/NLCLC-CM/microbit/internal/dispatch"
	"github.com/NLCLC-CM/microbit/internal/message"
	"github.com/NLCLC-CM/microbit/pkg/wire"
)

type recorder struct {
	mu       sync.Mutex
	messages []message.Message
	err      error
}

func (r *recorder) Send(msg message.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return r.err
}

func (r *recorder) records() []wire.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var records []wire.Record
	for _, m := range r.messages {
		records = append(records, m.Record())
	}
	return records
}

func TestLoop_Reassembles(t *testing.T) {
	out := &recorder{}
	loop := New(strings.NewReader("Alice,Hello wor$\nAlice,ld\nBob,Hi\n"), out)

	require.NoError(t, loop.Run())
	require.Equal(t, []wire.Record{
		{Author: "Alice", Body: "Hello world"},
		{Author: "Bob", Body: "Hi"},
	}, out.records())

	stats := loop.Stats()
	require.Equal(t, uint64(3), stats.LinesRead)
	require.Equal(t, uint64(2), stats.Completed)
	require.Equal(t, 0, stats.Pending)
}

func TestLoop_Interleaved(t *testing.T) {
	out := &recorder{}
	loop := New(strings.NewReader("X,a$\nY,b$\nX,c\nY,d\n"), out)

	require.NoError(t, loop.Run())
	require.Equal(t, []wire.Record{
		{Author: "X", Body: "ac"},
		{Author: "Y", Body: "bd"},
	}, out.records())
}

func TestLoop_FinalLineWithoutTerminator(t *testing.T) {
	out := &recorder{}
	loop := New(strings.NewReader("Bob,Hi\nno author here"), out)

	require.NoError(t, loop.Run())
	require.Equal(t, []wire.Record{
		{Author: "Bob", Body: "Hi"},
		{Author: wire.UnknownAuthor, Body: "no author here"},
	}, out.records())
}

func TestLoop_UnterminatedContinuationIsObservable(t *testing.T) {
	out := &recorder{}
	loop := New(strings.NewReader("ghost,never$\nBob,Hi\n"), out)

	require.NoError(t, loop.Run())
	require.Equal(t, []wire.Record{{Author: "Bob", Body: "Hi"}}, out.records())
	require.Equal(t, 1, loop.Stats().Pending)
}

func TestLoop_StampsMessages(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 1, 7, 12, 0, 0, 0, time.UTC))

	out := &recorder{}
	loop := New(strings.NewReader("Bob,Hi\n"), out, WithClock(clk), WithSource(message.SourcePTY))
	require.NoError(t, loop.Run())

	require.Len(t, out.messages, 1)
	msg := out.messages[0]
	require.Equal(t, message.SourcePTY, msg.Source)
	require.True(t, msg.ReceivedAt.Equal(clk.Now()))
	require.NotEmpty(t, msg.ID)
}

type failingReader struct {
	data string
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.data == "" {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func TestLoop_ReadErrorTerminates(t *testing.T) {
	errLink := errors.New("link lost")
	out := &recorder{}
	loop := New(&failingReader{data: "Bob,Hi\nAlice,half$\n", err: errLink}, out)

	err := loop.Run()
	require.True(t, errors.Is(err, errLink))
	require.Equal(t, []wire.Record{{Author: "Bob", Body: "Hi"}}, out.records())
	require.Equal(t, 1, loop.Stats().Pending)
}

func TestLoop_ReadErrorDropsPartialLine(t *testing.T) {
	errTimeout := errors.New("read timeout")
	out := &recorder{}
	loop := New(&failingReader{data: "Bob,Hi\nAlice,Hel", err: errTimeout}, out)

	err := loop.Run()
	require.True(t, errors.Is(err, errTimeout))
	require.Equal(t, []wire.Record{{Author: "Bob", Body: "Hi"}}, out.records())
	require.Equal(t, uint64(1), loop.Stats().LinesRead)
	require.Equal(t, 0, loop.Stats().Pending)
}

func TestLoop_SendFailureDoesNotStopIngestion(t *testing.T) {
	out := &recorder{err: dispatch.ErrNoReceiver}
	loop := New(strings.NewReader("a,1\nb,2\nc,3\n"), out)

	require.NoError(t, loop.Run())
	require.Len(t, out.records(), 3)
	require.Equal(t, uint64(3), loop.Stats().SendFailures)
}

func TestLoop_FeedsDispatchHub(t *testing.T) {
	hub := dispatch.NewHub()
	console := hub.Attach("console")
	store := hub.Attach("store")
	producer := hub.Producer()

	r, w := io.Pipe()
	loop := New(r, producer)
	done := make(chan error)
	go func() {
		err := loop.Run()
		producer.Close()
		done <- err
	}()

	_, err := io.WriteString(w, "Alice,Hello wor$\nAlice,ld\nBob,Hi\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, <-done)

	for _, ch := range []*dispatch.Channel{console, store} {
		var got []string
		for {
			m, ok := ch.Recv()
			if !ok {
				break
			}
			got = append(got, m.String())
		}
		require.Equal(t, []string{"Alice: Hello world", "Bob: Hi"}, got)
	}
}
