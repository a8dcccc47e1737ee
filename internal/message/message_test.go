package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NLCLC-CM/microbit/pkg/wire"
)

func TestNew(t *testing.T) {
	at := time.Date(2025, 1, 7, 12, 34, 56, 0, time.FixedZone("CET", 3600))
	msg := New(wire.Record{Author: "Alice", Body: "Hello world"}, SourceSerial, at)

	require.NotEmpty(t, msg.ID)
	require.Equal(t, "Alice", msg.Author)
	require.Equal(t, "Hello world", msg.Body)
	require.Equal(t, SourceSerial, msg.Source)
	require.Equal(t, time.UTC, msg.ReceivedAt.Location())
	require.True(t, msg.ReceivedAt.Equal(at))
	require.Equal(t, "Alice: Hello world", msg.String())
	require.Equal(t, wire.Record{Author: "Alice", Body: "Hello world"}, msg.Record())

	other := New(wire.Record{Author: "Alice", Body: "Hello world"}, SourceSerial, at)
	require.NotEqual(t, msg.ID, other.ID)
}

func TestMessage_JSON(t *testing.T) {
	msg := New(wire.Record{Author: "Bob", Body: "Hi"}, SourceWeb, time.Now())
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	require.Equal(t, "Bob", fields["author"])
	require.Equal(t, "Hi", fields["message"])
	require.Equal(t, "web", fields["source"])
}
