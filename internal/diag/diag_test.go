package diag

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSelf(t *testing.T) {
	info, err := Self()
	require.NoError(t, err)
	require.Equal(t, int32(os.Getpid()), info.PID)
	require.Greater(t, info.MemoryMB, 0.0)
	require.Greater(t, info.NumThreads, int32(0))
}

func TestSortQueues(t *testing.T) {
	queues := []QueueInfo{
		{Sink: "store", Depth: 0},
		{Sink: "console", Depth: 4},
		{Sink: "live", Depth: 0},
	}
	SortQueues(queues)
	require.Equal(t, []QueueInfo{
		{Sink: "console", Depth: 4},
		{Sink: "live", Depth: 0},
		{Sink: "store", Depth: 0},
	}, queues)
}

func TestUptime(t *testing.T) {
	now := time.Date(2025, 1, 7, 12, 0, 0, 0, time.UTC)
	info := &ProcessInfo{CreateTime: now.Add(-90*time.Second - 300*time.Millisecond)}
	require.Equal(t, 90*time.Second, info.Uptime(now))

	var missing *ProcessInfo
	require.Equal(t, time.Duration(0), missing.Uptime(now))
}
