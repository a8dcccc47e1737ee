package diag

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessInfo describes the relay process itself
type ProcessInfo struct {
	PID        int32
	CPUPercent float64
	MemoryMB   float64 // RSS in MB
	NumThreads int32
	OpenFiles  int
	CreateTime time.Time
}

// QueueInfo is the backlog of one sink channel
type QueueInfo struct {
	Sink  string
	Depth int
}

// Report is everything the stats page shows
type Report struct {
	Source       string
	Device       string
	Ingesting    bool
	HubClosed    bool // every producer has closed
	LinesRead    uint64
	Completed    uint64
	SendFailures uint64
	Pending      int
	Stored       int
	LiveClients  int
	LiveDropped  uint64
	Queues       []QueueInfo
	Process      *ProcessInfo // nil if process stats are unavailable
	GeneratedAt  time.Time
}

// SortQueues orders queues by depth, deepest first
func SortQueues(queues []QueueInfo) {
	sort.SliceStable(queues, func(i, j int) bool {
		if queues[i].Depth != queues[j].Depth {
			return queues[i].Depth > queues[j].Depth
		}
		return queues[i].Sink < queues[j].Sink
	})
}

// Self returns resource usage of the current process
func Self() (*ProcessInfo, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect own process: %w", err)
	}
	return fetchProcessInfo(p), nil
}

// fetchProcessInfo collects what it can; single fields may fail on some platforms
func fetchProcessInfo(p *process.Process) *ProcessInfo {
	info := &ProcessInfo{
		PID: p.Pid,
	}

	if cpuPercent, err := p.CPUPercent(); err == nil {
		info.CPUPercent = cpuPercent
	}

	if memInfo, err := p.MemoryInfo(); err == nil {
		info.MemoryMB = float64(memInfo.RSS) / 1024 / 1024
	}

	if numThreads, err := p.NumThreads(); err == nil {
		info.NumThreads = numThreads
	}

	if files, err := p.OpenFiles(); err == nil {
		info.OpenFiles = len(files)
	}

	if createTime, err := p.CreateTime(); err == nil {
		info.CreateTime = time.UnixMilli(createTime)
	}

	return info
}

// Uptime returns how long the process has been running
func (p *ProcessInfo) Uptime(now time.Time) time.Duration {
	if p == nil || p.CreateTime.IsZero() {
		return 0
	}
	return now.Sub(p.CreateTime).Truncate(time.Second)
}
