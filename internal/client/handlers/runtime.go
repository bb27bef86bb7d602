package handlers

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// RuntimeStats describes the daemon process
type RuntimeStats struct {
	PID int32 `json:"pid"`
	// Percentage of total CPU the daemon is using
	CPUPercent float64 `json:"cpuPercent"`
	// Resident memory in bytes
	MemoryRSS uint64 `json:"memoryRss"`
	// Number of threads the daemon is using
	NumThreads int32 `json:"numThreads"`
	// How long the daemon has been running in milliseconds
	Uptime int64 `json:"uptime"`
}

// runtimeStats is best effort: fields the platform does not report stay zero
func runtimeStats() *RuntimeStats {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil
	}

	stats := &RuntimeStats{PID: p.Pid}
	if cpu, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		stats.MemoryRSS = mem.RSS
	}
	if threads, err := p.NumThreads(); err == nil {
		stats.NumThreads = threads
	}
	if created, err := p.CreateTime(); err == nil {
		stats.Uptime = time.Since(time.UnixMilli(created)).Milliseconds()
	}
	return stats
}
