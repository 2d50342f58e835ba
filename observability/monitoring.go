package observability

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"
)

// ProcessStats is the resource usage reported next to connection counts.
type ProcessStats struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Goroutines int     `json:"goroutines"`
	Uptime     string  `json:"uptime"`
}

// ProcessMonitor samples the current process.
type ProcessMonitor struct {
	proc      *process.Process
	startedAt time.Time
}

func NewProcessMonitor() (*ProcessMonitor, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &ProcessMonitor{proc: p, startedAt: time.Now()}, nil
}

func (m *ProcessMonitor) Sample() (ProcessStats, error) {
	memInfo, err := m.proc.MemoryInfo()
	if err != nil {
		return ProcessStats{}, err
	}
	cpuPercent, err := m.proc.CPUPercent()
	if err != nil {
		return ProcessStats{}, err
	}
	return ProcessStats{
		PID:        m.proc.Pid,
		RSSBytes:   memInfo.RSS,
		CPUPercent: cpuPercent,
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(m.startedAt).Round(time.Second).String(),
	}, nil
}
