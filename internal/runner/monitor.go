package runner

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// defaultSampleInterval is how often Monitor polls the child.
const defaultSampleInterval = 5 * time.Second

// ProcessStats is a point-in-time resource sample for a supervised child.
type ProcessStats struct {
	PID            int32         `json:"pid"`
	CPUPercent     float64       `json:"cpuPercent"`
	MemoryRSSBytes uint64        `json:"memoryRssBytes"`
	MemoryVMSBytes uint64        `json:"memoryVmsBytes"`
	BytesWritten   uint64        `json:"bytesWritten"`
	WriteRateBps   float64       `json:"writeRateBps"`
	StartedAt      time.Time     `json:"startedAt"`
	Uptime         time.Duration `json:"uptime"`
	SampledAt      time.Time     `json:"sampledAt"`
}

// Monitor periodically samples CPU and memory usage of a child process. Byte
// throughput is tracked externally through CountingWriter.
type Monitor struct {
	pid       int32
	proc      *process.Process
	startedAt time.Time

	mu       sync.RWMutex
	interval time.Duration
	stats    ProcessStats

	bytesWritten atomic.Uint64
	lastBytes    uint64
	lastBytesAt  time.Time

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor for pid. Sampling starts with Start.
func NewMonitor(pid int32) *Monitor {
	m := &Monitor{
		pid:       pid,
		startedAt: time.Now(),
		interval:  defaultSampleInterval,
		stop:      make(chan struct{}),
	}
	if proc, err := process.NewProcess(pid); err == nil {
		m.proc = proc
	}
	return m
}

// SetInterval overrides the sampling interval. Must be called before Start.
func (m *Monitor) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.interval = d
	m.mu.Unlock()
}

// Start begins the sampling loop.
func (m *Monitor) Start() {
	m.mu.RLock()
	interval := m.interval
	m.mu.RUnlock()

	m.lastBytesAt = time.Now()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.sample()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()
}

// Stop halts sampling and waits for the loop to exit. Safe to call twice.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

// Stats returns the latest sample overlaid with the live byte counters.
func (m *Monitor) Stats() ProcessStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := m.stats
	stats.BytesWritten = m.bytesWritten.Load()
	if stats.PID == 0 {
		stats.PID = m.pid
		stats.StartedAt = m.startedAt
	}
	return stats
}

// AddBytesWritten advances the write throughput counter.
func (m *Monitor) AddBytesWritten(n uint64) {
	m.bytesWritten.Add(n)
}

func (m *Monitor) sample() {
	now := time.Now()

	stats := ProcessStats{
		PID:       m.pid,
		StartedAt: m.startedAt,
		Uptime:    now.Sub(m.startedAt),
		SampledAt: now,
	}

	if m.proc != nil {
		// Percent with interval 0 measures usage since the previous call,
		// which on the sampling ticker gives a windowed percentage.
		if pct, err := m.proc.Percent(0); err == nil {
			stats.CPUPercent = pct
		}
		if memInfo, err := m.proc.MemoryInfo(); err == nil && memInfo != nil {
			stats.MemoryRSSBytes = memInfo.RSS
			stats.MemoryVMSBytes = memInfo.VMS
		}
	}

	current := m.bytesWritten.Load()
	m.mu.Lock()
	if elapsed := now.Sub(m.lastBytesAt); elapsed > 0 {
		stats.WriteRateBps = float64(current-m.lastBytes) / elapsed.Seconds()
	}
	stats.BytesWritten = current
	m.lastBytes = current
	m.lastBytesAt = now
	m.stats = stats
	m.mu.Unlock()
}

// CountingWriter wraps an io.Writer and reports written bytes to a monitor.
type CountingWriter struct {
	w       io.Writer
	monitor *Monitor
}

// NewCountingWriter creates a writer that forwards to w and counts bytes.
func NewCountingWriter(w io.Writer, monitor *Monitor) *CountingWriter {
	return &CountingWriter{w: w, monitor: monitor}
}

func (cw *CountingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	if n > 0 && cw.monitor != nil {
		cw.monitor.AddBytesWritten(uint64(n))
	}
	return n, err
}
