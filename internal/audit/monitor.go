package audit

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"mastermind/internal/logging"
)

// LoadSampler supplies host load readings for the deferral policy. The
// Monitor implements it; tests substitute fixed readings.
type LoadSampler interface {
	CPUPercent() float64
	MemoryPercent() float64
}

// Monitor samples host CPU and memory utilization in the background. It
// doubles as the kernel's ResourceSampler so system-analysis telemetry
// and the audit load policy read the same numbers.
type Monitor struct {
	interval time.Duration

	mu         sync.RWMutex
	cpuPercent float64
	memPercent float64
	sampledAt  time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool
	wg       sync.WaitGroup
}

// NewMonitor builds a monitor sampling every interval (minimum one
// second).
func NewMonitor(interval time.Duration) *Monitor {
	if interval < time.Second {
		interval = time.Second
	}
	return &Monitor{
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start takes an initial sample and begins the background loop. Call
// Stop to end it. Starting twice is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	m.sample(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
	logging.AuditDebug("resource monitor started (interval %s)", m.interval)
	return nil
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

// sample reads the host gauges. A failed read keeps the previous value;
// the host being briefly unreadable must not fail an audit tick.
func (m *Monitor) sample(ctx context.Context) {
	var cpuPct, memPct float64
	haveCPU, haveMem := false, false

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		logging.AuditDebug("cpu sample failed: %v", err)
	} else if len(pcts) > 0 {
		cpuPct = pcts[0]
		haveCPU = true
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		logging.AuditDebug("memory sample failed: %v", err)
	} else {
		memPct = vm.UsedPercent
		haveMem = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if haveCPU {
		m.cpuPercent = cpuPct
	}
	if haveMem {
		m.memPercent = memPct
	}
	m.sampledAt = time.Now()
}

// Stop ends the background loop. Idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// CPUPercent returns the last sampled host CPU utilization.
func (m *Monitor) CPUPercent() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cpuPercent
}

// MemoryPercent returns the last sampled host memory utilization.
func (m *Monitor) MemoryPercent() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memPercent
}

// Snapshot implements kernel.ResourceSampler.
func (m *Monitor) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]any{
		"cpu_percent":    m.cpuPercent,
		"memory_percent": m.memPercent,
	}
}
