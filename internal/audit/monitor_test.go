package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mastermind/internal/config"
	"mastermind/internal/kernel"
	"mastermind/internal/llm"
)

func TestMonitorSamplesHostGauges(t *testing.T) {
	m := NewMonitor(time.Second)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	snap := m.Snapshot()
	cpu, ok := snap["cpu_percent"].(float64)
	require.True(t, ok)
	mem, ok := snap["memory_percent"].(float64)
	require.True(t, ok)

	assert.GreaterOrEqual(t, cpu, 0.0)
	assert.LessOrEqual(t, cpu, 100.0)
	assert.GreaterOrEqual(t, mem, 0.0)
	assert.LessOrEqual(t, mem, 100.0)

	assert.Equal(t, cpu, m.CPUPercent())
	assert.Equal(t, mem, m.MemoryPercent())
}

// The runtime attaches the monitor before kernel init; init starts any
// sampler exposing Start, so the gauges are live with no explicit Start
// at the attachment site.
func TestKernelInitStartsAttachedMonitor(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()

	m := NewMonitor(time.Second)
	k := kernel.New(cfg, nil)
	k.SetLLM(llm.NewMockHandler("ok"))
	k.SetResourceSampler(m)
	require.NoError(t, k.Init(context.Background()))
	t.Cleanup(k.Shutdown)
	t.Cleanup(m.Stop)

	m.mu.RLock()
	sampled := m.sampledAt
	m.mu.RUnlock()
	assert.False(t, sampled.IsZero(), "init must take the first sample")

	snap := k.TelemetrySnapshot()
	_, ok := snap["cpu_percent"].(float64)
	assert.True(t, ok)
}

func TestMonitorStopIsIdempotent(t *testing.T) {
	m := NewMonitor(10 * time.Millisecond)
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()), "second Start is a no-op")
	m.Stop()
	m.Stop()
}
