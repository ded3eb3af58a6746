package sysinfo

import (
	"context"
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/metrics"
	"github.com/therealutkarshpriyadarshi/devops-assistant/pkg/types"
)

type stubSource struct {
	cpu      float64
	cpuErr   error
	interval time.Duration
	diskPath string
}

func (s *stubSource) CPUPercent(ctx context.Context, interval time.Duration) (float64, error) {
	s.interval = interval
	return s.cpu, s.cpuErr
}

func (s *stubSource) Memory(ctx context.Context) (types.MemoryMetrics, error) {
	return types.MemoryMetrics{Total: 16 << 30, Available: 4 << 30, Percent: 75}, nil
}

func (s *stubSource) Disk(ctx context.Context, path string) (types.DiskMetrics, error) {
	s.diskPath = path
	return types.DiskMetrics{Total: 100 << 30, Used: 40 << 30, Free: 60 << 30, Percent: 40}, nil
}

func TestSnapshotDefaults(t *testing.T) {
	src := &stubSource{cpu: 12.5}
	c := NewCollectorWithSource(Config{}, src, nil, nil)

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, DefaultCPUInterval, src.interval)
	assert.Equal(t, DefaultDiskPath, src.diskPath)
	assert.Equal(t, 12.5, snap.CPU.UsagePercent)
	assert.Equal(t, uint64(16<<30), snap.Memory.Total)
	assert.Equal(t, 40.0, snap.Disk.Percent)
}

func TestSnapshotUpdatesGauges(t *testing.T) {
	m := metrics.NewCollector()
	c := NewCollectorWithSource(Config{CPUInterval: time.Millisecond, DiskPath: "/data"}, &stubSource{cpu: 55}, m, nil)

	_, err := c.Snapshot(context.Background())
	require.NoError(t, err)

	metric := &dto.Metric{}
	require.NoError(t, m.HostCPUPercent.Write(metric))
	assert.Equal(t, 55.0, metric.Gauge.GetValue())

	metric = &dto.Metric{}
	require.NoError(t, m.HostMemoryPercent.Write(metric))
	assert.Equal(t, 75.0, metric.Gauge.GetValue())
}

func TestSnapshotError(t *testing.T) {
	c := NewCollectorWithSource(Config{}, &stubSource{cpuErr: errors.New("no /proc")}, nil, nil)

	_, err := c.Snapshot(context.Background())
	assert.ErrorContains(t, err, "cpu usage")
}

func TestHostSource(t *testing.T) {
	c := NewCollector(Config{CPUInterval: 50 * time.Millisecond, DiskPath: t.TempDir()}, nil, nil)

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, snap.CPU.UsagePercent, 0.0)
	assert.Greater(t, snap.Memory.Total, uint64(0))
	assert.Greater(t, snap.Disk.Total, uint64(0))
}
