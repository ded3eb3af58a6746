package sysinfo

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/logging"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/metrics"
	"github.com/therealutkarshpriyadarshi/devops-assistant/pkg/types"
)

const (
	DefaultCPUInterval = time.Second
	DefaultDiskPath    = "/"
)

// Config controls how host metrics are sampled
type Config struct {
	CPUInterval time.Duration
	DiskPath    string
}

// Source reads raw host statistics
type Source interface {
	CPUPercent(ctx context.Context, interval time.Duration) (float64, error)
	Memory(ctx context.Context) (types.MemoryMetrics, error)
	Disk(ctx context.Context, path string) (types.DiskMetrics, error)
}

// Collector produces host metric snapshots
type Collector struct {
	source      Source
	cpuInterval time.Duration
	diskPath    string
	metrics     *metrics.Collector
	logger      *logging.Logger
}

// NewCollector creates a collector reading from the local host
func NewCollector(cfg Config, m *metrics.Collector, logger *logging.Logger) *Collector {
	return NewCollectorWithSource(cfg, HostSource{}, m, logger)
}

// NewCollectorWithSource creates a collector reading from src
func NewCollectorWithSource(cfg Config, src Source, m *metrics.Collector, logger *logging.Logger) *Collector {
	if cfg.CPUInterval <= 0 {
		cfg.CPUInterval = DefaultCPUInterval
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = DefaultDiskPath
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Collector{
		source:      src,
		cpuInterval: cfg.CPUInterval,
		diskPath:    cfg.DiskPath,
		metrics:     m,
		logger:      logger.WithComponent("sysinfo"),
	}
}

// Snapshot samples CPU over the configured interval and reads memory and
// disk usage. It blocks for at least the CPU interval.
func (c *Collector) Snapshot(ctx context.Context) (*types.HostMetrics, error) {
	cpuPercent, err := c.source.CPUPercent(ctx, c.cpuInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to read cpu usage: %w", err)
	}

	memory, err := c.source.Memory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read memory usage: %w", err)
	}

	diskUsage, err := c.source.Disk(ctx, c.diskPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read disk usage of %s: %w", c.diskPath, err)
	}

	snapshot := &types.HostMetrics{
		CPU:    types.CPUMetrics{UsagePercent: cpuPercent},
		Memory: memory,
		Disk:   diskUsage,
	}

	if c.metrics != nil {
		c.metrics.HostCPUPercent.Set(snapshot.CPU.UsagePercent)
		c.metrics.HostMemoryPercent.Set(snapshot.Memory.Percent)
		c.metrics.HostMemoryTotal.Set(float64(snapshot.Memory.Total))
		c.metrics.HostDiskPercent.Set(snapshot.Disk.Percent)
		c.metrics.HostDiskTotal.Set(float64(snapshot.Disk.Total))
	}

	c.logger.Debug().
		Float64("cpu_percent", snapshot.CPU.UsagePercent).
		Float64("memory_percent", snapshot.Memory.Percent).
		Float64("disk_percent", snapshot.Disk.Percent).
		Msg("Host metrics sampled")

	return snapshot, nil
}

// HostSource reads statistics of the machine the process runs on
type HostSource struct{}

// CPUPercent returns overall CPU usage measured across interval
func (HostSource) CPUPercent(ctx context.Context, interval time.Duration) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("no cpu samples returned")
	}
	return percents[0], nil
}

// Memory returns virtual memory usage
func (HostSource) Memory(ctx context.Context) (types.MemoryMetrics, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return types.MemoryMetrics{}, err
	}
	return types.MemoryMetrics{
		Total:     vm.Total,
		Available: vm.Available,
		Percent:   vm.UsedPercent,
	}, nil
}

// Disk returns usage of the filesystem holding path
func (HostSource) Disk(ctx context.Context, path string) (types.DiskMetrics, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return types.DiskMetrics{}, err
	}
	return types.DiskMetrics{
		Total:   usage.Total,
		Used:    usage.Used,
		Free:    usage.Free,
		Percent: usage.UsedPercent,
	}, nil
}
