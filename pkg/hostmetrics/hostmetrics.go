package hostmetrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/raterudder/homeplug/pkg/types"
)

// Sampler reads CPU, memory and disk usage of the host.
type Sampler struct {
	diskPath  string
	cpuWindow time.Duration
	now       func() time.Time

	cpuPercent    func(ctx context.Context, interval time.Duration, percpu bool) ([]float64, error)
	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	diskUsage     func(ctx context.Context, path string) (*disk.UsageStat, error)
	uptime        func(ctx context.Context) (uint64, error)
}

// New returns a Sampler that reports disk usage of the filesystem holding
// diskPath and averages CPU usage over cpuWindow. A zero cpuWindow compares
// against the previous call.
func New(diskPath string, cpuWindow time.Duration) *Sampler {
	return &Sampler{
		diskPath:      diskPath,
		cpuWindow:     cpuWindow,
		now:           time.Now,
		cpuPercent:    cpu.PercentWithContext,
		virtualMemory: mem.VirtualMemoryWithContext,
		diskUsage:     disk.UsageWithContext,
		uptime:        host.UptimeWithContext,
	}
}

// Configured returns a Sampler configured from flags.
func Configured() *Sampler {
	diskPath := lflag.String("metrics-disk-path", "/", "Path whose filesystem usage is sampled")
	cpuWindow := lflag.Duration("metrics-cpu-window", 500*time.Millisecond, "Window CPU usage is averaged over for each sample")

	s := New("/", 0)

	lflag.Do(func() {
		if *diskPath == "" {
			panic("metrics-disk-path is required")
		}
		if *cpuWindow < 0 {
			panic("metrics-cpu-window must not be negative")
		}
		s.diskPath = *diskPath
		s.cpuWindow = *cpuWindow
	})

	return s
}

// Sample takes one reading. It fails if any of the three readings fail so
// that partial samples are never stored.
func (s *Sampler) Sample(ctx context.Context) (types.MetricsSample, error) {
	percents, err := s.cpuPercent(ctx, s.cpuWindow, false)
	if err != nil {
		return types.MetricsSample{}, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	if len(percents) == 0 {
		return types.MetricsSample{}, errors.New("failed to read cpu usage: no values")
	}

	vm, err := s.virtualMemory(ctx)
	if err != nil {
		return types.MetricsSample{}, fmt.Errorf("failed to read memory usage: %w", err)
	}

	du, err := s.diskUsage(ctx, s.diskPath)
	if err != nil {
		return types.MetricsSample{}, fmt.Errorf("failed to read disk usage of %s: %w", s.diskPath, err)
	}

	return types.MetricsSample{
		Timestamp:       s.now().UTC(),
		CPUPercent:      percents[0],
		MemoryTotal:     vm.Total,
		MemoryAvailable: vm.Available,
		MemoryPercent:   vm.UsedPercent,
		DiskTotal:       du.Total,
		DiskUsed:        du.Used,
		DiskPercent:     du.UsedPercent,
	}, nil
}

// HostUptime returns how long the host has been up.
func (s *Sampler) HostUptime(ctx context.Context) (time.Duration, error) {
	secs, err := s.uptime(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read host uptime: %w", err)
	}
	return time.Duration(secs) * time.Second, nil
}
