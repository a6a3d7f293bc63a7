// Package collector gathers host metrics for the agent and ships them to
// the server as flat metric samples.
package collector

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"go.uber.org/zap"

	"github.com/copperline-io/opswatch/internal/models"
)

// cpuSampleInterval is how long cpu.Percent observes the host per collection.
const cpuSampleInterval = time.Second

// Collector reads host metrics through gopsutil. Network throughput is
// derived from byte-counter deltas between consecutive collections, so the
// first collection reports zero.
type Collector struct {
	diskPath string
	logger   *zap.Logger

	mu         sync.Mutex
	lastNet    net.IOCountersStat
	lastNetAt  time.Time
	hasLastNet bool
}

// New creates a collector. diskPath is the mountpoint to report disk usage
// for; empty means "/". A nil logger disables logging.
func New(diskPath string, logger *zap.Logger) *Collector {
	if diskPath == "" {
		diskPath = "/"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{diskPath: diskPath, logger: logger}
}

// Collect gathers one round of host metrics. Individual collector failures
// are logged and leave their metric out of the sample rather than failing
// the whole round.
func (c *Collector) Collect(ctx context.Context) map[string]float64 {
	metrics := make(map[string]float64, 5)

	if percentages, err := cpu.PercentWithContext(ctx, cpuSampleInterval, false); err != nil {
		c.logger.Warn("collect cpu", zap.Error(err))
	} else if len(percentages) > 0 {
		metrics[models.MetricCPU] = percentages[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		c.logger.Warn("collect memory", zap.Error(err))
	} else {
		metrics[models.MetricMemory] = vm.UsedPercent
	}

	if usage, err := disk.UsageWithContext(ctx, c.diskPath); err != nil {
		c.logger.Warn("collect disk", zap.Error(err), zap.String("path", c.diskPath))
	} else {
		metrics[models.MetricDisk] = usage.UsedPercent
	}

	if counters, err := net.IOCountersWithContext(ctx, false); err != nil {
		c.logger.Warn("collect network", zap.Error(err))
	} else if len(counters) > 0 {
		metrics[models.MetricNetwork] = c.throughputMbps(counters[0], time.Now())
	}

	if uptime, err := host.UptimeWithContext(ctx); err != nil {
		c.logger.Warn("collect uptime", zap.Error(err))
	} else {
		metrics[models.MetricUptime] = float64(uptime)
	}

	return metrics
}

// throughputMbps converts the byte-counter delta since the previous
// collection into megabits per second.
func (c *Collector) throughputMbps(cur net.IOCountersStat, now time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer func() {
		c.lastNet = cur
		c.lastNetAt = now
		c.hasLastNet = true
	}()

	if !c.hasLastNet {
		return 0
	}
	elapsed := now.Sub(c.lastNetAt).Seconds()
	if elapsed <= 0 {
		return 0
	}

	// Counters reset on reboot; treat a decrease as a fresh baseline.
	if cur.BytesSent < c.lastNet.BytesSent || cur.BytesRecv < c.lastNet.BytesRecv {
		return 0
	}

	deltaBytes := (cur.BytesSent - c.lastNet.BytesSent) + (cur.BytesRecv - c.lastNet.BytesRecv)
	return float64(deltaBytes) * 8 / 1e6 / elapsed
}
