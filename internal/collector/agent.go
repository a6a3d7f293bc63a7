package collector

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the collection interval when none is configured.
const DefaultInterval = 60 * time.Second

// Agent runs the collect-and-ship loop.
type Agent struct {
	collector *Collector
	shipper   *Shipper
	interval  time.Duration
	logger    *zap.Logger
}

// NewAgent wires a collector to a shipper. interval <= 0 uses
// DefaultInterval. A nil logger disables logging.
func NewAgent(c *Collector, s *Shipper, interval time.Duration, logger *zap.Logger) *Agent {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{collector: c, shipper: s, interval: interval, logger: logger}
}

// Run collects and ships one sample per interval until ctx is cancelled.
// Ship failures are logged and the loop continues; the server fills gaps
// from subsequent samples.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent collection loop starting",
		zap.Duration("interval", a.interval))

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	// First sample immediately rather than one interval in.
	a.collectAndShip(ctx)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("agent collection loop stopping")
			return ctx.Err()
		case <-ticker.C:
			a.collectAndShip(ctx)
		}
	}
}

func (a *Agent) collectAndShip(ctx context.Context) {
	metrics := a.collector.Collect(ctx)
	if len(metrics) == 0 {
		a.logger.Warn("no metrics collected, skipping ship")
		return
	}
	if err := a.shipper.Ship(ctx, metrics); err != nil {
		a.logger.Warn("ship metrics", zap.Error(err))
		return
	}
	a.logger.Debug("metrics shipped", zap.Int("count", len(metrics)))
}
