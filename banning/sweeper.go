package banning

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sweepMetricsOnce sync.Once
	sweepCleaned     prometheus.Counter
	sweepFailures    prometheus.Counter
)

func sweepMetrics() (prometheus.Counter, prometheus.Counter) {
	sweepMetricsOnce.Do(func() {
		sweepCleaned = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swarmgate_ban_sweep_cleaned_total",
			Help: "Account bans deactivated by the expiry sweeper.",
		})
		sweepFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swarmgate_ban_sweep_failures_total",
			Help: "Expiry sweep runs that returned an error.",
		})
		prometheus.MustRegister(sweepCleaned, sweepFailures)
	})
	return sweepCleaned, sweepFailures
}

// Sweeper periodically deactivates expired account bans.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper builds a sweeper over the registry.
func NewSweeper(registry *Registry, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{registry: registry, interval: interval, logger: logger}
}

// Run sweeps on the configured interval until the context is cancelled. An
// individual failed sweep is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	cleaned, failures := sweepMetrics()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.registry.SweepExpired(ctx)
			if err != nil {
				failures.Inc()
				s.logger.Error("ban expiry sweep failed", "error", err)
				continue
			}
			if count > 0 {
				cleaned.Add(float64(count))
				s.logger.Info("ban expiry sweep", "cleaned", count)
			}
		}
	}
}
