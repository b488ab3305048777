package sessionsrv

import (
	"context"
	"time"

	"github.com/Abraxas-365/bastion/pkg/logx"
	"github.com/Abraxas-365/bastion/pkg/metricx"
)

// CleanupWorker periodically removes expired sessions.
type CleanupWorker struct {
	registry *Registry
	interval time.Duration
	metrics  *metricx.Metrics
}

func NewCleanupWorker(registry *Registry, interval time.Duration, metrics *metricx.Metrics) *CleanupWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	if metrics == nil {
		metrics = metricx.Nop()
	}
	return &CleanupWorker{registry: registry, interval: interval, metrics: metrics}
}

// Start blocks until ctx is cancelled.
func (w *CleanupWorker) Start(ctx context.Context) {
	logx.Infof("session cleanup worker started (interval %s)", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logx.Info("session cleanup worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep.
func (w *CleanupWorker) RunOnce(ctx context.Context) int {
	n, err := w.registry.Cleanup(ctx)
	if err != nil {
		logx.WithError(err).Error("session cleanup failed")
		return 0
	}
	if n > 0 {
		w.metrics.SessionsCleaned.Add(float64(n))
		logx.WithField("count", n).Info("expired sessions removed")
	}
	return n
}
