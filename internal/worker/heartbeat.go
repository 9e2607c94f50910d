package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"transcode-fleet/internal/models"
)

// Heartbeater publishes worker liveness to the fleet registry.
type Heartbeater interface {
	Heartbeat(ctx context.Context, st models.WorkerStatus) error
	Remove(ctx context.Context, workerID string) error
}

// Heartbeat publishes p.Status every interval until ctx ends, then removes the
// worker entry. Publish errors are logged and do not stop the loop.
func (p *Processor) Heartbeat(ctx context.Context, hb Heartbeater, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	publish := func() {
		if err := hb.Heartbeat(ctx, p.Status()); err != nil && ctx.Err() == nil {
			p.logger.Warn("Heartbeat failed", zap.Error(err))
		}
	}
	publish()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			cleanup, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := hb.Remove(cleanup, p.opts.WorkerID); err != nil {
				p.logger.Warn("Failed to deregister worker", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			publish()
		}
	}
}
