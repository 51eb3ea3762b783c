package scheduler

import (
	"context"
	"time"

	"github.com/anklab/avahi-advertiser/internal/logger"
)

// ResyncTarget is anything that can be asked to rebuild its view of the
// cluster. The service watcher implements it.
type ResyncTarget interface {
	TriggerResync() bool
}

// Resyncer handles periodic full re-lists of cluster services. The
// re-list path removes stale entries an event stream can miss, so it
// runs on a timer and on demand through the manual trigger.
type Resyncer struct {
	target        ResyncTarget
	logger        logger.Logger
	interval      time.Duration
	stopCh        chan struct{}
	manualTrigger chan struct{}
}

// NewResyncer creates a new resyncer
func NewResyncer(target ResyncTarget, log logger.Logger, interval time.Duration, manualTrigger chan struct{}) *Resyncer {
	return &Resyncer{
		target:        target,
		logger:        log,
		interval:      interval,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start begins the periodic resync process. The watcher already lists
// on startup, so the first tick waits a full interval.
func (rs *Resyncer) Start(ctx context.Context) error {
	ticker := time.NewTicker(rs.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !rs.target.TriggerResync() {
					rs.logger.Debug("resync already pending, skipping")
				}
			case <-rs.manualTrigger:
				rs.logger.Info("manual resync triggered")
				if !rs.target.TriggerResync() {
					rs.logger.Debug("resync already pending, skipping")
				}
			case <-rs.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the resyncer
func (rs *Resyncer) Stop() {
	close(rs.stopCh)
}
