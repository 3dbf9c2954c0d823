// tier_update.go implements the TierUpdateJob background job, which periodically
// recalculates every AWS-subscribed tenant's tier from its live usage and persists
// the result. The operation is a read-modify-write per tenant and is safe to rerun
// at any time, so the job also runs once immediately on startup to converge a
// freshly deployed service.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/vantage-compute/vantage-billing/internal/billing"
)

// TierUpdateJob periodically recalculates tenant tiers.
type TierUpdateJob struct {
	svc      *billing.Service
	interval time.Duration
	stopChan chan struct{}
}

// NewTierUpdateJob creates a new TierUpdateJob.
// intervalHours controls how often the recalculation runs (default 24h).
func NewTierUpdateJob(svc *billing.Service, intervalHours int) *TierUpdateJob {
	if intervalHours <= 0 {
		intervalHours = 24
	}
	return &TierUpdateJob{
		svc:      svc,
		interval: time.Duration(intervalHours) * time.Hour,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background tier update loop. It runs once immediately,
// then repeats on the configured interval. The loop exits when ctx is
// cancelled or Stop() is called.
func (j *TierUpdateJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	slog.Info("tier update job started", "interval", j.interval)

	j.run(ctx)

	for {
		select {
		case <-ticker.C:
			j.run(ctx)
		case <-j.stopChan:
			slog.Info("tier update job stopped")
			return
		case <-ctx.Done():
			slog.Info("tier update job context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (j *TierUpdateJob) Stop() {
	close(j.stopChan)
}

func (j *TierUpdateJob) run(ctx context.Context) {
	if err := j.svc.UpdateTiers(ctx); err != nil {
		slog.Error("tier update pass failed", "error", err)
	}
}
