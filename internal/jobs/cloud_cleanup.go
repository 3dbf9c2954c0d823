// cloud_cleanup.go implements the CloudCleanupJob background job, which deletes
// expired cloud subscriptions from every tenant database. AWS marketplace
// subscriptions store a NULL expiry and are outside the delete predicate, so the
// job only ever touches self-service cloud rows.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/vantage-compute/vantage-billing/internal/billing"
)

// CloudCleanupJob periodically deletes expired subscriptions.
type CloudCleanupJob struct {
	svc      *billing.Service
	interval time.Duration
	stopChan chan struct{}
}

// NewCloudCleanupJob creates a new CloudCleanupJob.
// intervalHours controls how often the cleanup runs (default 24h).
func NewCloudCleanupJob(svc *billing.Service, intervalHours int) *CloudCleanupJob {
	if intervalHours <= 0 {
		intervalHours = 24
	}
	return &CloudCleanupJob{
		svc:      svc,
		interval: time.Duration(intervalHours) * time.Hour,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background cleanup loop. It runs once immediately, then
// repeats on the configured interval. The loop exits when ctx is cancelled or
// Stop() is called.
func (j *CloudCleanupJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	slog.Info("cloud cleanup job started", "interval", j.interval)

	j.run(ctx)

	for {
		select {
		case <-ticker.C:
			j.run(ctx)
		case <-j.stopChan:
			slog.Info("cloud cleanup job stopped")
			return
		case <-ctx.Done():
			slog.Info("cloud cleanup job context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (j *CloudCleanupJob) Stop() {
	close(j.stopChan)
}

func (j *CloudCleanupJob) run(ctx context.Context) {
	if err := j.svc.CleanupExpired(ctx); err != nil {
		slog.Error("cloud cleanup pass failed", "error", err)
	}
}
