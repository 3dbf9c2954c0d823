// metering_report.go implements the MeteringReportJob background job, which
// submits hourly usage records to the AWS Marketplace metering API. Marketplace
// metering deduplicates per customer, dimension, and hour on the AWS side, so
// the immediate run on startup cannot double-bill after a restart.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/vantage-compute/vantage-billing/internal/billing"
)

// MeteringReportJob periodically submits metered usage.
type MeteringReportJob struct {
	svc      *billing.Service
	interval time.Duration
	stopChan chan struct{}
}

// NewMeteringReportJob creates a new MeteringReportJob.
// intervalHours controls how often the report runs (default 1h).
func NewMeteringReportJob(svc *billing.Service, intervalHours int) *MeteringReportJob {
	if intervalHours <= 0 {
		intervalHours = 1
	}
	return &MeteringReportJob{
		svc:      svc,
		interval: time.Duration(intervalHours) * time.Hour,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background metering loop. It runs once immediately, then
// repeats on the configured interval. The loop exits when ctx is cancelled or
// Stop() is called.
func (j *MeteringReportJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	slog.Info("metering report job started", "interval", j.interval)

	j.run(ctx)

	for {
		select {
		case <-ticker.C:
			j.run(ctx)
		case <-j.stopChan:
			slog.Info("metering report job stopped")
			return
		case <-ctx.Done():
			slog.Info("metering report job context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (j *MeteringReportJob) Stop() {
	close(j.stopChan)
}

func (j *MeteringReportJob) run(ctx context.Context) {
	if err := j.svc.SendMeteredReport(ctx); err != nil {
		slog.Error("metering report pass failed", "error", err)
	}
}
