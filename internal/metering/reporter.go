// Package metering submits per-tenant usage to the AWS Marketplace metering
// API. One usage record is produced per AWS-subscribed tenant: the dimension
// is the tier the tenant's current usage demands and the quantity is its seat
// count. Records the API reports as unprocessed are logged and counted, never
// retried; marketplace metering is idempotent per hour, so the next scheduled
// run covers the gap.
package metering

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/marketplacemetering"
	"github.com/aws/aws-sdk-go-v2/service/marketplacemetering/types"

	"github.com/vantage-compute/vantage-billing/internal/db/models"
	"github.com/vantage-compute/vantage-billing/internal/telemetry"
	"github.com/vantage-compute/vantage-billing/internal/tenant"
	"github.com/vantage-compute/vantage-billing/internal/tiering"
)

// batchLimit is the maximum UsageRecords per BatchMeterUsage call.
const batchLimit = 25

// MeteringClient is the subset of the marketplace metering API the reporter uses.
type MeteringClient interface {
	BatchMeterUsage(ctx context.Context, params *marketplacemetering.BatchMeterUsageInput, optFns ...func(*marketplacemetering.Options)) (*marketplacemetering.BatchMeterUsageOutput, error)
}

// ClientFactory builds a metering client with fresh credentials.
type ClientFactory func(ctx context.Context) (MeteringClient, error)

// Directory enumerates tenant databases. *tenant.Manager is the production
// implementation.
type Directory interface {
	List(ctx context.Context) ([]string, error)
	Handle(ctx context.Context, name string) (*tenant.Handle, error)
}

// Reporter gathers usage across tenants and submits it in batches.
type Reporter struct {
	tenants     Directory
	calc        *tiering.Calculator
	clients     ClientFactory
	productCode string
	now         func() time.Time
}

// NewReporter creates a reporter.
func NewReporter(tenants Directory, calc *tiering.Calculator, clients ClientFactory, productCode string) *Reporter {
	return &Reporter{
		tenants:     tenants,
		calc:        calc,
		clients:     clients,
		productCode: productCode,
		now:         time.Now,
	}
}

// Run submits one metering pass: a usage record per AWS-subscribed tenant,
// all stamped with the same submission time. Tenants that cannot be read are
// logged and skipped so one broken database does not starve the rest.
func (r *Reporter) Run(ctx context.Context) error {
	names, err := r.tenants.List(ctx)
	if err != nil {
		return err
	}

	timestamp := r.now().UTC()
	var records []types.UsageRecord

	for _, name := range names {
		record, err := r.tenantRecord(ctx, name, timestamp)
		if err != nil {
			slog.Error("failed to build usage record", "tenant", name, "error", err)
			continue
		}
		if record != nil {
			records = append(records, *record)
		}
	}

	if len(records) == 0 {
		slog.Info("no AWS-subscribed tenants to meter")
		return nil
	}

	client, err := r.clients(ctx)
	if err != nil {
		return fmt.Errorf("failed to build metering client: %w", err)
	}

	for start := 0; start < len(records); start += batchLimit {
		end := start + batchLimit
		if end > len(records) {
			end = len(records)
		}
		if err := r.submit(ctx, client, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// tenantRecord builds the usage record for one tenant, or nil when the tenant
// holds no AWS subscription.
func (r *Reporter) tenantRecord(ctx context.Context, name string, timestamp time.Time) (*types.UsageRecord, error) {
	h, err := r.tenants.Handle(ctx, name)
	if err != nil {
		return nil, err
	}

	typeID, err := h.Lookups.TypeIDByName(ctx, models.TypeAWS)
	if err != nil {
		return nil, err
	}

	detail, err := h.Subscriptions.GetDetailByType(ctx, typeID)
	if err != nil {
		return nil, err
	}
	if detail == nil || detail.CustomerIdentifier == "" {
		return nil, nil
	}

	tier, seats, err := r.calc.TierFor(ctx, name, h.Usage)
	if err != nil {
		return nil, err
	}

	return &types.UsageRecord{
		Timestamp:          aws.Time(timestamp),
		CustomerIdentifier: aws.String(detail.CustomerIdentifier),
		Dimension:          aws.String(tier.String()),
		Quantity:           aws.Int32(int32(seats)),
	}, nil
}

func (r *Reporter) submit(ctx context.Context, client MeteringClient, records []types.UsageRecord) error {
	out, err := client.BatchMeterUsage(ctx, &marketplacemetering.BatchMeterUsageInput{
		ProductCode:  aws.String(r.productCode),
		UsageRecords: records,
	})
	if err != nil {
		return fmt.Errorf("failed to submit metering batch: %w", err)
	}
	telemetry.MeteringBatchesTotal.Inc()

	for _, unprocessed := range out.UnprocessedRecords {
		telemetry.MeteringUnprocessedRecordsTotal.Inc()
		slog.Error("metering record unprocessed",
			"customer_identifier", aws.ToString(unprocessed.CustomerIdentifier),
			"dimension", aws.ToString(unprocessed.Dimension))
	}

	slog.Info("submitted metering batch",
		"records", len(records),
		"unprocessed", len(out.UnprocessedRecords))
	return nil
}
