// Package billing implements the batch operations of the reconciliation
// pipeline: tier recalculation, metered usage reporting, and expired
// subscription cleanup. The same operations back the scheduled jobs and the
// CLI subcommands, so a cron-driven deployment and a long-running server
// behave identically.
package billing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vantage-compute/vantage-billing/internal/db/models"
	"github.com/vantage-compute/vantage-billing/internal/db/repositories"
	"github.com/vantage-compute/vantage-billing/internal/metering"
	"github.com/vantage-compute/vantage-billing/internal/telemetry"
	"github.com/vantage-compute/vantage-billing/internal/tenant"
	"github.com/vantage-compute/vantage-billing/internal/tiering"
)

// Directory enumerates tenant databases. *tenant.Manager is the production
// implementation.
type Directory interface {
	List(ctx context.Context) ([]string, error)
	Handle(ctx context.Context, name string) (*tenant.Handle, error)
}

// Service runs the batch billing operations across all tenants.
type Service struct {
	tenants  Directory
	calc     *tiering.Calculator
	reporter *metering.Reporter
}

// NewService creates a billing service.
func NewService(tenants Directory, calc *tiering.Calculator, reporter *metering.Reporter) *Service {
	return &Service{
		tenants:  tenants,
		calc:     calc,
		reporter: reporter,
	}
}

// UpdateTiers recalculates and persists the tier of every AWS-subscribed
// tenant. Per-tenant failures are logged and skipped so one broken tenant
// cannot block the rest of the pass.
func (s *Service) UpdateTiers(ctx context.Context) error {
	names, err := s.tenants.List(ctx)
	if err != nil {
		return err
	}

	for _, name := range names {
		if err := s.updateTenantTier(ctx, name); err != nil {
			slog.Error("failed to update tenant tier", "tenant", name, "error", err)
		}
	}
	return nil
}

func (s *Service) updateTenantTier(ctx context.Context, name string) error {
	h, err := s.tenants.Handle(ctx, name)
	if err != nil {
		return err
	}

	typeID, err := h.Lookups.TypeIDByName(ctx, models.TypeAWS)
	if err != nil {
		return err
	}

	subscribed, err := h.Subscriptions.HasType(ctx, typeID)
	if err != nil {
		return err
	}
	if !subscribed {
		return nil
	}

	tier, seats, err := s.calc.TierFor(ctx, name, h.Usage)
	if err != nil {
		return err
	}

	tierID, err := h.Lookups.TierIDByName(ctx, tier.String())
	if err != nil {
		return err
	}

	// The row lock keeps the write from racing a concurrent reconciliation
	// that replaces or deletes the subscription.
	tx, err := h.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	subs := repositories.NewSubscriptionRepository(tx)
	id, err := subs.LockIDByType(ctx, typeID)
	if err != nil {
		tx.Rollback()
		return err
	}
	if id == nil {
		// Unsubscribed between the HasType check and the lock. No error is in
		// flight here, so a rollback failure must not vanish silently.
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to roll back transaction: %w", rbErr)
		}
		return nil
	}

	if err := subs.UpdateTier(ctx, *id, tierID); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tier update: %w", err)
	}

	telemetry.TierUpdatesTotal.WithLabelValues(tier.String()).Inc()
	slog.Info("updated tenant tier", "tenant", name, "tier", tier, "seats", seats)
	return nil
}

// SendMeteredReport submits one metering pass across all tenants.
func (s *Service) SendMeteredReport(ctx context.Context) error {
	return s.reporter.Run(ctx)
}

// CleanupExpired deletes expired subscriptions from every tenant database.
// AWS marketplace subscriptions carry a NULL expiry and are never touched.
func (s *Service) CleanupExpired(ctx context.Context) error {
	names, err := s.tenants.List(ctx)
	if err != nil {
		return err
	}

	for _, name := range names {
		h, err := s.tenants.Handle(ctx, name)
		if err != nil {
			slog.Error("failed to open tenant database", "tenant", name, "error", err)
			continue
		}

		deleted, err := h.Subscriptions.DeleteExpired(ctx)
		if err != nil {
			slog.Error("failed to clean up expired subscriptions", "tenant", name, "error", err)
			continue
		}
		if deleted > 0 {
			slog.Info("deleted expired subscriptions", "tenant", name, "count", deleted)
		}
	}
	return nil
}
