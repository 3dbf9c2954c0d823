// calculator.go combines live resource counts into a tier decision.
package tiering

import (
	"context"
	"fmt"
)

// Usage reads the billable resource counts of one tenant database.
// *repositories.UsageRepository is the production implementation.
type Usage interface {
	ClustersCount(ctx context.Context) (int, error)
	StorageSystemsCount(ctx context.Context) (int, error)
}

// Calculator resolves the tier a tenant's current usage demands.
type Calculator struct {
	users UserCounter
}

// NewCalculator creates a calculator over an identity-backed seat counter.
func NewCalculator(users UserCounter) *Calculator {
	return &Calculator{users: users}
}

// TierFor returns the tier for an organization along with its seat count.
// The tier is the maximum any single dimension demands, so one oversized
// dimension is enough to move a tenant up.
func (c *Calculator) TierFor(ctx context.Context, organizationID string, usage Usage) (Tier, int, error) {
	seats, err := c.users.UsersCount(ctx, organizationID)
	if err != nil {
		return "", 0, fmt.Errorf("failed to count organization seats: %w", err)
	}

	clusters, err := usage.ClustersCount(ctx)
	if err != nil {
		return "", 0, err
	}

	storage, err := usage.StorageSystemsCount(ctx)
	if err != nil {
		return "", 0, err
	}

	tier := MaxTier(
		SeatThresholds.TierFor(seats),
		ClusterThresholds.TierFor(clusters),
		StorageThresholds.TierFor(storage),
	)
	return tier, seats, nil
}
