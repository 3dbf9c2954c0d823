// Package tiering maps tenant resource usage onto subscription tiers.
//
// Each billable dimension (seats, clusters, storage systems) carries its own
// threshold table; a tenant's tier is the highest tier any single dimension
// demands. Thresholds are upper bounds inclusive: a count at the boundary
// stays in the lower tier, one past it moves up.
package tiering

import "context"

// Tier is a subscription tier name, matching the subscription_tier seed rows.
type Tier string

// Tiers in ascending order of capacity.
const (
	TierStarter    Tier = "starter"
	TierTeams      Tier = "teams"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

func (t Tier) String() string {
	return string(t)
}

// tierRank orders tiers for MaxTier. Unknown tiers rank below starter so a
// bad value can never win a comparison.
var tierRank = map[Tier]int{
	TierStarter:    1,
	TierTeams:      2,
	TierPro:        3,
	TierEnterprise: 4,
}

// MaxTier returns the highest-ranked of the given tiers.
func MaxTier(tiers ...Tier) Tier {
	max := TierStarter
	for _, t := range tiers {
		if tierRank[t] > tierRank[max] {
			max = t
		}
	}
	return max
}

// Thresholds holds the inclusive upper bounds of one billable dimension.
// Counts above Pro fall into enterprise, which is unbounded.
type Thresholds struct {
	Starter int
	Teams   int
	Pro     int
}

// TierFor returns the tier a count of this dimension demands.
func (t Thresholds) TierFor(count int) Tier {
	switch {
	case count <= t.Starter:
		return TierStarter
	case count <= t.Teams:
		return TierTeams
	case count <= t.Pro:
		return TierPro
	default:
		return TierEnterprise
	}
}

// Per-dimension thresholds, mirroring the subscription_tier seed data.
var (
	SeatThresholds    = Thresholds{Starter: 5, Teams: 20, Pro: 50}
	ClusterThresholds = Thresholds{Starter: 2, Teams: 10, Pro: 20}
	StorageThresholds = Thresholds{Starter: 2, Teams: 10, Pro: 20}
)

// UserCounter reports the billable seat count of an organization. The
// identity service provides the production implementation.
type UserCounter interface {
	UsersCount(ctx context.Context, organizationID string) (int, error)
}
