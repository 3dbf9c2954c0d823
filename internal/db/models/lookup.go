package models

// Subscription type names as seeded in subscription_type.
const (
	TypeAWS   = "aws"
	TypeCloud = "cloud"
)

// SubscriptionType is a row of the static subscription_type lookup table.
type SubscriptionType struct {
	ID   int    `db:"id"`
	Name string `db:"name"`
}

// SubscriptionTier is a row of the static subscription_tier lookup table.
// The threshold columns are informational; the authoritative cutoffs live in
// the tiering package.
type SubscriptionTier struct {
	ID             int    `db:"id"`
	Name           string `db:"name"`
	Seats          *int   `db:"seats"`
	Clusters       *int   `db:"clusters"`
	StorageSystems *int   `db:"storage_systems"`
}
