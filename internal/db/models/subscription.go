// Package models - subscription.go defines the Subscription model and its JSON
// detail payload. Business rule (enforced by the reconciler, not the schema):
// at most one subscription row per organization_id per tenant database.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SubscriptionDetail is the JSONB detail_data payload on a subscription row.
// customer_identifier is the join key the marketplace callbacks carry; there
// is no relational foreign key for it, so unsubscribe lookups match on the
// JSON field's text cast.
type SubscriptionDetail struct {
	CustomerIdentifier   string `json:"customer_identifier,omitempty"`
	CustomerAWSAccountID string `json:"customer_aws_account_id,omitempty"`
	ProductCode          string `json:"product_code,omitempty"`
	UnsubscribePending   bool   `json:"unsubscribe_pending"`
}

// Value implements driver.Valuer so sqlx can bind the struct as JSONB.
func (d SubscriptionDetail) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan implements sql.Scanner for reading JSONB columns.
func (d *SubscriptionDetail) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, d)
	case string:
		return json.Unmarshal([]byte(v), d)
	case nil:
		*d = SubscriptionDetail{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into SubscriptionDetail", src)
	}
}

// Subscription represents the active subscription of an organization.
// expires_at is NULL for non-expiring (AWS marketplace) subscriptions.
type Subscription struct {
	ID             int                `db:"id"`
	OrganizationID string             `db:"organization_id"`
	TypeID         int                `db:"type_id"`
	TierID         int                `db:"tier_id"`
	DetailData     SubscriptionDetail `db:"detail_data"`
	CreatedAt      time.Time          `db:"created_at"`
	ExpiresAt      *time.Time         `db:"expires_at"`
	IsFreeTrial    bool               `db:"is_free_trial"`
}
