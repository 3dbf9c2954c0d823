// subscription_repository.go implements SubscriptionRepository, providing tenant-database
// queries for the subscription table: reconciler lookups and mutations, tier updates,
// metering reads, and expired-subscription cleanup.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vantage-compute/vantage-billing/internal/db/models"
)

// SubscriptionRepository handles database operations for subscriptions.
// It accepts sqlx.ExtContext so the same methods run against a plain
// connection pool or inside a transaction.
type SubscriptionRepository struct {
	db sqlx.ExtContext
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db sqlx.ExtContext) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// GetByOrganizationID retrieves the subscription of an organization.
func (r *SubscriptionRepository) GetByOrganizationID(ctx context.Context, organizationID string) (*models.Subscription, error) {
	query := `
		SELECT id, organization_id, type_id, tier_id, detail_data, created_at, expires_at, is_free_trial
		FROM subscription
		WHERE organization_id = $1
	`

	sub := &models.Subscription{}
	err := sqlx.GetContext(ctx, r.db, sub, query, organizationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return sub, nil
}

// GetByCustomerIdentifier retrieves the subscription whose detail_data carries
// the given marketplace customer identifier. The match is a text comparison on
// the JSON field — there is no relational key for it.
func (r *SubscriptionRepository) GetByCustomerIdentifier(ctx context.Context, customerIdentifier string) (*models.Subscription, error) {
	query := `
		SELECT id, organization_id, type_id, tier_id, detail_data, created_at, expires_at, is_free_trial
		FROM subscription
		WHERE detail_data ->> 'customer_identifier' = $1
	`

	sub := &models.Subscription{}
	err := sqlx.GetContext(ctx, r.db, sub, query, customerIdentifier)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subscription by customer identifier: %w", err)
	}

	return sub, nil
}

// Create inserts a new subscription and fills in the generated ID and timestamp.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	query := `
		INSERT INTO subscription (organization_id, type_id, tier_id, detail_data, expires_at, is_free_trial)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		sub.OrganizationID,
		sub.TypeID,
		sub.TierID,
		sub.DetailData,
		sub.ExpiresAt,
		sub.IsFreeTrial,
	).Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	return nil
}

// UpdateDetail replaces the detail_data payload of a subscription.
func (r *SubscriptionRepository) UpdateDetail(ctx context.Context, id int, detail models.SubscriptionDetail) (bool, error) {
	query := `UPDATE subscription SET detail_data = $2 WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, detail)
	if err != nil {
		return false, fmt.Errorf("failed to update subscription detail: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows > 0, nil
}

// UpdateDetailAndTrial replaces detail_data and the free-trial flag in one
// statement. Used by the subscribe-success merge path.
func (r *SubscriptionRepository) UpdateDetailAndTrial(ctx context.Context, id int, detail models.SubscriptionDetail, isFreeTrial bool) (bool, error) {
	query := `UPDATE subscription SET detail_data = $2, is_free_trial = $3 WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, detail, isFreeTrial)
	if err != nil {
		return false, fmt.Errorf("failed to update subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows > 0, nil
}

// Delete removes a subscription row. Returns whether a row was deleted.
func (r *SubscriptionRepository) Delete(ctx context.Context, id int) (bool, error) {
	query := `DELETE FROM subscription WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows > 0, nil
}

// GetFreeTrialID returns the ID of the organization's live free-trial
// subscription, or nil when there is none.
func (r *SubscriptionRepository) GetFreeTrialID(ctx context.Context, organizationID string) (*int, error) {
	query := `SELECT id FROM subscription WHERE organization_id = $1 AND is_free_trial IS TRUE`

	var id int
	err := sqlx.GetContext(ctx, r.db, &id, query, organizationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get free trial subscription: %w", err)
	}

	return &id, nil
}

// HasType reports whether any subscription of the given type exists in this
// tenant database. Used to filter the AWS-subscribed tenants.
func (r *SubscriptionRepository) HasType(ctx context.Context, typeID int) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM subscription WHERE type_id = $1)`

	var exists bool
	if err := sqlx.GetContext(ctx, r.db, &exists, query, typeID); err != nil {
		return false, fmt.Errorf("failed to check subscription type: %w", err)
	}
	return exists, nil
}

// GetDetailByType returns the detail_data of the tenant's subscription of the
// given type, or nil when none exists. The metering reporter reads the stored
// customer identifier through this.
func (r *SubscriptionRepository) GetDetailByType(ctx context.Context, typeID int) (*models.SubscriptionDetail, error) {
	query := `SELECT detail_data FROM subscription WHERE type_id = $1`

	detail := &models.SubscriptionDetail{}
	err := sqlx.GetContext(ctx, r.db, detail, query, typeID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subscription detail: %w", err)
	}

	return detail, nil
}

// LockIDByType selects the ID of the subscription of the given type with a
// row lock, so the tier update cannot race a concurrent reconciliation.
// Must be called inside a transaction.
func (r *SubscriptionRepository) LockIDByType(ctx context.Context, typeID int) (*int, error) {
	query := `SELECT id FROM subscription WHERE type_id = $1 FOR UPDATE`

	var id int
	err := sqlx.GetContext(ctx, r.db, &id, query, typeID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock subscription row: %w", err)
	}

	return &id, nil
}

// UpdateTier sets the tier of a subscription.
func (r *SubscriptionRepository) UpdateTier(ctx context.Context, id, tierID int) error {
	query := `UPDATE subscription SET tier_id = $2 WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, tierID); err != nil {
		return fmt.Errorf("failed to update subscription tier: %w", err)
	}
	return nil
}

// DeleteExpired removes subscriptions whose expires_at is in the past and
// returns how many rows were deleted. AWS subscriptions are unaffected
// because their expires_at is NULL.
func (r *SubscriptionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM subscription WHERE expires_at < NOW()`

	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired subscriptions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows, nil
}
