// pending_subscription_repository.go implements PendingSubscriptionRepository for the
// pending_aws_subscriptions table: the provisional rows created at checkout finalize
// time and resolved by the marketplace notification reconciler.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vantage-compute/vantage-billing/internal/db/models"
)

// PendingSubscriptionRepository handles database operations for pending AWS subscriptions
type PendingSubscriptionRepository struct {
	db sqlx.ExtContext
}

// NewPendingSubscriptionRepository creates a new pending subscription repository
func NewPendingSubscriptionRepository(db sqlx.ExtContext) *PendingSubscriptionRepository {
	return &PendingSubscriptionRepository{db: db}
}

const pendingColumns = `id, organization_id, customer_aws_account_id, customer_identifier, product_code, has_failed, created_at`

// GetByCustomerIdentifier retrieves a pending subscription by the AWS customer
// identifier embedded in the marketplace callback.
func (r *PendingSubscriptionRepository) GetByCustomerIdentifier(ctx context.Context, customerIdentifier string) (*models.PendingAwsSubscription, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_aws_subscriptions WHERE customer_identifier = $1`

	pending := &models.PendingAwsSubscription{}
	err := sqlx.GetContext(ctx, r.db, pending, query, customerIdentifier)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get pending subscription: %w", err)
	}

	return pending, nil
}

// GetByOrganizationID retrieves a pending subscription by organization.
func (r *PendingSubscriptionRepository) GetByOrganizationID(ctx context.Context, organizationID string) (*models.PendingAwsSubscription, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_aws_subscriptions WHERE organization_id = $1`

	pending := &models.PendingAwsSubscription{}
	err := sqlx.GetContext(ctx, r.db, pending, query, organizationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pending subscription: %w", err)
	}

	return pending, nil
}

// Create inserts a new pending subscription and fills in the generated ID and timestamp.
func (r *PendingSubscriptionRepository) Create(ctx context.Context, pending *models.PendingAwsSubscription) error {
	query := `
		INSERT INTO pending_aws_subscriptions (organization_id, customer_aws_account_id, customer_identifier, product_code, has_failed)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		pending.OrganizationID,
		pending.CustomerAWSAccountID,
		pending.CustomerIdentifier,
		pending.ProductCode,
		pending.HasFailed,
	).Scan(&pending.ID, &pending.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create pending subscription: %w", err)
	}

	return nil
}

// MarkFailed flags the pending subscription matching the customer identifier
// as failed. Returns whether a row was updated.
func (r *PendingSubscriptionRepository) MarkFailed(ctx context.Context, customerIdentifier string) (bool, error) {
	query := `UPDATE pending_aws_subscriptions SET has_failed = TRUE WHERE customer_identifier = $1`

	result, err := r.db.ExecContext(ctx, query, customerIdentifier)
	if err != nil {
		return false, fmt.Errorf("failed to mark pending subscription failed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows > 0, nil
}

// Delete removes a pending subscription row.
func (r *PendingSubscriptionRepository) Delete(ctx context.Context, id int) error {
	query := `DELETE FROM pending_aws_subscriptions WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete pending subscription: %w", err)
	}
	return nil
}
