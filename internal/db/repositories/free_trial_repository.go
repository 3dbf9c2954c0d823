// free_trial_repository.go implements FreeTrialRepository for the write-once
// organization_free_trials marker table.
package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// FreeTrialRepository handles database operations for free trial markers
type FreeTrialRepository struct {
	db sqlx.ExtContext
}

// NewFreeTrialRepository creates a new free trial repository
func NewFreeTrialRepository(db sqlx.ExtContext) *FreeTrialRepository {
	return &FreeTrialRepository{db: db}
}

// Exists reports whether the organization has ever consumed a free trial.
func (r *FreeTrialRepository) Exists(ctx context.Context, organizationID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM organization_free_trials WHERE organization_id = $1)`

	var exists bool
	if err := sqlx.GetContext(ctx, r.db, &exists, query, organizationID); err != nil {
		return false, fmt.Errorf("failed to check free trial marker: %w", err)
	}
	return exists, nil
}

// Create inserts the permanent free trial marker for an organization.
// Callers check Exists first; the marker is never deleted.
func (r *FreeTrialRepository) Create(ctx context.Context, organizationID string) error {
	query := `INSERT INTO organization_free_trials (organization_id) VALUES ($1)`

	if _, err := r.db.ExecContext(ctx, query, organizationID); err != nil {
		return fmt.Errorf("failed to create free trial marker: %w", err)
	}
	return nil
}
