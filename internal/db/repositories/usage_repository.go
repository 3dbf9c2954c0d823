// usage_repository.go implements UsageRepository: the per-tenant resource counts the
// tier calculator feeds into its threshold tables.
package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// UsageRepository reads per-tenant resource counts.
type UsageRepository struct {
	db *sqlx.DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *sqlx.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// ClustersCount returns the number of clusters in the tenant database.
func (r *UsageRepository) ClustersCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM clusters`); err != nil {
		return 0, fmt.Errorf("failed to count clusters: %w", err)
	}
	return count, nil
}

// StorageSystemsCount returns the number of storage systems in the tenant database.
func (r *UsageRepository) StorageSystemsCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM storage`); err != nil {
		return 0, fmt.Errorf("failed to count storage systems: %w", err)
	}
	return count, nil
}
