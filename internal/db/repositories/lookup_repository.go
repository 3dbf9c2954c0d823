// lookup_repository.go implements LookupRepository for the static subscription_tier and
// subscription_type reference tables. Name-to-ID resolutions are cached in the repository
// after the first load: the tables are seed data that only change with a migration, so
// the cache lives as long as the tenant handle and needs no invalidation. The cache is
// owned by the injected repository rather than package state, so tests get a fresh one
// per instance.
package repositories

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/vantage-compute/vantage-billing/internal/db/models"
)

// LookupRepository resolves tier and type names to their row IDs.
type LookupRepository struct {
	db *sqlx.DB

	mu     sync.Mutex
	tiers  map[string]int
	types  map[string]int
	loaded bool
}

// NewLookupRepository creates a new lookup repository
func NewLookupRepository(db *sqlx.DB) *LookupRepository {
	return &LookupRepository{db: db}
}

// load reads both lookup tables once. Callers hold r.mu.
func (r *LookupRepository) load(ctx context.Context) error {
	if r.loaded {
		return nil
	}

	var tiers []models.SubscriptionTier
	if err := r.db.SelectContext(ctx, &tiers, `SELECT id, name, seats, clusters, storage_systems FROM subscription_tier`); err != nil {
		return fmt.Errorf("failed to load subscription tiers: %w", err)
	}

	var types []models.SubscriptionType
	if err := r.db.SelectContext(ctx, &types, `SELECT id, name FROM subscription_type`); err != nil {
		return fmt.Errorf("failed to load subscription types: %w", err)
	}

	r.tiers = make(map[string]int, len(tiers))
	for _, t := range tiers {
		r.tiers[t.Name] = t.ID
	}
	r.types = make(map[string]int, len(types))
	for _, t := range types {
		r.types[t.Name] = t.ID
	}
	r.loaded = true
	return nil
}

// TierIDByName resolves a tier name (starter, teams, pro, enterprise) to its row ID.
func (r *LookupRepository) TierIDByName(ctx context.Context, name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.load(ctx); err != nil {
		return 0, err
	}

	id, ok := r.tiers[name]
	if !ok {
		return 0, fmt.Errorf("unknown subscription tier: %s", name)
	}
	return id, nil
}

// TypeIDByName resolves a type name (aws, cloud) to its row ID.
func (r *LookupRepository) TypeIDByName(ctx context.Context, name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.load(ctx); err != nil {
		return 0, err
	}

	id, ok := r.types[name]
	if !ok {
		return 0, fmt.Errorf("unknown subscription type: %s", name)
	}
	return id, nil
}
