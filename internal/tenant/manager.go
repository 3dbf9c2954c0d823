// Package tenant discovers and connects to per-tenant databases.
//
// Every tenant owns one database in the shared Postgres cluster, named by the
// tenant's organization UUID. Discovery queries the catalog database's
// pg_database view with the canonical UUID pattern; there is no separate
// tenant registry. Handles are opened lazily and cached for the life of the
// manager — each handle bundles a connection pool with the repositories the
// reconciliation pipeline needs, so callers never juggle raw DSNs.
package tenant

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vantage-compute/vantage-billing/internal/config"
	"github.com/vantage-compute/vantage-billing/internal/db"
	"github.com/vantage-compute/vantage-billing/internal/db/repositories"
)

// uuidPattern matches the canonical 8-4-4-4-12 hex form used for tenant
// database names. Applied server-side; uuid.Parse re-validates client-side.
const uuidPattern = `^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`

// Handle is an open connection to one tenant database plus its repositories.
type Handle struct {
	Name string
	DB   *sqlx.DB

	Subscriptions *repositories.SubscriptionRepository
	Pending       *repositories.PendingSubscriptionRepository
	FreeTrials    *repositories.FreeTrialRepository
	Lookups       *repositories.LookupRepository
	Usage         *repositories.UsageRepository
}

// NewHandle wraps an open tenant database in a Handle. Exposed so tests can
// build handles over mock connections.
func NewHandle(name string, database *sqlx.DB) *Handle {
	return &Handle{
		Name:          name,
		DB:            database,
		Subscriptions: repositories.NewSubscriptionRepository(database),
		Pending:       repositories.NewPendingSubscriptionRepository(database),
		FreeTrials:    repositories.NewFreeTrialRepository(database),
		Lookups:       repositories.NewLookupRepository(database),
		Usage:         repositories.NewUsageRepository(database),
	}
}

// Manager enumerates tenant databases and caches per-tenant handles.
type Manager struct {
	cfg     *config.DatabaseConfig
	catalog *sqlx.DB

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewManager creates a manager over an open catalog database connection.
func NewManager(cfg *config.DatabaseConfig, catalog *sqlx.DB) *Manager {
	return &Manager{
		cfg:     cfg,
		catalog: catalog,
		handles: make(map[string]*Handle),
	}
}

// List returns the names of all tenant databases, ordered by name. The full
// list is assumed to fit in memory; a catalog error aborts the caller's pass
// rather than being retried here.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	query := `SELECT datname FROM pg_database WHERE datname ~ $1 ORDER BY datname`

	var names []string
	if err := m.catalog.SelectContext(ctx, &names, query, uuidPattern); err != nil {
		return nil, fmt.Errorf("failed to list tenant databases: %w", err)
	}

	// The server-side regex is authoritative; re-parse defensively so a
	// lookalike name can never be dialed as a tenant.
	tenants := make([]string, 0, len(names))
	for _, name := range names {
		if _, err := uuid.Parse(name); err != nil {
			continue
		}
		tenants = append(tenants, name)
	}

	return tenants, nil
}

// Handle returns the cached handle for the named tenant, opening the
// connection pool on first use.
func (m *Manager) Handle(ctx context.Context, name string) (*Handle, error) {
	if _, err := uuid.Parse(name); err != nil {
		return nil, fmt.Errorf("invalid tenant database name %q: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.handles[name]; ok {
		return h, nil
	}

	database, err := db.Connect(m.cfg.DSN(name), m.cfg.MaxConnections, m.cfg.MinIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to tenant %s: %w", name, err)
	}

	h := NewHandle(name, database)
	m.handles[name] = h
	return h, nil
}

// Close closes every cached tenant connection pool. The catalog connection is
// owned by the caller and is not closed here.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastErr error
	for name, h := range m.handles {
		if err := h.DB.Close(); err != nil {
			lastErr = fmt.Errorf("failed to close tenant %s: %w", name, err)
		}
		delete(m.handles, name)
	}
	return lastErr
}
