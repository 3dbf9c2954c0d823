package tenant

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/vantage-compute/vantage-billing/internal/config"
)

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })

	cfg := &config.DatabaseConfig{
		Host:        "localhost",
		Port:        5432,
		CatalogName: "postgres",
		User:        "vantage",
		SSLMode:     "disable",
	}
	return NewManager(cfg, sqlx.NewDb(mockDB, "sqlmock")), mock
}

func TestList_ReturnsTenantDatabases(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery("SELECT datname FROM pg_database").
		WillReturnRows(sqlmock.NewRows([]string{"datname"}).
			AddRow("3f1c7a52-9d0e-4b11-8c4f-2a6b9e0d71aa").
			AddRow("8b2d4e66-1a3c-4f58-9d7e-0c5a2b8f1e33"))

	names, err := m.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("got %d tenants, want 2", len(names))
	}
	if names[0] != "3f1c7a52-9d0e-4b11-8c4f-2a6b9e0d71aa" {
		t.Errorf("first tenant = %s", names[0])
	}
}

func TestList_FiltersLookalikeNames(t *testing.T) {
	m, mock := newTestManager(t)

	// The catalog regex should already exclude these, but the client-side
	// parse guard must hold even if a lookalike slips through.
	mock.ExpectQuery("SELECT datname FROM pg_database").
		WillReturnRows(sqlmock.NewRows([]string{"datname"}).
			AddRow("3f1c7a52-9d0e-4b11-8c4f-2a6b9e0d71aa").
			AddRow("not-a-uuid-at-all-but-long-enough-ok"))

	names, err := m.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("got %d tenants, want 1", len(names))
	}
}

func TestHandle_RejectsInvalidName(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.Handle(context.Background(), "postgres"); err == nil {
		t.Fatal("expected an error for a non-UUID tenant name")
	}
}

func TestNewHandle_WiresRepositories(t *testing.T) {
	mockDB, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })

	h := NewHandle("3f1c7a52-9d0e-4b11-8c4f-2a6b9e0d71aa", sqlx.NewDb(mockDB, "sqlmock"))
	if h.Subscriptions == nil || h.Pending == nil || h.FreeTrials == nil || h.Lookups == nil || h.Usage == nil {
		t.Fatal("expected all repositories to be wired")
	}
}
