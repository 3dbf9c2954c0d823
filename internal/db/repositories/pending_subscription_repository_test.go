package repositories

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/vantage-compute/vantage-billing/internal/db/models"
)

var pendingCols = []string{
	"id", "organization_id", "customer_aws_account_id", "customer_identifier",
	"product_code", "has_failed", "created_at",
}

func newPendingRepo(t *testing.T) (*PendingSubscriptionRepository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return NewPendingSubscriptionRepository(sqlx.NewDb(mockDB, "sqlmock")), mock
}

func TestPendingGetByCustomerIdentifier(t *testing.T) {
	repo, mock := newPendingRepo(t)
	mock.ExpectQuery("FROM pending_aws_subscriptions WHERE customer_identifier").
		WithArgs("cust-123").
		WillReturnRows(sqlmock.NewRows(pendingCols).
			AddRow(7, testOrgID, "123456789012", "cust-123", "prod-abc", false, time.Now()))

	pending, err := repo.GetByCustomerIdentifier(context.Background(), "cust-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending == nil {
		t.Fatal("expected a pending subscription")
	}
	if pending.OrganizationID != testOrgID {
		t.Errorf("organization = %s", pending.OrganizationID)
	}
}

func TestPendingGetByCustomerIdentifier_NotFound(t *testing.T) {
	repo, mock := newPendingRepo(t)
	mock.ExpectQuery("FROM pending_aws_subscriptions WHERE customer_identifier").
		WillReturnError(sql.ErrNoRows)

	pending, err := repo.GetByCustomerIdentifier(context.Background(), "cust-999")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending != nil {
		t.Fatal("expected nil for a missing pending row")
	}
}

func TestPendingCreate(t *testing.T) {
	repo, mock := newPendingRepo(t)
	mock.ExpectQuery("INSERT INTO pending_aws_subscriptions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(11, time.Now()))

	pending := &models.PendingAwsSubscription{
		OrganizationID:       testOrgID,
		CustomerAWSAccountID: "123456789012",
		CustomerIdentifier:   "cust-123",
		ProductCode:          "prod-abc",
	}
	if err := repo.Create(context.Background(), pending); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending.ID != 11 {
		t.Errorf("id = %d, want 11", pending.ID)
	}
}

func TestPendingMarkFailed(t *testing.T) {
	repo, mock := newPendingRepo(t)
	mock.ExpectExec("UPDATE pending_aws_subscriptions SET has_failed").
		WithArgs("cust-123").
		WillReturnResult(sqlmock.NewResult(0, 1))

	marked, err := repo.MarkFailed(context.Background(), "cust-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !marked {
		t.Error("expected a row to be marked failed")
	}
}

func TestFreeTrialExistsAndCreate(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	repo := NewFreeTrialRepository(sqlx.NewDb(mockDB, "sqlmock"))

	mock.ExpectQuery("FROM organization_free_trials").
		WithArgs(testOrgID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO organization_free_trials").
		WithArgs(testOrgID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	exists, err := repo.Exists(context.Background(), testOrgID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Fatal("expected no marker yet")
	}
	if err := repo.Create(context.Background(), testOrgID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLookupRepository_CachesAfterFirstLoad(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	repo := NewLookupRepository(sqlx.NewDb(mockDB, "sqlmock"))

	// Both tables load exactly once; later lookups hit the cache.
	mock.ExpectQuery("FROM subscription_tier").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "seats", "clusters", "storage_systems"}).
			AddRow(1, "starter", 5, 2, 2).
			AddRow(4, "enterprise", nil, nil, nil))
	mock.ExpectQuery("FROM subscription_type").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name"}).
			AddRow(1, "aws").
			AddRow(2, "cloud"))

	ctx := context.Background()
	id, err := repo.TierIDByName(ctx, "starter")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 1 {
		t.Errorf("starter id = %d, want 1", id)
	}

	id, err = repo.TypeIDByName(ctx, "cloud")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 2 {
		t.Errorf("cloud id = %d, want 2", id)
	}

	if _, err := repo.TierIDByName(ctx, "platinum"); err == nil {
		t.Error("expected an error for an unknown tier")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
