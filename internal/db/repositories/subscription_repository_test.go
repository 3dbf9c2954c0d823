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

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var subscriptionCols = []string{
	"id", "organization_id", "type_id", "tier_id", "detail_data",
	"created_at", "expires_at", "is_free_trial",
}

const testOrgID = "3f1c7a52-9d0e-4b11-8c4f-2a6b9e0d71aa"

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newSubscriptionRepo(t *testing.T) (*SubscriptionRepository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return NewSubscriptionRepository(sqlx.NewDb(mockDB, "sqlmock")), mock
}

func subscriptionRow(detail string) *sqlmock.Rows {
	return sqlmock.NewRows(subscriptionCols).
		AddRow(3, testOrgID, 1, 2, []byte(detail), time.Now(), nil, false)
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

func TestGetByCustomerIdentifier_Found(t *testing.T) {
	repo, mock := newSubscriptionRepo(t)
	mock.ExpectQuery("detail_data ->> 'customer_identifier'").
		WithArgs("cust-123").
		WillReturnRows(subscriptionRow(`{"customer_identifier":"cust-123","unsubscribe_pending":false}`))

	sub, err := repo.GetByCustomerIdentifier(context.Background(), "cust-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub == nil {
		t.Fatal("expected a subscription")
	}
	if sub.DetailData.CustomerIdentifier != "cust-123" {
		t.Errorf("customer identifier = %s", sub.DetailData.CustomerIdentifier)
	}
	if sub.ExpiresAt != nil {
		t.Error("expected a NULL expiry for a marketplace subscription")
	}
}

func TestGetByCustomerIdentifier_NotFound(t *testing.T) {
	repo, mock := newSubscriptionRepo(t)
	mock.ExpectQuery("detail_data ->> 'customer_identifier'").
		WillReturnError(sql.ErrNoRows)

	sub, err := repo.GetByCustomerIdentifier(context.Background(), "cust-999")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub != nil {
		t.Fatal("expected nil for a missing subscription")
	}
}

func TestGetFreeTrialID(t *testing.T) {
	repo, mock := newSubscriptionRepo(t)
	mock.ExpectQuery("is_free_trial IS TRUE").
		WithArgs(testOrgID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))

	id, err := repo.GetFreeTrialID(context.Background(), testOrgID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == nil || *id != 9 {
		t.Fatalf("id = %v, want 9", id)
	}
}

func TestHasType(t *testing.T) {
	repo, mock := newSubscriptionRepo(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	has, err := repo.HasType(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !has {
		t.Error("expected HasType to report true")
	}
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

func TestCreate_FillsGeneratedFields(t *testing.T) {
	repo, mock := newSubscriptionRepo(t)
	created := time.Now()
	mock.ExpectQuery("INSERT INTO subscription").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(42, created))

	sub := &models.Subscription{
		OrganizationID: testOrgID,
		TypeID:         1,
		TierID:         1,
		DetailData:     models.SubscriptionDetail{CustomerIdentifier: "cust-123"},
	}
	if err := repo.Create(context.Background(), sub); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.ID != 42 {
		t.Errorf("id = %d, want 42", sub.ID)
	}
	if !sub.CreatedAt.Equal(created) {
		t.Errorf("created_at = %v, want %v", sub.CreatedAt, created)
	}
}

func TestUpdateDetail_ReportsRowMatch(t *testing.T) {
	repo, mock := newSubscriptionRepo(t)
	mock.ExpectExec("UPDATE subscription SET detail_data").
		WillReturnResult(sqlmock.NewResult(0, 1))

	updated, err := repo.UpdateDetail(context.Background(), 3, models.SubscriptionDetail{UnsubscribePending: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated {
		t.Error("expected the update to report a matched row")
	}
}

func TestDelete_NoRow(t *testing.T) {
	repo, mock := newSubscriptionRepo(t)
	mock.ExpectExec("DELETE FROM subscription").
		WithArgs(99).
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := repo.Delete(context.Background(), 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted {
		t.Error("expected no row to be deleted")
	}
}

func TestDeleteExpired_ReturnsCount(t *testing.T) {
	repo, mock := newSubscriptionRepo(t)
	mock.ExpectExec("DELETE FROM subscription WHERE expires_at").
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := repo.DeleteExpired(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestLockIDByType_NotFound(t *testing.T) {
	repo, mock := newSubscriptionRepo(t)
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(1).
		WillReturnError(sql.ErrNoRows)

	id, err := repo.LockIDByType(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != nil {
		t.Fatal("expected nil for a missing subscription")
	}
}
