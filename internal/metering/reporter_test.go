package metering

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/marketplacemetering"
	"github.com/jmoiron/sqlx"

	"github.com/vantage-compute/vantage-billing/internal/tenant"
	"github.com/vantage-compute/vantage-billing/internal/tiering"
)

type fakeDirectory struct {
	names   []string
	handles map[string]*tenant.Handle
}

func (d *fakeDirectory) List(ctx context.Context) ([]string, error) { return d.names, nil }

func (d *fakeDirectory) Handle(ctx context.Context, name string) (*tenant.Handle, error) {
	h, ok := d.handles[name]
	if !ok {
		return nil, fmt.Errorf("no such tenant: %s", name)
	}
	return h, nil
}

type staticCounter int

func (c staticCounter) UsersCount(ctx context.Context, organizationID string) (int, error) {
	return int(c), nil
}

type fakeMeteringClient struct {
	inputs []*marketplacemetering.BatchMeterUsageInput
	err    error
}

func (c *fakeMeteringClient) BatchMeterUsage(ctx context.Context, params *marketplacemetering.BatchMeterUsageInput, optFns ...func(*marketplacemetering.Options)) (*marketplacemetering.BatchMeterUsageOutput, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.inputs = append(c.inputs, params)
	return &marketplacemetering.BatchMeterUsageOutput{}, nil
}

func newMeteredHandle(t *testing.T, name string) (*tenant.Handle, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return tenant.NewHandle(name, sqlx.NewDb(mockDB, "sqlmock")), mock
}

func expectLookupLoad(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("FROM subscription_tier").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "seats", "clusters", "storage_systems"}).
			AddRow(1, "starter", 5, 2, 2).
			AddRow(2, "teams", 20, 10, 10).
			AddRow(3, "pro", 50, 20, 20).
			AddRow(4, "enterprise", nil, nil, nil))
	mock.ExpectQuery("FROM subscription_type").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name"}).
			AddRow(1, "aws").
			AddRow(2, "cloud"))
}

func TestRun_SubmitsOneRecordPerAWSTenant(t *testing.T) {
	handle, mock := newMeteredHandle(t, "3f1c7a52-9d0e-4b11-8c4f-2a6b9e0d71aa")

	expectLookupLoad(mock)
	mock.ExpectQuery("SELECT detail_data FROM subscription WHERE type_id").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"detail_data"}).
			AddRow([]byte(`{"customer_identifier":"cust-123","product_code":"prod-abc"}`)))
	mock.ExpectQuery("FROM clusters").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("FROM storage").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	dir := &fakeDirectory{
		names:   []string{handle.Name},
		handles: map[string]*tenant.Handle{handle.Name: handle},
	}
	client := &fakeMeteringClient{}
	calc := tiering.NewCalculator(staticCounter(6))

	r := NewReporter(dir, calc, func(ctx context.Context) (MeteringClient, error) { return client, nil }, "prod-abc")
	fixed := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.inputs) != 1 {
		t.Fatalf("got %d batches, want 1", len(client.inputs))
	}
	input := client.inputs[0]
	if aws.ToString(input.ProductCode) != "prod-abc" {
		t.Errorf("product code = %s, want prod-abc", aws.ToString(input.ProductCode))
	}
	if len(input.UsageRecords) != 1 {
		t.Fatalf("got %d usage records, want 1", len(input.UsageRecords))
	}

	record := input.UsageRecords[0]
	if aws.ToString(record.CustomerIdentifier) != "cust-123" {
		t.Errorf("customer identifier = %s, want cust-123", aws.ToString(record.CustomerIdentifier))
	}
	if aws.ToString(record.Dimension) != "teams" {
		t.Errorf("dimension = %s, want teams", aws.ToString(record.Dimension))
	}
	if aws.ToInt32(record.Quantity) != 6 {
		t.Errorf("quantity = %d, want 6", aws.ToInt32(record.Quantity))
	}
	if !record.Timestamp.Equal(fixed) {
		t.Errorf("timestamp = %v, want %v", record.Timestamp, fixed)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRun_SkipsTenantsWithoutAWSSubscription(t *testing.T) {
	handle, mock := newMeteredHandle(t, "8b2d4e66-1a3c-4f58-9d7e-0c5a2b8f1e33")

	expectLookupLoad(mock)
	mock.ExpectQuery("SELECT detail_data FROM subscription WHERE type_id").
		WillReturnError(sql.ErrNoRows)

	dir := &fakeDirectory{
		names:   []string{handle.Name},
		handles: map[string]*tenant.Handle{handle.Name: handle},
	}

	factoryCalled := false
	factory := func(ctx context.Context) (MeteringClient, error) {
		factoryCalled = true
		return &fakeMeteringClient{}, nil
	}

	r := NewReporter(dir, tiering.NewCalculator(staticCounter(1)), factory, "prod-abc")
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if factoryCalled {
		t.Error("metering client must not be built when there is nothing to submit")
	}
}

func TestRun_BrokenTenantDoesNotStarveOthers(t *testing.T) {
	good, goodMock := newMeteredHandle(t, "3f1c7a52-9d0e-4b11-8c4f-2a6b9e0d71aa")

	expectLookupLoad(goodMock)
	goodMock.ExpectQuery("SELECT detail_data FROM subscription WHERE type_id").
		WillReturnRows(sqlmock.NewRows([]string{"detail_data"}).
			AddRow([]byte(`{"customer_identifier":"cust-123"}`)))
	goodMock.ExpectQuery("FROM clusters").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	goodMock.ExpectQuery("FROM storage").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	// The first tenant has no handle at all; the reporter should log, skip,
	// and still submit the good tenant's record.
	dir := &fakeDirectory{
		names:   []string{"broken", good.Name},
		handles: map[string]*tenant.Handle{good.Name: good},
	}
	client := &fakeMeteringClient{}

	r := NewReporter(dir, tiering.NewCalculator(staticCounter(2)), func(ctx context.Context) (MeteringClient, error) { return client, nil }, "prod-abc")
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.inputs) != 1 || len(client.inputs[0].UsageRecords) != 1 {
		t.Fatalf("expected exactly one record from the good tenant")
	}
}

func TestRun_SubmitErrorPropagates(t *testing.T) {
	handle, mock := newMeteredHandle(t, "3f1c7a52-9d0e-4b11-8c4f-2a6b9e0d71aa")

	expectLookupLoad(mock)
	mock.ExpectQuery("SELECT detail_data FROM subscription WHERE type_id").
		WillReturnRows(sqlmock.NewRows([]string{"detail_data"}).
			AddRow([]byte(`{"customer_identifier":"cust-123"}`)))
	mock.ExpectQuery("FROM clusters").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("FROM storage").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	dir := &fakeDirectory{
		names:   []string{handle.Name},
		handles: map[string]*tenant.Handle{handle.Name: handle},
	}
	client := &fakeMeteringClient{err: errors.New("throttled")}

	r := NewReporter(dir, tiering.NewCalculator(staticCounter(1)), func(ctx context.Context) (MeteringClient, error) { return client, nil }, "prod-abc")
	if err := r.Run(context.Background()); err == nil {
		t.Fatal("expected the submit error to propagate")
	}
}
