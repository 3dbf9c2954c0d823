package models

import "time"

// PendingAwsSubscription is a provisional record created when a customer
// initiates AWS Marketplace checkout. It is matched by customer_identifier
// when the subscribe-success notification arrives, then deleted; on
// subscribe-fail it is kept with has_failed set so support can follow up.
type PendingAwsSubscription struct {
	ID                   int       `db:"id"`
	OrganizationID       string    `db:"organization_id"`
	CustomerAWSAccountID string    `db:"customer_aws_account_id"`
	CustomerIdentifier   string    `db:"customer_identifier"`
	ProductCode          string    `db:"product_code"`
	HasFailed            bool      `db:"has_failed"`
	CreatedAt            time.Time `db:"created_at"`
}
