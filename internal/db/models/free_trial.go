package models

// OrganizationFreeTrial marks that an organization has ever consumed a free
// trial. Rows are write-once and never deleted; this is the sole mechanism
// preventing repeat free trials.
type OrganizationFreeTrial struct {
	ID             int    `db:"id"`
	OrganizationID string `db:"organization_id"`
}
