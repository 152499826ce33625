package domain

// Admin is the organization-side endpoint that owns clients and receives
// presence notifications. ClientIDs preserves registration order; the
// registry never reorders it.
type Admin struct {
	ID             AdminID
	OrganizationID OrganizationID
	ClientIDs      []ClientID
}
