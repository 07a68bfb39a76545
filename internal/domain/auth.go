package domain

// Principal is the authenticated operator calling the admin endpoints.
type Principal struct {
	UserID         string
	OrganizationID string
	RoleName       string
}
