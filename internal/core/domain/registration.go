package domain

// Registration is the payload a client sends when it (re)connects.
type Registration struct {
	ClientID       ClientID       `json:"clientId"`
	AdminID        AdminID        `json:"adminId"`
	OrganizationID OrganizationID `json:"organizationId"`
	UserName       string         `json:"userName"`
}
