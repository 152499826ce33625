package domain

import "time"

type ClientID string
type AdminID string
type OrganizationID string

// ClientStatus is the reachability state of a registered client.
type ClientStatus string

const (
	StatusOnline  ClientStatus = "online"
	StatusOffline ClientStatus = "offline"
)

// Client is the registry's record of a member endpoint. AdminID and
// OrganizationID are fixed at first registration; only Status, LastSeen,
// UserName and the transport handle change afterwards.
type Client struct {
	ID             ClientID
	AdminID        AdminID
	OrganizationID OrganizationID
	UserName       string
	Status         ClientStatus
	LastSeen       time.Time
}

// ClientSummary is the projection returned to admins listing their clients.
type ClientSummary struct {
	ClientID ClientID     `json:"client_id"`
	UserName string       `json:"user_name"`
	Status   ClientStatus `json:"status"`
	LastSeen time.Time    `json:"last_seen"`
}
