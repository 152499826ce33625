package domain

// PresenceTypeAdminOnline tags the broadcast emitted when an admin becomes
// reachable again. Clients backing off use it to pre-empt their retry timer.
const PresenceTypeAdminOnline = "admin-online"

// PresenceMessage is the ephemeral admin-online announcement. Ts is epoch
// milliseconds; the message is consumed at most once per listener.
type PresenceMessage struct {
	Type           string         `json:"type"`
	Ts             int64          `json:"ts"`
	OrganizationID OrganizationID `json:"orgId"`
}
