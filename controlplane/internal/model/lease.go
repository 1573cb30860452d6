package model

import "time"

// Lease is one pooled ngrok authtoken. ClientID is empty while the key is
// free.
type Lease struct {
	Key      string     `gorm:"column:token;primaryKey" json:"-"`
	ClientID string     `gorm:"index" json:"client_id"`
	LeasedAt *time.Time `json:"leased_at,omitempty"`
}

func (l Lease) Free() bool {
	return l.ClientID == ""
}

// Masked shows enough of the key to tell leases apart in the UI.
func (l Lease) Masked() string {
	if len(l.Key) <= 8 {
		return "****"
	}
	return l.Key[:4] + "…" + l.Key[len(l.Key)-4:]
}
