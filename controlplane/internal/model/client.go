package model

import (
	"time"

	"github.com/google/uuid"
)

// Client is one registered agent and the last state it reported.
type Client struct {
	ID          string `gorm:"primaryKey" json:"id"`
	DisplayName string `gorm:"not null" json:"display_name"`

	ServerRunning bool    `json:"server_running"`
	ClientActive  bool    `json:"client_active"`
	SystemCPU     float64 `gorm:"column:system_cpu" json:"system_cpu"`
	SystemMemMB   float64 `gorm:"column:system_mem_mb" json:"system_mem_mb"`
	ServerCPU     float64 `gorm:"column:server_cpu" json:"server_cpu"`
	ServerMemMB   float64 `gorm:"column:server_mem_mb" json:"server_mem_mb"`
	// Tunnels is the JSON-encoded name to address map from the last
	// heartbeat.
	Tunnels string `json:"-"`

	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`
}

func NewClient(displayName string) Client {
	return Client{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		Tunnels:     "{}",
		CreatedAt:   time.Now().UTC(),
	}
}

// Online reports whether the client was heard from within window of now.
func (c Client) Online(now time.Time, window time.Duration) bool {
	return !c.LastSeen.IsZero() && now.Sub(c.LastSeen) <= window
}
