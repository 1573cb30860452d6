package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	CommandStartServer = "start_server"
	CommandStopServer  = "stop_server"
)

// Command waits in the queue until the client polls for it.
type Command struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	ClientID  string    `gorm:"index;not null" json:"client_id"`
	Kind      string    `gorm:"not null" json:"command"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func NewCommand(clientID, kind string) Command {
	return Command{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
}
