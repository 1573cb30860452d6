package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tunnel-agent/controlplane/internal/model"
	"tunnel-agent/controlplane/internal/repository"
)

const DefaultDisplayName = "unnamed"

// Usage is one CPU and memory sample as the agent reports it.
type Usage struct {
	CPUPercent float64
	MemoryMB   float64
}

type Heartbeat struct {
	ServerRunning bool
	ClientActive  bool
	System        Usage
	Server        Usage
	Tunnels       map[string]string
}

func Register(ctx context.Context, repo repository.Repository, displayName string) (model.Client, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = DefaultDisplayName
	}
	c := model.NewClient(name)
	if err := repo.CreateClient(ctx, &c); err != nil {
		return model.Client{}, err
	}
	return c, nil
}

// RecordHeartbeat stores the reported state. An unknown client id is
// repository.ErrNotFound, which tells the agent to register again.
func RecordHeartbeat(ctx context.Context, repo repository.Repository, clientID string, hb Heartbeat, now time.Time) error {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return ValidationError{Msg: "clientId is required"}
	}
	tunnels := hb.Tunnels
	if tunnels == nil {
		tunnels = map[string]string{}
	}
	encoded, err := json.Marshal(tunnels)
	if err != nil {
		return fmt.Errorf("encode tunnels: %w", err)
	}
	return repo.UpdateHeartbeat(ctx, clientID, repository.HeartbeatUpdate{
		ServerRunning: hb.ServerRunning,
		ClientActive:  hb.ClientActive,
		SystemCPU:     hb.System.CPUPercent,
		SystemMemMB:   hb.System.MemoryMB,
		ServerCPU:     hb.Server.CPUPercent,
		ServerMemMB:   hb.Server.MemoryMB,
		Tunnels:       string(encoded),
		SeenAt:        now.UTC(),
	})
}

// Tunnels decodes the addresses stored by the last heartbeat.
func Tunnels(c model.Client) map[string]string {
	out := map[string]string{}
	if c.Tunnels == "" {
		return out
	}
	_ = json.Unmarshal([]byte(c.Tunnels), &out)
	return out
}
