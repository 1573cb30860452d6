package repository

import (
	"context"
	"errors"
	"time"

	"tunnel-agent/controlplane/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrNoFreeLease means every pooled key is leased.
	ErrNoFreeLease = errors.New("no free lease")
)

// HeartbeatUpdate is what a heartbeat changes on a client row.
type HeartbeatUpdate struct {
	ServerRunning bool
	ClientActive  bool
	SystemCPU     float64
	SystemMemMB   float64
	ServerCPU     float64
	ServerMemMB   float64
	Tunnels       string
	SeenAt        time.Time
}

// ClientsPageData backs the admin client list.
type ClientsPageData struct {
	Clients []model.Client
	Pending map[string]int // clientID -> queued commands
	Leases  []model.Lease
}

type Repository interface {
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	CreateClient(ctx context.Context, c *model.Client) error
	ListClients(ctx context.Context) ([]model.Client, error)
	GetClient(ctx context.Context, id string) (model.Client, error)
	UpdateHeartbeat(ctx context.Context, id string, u HeartbeatUpdate) error
	DeleteClient(ctx context.Context, id string) (bool, error)

	EnqueueCommand(ctx context.Context, c *model.Command) error
	// TakeCommands returns the client's queued commands oldest first and
	// removes them.
	TakeCommands(ctx context.Context, clientID string) ([]model.Command, error)
	CountPendingCommands(ctx context.Context) (map[string]int, error)

	// SeedLeases adds keys missing from the pool. Existing keys keep their
	// holder.
	SeedLeases(ctx context.Context, keys []string) error
	ListLeases(ctx context.Context) ([]model.Lease, error)
	// AcquireLease returns the key already held by clientID, or marks the
	// oldest free key as held by it.
	AcquireLease(ctx context.Context, clientID string, now time.Time) (model.Lease, error)
	// ReleaseLease frees key if clientID holds it.
	ReleaseLease(ctx context.Context, clientID, key string) (bool, error)

	FetchClientsPageData(ctx context.Context) (ClientsPageData, error)
}
