package lease

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tunnel-agent/agent/internal/controlplane"
	"tunnel-agent/agent/internal/logging"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultReleaseTimeout = 10 * time.Second
)

// Client is the part of the control plane API the manager needs.
type Client interface {
	RequestLease(ctx context.Context, clientID string) <-chan controlplane.LeaseResult
	ReleaseLease(ctx context.Context, clientID, key string) <-chan error
}

type Options struct {
	// UserKey, when non-empty, is used as-is and never released.
	UserKey        string
	RequestTimeout time.Duration
	ReleaseTimeout time.Duration
	Logger         *slog.Logger
}

// Manager resolves and releases tunnel credentials. Resolve and Release
// are serialized; a server lease still held when Resolve runs again is
// released first so it is never abandoned on the server. Reading the
// current credential never waits on a pending lease request.
type Manager struct {
	client         Client
	userKey        string
	requestTimeout time.Duration
	releaseTimeout time.Duration
	logger         *slog.Logger

	// op serializes Resolve and Release.
	op sync.Mutex

	mu     sync.Mutex
	holder *Holder
}

func NewManager(client Client, holder *Holder, opts Options) *Manager {
	if holder == nil {
		holder = &Holder{}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.ReleaseTimeout <= 0 {
		opts.ReleaseTimeout = DefaultReleaseTimeout
	}
	return &Manager{
		client:         client,
		userKey:        strings.TrimSpace(opts.UserKey),
		requestTimeout: opts.RequestTimeout,
		releaseTimeout: opts.ReleaseTimeout,
		logger:         logging.OrNop(opts.Logger).With(logging.KeyComponent, "lease"),
		holder:         holder,
	}
}

// HasUserKey reports whether a user-supplied credential is configured.
func (m *Manager) HasUserKey() bool {
	return m.userKey != ""
}

// Resolve returns the credential to open the tunnel with. The user key
// wins without a network call. Otherwise a lease is requested, bracketed
// by hooks.Pause and hooks.Resume, and bounded by the request timeout.
func (m *Manager) Resolve(ctx context.Context, clientID string, hooks Hooks) (Credential, bool) {
	m.op.Lock()
	defer m.op.Unlock()

	if m.Current().Source == SourceServer {
		m.logger.Warn("previous server lease still held, releasing before resolving")
		m.release(clientID)
	}

	if m.userKey != "" {
		m.logger.Info("using user-supplied tunnel key")
		cred := Credential{Key: m.userKey, Source: SourceUser}
		m.setCurrent(cred)
		return cred, true
	}

	m.logger.Info("no user-supplied tunnel key, requesting lease from control plane")
	key, err := m.request(ctx, clientID, hooks)
	if err != nil {
		m.logger.Error("failed to obtain leased tunnel key", logging.KeyError, err)
		m.take()
		return Credential{}, false
	}

	m.logger.Info("obtained leased tunnel key")
	cred := Credential{Key: key, Source: SourceServer, ClientID: strings.TrimSpace(clientID)}
	m.setCurrent(cred)
	return cred, true
}

func (m *Manager) request(ctx context.Context, clientID string, hooks Hooks) (string, error) {
	if hooks == nil {
		hooks = HookFuncs{}
	}
	hooks.Pause()
	defer hooks.Resume()

	if strings.TrimSpace(clientID) == "" {
		return "", fmt.Errorf("%w: no client id to attribute the lease to", ErrLease)
	}

	ctx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	defer cancel()

	select {
	case res := <-m.client.RequestLease(ctx, clientID):
		if res.Err != nil {
			return "", fmt.Errorf("%w: %w", ErrLease, res.Err)
		}
		if strings.TrimSpace(res.Key) == "" {
			return "", fmt.Errorf("%w: empty key", ErrLease)
		}
		return strings.TrimSpace(res.Key), nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: waiting for key: %w", ErrLease, ctx.Err())
	}
}

// Release gives a server lease back. It never blocks on the network: the
// release call runs detached and its failure is only logged. The current
// credential is cleared whether or not the call succeeds, so a second
// Release is a no-op.
//
// The lease is returned under the client id it was issued to; clientID is
// only used when that id is unknown.
func (m *Manager) Release(clientID string) {
	m.op.Lock()
	defer m.op.Unlock()
	m.release(clientID)
}

func (m *Manager) release(clientID string) {
	m.mu.Lock()
	cur := m.holder.Current()
	if cur.Source != SourceServer || cur.IsZero() {
		m.mu.Unlock()
		return
	}
	m.holder.take()
	m.mu.Unlock()

	owner := strings.TrimSpace(cur.ClientID)
	if owner == "" {
		owner = strings.TrimSpace(clientID)
	}
	if owner == "" {
		m.logger.Error("cannot release leased key without a client id")
		return
	}
	if id := strings.TrimSpace(clientID); id != "" && id != owner {
		m.logger.Info("releasing lease under the client id it was issued to",
			logging.KeyClientID, owner, "current_client_id", id)
	}

	m.logger.Info("releasing leased tunnel key")
	ctx, cancel := context.WithTimeout(context.Background(), m.releaseTimeout)
	done := m.client.ReleaseLease(ctx, owner, cur.Key)
	go func() {
		defer cancel()
		if err := <-done; err != nil {
			m.logger.Error("failed to release leased tunnel key", logging.KeyError, err)
			return
		}
		m.logger.Debug("leased tunnel key released")
	}()
}

// IsCurrentFromServer reports whether the current credential is a lease.
func (m *Manager) IsCurrentFromServer() bool {
	return m.Current().Source == SourceServer
}

func (m *Manager) Current() Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder.Current()
}

func (m *Manager) setCurrent(c Credential) {
	m.mu.Lock()
	m.holder.set(c)
	m.mu.Unlock()
}

func (m *Manager) take() {
	m.mu.Lock()
	m.holder.take()
	m.mu.Unlock()
}
