// Package agent runs the tunnel agent: bootstrap an identity and a
// tunnel, then keep the control plane informed and act on its commands.
package agent

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"tunnel-agent/agent/internal/controlplane"
	"tunnel-agent/agent/internal/host"
	"tunnel-agent/agent/internal/lease"
	"tunnel-agent/agent/internal/logging"
	"tunnel-agent/agent/internal/metrics"
	"tunnel-agent/agent/internal/state"
	"tunnel-agent/agent/internal/tunnel"
)

const (
	DefaultMaxAttempts       = 3
	DefaultRetryDelay        = 5 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultCommandInterval   = 5 * time.Second
	DefaultShutdownGrace     = 2 * time.Second
)

type ControlPlane interface {
	Heartbeat(ctx context.Context, payload controlplane.HeartbeatPayload) error
	ListCommands(ctx context.Context, clientID string) ([]controlplane.Command, error)
}

type Identity interface {
	Current() string
	Resolve(ctx context.Context) (string, error)
	Reregister(ctx context.Context) (string, error)
}

type Leases interface {
	Resolve(ctx context.Context, clientID string, hooks lease.Hooks) (lease.Credential, bool)
	Release(clientID string)
	HasUserKey() bool
	Current() lease.Credential
}

type Executor interface {
	Execute(ctx context.Context, cmd controlplane.Command) error
}

type Monitor interface {
	Snapshot(ctx context.Context) host.Snapshot
}

// Deps are the collaborators the agent drives. Commands and Monitor may
// be nil.
type Deps struct {
	ControlPlane ControlPlane
	Identity     Identity
	Leases       Leases
	Tunnel       tunnel.Controller
	Hooks        lease.Hooks
	Commands     Executor
	Monitor      Monitor
}

type Options struct {
	// Disabled keeps the agent Idle; Init does nothing.
	Disabled          bool
	LocalPort         int
	MaxAttempts       int
	RetryDelay        time.Duration
	HeartbeatInterval time.Duration
	CommandInterval   time.Duration
	ShutdownGrace     time.Duration
	// StatePath, when set, receives a snapshot after every heartbeat.
	StatePath       string
	ControlPlaneURL string
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

type Agent struct {
	deps    Deps
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	bootstrapDone chan struct{}
	wg            sync.WaitGroup

	mu           sync.Mutex
	state        State
	ctx          context.Context
	cancel       context.CancelFunc
	bootstrapped bool
	tasksStarted bool
	endpoints    tunnel.Endpoints
	session      bool
	lastStatus   controlplane.Status
	lastOK       time.Time
	lastErr      string
	startedAt    time.Time
}

func New(deps Deps, opts Options) *Agent {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.CommandInterval <= 0 {
		opts.CommandInterval = DefaultCommandInterval
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	if deps.Hooks == nil {
		deps.Hooks = lease.HookFuncs{}
	}
	return &Agent{
		deps:          deps,
		opts:          opts,
		logger:        logging.OrNop(opts.Logger).With(logging.KeyComponent, "agent"),
		metrics:       opts.Metrics,
		bootstrapDone: make(chan struct{}),
		state:         StateIdle,
		endpoints:     make(tunnel.Endpoints),
		startedAt:     time.Now().UTC(),
	}
}

// Init starts bootstrap in the background and returns immediately. It
// runs at most once; a disabled agent stays Idle.
func (a *Agent) Init(ctx context.Context) {
	a.mu.Lock()
	if a.state != StateIdle || a.ctx != nil {
		a.mu.Unlock()
		return
	}
	if a.opts.Disabled {
		a.ctx = ctx
		a.mu.Unlock()
		a.logger.Info("agent is disabled, not starting")
		close(a.bootstrapDone)
		return
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.state = StateBootstrapping
	a.wg.Add(1)
	runCtx := a.ctx
	a.mu.Unlock()

	a.logger.Info("agent starting", "local_port", a.opts.LocalPort)
	go func() {
		defer a.wg.Done()
		defer close(a.bootstrapDone)
		a.bootstrap(runCtx)
	}()
}

// BootstrapDone is closed once bootstrap has finished or was skipped.
func (a *Agent) BootstrapDone() <-chan struct{} {
	return a.bootstrapDone
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Endpoints returns every open tunnel, regardless of session state.
func (a *Agent) Endpoints() tunnel.Endpoints {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.endpoints.Clone()
}

func (a *Agent) OnSessionStart() {
	a.setSession(true)
}

func (a *Agent) OnSessionEnd() {
	a.setSession(false)
}

// setSession flips the session flag. A change is reported with an
// immediate heartbeat once the periodic tasks run.
func (a *Agent) setSession(active bool) {
	a.mu.Lock()
	changed := a.session != active
	a.session = active
	running := a.tasksStarted
	ctx := a.ctx
	a.mu.Unlock()
	if !changed {
		return
	}
	a.metrics.SetSessionActive(active)
	if active {
		a.logger.Info("session started, tunnel addresses will be reported")
	} else {
		a.logger.Info("session ended, tunnel addresses withheld")
	}

	id := a.deps.Identity.Current()
	if !running || id == "" || ctx == nil || ctx.Err() != nil {
		return
	}
	a.sendHeartbeat(ctx, id)
}

// SessionActive reports whether tunnel addresses are currently reported.
func (a *Agent) SessionActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// OnRegistered starts the periodic tasks when an identity arrives after
// bootstrap gave up waiting for one.
func (a *Agent) OnRegistered(id string) {
	a.mu.Lock()
	ready := a.bootstrapped
	a.mu.Unlock()
	if ready && id != "" {
		a.startTasks()
	}
}

// Shutdown stops the periodic tasks, closes the tunnel and releases a
// server lease. In-flight ticks get at most ShutdownGrace to notice.
func (a *Agent) Shutdown(ctx context.Context) {
	a.mu.Lock()
	if a.state == StateShuttingDown || a.state == StateStopped {
		a.mu.Unlock()
		return
	}
	a.state = StateShuttingDown
	cancel := a.cancel
	a.mu.Unlock()

	a.logger.Info("agent shutting down")
	if cancel != nil {
		cancel()
	}
	a.waitWorkers(ctx)

	if err := a.deps.Tunnel.Close(ctx); err != nil {
		a.logger.Error("failed to close tunnel", logging.KeyError, err)
	}
	a.mu.Lock()
	a.endpoints = make(tunnel.Endpoints)
	a.mu.Unlock()
	a.metrics.RecordTunnelClosed()

	a.release(a.deps.Identity.Current())

	a.mu.Lock()
	a.state = StateStopped
	a.mu.Unlock()
	a.persist()
	a.logger.Info("agent stopped")
}

func (a *Agent) waitWorkers(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(a.opts.ShutdownGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		a.logger.Warn("workers still running after grace period, continuing shutdown")
	case <-ctx.Done():
	}
}

func (a *Agent) release(clientID string) {
	if a.deps.Leases.Current().Source == lease.SourceServer {
		a.metrics.RecordRelease()
	}
	a.deps.Leases.Release(clientID)
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	if a.state == StateShuttingDown || a.state == StateStopped {
		a.mu.Unlock()
		return
	}
	a.state = s
	a.mu.Unlock()
	a.logger.Debug("agent state changed", logging.KeyState, s.String())
}

func (a *Agent) persist() {
	if a.opts.StatePath == "" {
		return
	}
	a.mu.Lock()
	st := state.State{
		ControlPlaneURL: a.opts.ControlPlaneURL,
		AgentState:      a.state.String(),
		Tunnels:         a.endpoints.Clone(),
		SessionActive:   a.session,
		ServiceRunning:  a.lastStatus.ServerRunning,
		LastHeartbeatOK: a.lastOK,
		LastError:       a.lastErr,
		PID:             os.Getpid(),
		StartedAt:       a.startedAt,
	}
	a.mu.Unlock()
	st.ClientID = a.deps.Identity.Current()
	if cred := a.deps.Leases.Current(); !cred.IsZero() {
		st.LeaseSource = cred.Source.String()
	}
	if err := state.Save(a.opts.StatePath, st); err != nil {
		a.logger.Warn("failed to write state file", logging.KeyError, err)
	}
}
