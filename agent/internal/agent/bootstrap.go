package agent

import (
	"context"
	"time"

	"tunnel-agent/agent/internal/lease"
	"tunnel-agent/agent/internal/logging"
	"tunnel-agent/agent/internal/metrics"
	"tunnel-agent/agent/internal/recovery"
	"tunnel-agent/agent/internal/tunnel"
)

func (a *Agent) bootstrap(ctx context.Context) {
	defer recovery.RecoverWithLog(a.logger, "bootstrap")

	id, err := a.deps.Identity.Resolve(ctx)
	if err != nil {
		a.logger.Warn("no client id yet, identity-dependent tasks are deferred", logging.KeyError, err)
	}

	// a lease left over from an earlier pass would otherwise be abandoned
	a.release(id)

	a.acquireTunnel(ctx, id)
	if ctx.Err() != nil {
		a.logger.Info("bootstrap interrupted")
		return
	}

	a.mu.Lock()
	a.bootstrapped = true
	a.mu.Unlock()
	a.setState(StateRunning)

	if a.deps.Identity.Current() == "" {
		a.logger.Warn("periodic tasks will start once a client id is registered")
		return
	}
	a.startTasks()
}

// acquireTunnel tries up to MaxAttempts times to resolve a credential and
// open the primary tunnel with it.
func (a *Agent) acquireTunnel(ctx context.Context, id string) {
	for attempt := 1; attempt <= a.opts.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}
		a.metrics.RecordBootstrapAttempt()
		log := a.logger.With(logging.KeyAttempt, attempt)

		if id == "" && !a.deps.Leases.HasUserKey() {
			log.Info("no client id, registering before requesting a lease")
			if resolved, err := a.deps.Identity.Resolve(ctx); err == nil {
				id = resolved
			}
		}

		cred, ok := a.deps.Leases.Resolve(ctx, id, a.deps.Hooks)
		if !ok {
			a.metrics.RecordLease(a.expectedSource(), metrics.ResultError)
			log.Warn("no tunnel key available")
		} else {
			a.metrics.RecordLease(cred.Source.String(), metrics.ResultOK)
			addr, err := a.deps.Tunnel.Open(ctx, cred.Key, a.opts.LocalPort)
			if err == nil {
				a.metrics.RecordTunnelOpen(true)
				log.Info("tunnel opened", logging.KeyTunnel, tunnel.PrimaryName,
					logging.KeyAddress, addr, logging.KeySource, cred.Source.String())
				a.publish(ctx, tunnel.PrimaryName, addr)
				a.watchTunnel(ctx, tunnel.PrimaryName, a.deps.Tunnel.Done())
				return
			}
			a.metrics.RecordTunnelOpen(false)
			log.Error("failed to open tunnel", logging.KeyError, err, logging.KeySource, cred.Source.String())

			if cred.Source == lease.SourceUser {
				log.Error("user-supplied tunnel key failed, not retrying")
				return
			}
			a.release(id)
		}

		if attempt < a.opts.MaxAttempts {
			log.Info("retrying tunnel setup", "delay", a.opts.RetryDelay)
			if err := wait(ctx, a.opts.RetryDelay); err != nil {
				log.Info("tunnel setup retry interrupted")
				return
			}
		}
	}
	a.logger.Error("could not open a tunnel, continuing without one", "attempts", a.opts.MaxAttempts)
}

func (a *Agent) expectedSource() string {
	if a.deps.Leases.HasUserKey() {
		return lease.SourceUser.String()
	}
	return lease.SourceServer.String()
}

func (a *Agent) setEndpoint(name, addr string) {
	a.mu.Lock()
	a.endpoints[name] = addr
	a.mu.Unlock()
}

// publish records a new tunnel address. Once the periodic tasks run it is
// pushed right away instead of waiting for the next heartbeat.
func (a *Agent) publish(ctx context.Context, name, addr string) {
	a.mu.Lock()
	running := a.tasksStarted
	a.mu.Unlock()
	if !running {
		a.setEndpoint(name, addr)
		return
	}
	if err := a.PushNow(ctx, name, addr); err != nil {
		a.logger.Warn("failed to push tunnel address", logging.KeyError, err)
	}
}

// watchTunnel waits for the tunnel behind done to go away. A tunnel that
// dies while the agent runs is dropped from the report, its lease is
// returned and a new tunnel is set up after RetryDelay.
func (a *Agent) watchTunnel(ctx context.Context, name string, done <-chan struct{}) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer recovery.RecoverWithLog(a.logger, "tunnel-watch")

		select {
		case <-ctx.Done():
			return
		case <-done:
		}
		if ctx.Err() != nil {
			return
		}

		a.logger.Warn("tunnel closed unexpectedly", logging.KeyTunnel, name)
		a.mu.Lock()
		delete(a.endpoints, name)
		a.mu.Unlock()
		a.metrics.RecordTunnelClosed()

		id := a.deps.Identity.Current()
		a.release(id)
		if id != "" {
			a.sendHeartbeat(ctx, id)
		} else {
			a.persist()
		}

		if err := wait(ctx, a.opts.RetryDelay); err != nil {
			return
		}
		a.logger.Info("reopening tunnel", logging.KeyTunnel, name)
		a.acquireTunnel(ctx, id)
	}()
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
