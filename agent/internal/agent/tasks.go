package agent

import (
	"context"
	"errors"
	"time"

	"tunnel-agent/agent/internal/command"
	"tunnel-agent/agent/internal/controlplane"
	"tunnel-agent/agent/internal/identity"
	"tunnel-agent/agent/internal/logging"
	"tunnel-agent/agent/internal/metrics"
	"tunnel-agent/agent/internal/recovery"
)

func (a *Agent) startTasks() {
	a.mu.Lock()
	if a.tasksStarted || a.ctx == nil || a.ctx.Err() != nil ||
		a.state == StateShuttingDown || a.state == StateStopped {
		a.mu.Unlock()
		return
	}
	a.tasksStarted = true
	ctx := a.ctx
	a.wg.Add(2)
	a.mu.Unlock()

	a.logger.Info("starting periodic tasks",
		"heartbeat_interval", a.opts.HeartbeatInterval,
		"command_interval", a.opts.CommandInterval)
	go a.runPeriodic(ctx, "heartbeat", a.opts.HeartbeatInterval, a.heartbeatTick)
	go a.runPeriodic(ctx, "command-poll", a.opts.CommandInterval, a.commandTick)
}

// runPeriodic runs tick now and then every interval until ctx is done. A
// failing or panicking tick never ends the loop.
func (a *Agent) runPeriodic(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	defer a.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		a.runTick(ctx, name, tick)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *Agent) runTick(ctx context.Context, name string, tick func(context.Context)) {
	defer recovery.RecoverWithLog(a.logger, name)
	if ctx.Err() != nil {
		return
	}
	tick(ctx)
}

func (a *Agent) heartbeatTick(ctx context.Context) {
	id := a.deps.Identity.Current()
	if id == "" {
		a.logger.Debug("skipping heartbeat, no client id")
		return
	}
	a.sendHeartbeat(ctx, id)
}

// PushNow records a tunnel address and sends one heartbeat right away.
// Empty names or addresses are ignored.
func (a *Agent) PushNow(ctx context.Context, name, addr string) error {
	if name == "" || addr == "" {
		return nil
	}
	a.setEndpoint(name, addr)

	id := a.deps.Identity.Current()
	if id == "" {
		return identity.ErrUnavailable
	}
	return a.sendHeartbeat(ctx, id)
}

func (a *Agent) sendHeartbeat(ctx context.Context, id string) error {
	status := a.status(ctx)
	payload := controlplane.HeartbeatPayload{
		ClientID:  id,
		Status:    status,
		NgrokURLs: a.reportedEndpoints(),
	}

	start := time.Now()
	err := a.deps.ControlPlane.Heartbeat(ctx, payload)
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
		a.metrics.RecordHeartbeat(metrics.ResultOK, elapsed)
		a.logger.Debug("heartbeat sent", "tunnels", len(payload.NgrokURLs))
	case errors.Is(err, controlplane.ErrNotFound):
		a.metrics.RecordHeartbeat(metrics.ResultNotFound, elapsed)
		a.reregister(ctx)
	default:
		a.metrics.RecordHeartbeat(metrics.ResultError, elapsed)
		a.logger.Warn("heartbeat failed", logging.KeyError, err)
	}

	a.mu.Lock()
	a.lastStatus = status
	if err == nil {
		a.lastOK = time.Now().UTC()
		a.lastErr = ""
	} else {
		a.lastErr = err.Error()
	}
	a.mu.Unlock()
	a.persist()
	return err
}

func (a *Agent) reregister(ctx context.Context) {
	id, err := a.deps.Identity.Reregister(ctx)
	if err != nil {
		a.metrics.RecordRegistration(metrics.ResultError)
		a.logger.Error("re-registration failed", logging.KeyError, err)
		return
	}
	a.metrics.RecordRegistration(metrics.ResultOK)
	a.logger.Info("re-registered with control plane", logging.KeyClientID, id)
}

func (a *Agent) status(ctx context.Context) controlplane.Status {
	a.mu.Lock()
	st := controlplane.Status{ClientActive: a.session}
	a.mu.Unlock()

	if a.deps.Monitor == nil {
		return st
	}
	snap := a.deps.Monitor.Snapshot(ctx)
	st.ServerRunning = snap.ServiceRunning
	st.SystemStats = controlplane.ProcessStats{CPUPercent: snap.System.CPUPercent, MemoryMB: snap.System.MemoryMB}
	st.ServerProcessStats = controlplane.ProcessStats{CPUPercent: snap.Service.CPUPercent, MemoryMB: snap.Service.MemoryMB}
	return st
}

// reportedEndpoints is empty unless a session is active.
func (a *Agent) reportedEndpoints() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.session {
		return map[string]string{}
	}
	return map[string]string(a.endpoints.Clone())
}

func (a *Agent) commandTick(ctx context.Context) {
	id := a.deps.Identity.Current()
	if id == "" {
		a.logger.Info("no client id, resolving instead of polling commands")
		if _, err := a.deps.Identity.Resolve(ctx); err != nil {
			a.logger.Warn("client id still unavailable", logging.KeyError, err)
		}
		return
	}

	cmds, err := a.deps.ControlPlane.ListCommands(ctx, id)
	if err != nil {
		a.logger.Warn("failed to fetch commands", logging.KeyError, err)
		return
	}
	for _, cmd := range cmds {
		if ctx.Err() != nil {
			return
		}
		a.dispatch(ctx, cmd)
	}
}

// otherKind is the metric label for commands without a handler.
const otherKind = "other"

func (a *Agent) dispatch(ctx context.Context, cmd controlplane.Command) {
	log := a.logger.With(logging.KeyCommand, cmd.Command)
	if a.deps.Commands == nil {
		a.metrics.RecordCommand(otherKind, metrics.ResultUnknown)
		log.Warn("no command executor configured, ignoring command")
		return
	}

	err := a.deps.Commands.Execute(ctx, cmd)
	switch {
	case err == nil:
		a.metrics.RecordCommand(cmd.Command, metrics.ResultOK)
	case errors.Is(err, command.ErrUnknown):
		a.metrics.RecordCommand(otherKind, metrics.ResultUnknown)
		log.Warn("ignoring unknown command")
	default:
		a.metrics.RecordCommand(cmd.Command, metrics.ResultError)
		log.Error("command failed", logging.KeyError, err)
	}
}
