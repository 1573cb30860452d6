package host

import "context"

// Snapshot is what the agent reports about the host on each heartbeat.
type Snapshot struct {
	ServiceRunning bool
	System         Usage
	Service        Usage
}

// Monitor builds snapshots. A managed Service is asked directly; without
// one the Probe decides whether the service is up.
type Monitor struct {
	Service Service
	Probe   *Probe
	Sampler *Sampler
}

func (m *Monitor) Snapshot(ctx context.Context) Snapshot {
	var snap Snapshot
	switch {
	case m.Service != nil:
		snap.ServiceRunning = m.Service.Running()
	case m.Probe != nil:
		snap.ServiceRunning = m.Probe.Reachable(ctx)
	}

	if m.Sampler == nil {
		return snap
	}
	snap.System = m.Sampler.Self()
	if p, ok := m.Service.(interface{ Pid() int }); ok && snap.ServiceRunning {
		snap.Service = m.Sampler.Process(p.Pid())
	}
	return snap
}
