package host

import (
	"context"
	"log/slog"
	"net"
	"time"

	"tunnel-agent/agent/internal/logging"
	"tunnel-agent/agent/internal/recovery"
)

const (
	DefaultProbeInterval = 5 * time.Second
	defaultDialTimeout   = time.Second
)

// Probe checks whether something is listening on the exposed port.
type Probe struct {
	Addr        string
	DialTimeout time.Duration
	Logger      *slog.Logger
}

func NewProbe(addr string, logger *slog.Logger) *Probe {
	return &Probe{Addr: addr, DialTimeout: defaultDialTimeout, Logger: logger}
}

func (p *Probe) Reachable(ctx context.Context) bool {
	timeout := p.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Watch polls the port and reports transitions to l until ctx is done.
// The first successful probe counts as a session start.
func (p *Probe) Watch(ctx context.Context, interval time.Duration, l SessionListener) {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := logging.OrNop(p.Logger)
	active := false
	for {
		func() {
			defer recovery.RecoverWithLog(logger, "session-probe")
			up := p.Reachable(ctx)
			switch {
			case up && !active:
				l.OnSessionStart()
			case !up && active:
				l.OnSessionEnd()
			}
			active = up
		}()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
