// Package host holds the agent's view of the machine it runs on: the
// local service it exposes, whether that service is in use, and how much
// it costs to run.
package host

import "context"

// Service is a local service the agent can start and stop on command.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
}

// SessionListener is told when the exposed service starts or stops being
// used.
type SessionListener interface {
	OnSessionStart()
	OnSessionEnd()
}

// Pausable is something that can be frozen while the agent waits on the
// control plane.
type Pausable interface {
	Pause() error
	Resume() error
}
