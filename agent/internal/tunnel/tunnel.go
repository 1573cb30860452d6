// Package tunnel is the boundary to the tunnel provider: open a public
// endpoint for a local port with a credential, and close it again.
package tunnel

import (
	"context"
	"fmt"
)

// PrimaryName is the endpoint name reported for the tunnel opened during
// bootstrap.
const PrimaryName = "primary"

type Controller interface {
	// Open starts a tunnel to localPort and returns its public address.
	Open(ctx context.Context, credential string, localPort int) (string, error)
	// Close tears the tunnel down. Closing a closed tunnel is a no-op.
	Close(ctx context.Context) error
	// Done is closed once the tunnel from the last successful Open has
	// gone away, whether it was closed or died. With no tunnel running it
	// returns a closed channel.
	Done() <-chan struct{}
}

// Error is returned for any open or close failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tunnel %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Endpoints maps tunnel names to public addresses.
type Endpoints map[string]string

func (e Endpoints) Clone() Endpoints {
	out := make(Endpoints, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}
