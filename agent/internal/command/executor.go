// Package command dispatches commands fetched from the control plane.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"tunnel-agent/agent/internal/controlplane"
	"tunnel-agent/agent/internal/host"
	"tunnel-agent/agent/internal/logging"
)

const (
	KindStartServer = "start_server"
	KindStopServer  = "stop_server"
)

var ErrUnknown = errors.New("unknown command")

// Handler runs one command. Handlers must tolerate seeing the same
// command more than once.
type Handler func(ctx context.Context, cmd controlplane.Command) error

type Executor struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewExecutor(logger *slog.Logger) *Executor {
	return &Executor{
		logger:   logging.OrNop(logger).With(logging.KeyComponent, "command"),
		handlers: make(map[string]Handler),
	}
}

// Handle registers h for kind, replacing any previous handler.
func (e *Executor) Handle(kind string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[strings.ToLower(strings.TrimSpace(kind))] = h
}

// Execute runs the handler for cmd.Command. Kinds are matched without
// regard to case.
func (e *Executor) Execute(ctx context.Context, cmd controlplane.Command) error {
	kind := strings.ToLower(strings.TrimSpace(cmd.Command))

	e.mu.RLock()
	h, ok := e.handlers[kind]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknown, cmd.Command)
	}

	e.logger.Info("executing command", logging.KeyCommand, kind, "id", cmd.ID)
	if err := h(ctx, cmd); err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return nil
}

func (e *Executor) Kinds() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	kinds := make([]string, 0, len(e.handlers))
	for k := range e.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// RegisterService wires start_server and stop_server to svc. Both are
// no-ops when the service is already in the requested state.
func RegisterService(e *Executor, svc host.Service) {
	e.Handle(KindStartServer, func(ctx context.Context, _ controlplane.Command) error {
		if svc.Running() {
			e.logger.Info("start_server: service already running")
			return nil
		}
		return svc.Start(ctx)
	})
	e.Handle(KindStopServer, func(ctx context.Context, _ controlplane.Command) error {
		if !svc.Running() {
			e.logger.Info("stop_server: service already stopped")
			return nil
		}
		return svc.Stop(ctx)
	})
}
