package host

import (
	"log/slog"
	"sync"

	"tunnel-agent/agent/internal/logging"
)

// FreezeHooks shows a waiting state around a lease request. When Target
// is set the service itself is paused for the duration.
type FreezeHooks struct {
	Target Pausable
	Logger *slog.Logger

	mu     sync.Mutex
	frozen bool
}

func (h *FreezeHooks) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	logger := logging.OrNop(h.Logger)

	if h.frozen {
		logger.Warn("service already paused, ignoring pause")
		return
	}
	h.frozen = true
	logger.Info("pausing service while waiting for a tunnel key")
	if h.Target == nil {
		return
	}
	if err := h.Target.Pause(); err != nil {
		logger.Warn("failed to pause service", logging.KeyError, err)
	}
}

func (h *FreezeHooks) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	logger := logging.OrNop(h.Logger)

	if !h.frozen {
		logger.Warn("service not paused, ignoring resume")
		return
	}
	h.frozen = false
	logger.Info("resuming service")
	if h.Target == nil {
		return
	}
	if err := h.Target.Resume(); err != nil {
		logger.Warn("failed to resume service", logging.KeyError, err)
	}
}

func (h *FreezeHooks) Frozen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frozen
}
