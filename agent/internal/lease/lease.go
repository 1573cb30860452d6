// Package lease decides which tunnel credential the agent uses and owns
// the one credential that is current at any time.
package lease

import "errors"

// ErrLease wraps every acquisition failure reported in logs.
var ErrLease = errors.New("lease")

type Source int

const (
	SourceNone Source = iota
	SourceUser
	SourceServer
)

func (s Source) String() string {
	switch s {
	case SourceUser:
		return "user"
	case SourceServer:
		return "server"
	default:
		return "none"
	}
}

// Credential is a tunnel provider token together with who owns it. A
// server lease also records the client id it was issued to.
type Credential struct {
	Key      string
	Source   Source
	ClientID string
}

func (c Credential) IsZero() bool {
	return c.Key == ""
}

// Holder keeps at most one current credential. It is created by the
// orchestrator and handed to the Manager, which is its only writer.
type Holder struct {
	cred Credential
}

func (h *Holder) Current() Credential {
	return h.cred
}

func (h *Holder) set(c Credential) {
	h.cred = c
}

// take clears the holder and returns what it held.
func (h *Holder) take() Credential {
	c := h.cred
	h.cred = Credential{}
	return c
}

// Hooks bracket a lease request so the host can show a waiting state.
// Resume is called exactly once for every Pause.
type Hooks interface {
	Pause()
	Resume()
}

// HookFuncs adapts two plain functions to Hooks. Nil functions are skipped.
type HookFuncs struct {
	PauseFunc  func()
	ResumeFunc func()
}

func (h HookFuncs) Pause() {
	if h.PauseFunc != nil {
		h.PauseFunc()
	}
}

func (h HookFuncs) Resume() {
	if h.ResumeFunc != nil {
		h.ResumeFunc()
	}
}
