package lease

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tunnel-agent/agent/internal/controlplane"
)

type fakeClient struct {
	mu       sync.Mutex
	requests []string
	releases []string
	owners   []string
	keys     []string
	reqErr   error
	hang     bool
	relErr   error
}

func (f *fakeClient) RequestLease(ctx context.Context, clientID string) <-chan controlplane.LeaseResult {
	f.mu.Lock()
	n := len(f.requests)
	f.requests = append(f.requests, clientID)
	f.mu.Unlock()

	out := make(chan controlplane.LeaseResult, 1)
	if f.hang {
		return out
	}
	if f.reqErr != nil {
		out <- controlplane.LeaseResult{Err: f.reqErr}
		return out
	}
	key := ""
	if n < len(f.keys) {
		key = f.keys[n]
	}
	out <- controlplane.LeaseResult{Key: key}
	return out
}

func (f *fakeClient) ReleaseLease(ctx context.Context, clientID, key string) <-chan error {
	f.mu.Lock()
	f.releases = append(f.releases, key)
	f.owners = append(f.owners, clientID)
	f.mu.Unlock()
	out := make(chan error, 1)
	out <- f.relErr
	return out
}

func (f *fakeClient) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeClient) releaseOwners() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.owners...)
}

func (f *fakeClient) released() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.releases...)
}

// recordingHooks logs the order of Pause/Resume calls.
type recordingHooks struct {
	calls []string
}

func (h *recordingHooks) Pause()  { h.calls = append(h.calls, "pause") }
func (h *recordingHooks) Resume() { h.calls = append(h.calls, "resume") }

func (h *recordingHooks) assertPaired(t *testing.T) {
	t.Helper()
	if strings.Join(h.calls, ",") != "pause,resume" {
		t.Errorf("expected pause,resume, got %v", h.calls)
	}
}

func TestResolve_UserKeySkipsNetwork(t *testing.T) {
	client := &fakeClient{keys: []string{"leased"}}
	hooks := &recordingHooks{}
	m := NewManager(client, nil, Options{UserKey: "  my-key  "})

	cred, ok := m.Resolve(context.Background(), "client-1", hooks)
	if !ok {
		t.Fatal("expected credential")
	}
	if cred.Key != "my-key" || cred.Source != SourceUser {
		t.Errorf("unexpected credential: %+v", cred)
	}
	if client.requestCount() != 0 {
		t.Errorf("expected no lease request, got %d", client.requestCount())
	}
	if len(hooks.calls) != 0 {
		t.Errorf("hooks must not run for a user key, got %v", hooks.calls)
	}
	if m.IsCurrentFromServer() {
		t.Error("user key must not be reported as server-leased")
	}
}

func TestResolve_ServerLease(t *testing.T) {
	client := &fakeClient{keys: []string{"leased-1"}}
	holder := &Holder{}
	hooks := &recordingHooks{}
	m := NewManager(client, holder, Options{})

	cred, ok := m.Resolve(context.Background(), "client-1", hooks)
	if !ok {
		t.Fatal("expected credential")
	}
	if cred.Key != "leased-1" || cred.Source != SourceServer {
		t.Errorf("unexpected credential: %+v", cred)
	}
	if holder.Current() != cred {
		t.Errorf("holder should carry the current credential, got %+v", holder.Current())
	}
	if !m.IsCurrentFromServer() {
		t.Error("expected server provenance")
	}
	hooks.assertPaired(t)
}

func TestResolve_ReleasesPreviousLeaseFirst(t *testing.T) {
	client := &fakeClient{keys: []string{"leased-1", "leased-2"}}
	m := NewManager(client, nil, Options{})

	if _, ok := m.Resolve(context.Background(), "client-1", nil); !ok {
		t.Fatal("first resolve failed")
	}
	cred, ok := m.Resolve(context.Background(), "client-1", nil)
	if !ok || cred.Key != "leased-2" {
		t.Fatalf("second resolve: %+v %v", cred, ok)
	}
	if got := client.released(); len(got) != 1 || got[0] != "leased-1" {
		t.Errorf("expected leased-1 to be released exactly once, got %v", got)
	}
}

func TestResolve_FailuresKeepHooksPaired(t *testing.T) {
	tests := []struct {
		name     string
		client   *fakeClient
		clientID string
		timeout  time.Duration
	}{
		{name: "transport error", client: &fakeClient{reqErr: errors.New("503")}, clientID: "c"},
		{name: "empty key", client: &fakeClient{keys: []string{"  "}}, clientID: "c"},
		{name: "timeout", client: &fakeClient{hang: true}, clientID: "c", timeout: 20 * time.Millisecond},
		{name: "no identity", client: &fakeClient{keys: []string{"k"}}, clientID: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hooks := &recordingHooks{}
			m := NewManager(tt.client, nil, Options{RequestTimeout: tt.timeout})

			cred, ok := m.Resolve(context.Background(), tt.clientID, hooks)
			if ok || !cred.IsZero() {
				t.Errorf("expected failure, got %+v", cred)
			}
			if m.IsCurrentFromServer() {
				t.Error("failed resolve must not leave a current lease")
			}
			hooks.assertPaired(t)
		})
	}
}

func TestResolve_NoIdentitySkipsRequest(t *testing.T) {
	client := &fakeClient{keys: []string{"k"}}
	m := NewManager(client, nil, Options{})

	m.Resolve(context.Background(), "   ", nil)
	if client.requestCount() != 0 {
		t.Errorf("expected no request without identity, got %d", client.requestCount())
	}
}

func TestResolve_CancelledContext(t *testing.T) {
	hooks := &recordingHooks{}
	m := NewManager(&fakeClient{hang: true}, nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := m.Resolve(ctx, "c", hooks); ok {
		t.Fatal("expected failure on cancelled context")
	}
	hooks.assertPaired(t)
}

func TestRelease_Idempotent(t *testing.T) {
	client := &fakeClient{keys: []string{"leased-1"}}
	m := NewManager(client, nil, Options{})
	m.Resolve(context.Background(), "client-1", nil)

	m.Release("client-1")
	m.Release("client-1")

	if got := client.released(); len(got) != 1 {
		t.Errorf("expected exactly one release request, got %v", got)
	}
	if m.IsCurrentFromServer() || !m.Current().IsZero() {
		t.Error("release must clear the current credential")
	}
}

func TestRelease_UserKeyNeverReleased(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client, nil, Options{UserKey: "mine"})
	m.Resolve(context.Background(), "client-1", nil)

	m.Release("client-1")

	if got := client.released(); len(got) != 0 {
		t.Errorf("user key must never be released, got %v", got)
	}
}

func TestRelease_FailureStillClears(t *testing.T) {
	client := &fakeClient{keys: []string{"leased-1"}, relErr: errors.New("boom")}
	m := NewManager(client, nil, Options{})
	m.Resolve(context.Background(), "client-1", nil)

	m.Release("client-1")

	if m.IsCurrentFromServer() {
		t.Error("failed release must still clear state")
	}
}

func TestRelease_UsesLeasingClientID(t *testing.T) {
	client := &fakeClient{keys: []string{"leased-1"}}
	m := NewManager(client, nil, Options{})
	m.Resolve(context.Background(), "client-1", nil)
	if got := m.Current().ClientID; got != "client-1" {
		t.Fatalf("credential client id = %q, want client-1", got)
	}

	// the agent re-registered and now carries a new id
	m.Release("client-2")

	if got := client.releaseOwners(); len(got) != 1 || got[0] != "client-1" {
		t.Errorf("expected release under client-1, got %v", got)
	}
}

func TestRelease_WithoutAnyIdentityClearsState(t *testing.T) {
	client := &fakeClient{}
	holder := &Holder{}
	holder.set(Credential{Key: "orphan", Source: SourceServer})
	m := NewManager(client, holder, Options{})

	m.Release("")

	if len(client.released()) != 0 {
		t.Error("release without identity must not call the server")
	}
	if m.IsCurrentFromServer() {
		t.Error("state must be cleared")
	}
}

func TestCurrent_DoesNotWaitForPendingRequest(t *testing.T) {
	holder := &Holder{}
	holder.set(Credential{Key: "mine", Source: SourceUser})
	m := NewManager(&fakeClient{hang: true}, holder, Options{RequestTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan struct{})
	go func() {
		m.Resolve(ctx, "client-1", HookFuncs{PauseFunc: func() { close(started) }})
	}()
	<-started

	done := make(chan struct{})
	go func() {
		m.Current()
		m.IsCurrentFromServer()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Current blocked while a lease request was pending")
	}
}

func TestSource_String(t *testing.T) {
	if SourceUser.String() != "user" || SourceServer.String() != "server" || SourceNone.String() != "none" {
		t.Error("unexpected Source names")
	}
}
