package identity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeRegistrar struct {
	mu    sync.Mutex
	calls []string
	ids   []string
	errs  []error
}

func (f *fakeRegistrar) Register(ctx context.Context, displayName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.calls)
	f.calls = append(f.calls, displayName)
	var err error
	if n < len(f.errs) {
		err = f.errs[n]
	}
	if err != nil {
		return "", err
	}
	if n < len(f.ids) {
		return f.ids[n], nil
	}
	return "", nil
}

func (f *fakeRegistrar) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func hostname(name string, err error) func() (string, error) {
	return func() (string, error) { return name, err }
}

func TestResolve_ConfiguredIDMirrorsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	reg := &fakeRegistrar{}
	store := NewStore(reg, Options{ConfiguredID: " cfg-id ", Path: path})
	defer store.Close()

	id, err := store.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if id != "cfg-id" {
		t.Errorf("expected cfg-id, got %q", id)
	}
	stored, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if stored != "cfg-id" {
		t.Errorf("expected file to mirror config, got %q", stored)
	}
	if reg.count() != 0 {
		t.Errorf("expected no registration, got %d", reg.count())
	}
}

func TestResolve_FileMirrorsToConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := Save(path, "file-id"); err != nil {
		t.Fatal(err)
	}
	var synced string
	reg := &fakeRegistrar{}
	store := NewStore(reg, Options{Path: path, SyncConfig: func(id string) { synced = id }})
	defer store.Close()

	id, err := store.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if id != "file-id" || store.Current() != "file-id" {
		t.Errorf("expected file-id, got %q / %q", id, store.Current())
	}
	if synced != "file-id" {
		t.Errorf("expected config sync with file-id, got %q", synced)
	}
	if reg.count() != 0 {
		t.Errorf("expected no registration, got %d", reg.count())
	}
}

func TestResolve_RegistersAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)
	var synced, registered string
	reg := &fakeRegistrar{ids: []string{"new-id"}}
	store := NewStore(reg, Options{
		Path:         path,
		Hostname:     hostname("workstation", nil),
		SyncConfig:   func(id string) { synced = id },
		OnRegistered: func(id string) { registered = id },
	})
	defer store.Close()

	id, err := store.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if id != "new-id" {
		t.Errorf("expected new-id, got %q", id)
	}
	if reg.calls[0] != "workstation" {
		t.Errorf("expected hostname display name, got %q", reg.calls[0])
	}
	if stored, _ := Load(path); stored != "new-id" {
		t.Errorf("expected persisted new-id, got %q", stored)
	}
	if synced != "new-id" || registered != "new-id" {
		t.Errorf("expected callbacks with new-id, got sync=%q registered=%q", synced, registered)
	}
}

func TestResolve_HostnameFallback(t *testing.T) {
	reg := &fakeRegistrar{ids: []string{"id"}}
	store := NewStore(reg, Options{
		Path:     filepath.Join(t.TempDir(), FileName),
		Hostname: hostname("", errors.New("no hostname")),
	})
	defer store.Close()

	if _, err := store.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if reg.calls[0] != DefaultDisplayName {
		t.Errorf("expected %q, got %q", DefaultDisplayName, reg.calls[0])
	}
}

func TestResolve_EmptyFileRegisters(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	reg := &fakeRegistrar{ids: []string{"fresh"}}
	store := NewStore(reg, Options{Path: path, Hostname: hostname("h", nil)})
	defer store.Close()

	id, err := store.Resolve(context.Background())
	if err != nil || id != "fresh" {
		t.Fatalf("expected fresh, got %q (%v)", id, err)
	}
}

func TestResolve_NetworkFailureSchedulesOneRetry(t *testing.T) {
	registered := make(chan string, 1)
	reg := &fakeRegistrar{
		errs: []error{errors.New("connection refused")},
		ids:  []string{"", "late-id"},
	}
	store := NewStore(reg, Options{
		Path:         filepath.Join(t.TempDir(), FileName),
		Hostname:     hostname("h", nil),
		RetryDelay:   20 * time.Millisecond,
		OnRegistered: func(id string) { registered <- id },
	})
	defer store.Close()

	id, err := store.Resolve(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if id != "" || store.Current() != "" {
		t.Errorf("expected no identity yet, got %q", id)
	}

	select {
	case got := <-registered:
		if got != "late-id" {
			t.Errorf("expected late-id, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("deferred registration did not run")
	}
	if store.Current() != "late-id" {
		t.Errorf("expected current late-id, got %q", store.Current())
	}
	if reg.count() != 2 {
		t.Errorf("expected exactly 2 registration calls, got %d", reg.count())
	}
}

func TestResolve_EmptyResponseDoesNotRetry(t *testing.T) {
	reg := &fakeRegistrar{ids: []string{"  "}}
	store := NewStore(reg, Options{
		Path:       filepath.Join(t.TempDir(), FileName),
		Hostname:   hostname("h", nil),
		RetryDelay: 10 * time.Millisecond,
	})
	defer store.Close()

	if _, err := store.Resolve(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if reg.count() != 1 {
		t.Errorf("expected a single registration call, got %d", reg.count())
	}
}

func TestClose_CancelsPendingRetry(t *testing.T) {
	reg := &fakeRegistrar{errs: []error{errors.New("down")}}
	store := NewStore(reg, Options{
		Path:       filepath.Join(t.TempDir(), FileName),
		Hostname:   hostname("h", nil),
		RetryDelay: 30 * time.Millisecond,
	})

	store.Resolve(context.Background())
	store.Close()
	time.Sleep(80 * time.Millisecond)

	if reg.count() != 1 {
		t.Errorf("expected retry to be cancelled, got %d calls", reg.count())
	}
}

func TestReregister_ReplacesConfiguredID(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	var synced string
	reg := &fakeRegistrar{ids: []string{"replacement"}}
	store := NewStore(reg, Options{
		ConfiguredID: "stale",
		Path:         path,
		Hostname:     hostname("h", nil),
		SyncConfig:   func(id string) { synced = id },
	})
	defer store.Close()

	if _, err := store.Resolve(context.Background()); err != nil {
		t.Fatal(err)
	}
	id, err := store.Reregister(context.Background())
	if err != nil {
		t.Fatalf("Reregister failed: %v", err)
	}
	if id != "replacement" || store.Current() != "replacement" {
		t.Errorf("expected replacement, got %q", store.Current())
	}
	if synced != "replacement" {
		t.Errorf("expected config sync, got %q", synced)
	}

	again, err := store.Resolve(context.Background())
	if err != nil || again != "replacement" {
		t.Errorf("expected subsequent resolve to keep replacement, got %q (%v)", again, err)
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}
