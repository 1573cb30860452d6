// Package identity resolves the client id the control plane knows this
// agent by, and keeps the configured and persisted copies in agreement.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tunnel-agent/agent/internal/logging"
)

const (
	FileName           = "client_id"
	DefaultDisplayName = "unknown-pc"
	DefaultRetryDelay  = 60 * time.Second
	registerTimeout    = 30 * time.Second
)

// ErrUnavailable means no client id is known yet. Callers degrade rather
// than fail: identity-dependent work is skipped until a later attempt.
var ErrUnavailable = errors.New("client identity unavailable")

type Registrar interface {
	Register(ctx context.Context, displayName string) (string, error)
}

type Options struct {
	// ConfiguredID wins over everything else when non-empty.
	ConfiguredID string
	// Path of the persisted id file.
	Path string
	// SyncConfig mirrors a resolved id back into configuration.
	SyncConfig func(id string)
	// OnRegistered fires after a successful registration, including one
	// made by the deferred retry.
	OnRegistered func(id string)
	RetryDelay   time.Duration
	Hostname     func() (string, error)
	Logger       *slog.Logger
}

type Store struct {
	registrar  Registrar
	configured string
	path       string
	syncConfig func(string)
	onRegister func(string)
	retryDelay time.Duration
	hostname   func() (string, error)
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	id    string
	retry *time.Timer
}

func NewStore(registrar Registrar, opts Options) *Store {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Hostname == nil {
		opts.Hostname = os.Hostname
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		registrar:  registrar,
		configured: strings.TrimSpace(opts.ConfiguredID),
		path:       opts.Path,
		syncConfig: opts.SyncConfig,
		onRegister: opts.OnRegistered,
		retryDelay: opts.RetryDelay,
		hostname:   opts.Hostname,
		logger:     logging.OrNop(opts.Logger).With(logging.KeyComponent, "identity"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Current returns the last resolved id, or "" when none is known.
func (s *Store) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Resolve returns the client id from configuration, the id file, or a
// fresh registration, in that order. A failed registration schedules one
// deferred retry and returns ErrUnavailable without blocking on it.
func (s *Store) Resolve(ctx context.Context) (string, error) {
	s.mu.RLock()
	configured := s.configured
	s.mu.RUnlock()

	if configured != "" {
		s.set(configured)
		s.logger.Info("loaded client id from config", logging.KeyClientID, configured)
		if stored, _ := Load(s.path); stored != configured {
			if err := Save(s.path, configured); err != nil {
				s.logger.Warn("failed to mirror client id to file", logging.KeyError, err)
			} else {
				s.logger.Info("updated client id file from config", "path", s.path)
			}
		}
		return configured, nil
	}

	stored, err := Load(s.path)
	switch {
	case err == nil && stored != "":
		s.set(stored)
		s.logger.Info("loaded client id from file", logging.KeyClientID, stored, "path", s.path)
		s.sync(stored)
		return stored, nil
	case err == nil:
		s.logger.Info("client id file is empty, registering", "path", s.path)
	case !errors.Is(err, os.ErrNotExist):
		s.logger.Error("failed to read client id file, registering", logging.KeyError, err)
	default:
		s.logger.Info("no client id in config or file, registering")
	}

	return s.register(ctx)
}

// Reregister registers again and replaces the current id on success. Used
// when the server reports that it no longer knows this client.
func (s *Store) Reregister(ctx context.Context) (string, error) {
	s.logger.Warn("client id not recognized by server, re-registering", logging.KeyClientID, s.Current())
	return s.register(ctx)
}

// Close cancels a pending deferred retry.
func (s *Store) Close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

func (s *Store) register(ctx context.Context) (string, error) {
	name := s.displayName()
	id, err := s.registrar.Register(ctx, name)
	if err != nil {
		s.logger.Error("registration failed", logging.KeyError, err)
		s.scheduleRetry()
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		s.logger.Error("registration response did not contain a client id")
		return "", ErrUnavailable
	}

	s.mu.Lock()
	s.id = id
	if s.configured != "" {
		// a configured id the server rejected is replaced wholesale
		s.configured = id
	}
	s.mu.Unlock()

	s.logger.Info("registered new client id", logging.KeyClientID, id, "display_name", name)
	if err := Save(s.path, id); err != nil {
		s.logger.Error("failed to save client id", logging.KeyError, err)
	}
	s.sync(id)
	if s.onRegister != nil {
		s.onRegister(id)
	}
	return id, nil
}

func (s *Store) scheduleRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retry != nil || s.ctx.Err() != nil {
		return
	}
	s.logger.Info("scheduling registration retry", "delay", s.retryDelay)
	s.retry = time.AfterFunc(s.retryDelay, func() {
		s.mu.Lock()
		s.retry = nil
		s.mu.Unlock()
		if s.ctx.Err() != nil {
			return
		}
		ctx, cancel := context.WithTimeout(s.ctx, registerTimeout)
		defer cancel()
		s.register(ctx)
	})
}

func (s *Store) set(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

func (s *Store) sync(id string) {
	if s.syncConfig != nil {
		s.syncConfig(id)
	}
}

func (s *Store) displayName() string {
	name, err := s.hostname()
	name = strings.TrimSpace(name)
	if err != nil || name == "" {
		s.logger.Warn("could not determine hostname", "fallback", DefaultDisplayName, logging.KeyError, err)
		return DefaultDisplayName
	}
	return name
}

// Load reads the persisted id. A missing file yields an error matching
// os.ErrNotExist.
func Load(path string) (string, error) {
	if path == "" {
		return "", os.ErrNotExist
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Save writes the id atomically.
func Save(path, id string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("ensure id dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp id: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(id + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp id: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp id: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace id: %w", err)
	}
	return nil
}
