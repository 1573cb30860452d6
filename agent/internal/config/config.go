package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDataDir           = "/var/lib/tunnel-agent"
	DefaultMaxAttempts       = 3
	DefaultRetryDelay        = 5 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultCommandInterval   = 5 * time.Second
	DefaultShutdownGrace     = 2 * time.Second
	DefaultLeaseTimeout      = 30 * time.Second
	DefaultRegistrationRetry = 60 * time.Second
	maxPort                  = 65535
)

type Config struct {
	Enabled         bool   `yaml:"enabled"`
	ControlPlaneURL string `yaml:"controlplane_url"`
	APIKey          string `yaml:"api_key"`
	// NgrokKey is a user-supplied tunnel credential. Empty means lease one.
	NgrokKey    string `yaml:"ngrok_key,omitempty"`
	ClientID    string `yaml:"client_id,omitempty"`
	LocalPort   int    `yaml:"local_port"`
	DataDir     string `yaml:"data_dir"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	Log     LogConfig     `yaml:"log"`
	Ngrok   NgrokConfig   `yaml:"ngrok"`
	Service ServiceConfig `yaml:"service"`
	Timing  TimingConfig  `yaml:"timing"`

	path string
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type NgrokConfig struct {
	Bin     string `yaml:"bin,omitempty"`
	Proto   string `yaml:"proto,omitempty"`
	Region  string `yaml:"region,omitempty"`
	APIAddr string `yaml:"api_addr,omitempty"`
}

type ServiceConfig struct {
	// Command starts the exposed service under the agent. Empty means the
	// service is managed elsewhere and only probed.
	Command          string `yaml:"command,omitempty"`
	Dir              string `yaml:"dir,omitempty"`
	PauseDuringLease bool   `yaml:"pause_during_lease"`
}

type TimingConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	CommandInterval   time.Duration `yaml:"command_interval"`
	ShutdownGrace     time.Duration `yaml:"shutdown_grace"`
	LeaseTimeout      time.Duration `yaml:"lease_timeout"`
	RegistrationRetry time.Duration `yaml:"registration_retry"`
}

func Default() Config {
	return Config{
		Enabled: true,
		DataDir: DefaultDataDir,
		Log:     LogConfig{Level: "info", Format: "text"},
		Timing: TimingConfig{
			MaxAttempts:       DefaultMaxAttempts,
			RetryDelay:        DefaultRetryDelay,
			HeartbeatInterval: DefaultHeartbeatInterval,
			CommandInterval:   DefaultCommandInterval,
			ShutdownGrace:     DefaultShutdownGrace,
			LeaseTimeout:      DefaultLeaseTimeout,
			RegistrationRetry: DefaultRegistrationRetry,
		},
	}
}

// Load reads path over the defaults and then applies the environment.
// An empty path, or a path that does not exist, leaves the file out; such
// a config is never written back.
func Load(path string) (Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.path = path
	return cfg, nil
}

// Path returns the file the config was read from, or "".
func (c Config) Path() string {
	return c.path
}

func (c Config) IdentityPath() string {
	return filepath.Join(c.DataDir, "client_id")
}

func (c Config) StatePath() string {
	return filepath.Join(c.DataDir, "state.json")
}

func (c Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.ControlPlaneURL) == "" {
		errs = append(errs, "controlplane_url is required")
	} else if u, err := url.Parse(c.ControlPlaneURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "controlplane_url must be an absolute URL")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		errs = append(errs, "api_key is required")
	}
	if c.LocalPort <= 0 || c.LocalPort > maxPort {
		errs = append(errs, "local_port must be 1-65535")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, "data_dir is required")
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			errs = append(errs, "metrics_addr must be host:port")
		}
	}
	if _, err := shellquote.Split(c.Service.Command); err != nil {
		errs = append(errs, "service.command: "+err.Error())
	}
	if c.Service.PauseDuringLease && strings.TrimSpace(c.Service.Command) == "" {
		errs = append(errs, "service.pause_during_lease needs service.command")
	}
	if c.Timing.MaxAttempts < 1 {
		errs = append(errs, "timing.max_attempts must be >= 1")
	}
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"timing.retry_delay", c.Timing.RetryDelay},
		{"timing.heartbeat_interval", c.Timing.HeartbeatInterval},
		{"timing.command_interval", c.Timing.CommandInterval},
		{"timing.lease_timeout", c.Timing.LeaseTimeout},
		{"timing.registration_retry", c.Timing.RegistrationRetry},
	} {
		if d.val <= 0 {
			errs = append(errs, d.name+" must be positive")
		}
	}
	if c.Timing.ShutdownGrace < 0 {
		errs = append(errs, "timing.shutdown_grace must be >= 0")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// SaveClientID records id in the config file c was loaded from. Only the
// file's own values are written back; environment overrides stay out of
// it. A config without a file is left alone.
func (c *Config) SaveClientID(id string) error {
	c.ClientID = id
	if c.path == "" {
		return nil
	}
	onDisk, err := readFile(c.path)
	if err != nil {
		return err
	}
	if onDisk.ClientID == id {
		return nil
	}
	onDisk.ClientID = id
	return Save(c.path, onDisk)
}

func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "agent.config.*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace config: %w", err)
	}
	return os.Chmod(path, 0o600)
}
