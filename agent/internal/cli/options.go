package cli

import (
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tunnel-agent/agent/internal/config"
)

// configFlags are flags that override the config file and environment.
type configFlags struct {
	ConfigPath      string
	ControlPlaneURL string
	APIKey          string
	NgrokKey        string
	ClientID        string
	LocalPort       int
	DataDir         string
	LogLevel        string
	LogFormat       string
	MetricsAddr     string
}

func (f *configFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.ConfigPath, "config", "", "path to agent YAML config (default $"+config.EnvConfigFile+")")
	cmd.Flags().StringVar(&f.ControlPlaneURL, "cp-url", "", "control plane base URL")
	cmd.Flags().StringVar(&f.APIKey, "api-key", "", "control plane API key")
	cmd.Flags().StringVar(&f.NgrokKey, "ngrok-key", "", "use this ngrok authtoken instead of leasing one")
	cmd.Flags().StringVar(&f.ClientID, "client-id", "", "explicit client id")
	cmd.Flags().IntVar(&f.LocalPort, "port", 0, "local port to expose")
	cmd.Flags().StringVar(&f.DataDir, "data-dir", "", "directory for the client id and state files")
	cmd.Flags().StringVar(&f.LogLevel, "log-level", "", "debug, info, warn or error")
	cmd.Flags().StringVar(&f.LogFormat, "log-format", "", "text or json")
	cmd.Flags().StringVar(&f.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on host:port")
}

// bindDataDir registers only the flags status and release need.
func (f *configFlags) bindDataDir(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.ConfigPath, "config", "", "path to agent YAML config (default $"+config.EnvConfigFile+")")
	cmd.Flags().StringVar(&f.DataDir, "data-dir", "", "directory for the client id and state files")
}

func (f *configFlags) load() (config.Config, error) {
	path := strings.TrimSpace(f.ConfigPath)
	if path == "" {
		path = os.Getenv(config.EnvConfigFile)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.ControlPlaneURL, f.ControlPlaneURL)
	set(&cfg.APIKey, f.APIKey)
	set(&cfg.NgrokKey, f.NgrokKey)
	set(&cfg.ClientID, f.ClientID)
	set(&cfg.DataDir, f.DataDir)
	set(&cfg.Log.Level, f.LogLevel)
	set(&cfg.Log.Format, f.LogFormat)
	set(&cfg.MetricsAddr, f.MetricsAddr)
	if f.LocalPort != 0 {
		cfg.LocalPort = f.LocalPort
	}
	return cfg, nil
}

// args renders the flags that were set, for re-running under a service
// manager.
func (f *configFlags) args() []string {
	var out []string
	add := func(name, v string) {
		if v != "" {
			out = append(out, "--"+name, v)
		}
	}
	add("config", f.ConfigPath)
	add("cp-url", f.ControlPlaneURL)
	add("client-id", f.ClientID)
	add("data-dir", f.DataDir)
	add("log-level", f.LogLevel)
	add("log-format", f.LogFormat)
	add("metrics-addr", f.MetricsAddr)
	if f.LocalPort != 0 {
		out = append(out, "--port", strconv.Itoa(f.LocalPort))
	}
	return out
}
