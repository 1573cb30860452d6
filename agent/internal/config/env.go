package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// Environment variables read by ApplyEnv. Set values override the file.
const (
	EnvConfigFile       = "AGENT_CONFIG"
	EnvEnabled          = "AGENT_ENABLED"
	EnvControlPlaneURL  = "CONTROLPLANE_URL"
	EnvAPIKey           = "API_KEY"
	EnvNgrokKey         = "NGROK_KEY"
	EnvClientID         = "CLIENT_ID"
	EnvLocalPort        = "LOCAL_PORT"
	EnvDataDir          = "DATA_DIR"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogFormat        = "LOG_FORMAT"
	EnvMetricsAddr      = "METRICS_ADDR"
	EnvNgrokBin         = "NGROK_BIN"
	EnvNgrokRegion      = "NGROK_REGION"
	EnvServiceCmd       = "SERVICE_CMD"
	EnvPauseDuringLease = "PAUSE_SERVICE_DURING_LEASE"
)

func (c *Config) ApplyEnv() error {
	var errs []string

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, key+" must be a boolean")
			return
		}
		*dst = b
	}

	boolean(EnvEnabled, &c.Enabled)
	str(EnvControlPlaneURL, &c.ControlPlaneURL)
	str(EnvAPIKey, &c.APIKey)
	str(EnvNgrokKey, &c.NgrokKey)
	str(EnvClientID, &c.ClientID)
	str(EnvDataDir, &c.DataDir)
	str(EnvLogLevel, &c.Log.Level)
	str(EnvLogFormat, &c.Log.Format)
	str(EnvMetricsAddr, &c.MetricsAddr)
	str(EnvNgrokBin, &c.Ngrok.Bin)
	str(EnvNgrokRegion, &c.Ngrok.Region)
	str(EnvServiceCmd, &c.Service.Command)
	boolean(EnvPauseDuringLease, &c.Service.PauseDuringLease)

	if v := strings.TrimSpace(os.Getenv(EnvLocalPort)); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, EnvLocalPort+" must be a number")
		} else {
			c.LocalPort = p
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
