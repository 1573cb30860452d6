package cli

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tunnel-agent/agent/internal/config"
	"tunnel-agent/agent/internal/logging"
	"tunnel-agent/agent/internal/state"
)

func clearAgentEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvConfigFile, config.EnvControlPlaneURL, config.EnvAPIKey,
		config.EnvNgrokKey, config.EnvClientID, config.EnvLocalPort, config.EnvDataDir,
		config.EnvLogLevel, config.EnvLogFormat, config.EnvMetricsAddr,
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestConfigFlags_OverrideFile(t *testing.T) {
	clearAgentEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	data := "controlplane_url: http://file.example\napi_key: file-key\nlocal_port: 8080\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	flags := &configFlags{
		ConfigPath: path,
		APIKey:     " flag-key ",
		LocalPort:  9090,
		DataDir:    dir,
	}
	cfg, err := flags.load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ControlPlaneURL != "http://file.example" {
		t.Errorf("ControlPlaneURL = %q", cfg.ControlPlaneURL)
	}
	if cfg.APIKey != "flag-key" {
		t.Errorf("APIKey = %q, want flag-key", cfg.APIKey)
	}
	if cfg.LocalPort != 9090 {
		t.Errorf("LocalPort = %d, want 9090", cfg.LocalPort)
	}
	if cfg.DataDir != dir {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestConfigFlags_ArgsOmitSecrets(t *testing.T) {
	flags := &configFlags{
		ConfigPath: "/etc/tunnel-agent.yaml",
		APIKey:     "secret",
		NgrokKey:   "also-secret",
		LocalPort:  3000,
	}
	got := strings.Join(flags.args(), " ")
	want := "--config /etc/tunnel-agent.yaml --port 3000"
	if got != want {
		t.Errorf("args = %q, want %q", got, want)
	}
}

func TestPrintStatus(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	st := state.State{
		ControlPlaneURL: "http://cp.example",
		ClientID:        "client-1",
		AgentState:      "running",
		LeaseSource:     "server",
		Tunnels:         map[string]string{"primary": "tcp://0.tcp.ngrok.io:12345"},
		SessionActive:   true,
		LastHeartbeatOK: now.Add(-30 * time.Second),
		PID:             42,
		StartedAt:       now.Add(-2 * time.Hour),
		UpdatedAt:       now,
	}

	var buf bytes.Buffer
	printStatus(&buf, st, now)
	out := buf.String()

	for _, want := range []string{
		"running (pid 42)",
		"client-1",
		"2 hours ago",
		"primary",
		"tcp://0.tcp.ngrok.io:12345",
		"Session:        active",
		"Service:        stopped",
		"30 seconds ago",
		"Tunnel Key:     server",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintStatus_Unregistered(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, state.State{AgentState: "bootstrapping"}, time.Now())
	out := buf.String()
	for _, want := range []string{"(not registered)", "Tunnels:        none", "Last Heartbeat: never"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusCommand_NoStateFile(t *testing.T) {
	clearAgentEnv(t)
	cmd := NewStatusCommand()
	cmd.SetArgs([]string{"--data-dir", t.TempDir()})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "no agent state") {
		t.Fatalf("err = %v, want missing state error", err)
	}
}

func TestStatusCommand_PrintsState(t *testing.T) {
	clearAgentEnv(t)
	dir := t.TempDir()
	if err := state.Save(state.PathInDir(dir), state.State{AgentState: "running", ClientID: "abc"}); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	cmd := NewStatusCommand()
	cmd.SetArgs([]string{"--data-dir", dir})
	cmd.SetOut(&buf)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(buf.String(), "abc") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRuntime_Routes(t *testing.T) {
	cfg := config.Default()
	cfg.ControlPlaneURL = "http://127.0.0.1:1"
	cfg.APIKey = "k"
	cfg.LocalPort = 1
	cfg.DataDir = t.TempDir()
	rt := newRuntime(cfg, logging.NopLogger())
	defer rt.identity.Close()

	srv := httptest.NewServer(rt.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "idle" {
		t.Errorf("healthz = %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("metrics output missing go collector")
	}
}

func TestServiceConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = "/srv/tunnel"
	sc := serviceConfig(cfg, []string{"--config", "/etc/agent.yaml"})

	if sc.Name != serviceName || sc.WorkingDirectory != "/srv/tunnel" {
		t.Errorf("config = %+v", sc)
	}
	got := strings.Join(sc.Arguments, " ")
	if got != "service run --config /etc/agent.yaml" {
		t.Errorf("arguments = %q", got)
	}
}

func TestProgram_StopWithoutStart(t *testing.T) {
	p := &program{logger: logging.NopLogger()}
	if err := p.Stop(nil); err != nil {
		t.Errorf("Stop = %v", err)
	}
}
