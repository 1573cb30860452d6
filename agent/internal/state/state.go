// Package state is the snapshot the running agent leaves on disk for
// `agent status` to read.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const FileName = "state.json"

func PathInDir(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

type State struct {
	ControlPlaneURL string            `json:"controlplane_url"`
	ClientID        string            `json:"client_id,omitempty"`
	AgentState      string            `json:"agent_state"`
	LeaseSource     string            `json:"lease_source,omitempty"`
	Tunnels         map[string]string `json:"tunnels,omitempty"`
	SessionActive   bool              `json:"session_active"`
	ServiceRunning  bool              `json:"service_running"`
	LastHeartbeatOK time.Time         `json:"last_heartbeat_ok,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
	PID             int               `json:"pid"`
	StartedAt       time.Time         `json:"started_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func Load(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, fmt.Errorf("read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

// Save writes st atomically. An empty path disables persistence.
func Save(path string, st State) error {
	if path == "" {
		return nil
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("ensure state dir: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "agent.state.*.json")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("chmod state: %w", err)
	}
	return nil
}

// Remove deletes the snapshot; a missing file is not an error.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state: %w", err)
	}
	return nil
}
