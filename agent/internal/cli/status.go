package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tunnel-agent/agent/internal/state"
)

func NewStatusCommand() *cobra.Command {
	flags := &configFlags{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what the running agent last reported",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			st, err := state.Load(cfg.StatePath())
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("no agent state in %s; is `agent run` running?", cfg.DataDir)
			}
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st, time.Now())
			return nil
		},
	}

	flags.bindDataDir(cmd)
	return cmd
}

func printStatus(out io.Writer, st state.State, now time.Time) {
	fmt.Fprintf(out, "Agent:          %s (pid %d)\n", st.AgentState, st.PID)
	if !st.StartedAt.IsZero() {
		fmt.Fprintf(out, "Started:        %s\n", humanize.RelTime(st.StartedAt, now, "ago", "from now"))
	}
	clientID := st.ClientID
	if clientID == "" {
		clientID = "(not registered)"
	}
	fmt.Fprintf(out, "Client ID:      %s\n", clientID)
	fmt.Fprintf(out, "Control Plane:  %s\n", st.ControlPlaneURL)

	if st.LeaseSource != "" {
		fmt.Fprintf(out, "Tunnel Key:     %s\n", st.LeaseSource)
	}
	if len(st.Tunnels) == 0 {
		fmt.Fprintf(out, "Tunnels:        none\n")
	} else {
		fmt.Fprintf(out, "Tunnels:\n")
		names := make([]string, 0, len(st.Tunnels))
		for name := range st.Tunnels {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "  %-12s  %s\n", name, st.Tunnels[name])
		}
	}

	fmt.Fprintf(out, "Session:        %s\n", onOff(st.SessionActive, "active", "inactive"))
	fmt.Fprintf(out, "Service:        %s\n", onOff(st.ServiceRunning, "running", "stopped"))

	if st.LastHeartbeatOK.IsZero() {
		fmt.Fprintf(out, "Last Heartbeat: never\n")
	} else {
		fmt.Fprintf(out, "Last Heartbeat: %s\n", humanize.RelTime(st.LastHeartbeatOK, now, "ago", "from now"))
	}
	if st.LastError != "" {
		fmt.Fprintf(out, "Last Error:     %s\n", st.LastError)
	}
	if !st.UpdatedAt.IsZero() {
		fmt.Fprintf(out, "Last Updated:   %s\n", st.UpdatedAt.Format("2006-01-02 15:04:05 UTC"))
	}
}

func onOff(v bool, on, off string) string {
	if v {
		return on
	}
	return off
}
