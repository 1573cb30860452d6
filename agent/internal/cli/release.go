package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tunnel-agent/agent/internal/controlplane"
	"tunnel-agent/agent/internal/identity"
)

const releaseTimeout = 15 * time.Second

// NewReleaseCommand hands a leased key back when the agent that held it
// died without releasing it.
func NewReleaseCommand() *cobra.Command {
	flags := &configFlags{}
	var key string

	cmd := &cobra.Command{
		Use:   "release",
		Short: "Return a leased tunnel key to the control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.ControlPlaneURL) == "" || strings.TrimSpace(cfg.APIKey) == "" {
				return errors.New("control plane URL and API key are required")
			}

			clientID := strings.TrimSpace(flags.ClientID)
			if clientID == "" {
				clientID = cfg.ClientID
			}
			if clientID == "" {
				clientID, err = identity.Load(cfg.IdentityPath())
				if errors.Is(err, os.ErrNotExist) {
					return errors.New("no client id known; pass --client-id")
				}
				if err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), releaseTimeout)
			defer cancel()
			cp := controlplane.NewClient(cfg.ControlPlaneURL, cfg.APIKey)
			if err := <-cp.ReleaseLease(ctx, clientID, strings.TrimSpace(key)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "tunnel key released")
			return nil
		},
	}

	flags.bindDataDir(cmd)
	cmd.Flags().StringVar(&flags.ControlPlaneURL, "cp-url", "", "control plane base URL")
	cmd.Flags().StringVar(&flags.APIKey, "api-key", "", "control plane API key")
	cmd.Flags().StringVar(&flags.ClientID, "client-id", "", "client id the key was leased to (default: the stored id)")
	cmd.Flags().StringVar(&key, "key", "", "tunnel key to release")
	cmd.MarkFlagRequired("key")
	return cmd
}
