package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tunnel-agent/agent/internal/config"
	"tunnel-agent/agent/internal/logging"
)

func NewRunCommand() *cobra.Command {
	flags := &configFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open the tunnel and report to the control plane until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidated(flags)
			if err != nil {
				return err
			}
			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt := newRuntime(cfg, logger)
			if err := rt.start(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "agent is running; press Ctrl+C to stop")

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
			defer cancel()
			rt.stop(shutdownCtx)
			fmt.Fprintln(cmd.OutOrStdout(), "agent stopped")
			return nil
		},
	}

	flags.bind(cmd)
	return cmd
}

func loadValidated(flags *configFlags) (config.Config, error) {
	cfg, err := flags.load()
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// shutdownTimeout leaves room for the grace period, closing the tunnel
// and releasing a lease.
func shutdownTimeout(cfg config.Config) time.Duration {
	return cfg.Timing.ShutdownGrace + 20*time.Second
}
