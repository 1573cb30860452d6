package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"tunnel-agent/agent/internal/config"
	"tunnel-agent/agent/internal/logging"
)

const (
	serviceName        = "tunnel-agent"
	serviceStopTimeout = 30 * time.Second
)

// program runs the agent under a service manager.
type program struct {
	cfg    config.Config
	logger *slog.Logger

	rt        *runtime
	svcLogger service.Logger
}

func (p *program) Start(s service.Service) error {
	p.svcLogger, _ = s.Logger(nil)
	p.info("tunnel agent service starting")

	p.rt = newRuntime(p.cfg, p.logger)
	// Start must not block; the runtime works in the background.
	return p.rt.start(context.Background())
}

func (p *program) Stop(s service.Service) error {
	p.info("tunnel agent service stop requested")
	if p.rt == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), serviceStopTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.rt.stop(ctx)
	}()
	select {
	case <-done:
		p.info("tunnel agent service stopped")
	case <-ctx.Done():
		if p.svcLogger != nil {
			p.svcLogger.Warning("tunnel agent service stopped with timeout")
		}
	}
	return nil
}

func (p *program) info(msg string) {
	if p.svcLogger != nil {
		p.svcLogger.Info(msg)
	}
}

func serviceConfig(cfg config.Config, args []string) *service.Config {
	return &service.Config{
		Name:             serviceName,
		DisplayName:      "Tunnel Agent",
		Description:      "Exposes a local service through an ngrok tunnel managed by the control plane.",
		WorkingDirectory: cfg.DataDir,
		Arguments:        append([]string{"service", "run"}, args...),
		Option: service.KeyValue{
			"StartType":              "automatic",
			"OnFailure":              "restart",
			"OnFailureDelayDuration": "5s",

			"Restart":           "on-failure",
			"RestartSec":        5,
			"SuccessExitStatus": "0 SIGTERM",
			"KillSignal":        "SIGTERM",

			"RunAtLoad": true,
			"KeepAlive": true,
		},
	}
}

func NewServiceCommand() *cobra.Command {
	flags := &configFlags{}

	cmd := &cobra.Command{
		Use:       "service <install|uninstall|start|stop|restart|status|run>",
		Short:     "Manage the agent as a system service",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"install", "uninstall", "start", "stop", "restart", "status", "run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidated(flags)
			if err != nil {
				return err
			}
			prg := &program{
				cfg:    cfg,
				logger: logging.NewLogger(cfg.Log.Level, cfg.Log.Format),
			}
			s, err := service.New(prg, serviceConfig(cfg, flags.args()))
			if err != nil {
				return fmt.Errorf("create service: %w", err)
			}

			out := cmd.OutOrStdout()
			switch action := args[0]; action {
			case "run":
				return s.Run()
			case "status":
				status, err := s.Status()
				if err != nil {
					return fmt.Errorf("service status: %w", err)
				}
				fmt.Fprintln(out, serviceStatusString(status))
				return nil
			default:
				if err := service.Control(s, action); err != nil {
					return fmt.Errorf("service %s: %w", action, err)
				}
				fmt.Fprintf(out, "service %s: ok\n", action)
				return nil
			}
		},
	}

	flags.bind(cmd)
	return cmd
}

func serviceStatusString(s service.Status) string {
	switch s {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
