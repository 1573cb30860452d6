package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tunnel-agent/agent/internal/agent"
	"tunnel-agent/agent/internal/command"
	"tunnel-agent/agent/internal/config"
	"tunnel-agent/agent/internal/controlplane"
	"tunnel-agent/agent/internal/host"
	"tunnel-agent/agent/internal/identity"
	"tunnel-agent/agent/internal/lease"
	"tunnel-agent/agent/internal/logging"
	"tunnel-agent/agent/internal/metrics"
	"tunnel-agent/agent/internal/recovery"
	"tunnel-agent/agent/internal/tunnel"
)

const metricsShutdownTimeout = 5 * time.Second

// runtime is one fully wired agent process.
type runtime struct {
	cfg    config.Config
	logger *slog.Logger

	agent    *agent.Agent
	identity *identity.Store
	process  *host.Process
	probe    *host.Probe
	registry *prometheus.Registry
	server   *http.Server

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func newRuntime(cfg config.Config, logger *slog.Logger) *runtime {
	rt := &runtime{cfg: cfg, logger: logger}

	rt.registry = prometheus.NewRegistry()
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(rt.registry)

	cp := controlplane.NewClient(cfg.ControlPlaneURL, cfg.APIKey)

	var ag *agent.Agent
	rt.identity = identity.NewStore(cp, identity.Options{
		ConfiguredID: cfg.ClientID,
		Path:         cfg.IdentityPath(),
		SyncConfig: func(id string) {
			if err := cfg.SaveClientID(id); err != nil {
				logger.Warn("failed to write client id to config", logging.KeyError, err)
			}
		},
		OnRegistered: func(id string) {
			if ag != nil {
				ag.OnRegistered(id)
			}
		},
		RetryDelay: cfg.Timing.RegistrationRetry,
		Logger:     logger,
	})

	leases := lease.NewManager(cp, &lease.Holder{}, lease.Options{
		UserKey:        cfg.NgrokKey,
		RequestTimeout: cfg.Timing.LeaseTimeout,
		Logger:         logger,
	})

	ngrok := tunnel.NewNgrok(tunnel.NgrokOptions{
		Bin:     cfg.Ngrok.Bin,
		Proto:   cfg.Ngrok.Proto,
		Region:  cfg.Ngrok.Region,
		APIAddr: cfg.Ngrok.APIAddr,
		Logger:  logger,
	})

	rt.probe = host.NewProbe(net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.LocalPort)), logger)
	monitor := &host.Monitor{Probe: rt.probe, Sampler: host.NewSampler()}
	hooks := &host.FreezeHooks{Logger: logger}
	exec := command.NewExecutor(logger)

	if strings.TrimSpace(cfg.Service.Command) != "" {
		rt.process = host.NewProcess(host.ProcessOptions{
			Command: cfg.Service.Command,
			Dir:     cfg.Service.Dir,
			Logger:  logger,
		})
		monitor.Service = rt.process
		command.RegisterService(exec, rt.process)
		if cfg.Service.PauseDuringLease {
			hooks.Target = rt.process
		}
	}

	ag = agent.New(agent.Deps{
		ControlPlane: cp,
		Identity:     rt.identity,
		Leases:       leases,
		Tunnel:       ngrok,
		Hooks:        hooks,
		Commands:     exec,
		Monitor:      monitor,
	}, agent.Options{
		Disabled:          !cfg.Enabled,
		LocalPort:         cfg.LocalPort,
		MaxAttempts:       cfg.Timing.MaxAttempts,
		RetryDelay:        cfg.Timing.RetryDelay,
		HeartbeatInterval: cfg.Timing.HeartbeatInterval,
		CommandInterval:   cfg.Timing.CommandInterval,
		ShutdownGrace:     cfg.Timing.ShutdownGrace,
		StatePath:         cfg.StatePath(),
		ControlPlaneURL:   cfg.ControlPlaneURL,
		Logger:            logger,
		Metrics:           m,
	})
	rt.agent = ag

	if cfg.MetricsAddr != "" {
		rt.server = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           rt.routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return rt
}

func (rt *runtime) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, rt.agent.State().String())
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(rt.registry))
	return r
}

// start brings the agent up in the background. It returns once bootstrap
// has been kicked off.
func (rt *runtime) start(ctx context.Context) error {
	ctx, rt.cancel = context.WithCancel(ctx)

	if rt.server != nil {
		ln, err := net.Listen("tcp", rt.server.Addr)
		if err != nil {
			rt.cancel()
			return fmt.Errorf("listen on metrics address: %w", err)
		}
		rt.logger.Info("serving metrics", "addr", ln.Addr().String())
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			defer recovery.RecoverWithLog(rt.logger, "metrics-server")
			if err := rt.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.logger.Error("metrics server failed", logging.KeyError, err)
			}
		}()
	}

	rt.agent.Init(ctx)

	if rt.cfg.Enabled {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			rt.probe.Watch(ctx, host.DefaultProbeInterval, rt.agent)
		}()
	}
	return nil
}

// stop tears everything down in reverse order of start.
func (rt *runtime) stop(ctx context.Context) {
	rt.agent.Shutdown(ctx)
	rt.identity.Close()

	if rt.process != nil {
		if err := rt.process.Stop(ctx); err != nil {
			rt.logger.Warn("failed to stop service", logging.KeyError, err)
		}
	}
	if rt.cancel != nil {
		rt.cancel()
	}
	if rt.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := rt.server.Shutdown(shutdownCtx); err != nil {
			rt.logger.Warn("failed to stop metrics server", logging.KeyError, err)
		}
	}
	rt.wg.Wait()
}
