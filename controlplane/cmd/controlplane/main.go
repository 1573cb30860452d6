package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	apiHandler "tunnel-agent/controlplane/internal/handler/api"
	uiHandler "tunnel-agent/controlplane/internal/handler/ui"
	"tunnel-agent/controlplane/internal/infra"
	appmw "tunnel-agent/controlplane/internal/middleware"
	"tunnel-agent/controlplane/internal/model"
	"tunnel-agent/controlplane/internal/repository"
	"tunnel-agent/controlplane/internal/service"
)

type config struct {
	addr      string
	dbPath    string
	apiKey    string
	basicUser string
	basicPass string
	leaseKeys []string
}

const (
	defaultAddr   = ":8080"
	defaultDBPath = "controlplane.db"
)

func main() {
	_ = godotenv.Load("controlplane/.env")
	_ = godotenv.Load(".env")

	var addr, dbPath string
	root := &cobra.Command{
		Use:          "controlplane",
		Short:        "Reference control plane for tunnel agents",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.addr = addr
			}
			if dbPath != "" {
				cfg.dbPath = dbPath
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.Flags().StringVar(&addr, "addr", "", "listen address (default $CONTROLPLANE_ADDR or "+defaultAddr+")")
	root.Flags().StringVar(&dbPath, "db", "", "SQLite database path (default $CONTROLPLANE_DB or "+defaultDBPath+")")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config) error {
	db, err := infra.OpenDB(cfg.dbPath)
	if err != nil {
		return err
	}
	repo := repository.NewGormRepository(db)
	if err := repo.SeedLeases(ctx, cfg.leaseKeys); err != nil {
		return err
	}
	log.Printf("lease pool has %d configured keys", len(cfg.leaseKeys))

	keyHash, err := model.HashAPIKey(cfg.apiKey)
	if err != nil {
		return err
	}

	ui, err := uiHandler.NewHandler(repo)
	if err != nil {
		return err
	}
	api := apiHandler.NewHandler(repo, keyHash)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	api.RegisterRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(appmw.BasicAuth(cfg.basicUser, cfg.basicPass))
		r.Mount("/", ui.Routes())
	})

	srv := &http.Server{
		Addr:              cfg.addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("controlplane listening on %s", cfg.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func loadConfig() (config, error) {
	cfg := config{
		addr:      os.Getenv("CONTROLPLANE_ADDR"),
		dbPath:    os.Getenv("CONTROLPLANE_DB"),
		apiKey:    os.Getenv("API_KEY"),
		basicUser: os.Getenv("CONTROLPLANE_BASIC_USER"),
		basicPass: os.Getenv("CONTROLPLANE_BASIC_PASS"),
		leaseKeys: service.ParseLeaseKeys(os.Getenv("NGROK_KEYS")),
	}
	if cfg.addr == "" {
		cfg.addr = defaultAddr
	}
	if cfg.dbPath == "" {
		cfg.dbPath = defaultDBPath
	}

	var errs []error
	if cfg.basicUser == "" || cfg.basicPass == "" {
		errs = append(errs, errors.New("CONTROLPLANE_BASIC_USER and CONTROLPLANE_BASIC_PASS are required"))
	}
	if cfg.apiKey == "" {
		errs = append(errs, errors.New("API_KEY is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return config{}, err
	}
	return cfg, nil
}
