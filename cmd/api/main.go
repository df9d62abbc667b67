// Package main provides the entry point for the control plane API server.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/botgrid/control-plane/internal/api"
	"github.com/botgrid/control-plane/internal/auth"
	"github.com/botgrid/control-plane/internal/billing"
	"github.com/botgrid/control-plane/internal/deploy"
	"github.com/botgrid/control-plane/internal/events"
	"github.com/botgrid/control-plane/internal/github"
	"github.com/botgrid/control-plane/internal/models"
	"github.com/botgrid/control-plane/internal/monitor"
	"github.com/botgrid/control-plane/internal/notify"
	"github.com/botgrid/control-plane/internal/pool"
	"github.com/botgrid/control-plane/internal/secrets"
	"github.com/botgrid/control-plane/internal/shutdown"
	pgstore "github.com/botgrid/control-plane/internal/store/postgres"
	"github.com/botgrid/control-plane/internal/wallet"
	"github.com/botgrid/control-plane/pkg/config"
	"github.com/botgrid/control-plane/pkg/logger"
)

// deployClients adapts the provider factory to the lifecycle manager's
// client interface.
type deployClients struct {
	factory *github.Factory
}

func (c deployClients) ForAccount(ctx context.Context, account *models.GitHubAccount) (deploy.Client, error) {
	return c.factory.ForAccount(ctx, account)
}

// monitorClients adapts the provider factory to the monitor's poller
// interface.
type monitorClients struct {
	factory *github.Factory
}

func (c monitorClients) ForAccount(ctx context.Context, account *models.GitHubAccount) (monitor.RunPoller, error) {
	return c.factory.ForAccount(ctx, account)
}

// logClients adapts the provider factory to the fallback sweep's log fetcher
// interface.
type logClients struct {
	factory *github.Factory
}

func (c logClients) ForAccount(ctx context.Context, account *models.GitHubAccount) (monitor.LogFetcher, error) {
	return c.factory.ForAccount(ctx, account)
}

// dbPinger adapts *sql.DB to the health checker.
type dbPinger struct {
	db *sql.DB
}

func (p dbPinger) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func main() {
	// Load .env if present; real deployments configure the environment
	// directly.
	godotenv.Load()

	log := logger.New(slog.LevelInfo, true)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	st, err := pgstore.NewPostgresStore(pgstore.DefaultConfig(cfg.DatabaseDSN), log.Logger)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := pgstore.Migrate(context.Background(), st.DB()); err != nil {
		log.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	cipher, err := secrets.NewTokenCipher(&secrets.Config{
		AgePublicKey:  cfg.Secrets.AgePublicKey,
		AgePrivateKey: cfg.Secrets.AgePrivateKey,
	}, log.Logger)
	if err != nil {
		log.Error("failed to initialize token cipher", "error", err)
		os.Exit(1)
	}
	if !cipher.CanEncrypt() || !cipher.CanDecrypt() {
		log.Warn("age keys not fully configured, account registration or deployment will fail",
			"can_encrypt", cipher.CanEncrypt(),
			"can_decrypt", cipher.CanDecrypt(),
		)
	}

	factory := github.NewFactory(cipher, log.Logger)
	hub := events.NewHub(log.Logger)
	notifier := notify.NewLogNotifier(log.Logger)
	walletSvc := wallet.NewService(st, log.Logger)

	selector := pool.NewSelector(st.Accounts(), func(ctx context.Context, account *models.GitHubAccount) (int, error) {
		client, err := factory.ForAccount(ctx, account)
		if err != nil {
			return 0, err
		}
		return client.CountActiveRuns(ctx)
	}, cfg.Deploy.AccountConcurrency, log.Logger)

	mon := monitor.New(st, monitorClients{factory}, hub, monitor.Config{
		PollInterval: cfg.Monitor.PollInterval,
		MaxAttempts:  cfg.Monitor.MaxAttempts,
		GraceDelay:   cfg.Deploy.MonitorGraceDelay,
	}, log.Logger)

	manager := deploy.NewManager(st, walletSvc, selector, deployClients{factory}, mon,
		hub, notifier, github.IsNotFound, deploy.Config{
			Fee:          cfg.Deploy.Fee,
			DailyCharge:  cfg.Deploy.DailyCharge,
			ChargePeriod: cfg.Billing.Interval,
		}, log.Logger)

	analyzer := monitor.NewKeywordAnalyzer(st.Accounts(), logClients{factory},
		cfg.Monitor.StaleAfter, log.Logger)
	fallback := monitor.NewFallback(st, analyzer, hub, cfg.Monitor.FallbackInterval, log.Logger)
	if err := fallback.Start(); err != nil {
		log.Error("failed to start fallback sweep", "error", err)
		os.Exit(1)
	}

	sweeper := billing.NewSweeper(st, walletSvc, manager, notifier, billing.Config{
		Interval:     cfg.Billing.Interval,
		StartupDelay: cfg.Billing.StartupDelay,
	}, log.Logger)
	if err := sweeper.Start(); err != nil {
		log.Error("failed to start billing sweeper", "error", err)
		os.Exit(1)
	}

	authService := auth.NewService(&auth.Config{
		JWTSecret:   []byte(cfg.JWTSecret),
		TokenExpiry: cfg.JWTExpiry,
	}, log.Logger)

	server := api.NewServer(cfg, api.Deps{
		Store:       st,
		Auth:        authService,
		Deployments: manager,
		Wallet:      walletSvc,
		Hub:         hub,
		Sweeper:     sweeper,
		Cipher:      cipher,
		Logs:        logClients{factory},
		DB:          dbPinger{db: st.DB()},
	}, log.Logger)

	// Components shut down in reverse order: the HTTP server stops taking
	// requests first, the database closes last.
	coordinator := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)
	coordinator.Register(shutdown.NewCloserComponent("database", st))
	coordinator.Register(shutdown.NewFuncComponent("event-hub", func(ctx context.Context) error {
		hub.Shutdown()
		return nil
	}))
	coordinator.Register(shutdown.NewFuncComponent("billing-sweeper", sweeper.Stop))
	coordinator.Register(shutdown.NewFuncComponent("fallback-sweep", fallback.Stop))
	coordinator.Register(shutdown.NewFuncComponent("run-monitor", mon.Shutdown))
	coordinator.Register(shutdown.NewFuncComponent("api-server", server.Shutdown))

	go func() {
		if err := server.Start(context.Background()); err != nil {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	coordinator.WaitForSignal()
	coordinator.Wait()
	os.Exit(coordinator.ExitCode())
}
