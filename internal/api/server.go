// Package api provides the HTTP API server for the control plane.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/botgrid/control-plane/internal/api/handlers"
	"github.com/botgrid/control-plane/internal/api/health"
	"github.com/botgrid/control-plane/internal/api/middleware"
	"github.com/botgrid/control-plane/internal/auth"
	"github.com/botgrid/control-plane/internal/billing"
	"github.com/botgrid/control-plane/internal/deploy"
	"github.com/botgrid/control-plane/internal/events"
	"github.com/botgrid/control-plane/internal/monitor"
	"github.com/botgrid/control-plane/internal/secrets"
	"github.com/botgrid/control-plane/internal/store"
	"github.com/botgrid/control-plane/internal/wallet"
	"github.com/botgrid/control-plane/pkg/config"
)

// Version is the current version of the API server.
// This should be set at build time using ldflags.
var Version = "dev"

// Deps carries the services the server routes requests to.
type Deps struct {
	Store       store.Store
	Auth        *auth.Service
	Deployments *deploy.Manager
	Wallet      *wallet.Service
	Hub         *events.Hub
	Sweeper     *billing.Sweeper
	Cipher      *secrets.TokenCipher
	Logs        monitor.LogClientFactory
	DB          health.Pinger
}

// Server represents the HTTP API server.
type Server struct {
	router        chi.Router
	httpServer    *http.Server
	deps          Deps
	config        *config.Config
	logger        *slog.Logger
	healthChecker *health.Checker
}

// NewServer creates a new API server with the given dependencies.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		deps:   deps,
		config: cfg,
		logger: logger,
	}
	s.healthChecker = health.NewChecker(deps.DB, Version)
	s.setupRouter()
	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// Health check endpoint (no auth required)
	r.Get("/health", s.healthChecker.Handler())

	deploymentHandler := handlers.NewDeploymentHandler(s.deps.Deployments, s.logger)
	variableHandler := handlers.NewVariableHandler(s.deps.Deployments, s.deps.Store, s.logger)
	statusHandler := handlers.NewStatusHandler(s.deps.Deployments, s.deps.Hub, s.logger)
	walletHandler := handlers.NewWalletHandler(s.deps.Wallet, s.logger)
	accountHandler := handlers.NewAccountHandler(s.deps.Store, s.deps.Cipher, s.logger)
	billingHandler := handlers.NewBillingHandler(s.deps.Sweeper, s.logger)
	logHandler := handlers.NewLogHandler(s.deps.Deployments, s.deps.Store, s.deps.Logs, s.logger)

	r.Route("/v1", func(r chi.Router) {
		authMiddleware := middleware.NewAuthMiddleware(s.deps.Auth, s.logger)
		r.Use(authMiddleware.Authenticate)

		// Token validation endpoint; the middleware already did the work.
		r.Get("/auth/validate", func(w http.ResponseWriter, r *http.Request) {
			handlers.WriteJSON(w, http.StatusOK, map[string]string{
				"status":  "ok",
				"user_id": middleware.GetUserID(r.Context()),
			})
		})

		r.Route("/deployments", func(r chi.Router) {
			r.Post("/", deploymentHandler.Create)
			r.Get("/", deploymentHandler.List)
			r.Route("/{deploymentID}", func(r chi.Router) {
				r.Get("/", deploymentHandler.Get)
				r.Delete("/", deploymentHandler.Delete)
				r.Post("/redeploy", deploymentHandler.Redeploy)
				r.Post("/stop", deploymentHandler.Stop)
				r.Get("/status/ws", statusHandler.Stream)
				r.Get("/logs", logHandler.Get)

				r.Route("/variables", func(r chi.Router) {
					r.Get("/", variableHandler.List)
					r.Put("/{key}", variableHandler.Upsert)
					r.Delete("/{key}", variableHandler.Delete)
				})
			})
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", walletHandler.Get)
			r.Get("/transactions", walletHandler.Transactions)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin(s.logger))

			r.Route("/accounts", func(r chi.Router) {
				r.Post("/", accountHandler.Create)
				r.Get("/", accountHandler.List)
				r.Patch("/{accountID}", accountHandler.Update)
				r.Delete("/{accountID}", accountHandler.Delete)
			})

			r.Post("/billing/run", billingHandler.Run)
		})
	})

	s.router = r
}

// Start starts the HTTP server.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.APIHost, s.config.APIPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}
