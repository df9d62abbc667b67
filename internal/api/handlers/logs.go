package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/botgrid/control-plane/internal/api/middleware"
	"github.com/botgrid/control-plane/internal/deploy"
	"github.com/botgrid/control-plane/internal/monitor"
	"github.com/botgrid/control-plane/internal/store"
	"github.com/botgrid/control-plane/internal/store/postgres"
)

// LogHandler serves the latest workflow run's logs for a deployment,
// read-only.
type LogHandler struct {
	manager *deploy.Manager
	store   store.Store
	clients monitor.LogClientFactory
	logger  *slog.Logger
}

// NewLogHandler creates a new log handler.
func NewLogHandler(manager *deploy.Manager, st store.Store, clients monitor.LogClientFactory, logger *slog.Logger) *LogHandler {
	return &LogHandler{
		manager: manager,
		store:   st,
		clients: clients,
		logger:  logger,
	}
}

// Get handles GET /v1/deployments/{deploymentID}/logs.
func (h *LogHandler) Get(w http.ResponseWriter, r *http.Request) {
	deployment, err := h.manager.Get(r.Context(), chi.URLParam(r, "deploymentID"))
	if err != nil {
		WriteDomainError(w, h.logger, err)
		return
	}
	if !middleware.IsAdmin(r.Context()) && deployment.UserID != middleware.GetUserID(r.Context()) {
		WriteNotFound(w, "Deployment not found")
		return
	}

	account, err := h.store.Accounts().Get(r.Context(), deployment.AccountID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			WriteNotFound(w, "Deployment account no longer exists")
			return
		}
		h.logger.Error("failed to load account", "deployment_id", deployment.ID, "error", err)
		WriteInternalError(w, "Failed to load account")
		return
	}

	fetcher, err := h.clients.ForAccount(r.Context(), account)
	if err != nil {
		h.logger.Error("failed to build log client", "deployment_id", deployment.ID, "error", err)
		WriteError(w, http.StatusBadGateway, ErrCodeProviderError, "Deployment provider unavailable")
		return
	}

	run, err := fetcher.LatestRun(r.Context(), deployment.Branch)
	if err != nil {
		h.logger.Error("failed to fetch latest run", "deployment_id", deployment.ID, "error", err)
		WriteError(w, http.StatusBadGateway, ErrCodeProviderError, "Failed to query workflow runs")
		return
	}
	if run == nil {
		WriteNotFound(w, "No workflow run for this deployment yet")
		return
	}

	logs, err := fetcher.RunLogs(r.Context(), run.ID)
	if err != nil {
		h.logger.Error("failed to fetch run logs", "deployment_id", deployment.ID, "run_id", run.ID, "error", err)
		WriteError(w, http.StatusBadGateway, ErrCodeProviderError, "Failed to fetch run logs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"run_id":     run.ID,
		"status":     run.Status,
		"conclusion": run.Conclusion,
		"logs":       logs,
	})
}
