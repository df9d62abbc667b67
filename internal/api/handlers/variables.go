package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/botgrid/control-plane/internal/api/middleware"
	"github.com/botgrid/control-plane/internal/deploy"
	"github.com/botgrid/control-plane/internal/models"
	"github.com/botgrid/control-plane/internal/store"
)

// Variable keys are env-file identifiers; anything else would corrupt the
// rendered config.
var validVariableKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// VariableHandler handles per-deployment config override requests. Changes
// take effect on the next redeploy, when the config file is regenerated.
type VariableHandler struct {
	manager *deploy.Manager
	store   store.Store
	logger  *slog.Logger
}

// NewVariableHandler creates a new variable handler.
func NewVariableHandler(manager *deploy.Manager, st store.Store, logger *slog.Logger) *VariableHandler {
	return &VariableHandler{
		manager: manager,
		store:   st,
		logger:  logger,
	}
}

// List handles GET /v1/deployments/{deploymentID}/variables.
func (h *VariableHandler) List(w http.ResponseWriter, r *http.Request) {
	deployment, ok := h.owned(w, r)
	if !ok {
		return
	}

	vars, err := h.store.Variables().ListByDeployment(r.Context(), deployment.ID)
	if err != nil {
		h.logger.Error("failed to list variables", "deployment_id", deployment.ID, "error", err)
		WriteInternalError(w, "Failed to list variables")
		return
	}
	if vars == nil {
		vars = []*models.DeploymentVariable{}
	}
	WriteJSON(w, http.StatusOK, vars)
}

// UpsertVariableRequest represents the request body for setting a variable.
type UpsertVariableRequest struct {
	Value string `json:"value"`
}

// Upsert handles PUT /v1/deployments/{deploymentID}/variables/{key}.
func (h *VariableHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	deployment, ok := h.owned(w, r)
	if !ok {
		return
	}

	key := chi.URLParam(r, "key")
	if !validVariableKey.MatchString(key) {
		WriteBadRequest(w, "Variable key must be a valid identifier")
		return
	}

	var req UpsertVariableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	v := &models.DeploymentVariable{
		ID:           uuid.New().String(),
		DeploymentID: deployment.ID,
		Key:          key,
		Value:        req.Value,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := h.store.Variables().Upsert(r.Context(), v); err != nil {
		h.logger.Error("failed to upsert variable", "deployment_id", deployment.ID, "key", key, "error", err)
		WriteInternalError(w, "Failed to save variable")
		return
	}
	WriteJSON(w, http.StatusOK, v)
}

// Delete handles DELETE /v1/deployments/{deploymentID}/variables/{key}.
func (h *VariableHandler) Delete(w http.ResponseWriter, r *http.Request) {
	deployment, ok := h.owned(w, r)
	if !ok {
		return
	}

	key := chi.URLParam(r, "key")
	if err := h.store.Variables().Delete(r.Context(), deployment.ID, key); err != nil {
		h.logger.Error("failed to delete variable", "deployment_id", deployment.ID, "key", key, "error", err)
		WriteInternalError(w, "Failed to delete variable")
		return
	}
	WriteJSON(w, http.StatusNoContent, nil)
}

func (h *VariableHandler) owned(w http.ResponseWriter, r *http.Request) (*models.Deployment, bool) {
	deployment, err := h.manager.Get(r.Context(), chi.URLParam(r, "deploymentID"))
	if err != nil {
		WriteDomainError(w, h.logger, err)
		return nil, false
	}
	if !middleware.IsAdmin(r.Context()) && deployment.UserID != middleware.GetUserID(r.Context()) {
		WriteNotFound(w, "Deployment not found")
		return nil, false
	}
	return deployment, true
}
