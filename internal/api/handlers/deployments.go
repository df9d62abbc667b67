package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/botgrid/control-plane/internal/api/middleware"
	"github.com/botgrid/control-plane/internal/deploy"
	"github.com/botgrid/control-plane/internal/models"
)

// DeploymentHandler handles deployment lifecycle HTTP requests.
type DeploymentHandler struct {
	manager *deploy.Manager
	logger  *slog.Logger
}

// NewDeploymentHandler creates a new deployment handler.
func NewDeploymentHandler(manager *deploy.Manager, logger *slog.Logger) *DeploymentHandler {
	return &DeploymentHandler{
		manager: manager,
		logger:  logger,
	}
}

// CreateDeploymentRequest represents the request body for creating a deployment.
type CreateDeploymentRequest struct {
	Name        string `json:"name"`
	SessionID   string `json:"session_id"`
	OwnerNumber string `json:"owner_number"`
	Prefix      string `json:"prefix"`
}

// Create handles POST /v1/deployments - provisions a new bot deployment.
func (h *DeploymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	deployment, err := h.manager.Create(r.Context(), deploy.CreateInput{
		UserID:      middleware.GetUserID(r.Context()),
		Name:        req.Name,
		SessionID:   req.SessionID,
		OwnerNumber: req.OwnerNumber,
		Prefix:      req.Prefix,
	})
	if err != nil {
		WriteDomainError(w, h.logger, err)
		return
	}

	WriteJSON(w, http.StatusCreated, deployment)
}

// List handles GET /v1/deployments - lists the caller's deployments.
func (h *DeploymentHandler) List(w http.ResponseWriter, r *http.Request) {
	deployments, err := h.manager.ListByUser(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		WriteDomainError(w, h.logger, err)
		return
	}
	if deployments == nil {
		deployments = []*models.Deployment{}
	}
	WriteJSON(w, http.StatusOK, deployments)
}

// Get handles GET /v1/deployments/{deploymentID}.
func (h *DeploymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	deployment, ok := h.owned(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, deployment)
}

// Delete handles DELETE /v1/deployments/{deploymentID}. Deleting a deployment
// that is already gone returns 204.
func (h *DeploymentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	deployment, err := h.manager.Get(r.Context(), chi.URLParam(r, "deploymentID"))
	if err == nil && !h.callerOwns(r.Context(), deployment) {
		WriteNotFound(w, "Deployment not found")
		return
	}

	if err := h.manager.Delete(r.Context(), chi.URLParam(r, "deploymentID")); err != nil {
		WriteDomainError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusNoContent, nil)
}

// Redeploy handles POST /v1/deployments/{deploymentID}/redeploy.
func (h *DeploymentHandler) Redeploy(w http.ResponseWriter, r *http.Request) {
	deployment, ok := h.owned(w, r)
	if !ok {
		return
	}

	if err := h.manager.Redeploy(r.Context(), deployment.ID); err != nil {
		WriteDomainError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": string(models.DeploymentStatusDeploying),
		"branch": deployment.Branch,
	})
}

// Stop handles POST /v1/deployments/{deploymentID}/stop.
func (h *DeploymentHandler) Stop(w http.ResponseWriter, r *http.Request) {
	deployment, ok := h.owned(w, r)
	if !ok {
		return
	}

	if err := h.manager.Stop(r.Context(), deployment.ID); err != nil {
		WriteDomainError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"status": string(models.DeploymentStatusStopped),
	})
}

// owned loads the deployment from the URL and verifies the caller may act on
// it. Foreign deployments are reported as not found rather than forbidden so
// IDs cannot be probed.
func (h *DeploymentHandler) owned(w http.ResponseWriter, r *http.Request) (*models.Deployment, bool) {
	deployment, err := h.manager.Get(r.Context(), chi.URLParam(r, "deploymentID"))
	if err != nil {
		WriteDomainError(w, h.logger, err)
		return nil, false
	}
	if !h.callerOwns(r.Context(), deployment) {
		WriteNotFound(w, "Deployment not found")
		return nil, false
	}
	return deployment, true
}

func (h *DeploymentHandler) callerOwns(ctx context.Context, deployment *models.Deployment) bool {
	return middleware.IsAdmin(ctx) || deployment.UserID == middleware.GetUserID(ctx)
}
