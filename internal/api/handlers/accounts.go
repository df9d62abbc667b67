package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/botgrid/control-plane/internal/models"
	"github.com/botgrid/control-plane/internal/secrets"
	"github.com/botgrid/control-plane/internal/store"
	"github.com/botgrid/control-plane/internal/store/postgres"
)

// AccountHandler manages the pooled deployment accounts. Admin only.
// Tokens are encrypted before they touch the database and never appear in
// responses.
type AccountHandler struct {
	store  store.Store
	cipher *secrets.TokenCipher
	logger *slog.Logger
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(st store.Store, cipher *secrets.TokenCipher, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		store:  st,
		cipher: cipher,
		logger: logger,
	}
}

// CreateAccountRequest represents the request body for registering an account.
type CreateAccountRequest struct {
	Name         string `json:"name"`
	Token        string `json:"token"`
	RepoOwner    string `json:"repo_owner"`
	RepoName     string `json:"repo_name"`
	WorkflowFile string `json:"workflow_file"`
}

// Create handles POST /v1/admin/accounts.
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Name == "" || req.Token == "" || req.RepoOwner == "" || req.RepoName == "" {
		WriteBadRequest(w, "name, token, repo_owner and repo_name are required")
		return
	}
	if req.WorkflowFile == "" {
		req.WorkflowFile = "deploy.yml"
	}

	encrypted, err := h.cipher.EncryptString(r.Context(), req.Token)
	if err != nil {
		h.logger.Error("failed to encrypt account token", "error", err)
		WriteInternalError(w, "Failed to encrypt token")
		return
	}

	account := &models.GitHubAccount{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Token:        encrypted,
		RepoOwner:    req.RepoOwner,
		RepoName:     req.RepoName,
		WorkflowFile: req.WorkflowFile,
		Active:       true,
	}
	if err := h.store.Accounts().Create(r.Context(), account); err != nil {
		h.logger.Error("failed to create account", "error", err)
		WriteInternalError(w, "Failed to create account")
		return
	}

	h.logger.Info("pool account registered", "account_id", account.ID, "name", account.Name)
	WriteJSON(w, http.StatusCreated, account)
}

// List handles GET /v1/admin/accounts.
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.Accounts().List(r.Context())
	if err != nil {
		h.logger.Error("failed to list accounts", "error", err)
		WriteInternalError(w, "Failed to list accounts")
		return
	}
	if accounts == nil {
		accounts = []*models.GitHubAccount{}
	}
	WriteJSON(w, http.StatusOK, accounts)
}

// UpdateAccountRequest represents the request body for updating an account.
// Nil fields are left unchanged; a new token replaces the stored one.
type UpdateAccountRequest struct {
	Name         *string `json:"name,omitempty"`
	Token        *string `json:"token,omitempty"`
	RepoOwner    *string `json:"repo_owner,omitempty"`
	RepoName     *string `json:"repo_name,omitempty"`
	WorkflowFile *string `json:"workflow_file,omitempty"`
	Active       *bool   `json:"active,omitempty"`
}

// Update handles PATCH /v1/admin/accounts/{accountID}.
func (h *AccountHandler) Update(w http.ResponseWriter, r *http.Request) {
	account, err := h.store.Accounts().Get(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			WriteNotFound(w, "Account not found")
			return
		}
		h.logger.Error("failed to load account", "error", err)
		WriteInternalError(w, "Failed to load account")
		return
	}

	var req UpdateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	if req.Name != nil {
		account.Name = *req.Name
	}
	if req.Token != nil {
		encrypted, err := h.cipher.EncryptString(r.Context(), *req.Token)
		if err != nil {
			h.logger.Error("failed to encrypt account token", "error", err)
			WriteInternalError(w, "Failed to encrypt token")
			return
		}
		account.Token = encrypted
	}
	if req.RepoOwner != nil {
		account.RepoOwner = *req.RepoOwner
	}
	if req.RepoName != nil {
		account.RepoName = *req.RepoName
	}
	if req.WorkflowFile != nil {
		account.WorkflowFile = *req.WorkflowFile
	}
	if req.Active != nil {
		account.Active = *req.Active
	}
	account.UpdatedAt = time.Now().UTC()

	if err := h.store.Accounts().Update(r.Context(), account); err != nil {
		h.logger.Error("failed to update account", "account_id", account.ID, "error", err)
		WriteInternalError(w, "Failed to update account")
		return
	}
	WriteJSON(w, http.StatusOK, account)
}

// Delete handles DELETE /v1/admin/accounts/{accountID}. Deployments bound to
// the account keep running; they just can no longer be redeployed.
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "accountID")
	if err := h.store.Accounts().Delete(r.Context(), id); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			WriteNotFound(w, "Account not found")
			return
		}
		h.logger.Error("failed to delete account", "account_id", id, "error", err)
		WriteInternalError(w, "Failed to delete account")
		return
	}
	WriteJSON(w, http.StatusNoContent, nil)
}
