// Package handlers implements the HTTP handlers for the control plane API.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/botgrid/control-plane/internal/deploy"
	"github.com/botgrid/control-plane/internal/github"
	"github.com/botgrid/control-plane/internal/wallet"
)

// APIError represents a standard API error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Common error codes.
const (
	ErrCodeInvalidRequest    = "invalid_request"
	ErrCodeNotFound          = "not_found"
	ErrCodeConflict          = "conflict"
	ErrCodeUnauthorized      = "unauthorized"
	ErrCodeForbidden         = "forbidden"
	ErrCodeInsufficientFunds = "insufficient_funds"
	ErrCodeProviderError     = "provider_error"
	ErrCodeInternalError     = "internal_error"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, &APIError{
		Code:    code,
		Message: message,
	})
}

// WriteBadRequest writes a 400 Bad Request response.
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, message)
}

// WriteNotFound writes a 404 Not Found response.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// WriteConflict writes a 409 Conflict response.
func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, ErrCodeConflict, message)
}

// WriteForbidden writes a 403 Forbidden response.
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// WriteInternalError writes a 500 Internal Server Error response.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// WriteDomainError maps lifecycle and billing errors onto API responses.
// Unrecognized errors are logged and reported as internal errors without
// leaking detail.
func WriteDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var validation *deploy.ValidationError
	var provider *deploy.ProviderError

	switch {
	case errors.As(err, &validation):
		WriteBadRequest(w, validation.Reason)
	case errors.Is(err, wallet.ErrInsufficientFunds):
		WriteError(w, http.StatusPaymentRequired, ErrCodeInsufficientFunds, err.Error())
	case errors.Is(err, deploy.ErrBranchTaken):
		WriteConflict(w, err.Error())
	case errors.Is(err, deploy.ErrInvalidTransition):
		WriteConflict(w, err.Error())
	case errors.Is(err, deploy.ErrNotFound):
		WriteNotFound(w, "Deployment not found")
	case errors.As(err, &provider):
		logger.Error("provider operation failed", "op", provider.Op, "error", provider.Err)
		// Configuration problems are named so the caller can tell a bad
		// account binding from a transient provider outage.
		switch {
		case errors.Is(err, github.ErrRepoNotFound):
			WriteError(w, http.StatusBadGateway, ErrCodeProviderError,
				"Deployment repository not found")
		case errors.Is(err, github.ErrAccessDenied):
			WriteError(w, http.StatusBadGateway, ErrCodeProviderError,
				"Deployment provider denied access")
		default:
			WriteError(w, http.StatusBadGateway, ErrCodeProviderError,
				"Deployment provider failed during "+provider.Op)
		}
	default:
		logger.Error("request failed", "error", err)
		WriteInternalError(w, "An unexpected error occurred")
	}
}
