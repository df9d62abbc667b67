package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/botgrid/control-plane/internal/api/middleware"
	"github.com/botgrid/control-plane/internal/models"
	"github.com/botgrid/control-plane/internal/wallet"
)

const defaultTransactionLimit = 50

// WalletHandler handles coin balance and ledger requests.
type WalletHandler struct {
	wallet *wallet.Service
	logger *slog.Logger
}

// NewWalletHandler creates a new wallet handler.
func NewWalletHandler(w *wallet.Service, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{
		wallet: w,
		logger: logger,
	}
}

// Get handles GET /v1/wallet - returns the caller's balance.
func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	balance, err := h.wallet.Balance(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load balance", "user_id", userID, "error", err)
		WriteInternalError(w, "Failed to load balance")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"balance": balance,
	})
}

// Transactions handles GET /v1/wallet/transactions - returns the caller's
// ledger entries, newest first.
func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	limit := defaultTransactionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			WriteBadRequest(w, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	txs, err := h.wallet.Transactions(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("failed to list transactions", "user_id", userID, "error", err)
		WriteInternalError(w, "Failed to list transactions")
		return
	}
	if txs == nil {
		txs = []*models.Transaction{}
	}
	WriteJSON(w, http.StatusOK, txs)
}
