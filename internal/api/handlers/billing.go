package handlers

import (
	"log/slog"
	"net/http"

	"github.com/botgrid/control-plane/internal/billing"
)

// BillingHandler exposes the billing sweep for manual invocation. Admin only.
type BillingHandler struct {
	sweeper *billing.Sweeper
	logger  *slog.Logger
}

// NewBillingHandler creates a new billing handler.
func NewBillingHandler(sweeper *billing.Sweeper, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		sweeper: sweeper,
		logger:  logger,
	}
}

// Run handles POST /v1/admin/billing/run - triggers a billing sweep now.
// Running it again inside the same charge period is harmless: deployments
// whose next charge date has not arrived are skipped.
func (h *BillingHandler) Run(w http.ResponseWriter, r *http.Request) {
	if err := h.sweeper.Sweep(r.Context()); err != nil {
		h.logger.Error("manual billing sweep failed", "error", err)
		WriteInternalError(w, "Billing sweep failed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}
