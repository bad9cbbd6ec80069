package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"hailing/internal/domain"
	"hailing/internal/service"
)

// AdminHandler handles administrator-only HTTP requests.
type AdminHandler struct {
	ledger      *service.Ledger
	tripService *service.TripService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(ledger *service.Ledger, tripService *service.TripService) *AdminHandler {
	return &AdminHandler{ledger: ledger, tripService: tripService}
}

// RefundRequest is the HTTP request body for a trip refund.
type RefundRequest struct {
	Amount int64 `json:"amount"`
}

// Reconcile handles POST /v1/admin/wallets/:owner/reconcile
func (h *AdminHandler) Reconcile(c *gin.Context) {
	if _, ok := adminActor(c); !ok {
		return
	}
	report, err := h.ledger.Reconcile(c.Request.Context(), c.Param("owner"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, report)
}

// Refund handles POST /v1/admin/trips/:id/refund
func (h *AdminHandler) Refund(c *gin.Context) {
	a, ok := adminActor(c)
	if !ok {
		return
	}
	var req RefundRequest
	if !bindJSON(c, &req) {
		return
	}
	entry, err := h.tripService.Refund(c.Request.Context(), a, c.Param("id"), req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, toTransactionResponse(entry))
}

// Statistics handles GET /v1/admin/statistics
func (h *AdminHandler) Statistics(c *gin.Context) {
	a, ok := adminActor(c)
	if !ok {
		return
	}
	stats, err := h.tripService.Statistics(c.Request.Context(), a)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, stats)
}

func adminActor(c *gin.Context) (domain.Actor, bool) {
	a, ok := actor(c)
	if !ok {
		return a, false
	}
	if a.Role != domain.RoleAdmin {
		respondError(c, fmt.Errorf("%w: admin role required", domain.ErrUnauthorized))
		return a, false
	}
	return a, true
}
