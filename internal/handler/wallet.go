package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"hailing/internal/service"
)

// WalletHandler handles HTTP requests for the caller's wallet.
type WalletHandler struct {
	ledger   *service.Ledger
	currency string
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(ledger *service.Ledger, currency string) *WalletHandler {
	return &WalletHandler{ledger: ledger, currency: currency}
}

// MoneyRequest is the HTTP request body for top-ups and payouts. Reference
// identifies the external transfer and makes retries safe.
type MoneyRequest struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// Get handles GET /v1/wallet
func (h *WalletHandler) Get(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	w, err := h.ledger.GetBalance(c.Request.Context(), a.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, WalletResponse{OwnerID: w.OwnerID, Balance: w.Balance, Currency: h.currency})
}

// Transactions handles GET /v1/wallet/transactions
func (h *WalletHandler) Transactions(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	txns, err := h.ledger.History(c.Request.Context(), a.UserID, limitParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]TransactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, toTransactionResponse(t))
	}
	respondJSON(c, http.StatusOK, gin.H{"transactions": out})
}

// TopUp handles POST /v1/wallet/topup
func (h *WalletHandler) TopUp(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req MoneyRequest
	if !bindJSON(c, &req) {
		return
	}
	entry, err := h.ledger.TopUp(c.Request.Context(), a.UserID, req.Amount, strings.TrimSpace(req.Reference))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, toTransactionResponse(entry))
}

// Payout handles POST /v1/wallet/payout
func (h *WalletHandler) Payout(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req MoneyRequest
	if !bindJSON(c, &req) {
		return
	}
	entry, err := h.ledger.Payout(c.Request.Context(), a.UserID, req.Amount, strings.TrimSpace(req.Reference))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, toTransactionResponse(entry))
}
