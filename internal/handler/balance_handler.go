package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"p2p-queue/internal/errors"
	"p2p-queue/internal/service"
)

type BalanceHandler struct {
	balanceService *service.BalanceService
}

func NewBalanceHandler(balanceService *service.BalanceService) *BalanceHandler {
	return &BalanceHandler{
		balanceService: balanceService,
	}
}

type TopUpRequest struct {
	Amount string `json:"amount"`
}

type BalanceResponse struct {
	CustomerID string          `json:"customer_id"`
	Balance    decimal.Decimal `json:"balance"`
}

func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	customerID := mux.Vars(r)["id"]

	balance, err := h.balanceService.GetBalance(r.Context(), customerID)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{
		CustomerID: customerID,
		Balance:    balance,
	})
}

func (h *BalanceHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	customerID := mux.Vars(r)["id"]

	var req TopUpRequest
	if appErr := decodeBody(r, &req, false); appErr != nil {
		writeError(w, appErr)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, errors.Validation("invalid amount format").WithDetails(err.Error()))
		return
	}

	balance, err := h.balanceService.TopUp(r.Context(), customerID, amount)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{
		CustomerID: customerID,
		Balance:    balance,
	})
}
