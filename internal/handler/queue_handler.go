package handler

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/shopspring/decimal"

	"p2p-queue/internal/domain"
	"p2p-queue/internal/errors"
	"p2p-queue/internal/service"
)

type QueueHandler struct {
	queueService *service.QueueService
}

func NewQueueHandler(queueService *service.QueueService) *QueueHandler {
	return &QueueHandler{
		queueService: queueService,
	}
}

type EnqueueRequest struct {
	CustomerID     string          `json:"customer_id"`
	Amount         string          `json:"amount"`
	PaymentMethod  string          `json:"payment_method"`
	PaymentDetails json.RawMessage `json:"payment_details,omitempty"`
	Priority       int             `json:"priority"`
	Notes          string          `json:"notes,omitempty"`
}

type EnqueueResponse struct {
	Item  domain.QueueItem `json:"item"`
	Match *domain.Match    `json:"match,omitempty"`
}

type UpdateItemRequest struct {
	Notes    *string `json:"notes"`
	Priority *int    `json:"priority"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type RescanResponse struct {
	MatchesCreated int `json:"matches_created"`
}

func (h *QueueHandler) EnqueueWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, domain.SideWithdrawal)
}

func (h *QueueHandler) EnqueueDeposit(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, domain.SideDeposit)
}

func (h *QueueHandler) enqueue(w http.ResponseWriter, r *http.Request, side domain.Side) {
	var req EnqueueRequest
	if appErr := decodeBody(r, &req, false); appErr != nil {
		writeError(w, appErr)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, errors.Validation("invalid amount format").WithDetails(err.Error()))
		return
	}

	item, match, err := h.queueService.Enqueue(r.Context(), &service.EnqueueRequest{
		Side:           side,
		CustomerID:     req.CustomerID,
		Amount:         amount,
		PaymentMethod:  req.PaymentMethod,
		PaymentDetails: req.PaymentDetails,
		Priority:       req.Priority,
		Notes:          req.Notes,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, EnqueueResponse{Item: item, Match: match})
}

func (h *QueueHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	filter, appErr := parseItemFilter(r)
	if appErr != nil {
		writeError(w, appErr)
		return
	}

	items := slices.Collect(h.queueService.List(filter))
	if items == nil {
		items = []domain.QueueItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func parseItemFilter(r *http.Request) (domain.ItemFilter, *errors.AppError) {
	q := r.URL.Query()
	filter := domain.ItemFilter{
		PaymentMethod: q.Get("payment_method"),
		CustomerID:    q.Get("customer_id"),
	}

	if side := q.Get("side"); side != "" {
		filter.Side = domain.Side(side)
		if !filter.Side.Valid() {
			return filter, errors.Validation("invalid side %q", side)
		}
	}
	if status := q.Get("status"); status != "" {
		filter.Status = domain.ItemStatus(status)
		if !filter.Status.Valid() {
			return filter, errors.Validation("invalid status %q", status)
		}
	}
	for param, dst := range map[string]**decimal.Decimal{
		"min_amount": &filter.MinAmount,
		"max_amount": &filter.MaxAmount,
	} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return filter, errors.Validation("invalid %s %q", param, raw)
		}
		*dst = &d
	}
	return filter, nil
}

func (h *QueueHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		writeError(w, appErr)
		return
	}

	item, err := h.queueService.Get(id)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *QueueHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		writeError(w, appErr)
		return
	}

	var req UpdateItemRequest
	if appErr := decodeBody(r, &req, false); appErr != nil {
		writeError(w, appErr)
		return
	}

	item, err := h.queueService.UpdateMetadata(r.Context(), id, domain.ItemMetadata{
		Notes:    req.Notes,
		Priority: req.Priority,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *QueueHandler) CancelItem(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		writeError(w, appErr)
		return
	}

	item, err := h.queueService.Cancel(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// ListMatches defaults to pending matches; status=all lists every match.
func (h *QueueHandler) ListMatches(w http.ResponseWriter, r *http.Request) {
	filter := domain.MatchFilter{Status: domain.MatchPending}
	switch status := r.URL.Query().Get("status"); status {
	case "":
	case "all":
		filter.Status = ""
	default:
		filter.Status = domain.MatchStatus(status)
		if !filter.Status.Valid() {
			writeError(w, errors.Validation("invalid status %q", status))
			return
		}
	}

	matches := slices.Collect(h.queueService.ListMatches(filter))
	if matches == nil {
		matches = []domain.Match{}
	}
	writeJSON(w, http.StatusOK, matches)
}

func (h *QueueHandler) ApproveMatch(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		writeError(w, appErr)
		return
	}

	match, err := h.queueService.Approve(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, match)
}

func (h *QueueHandler) RejectMatch(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathID(r)
	if appErr != nil {
		writeError(w, appErr)
		return
	}

	var req RejectRequest
	if appErr := decodeBody(r, &req, true); appErr != nil {
		writeError(w, appErr)
		return
	}

	match, err := h.queueService.Reject(r.Context(), id, req.Reason)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, match)
}

func (h *QueueHandler) Rescan(w http.ResponseWriter, r *http.Request) {
	created, err := h.queueService.Rescan(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RescanResponse{MatchesCreated: created})
}

func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queueService.Stats())
}
