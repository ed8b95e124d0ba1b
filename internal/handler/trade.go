package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/miniswap/internal/domain"
	"github.com/efreitasn/miniswap/internal/service"
)

// TradeHandler handles HTTP requests for trade endpoints.
type TradeHandler struct {
	tradeSvc *service.TradeService
	timeout  time.Duration
}

// NewTradeHandler creates a new TradeHandler. timeout is the trade
// timeout, used to report each trade's expiration deadline.
func NewTradeHandler(tradeSvc *service.TradeService, timeout time.Duration) *TradeHandler {
	return &TradeHandler{tradeSvc: tradeSvc, timeout: timeout}
}

// proposeTradeRequest is the JSON request body for POST /trades.
type proposeTradeRequest struct {
	Party   string `json:"party"`
	ToParty string `json:"to_party"`
}

// agreeTradeRequest is the JSON request body for POST /trades/{id}/agree.
type agreeTradeRequest struct {
	Party     string        `json:"party"`
	FromAsset assetRefInput `json:"from_asset"`
	ToAsset   assetRefInput `json:"to_asset"`
}

type assetRefInput struct {
	Registry string `json:"registry"`
	AssetID  string `json:"asset_id"`
}

// partyRequest is the JSON request body for confirm and cancel.
type partyRequest struct {
	Party string `json:"party"`
}

// assetRefResponse is a bound or pending asset reference; nil when unbound.
type assetRefResponse struct {
	Registry string `json:"registry"`
	AssetID  string `json:"asset_id"`
}

// tradeResponse is the JSON representation of a trade.
type tradeResponse struct {
	TradeID       uint64            `json:"trade_id"`
	FromParty     string            `json:"from_party"`
	ToParty       string            `json:"to_party"`
	FromAsset     *assetRefResponse `json:"from_asset"`
	ToAsset       *assetRefResponse `json:"to_asset"`
	FromAgreed    bool              `json:"from_agreed"`
	ToAgreed      bool              `json:"to_agreed"`
	FromConfirmed bool              `json:"from_confirmed"`
	ToConfirmed   bool              `json:"to_confirmed"`
	Status        string            `json:"status"`
	CreatedAt     string            `json:"created_at"`
	ExpiresAt     string            `json:"expires_at"`
}

// Propose handles POST /trades.
func (h *TradeHandler) Propose(w http.ResponseWriter, r *http.Request) {
	var req proposeTradeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	trade, err := h.tradeSvc.Propose(service.ProposeTradeRequest{
		Party:   req.Party,
		ToParty: req.ToParty,
	})
	if err != nil {
		mapTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toResponse(trade))
}

// Agree handles POST /trades/{trade_id}/agree.
func (h *TradeHandler) Agree(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTradeID(w, r)
	if !ok {
		return
	}
	var req agreeTradeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	trade, err := h.tradeSvc.Agree(r.Context(), id, service.AgreeTradeRequest{
		Party:     req.Party,
		FromAsset: service.AssetRefInput(req.FromAsset),
		ToAsset:   service.AssetRefInput(req.ToAsset),
	})
	if err != nil {
		mapTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(trade))
}

// Confirm handles POST /trades/{trade_id}/confirm.
func (h *TradeHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTradeID(w, r)
	if !ok {
		return
	}
	var req partyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	trade, err := h.tradeSvc.Confirm(r.Context(), id, req.Party)
	if err != nil {
		mapTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(trade))
}

// Cancel handles DELETE /trades/{trade_id}.
func (h *TradeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTradeID(w, r)
	if !ok {
		return
	}
	var req partyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	trade, err := h.tradeSvc.Cancel(id, req.Party)
	if err != nil {
		mapTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(trade))
}

// Get handles GET /trades/{trade_id}.
func (h *TradeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTradeID(w, r)
	if !ok {
		return
	}
	trade, err := h.tradeSvc.Get(id)
	if err != nil {
		mapTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(trade))
}

// List handles GET /trades: open trades ordered by expiration deadline.
func (h *TradeHandler) List(w http.ResponseWriter, r *http.Request) {
	open := h.tradeSvc.ListOpen()
	resp := make([]tradeResponse, 0, len(open))
	for _, t := range open {
		resp = append(resp, h.toResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": resp})
}

func (h *TradeHandler) toResponse(t domain.Trade) tradeResponse {
	return tradeResponse{
		TradeID:       t.ID,
		FromParty:     string(t.FromParty),
		ToParty:       string(t.ToParty),
		FromAsset:     toAssetRefResponse(t.FromAsset),
		ToAsset:       toAssetRefResponse(t.ToAsset),
		FromAgreed:    t.FromAgreed,
		ToAgreed:      t.ToAgreed,
		FromConfirmed: t.FromConfirmed,
		ToConfirmed:   t.ToConfirmed,
		Status:        string(t.Status),
		CreatedAt:     t.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:     t.Deadline(h.timeout).UTC().Format(time.RFC3339),
	}
}

func toAssetRefResponse(ref domain.AssetRef) *assetRefResponse {
	if ref.IsZero() {
		return nil
	}
	return &assetRefResponse{Registry: ref.Registry, AssetID: ref.AssetID}
}

// parseTradeID extracts and parses the trade_id URL parameter, writing
// a 400 response when it is not a non-negative integer.
func parseTradeID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "trade_id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "trade_id must be a non-negative integer")
		return 0, false
	}
	return id, true
}

// mapTradeError translates domain errors to HTTP responses.
func mapTradeError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		writeError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrTradeNotFound):
		writeError(w, http.StatusNotFound, "trade_not_found", err.Error())
	case errors.Is(err, domain.ErrAssetNotFound):
		writeError(w, http.StatusNotFound, "asset_not_found", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, domain.ErrSelfTrade):
		writeError(w, http.StatusConflict, "self_trade_rejected", err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, domain.ErrAlreadyDone):
		writeError(w, http.StatusConflict, "already_done", err.Error())
	case errors.Is(err, domain.ErrOwnershipMismatch):
		writeError(w, http.StatusConflict, "ownership_mismatch", err.Error())
	case errors.Is(err, domain.ErrApprovalMissing):
		writeError(w, http.StatusConflict, "approval_missing", err.Error())
	case errors.Is(err, domain.ErrExpired):
		writeError(w, http.StatusConflict, "trade_expired", err.Error())
	case errors.Is(err, domain.ErrSwapInconsistent):
		writeError(w, http.StatusInternalServerError, "swap_inconsistent", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
