package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/coinclub/backend/internal/models"
	"github.com/coinclub/backend/internal/services"
)

// TransferHandler exposes the transfer core to admin tooling over HTTP.
type TransferHandler struct {
	transfers *services.TransferService
	validator *services.ValidationHelper
}

func NewTransferHandler(transfers *services.TransferService) *TransferHandler {
	return &TransferHandler{
		transfers: transfers,
		validator: services.NewValidationHelper(),
	}
}

type transferRequest struct {
	SenderID    int64 `json:"senderId" validate:"required,gt=0"`
	RecipientID int64 `json:"recipientId" validate:"required,gt=0"`
	Amount      int64 `json:"amount" validate:"required,gt=0"`
}

func (h *TransferHandler) decode(w http.ResponseWriter, r *http.Request, req *transferRequest) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

// CheckTransfer runs the eligibility check without touching the ledger.
func (h *TransferHandler) CheckTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}

	result := h.transfers.CheckTransfer(r.Context(), req.SenderID, req.RecipientID, req.Amount)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// SendCoins executes a transfer on behalf of admin tooling.
func (h *TransferHandler) SendCoins(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}

	record, err := h.transfers.SendCoins(r.Context(), req.SenderID, req.RecipientID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInsufficientFunds),
			errors.Is(err, services.ErrInvalidAmount),
			errors.Is(err, services.ErrSelfTransfer):
			services.SendErrorResponse(w, err.Error(), http.StatusUnprocessableEntity, nil)
		case errors.Is(err, services.ErrAccountNotFound):
			services.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
		default:
			services.SendErrorResponse(w, "Failed to process transfer", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"transfer": record,
	})
}

// ListTransfers lists an account's transfer records, most recent first.
func (h *TransferHandler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountId"), 10, 64)
	if err != nil || accountID <= 0 {
		services.SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	direction := models.TransferDirection(r.URL.Query().Get("direction"))
	switch direction {
	case "":
		direction = models.DirectionAll
	case models.DirectionIn, models.DirectionOut, models.DirectionAll:
	default:
		services.SendErrorResponse(w, "Invalid direction", http.StatusBadRequest, nil)
		return
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 50
	}

	records, err := h.transfers.ListTransfers(r.Context(), accountID, direction, offset, limit)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch transfers", http.StatusInternalServerError, nil)
		return
	}
	if records == nil {
		records = []models.TransferRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transfers": records,
		"count":     len(records),
	})
}
