package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ongiapp/backend/internal/middleware"
	"github.com/ongiapp/backend/internal/services"
)

// maxReceiptBytes caps the multipart settlement request, receipt included.
const maxReceiptBytes = 10 << 20

type SettlementHandler struct {
	service   *services.SettlementService
	validator *services.ValidationHelper
}

func NewSettlementHandler(service *services.SettlementService) *SettlementHandler {
	return &SettlementHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// Prepare computes the default billing parameters for a selection
// @Summary Prepare a settlement
// @Description Compute the proposed billing period and totals without committing anything
// @Tags settlements
// @Accept json
// @Produce json
// @Security SessionCookie
// @Param request body object{entryIds=[]string} true "Selected entry ids"
// @Success 200 {object} services.SettlementProposal
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /settlements/prepare [post]
func (h *SettlementHandler) Prepare(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.SessionFrom(r.Context()); !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		EntryIDs []string `json:"entryIds" validate:"required,min=1,dive,uuid4"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	proposal, err := h.service.Prepare(req.EntryIDs)
	if err != nil {
		h.sendSettlementError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(proposal)
}

// Complete finalizes a settlement with an optional receipt attachment
// @Summary Complete a settlement
// @Description Persist the payment, flip the selected entries to paid, and store the receipt if supplied
// @Tags settlements
// @Accept multipart/form-data
// @Produce json
// @Security SessionCookie
// @Param entryIds formData []string true "Selected entry ids"
// @Param toDate formData string true "Billing period end (YYYY-MM-DD)"
// @Param unitPrice formData int true "Price per guest"
// @Param receipt formData file false "Receipt image"
// @Success 201 {object} services.CompletionResult
// @Failure 409 {object} services.ErrorResponse
// @Router /settlements [post]
func (h *SettlementHandler) Complete(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFrom(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxReceiptBytes)
	if err := r.ParseMultipartForm(maxReceiptBytes); err != nil {
		services.SendErrorResponse(w, "Invalid multipart request", http.StatusBadRequest, nil)
		return
	}

	unitPrice, err := strconv.Atoi(r.FormValue("unitPrice"))
	if err != nil {
		services.SendErrorResponse(w, "Unit price must be an integer", http.StatusBadRequest, nil)
		return
	}

	form := struct {
		EntryIDs  []string `validate:"required,min=1,dive,uuid4"`
		ToDate    string   `validate:"required,datetime=2006-01-02"`
		UnitPrice int      `validate:"min=0"`
	}{
		EntryIDs:  r.PostForm["entryIds"],
		ToDate:    r.FormValue("toDate"),
		UnitPrice: unitPrice,
	}
	if err := h.validator.ValidateStruct(&form); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	input := services.CompleteInput{
		EntryIDs:  form.EntryIDs,
		ToDate:    form.ToDate,
		UnitPrice: form.UnitPrice,
	}

	file, header, err := r.FormFile("receipt")
	switch {
	case err == nil:
		defer file.Close()
		ext := strings.TrimPrefix(filepath.Ext(header.Filename), ".")
		input.Receipt = &services.ReceiptUpload{
			File:        file,
			Extension:   ext,
			ContentType: header.Header.Get("Content-Type"),
		}
	case errors.Is(err, http.ErrMissingFile):
		// No receipt attached; the settlement proceeds without one.
	default:
		services.SendErrorResponse(w, "Invalid receipt upload", http.StatusBadRequest, nil)
		return
	}

	result, err := h.service.Complete(session, input)
	if err != nil {
		h.sendSettlementError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

// ReceiptURL issues a time-limited signed link to a payment's receipt
// @Summary Receipt access URL
// @Description Pre-signed URL valid for ten minutes
// @Tags settlements
// @Produce json
// @Security SessionCookie
// @Param paymentId path string true "Payment ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} services.ErrorResponse
// @Router /payments/{paymentId}/receipt-url [get]
func (h *SettlementHandler) ReceiptURL(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.SessionFrom(r.Context()); !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	paymentID := chi.URLParam(r, "paymentId")
	if _, err := uuid.Parse(paymentID); err != nil {
		services.SendErrorResponse(w, "Invalid payment id", http.StatusBadRequest, nil)
		return
	}

	url, err := h.service.ReceiptURL(paymentID)
	if err != nil {
		h.sendSettlementError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"url": url})
}

// sendSettlementError maps service errors onto HTTP statuses. Infrastructure
// failures get a generic retry message; the cause is already logged.
func (h *SettlementHandler) sendSettlementError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrNoEntries):
		services.SendErrorResponse(w, "No entries selected", http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrEntriesNotFound):
		services.SendErrorResponse(w, "Selected entries could not be found", http.StatusNotFound, nil)
	case errors.Is(err, services.ErrAlreadySettled):
		services.SendErrorResponse(w, "Some selected entries are already settled", http.StatusConflict, nil)
	case errors.Is(err, services.ErrMixedCompany):
		services.SendErrorResponse(w, "All selected entries must belong to one company", http.StatusConflict, nil)
	case errors.Is(err, services.ErrToDateTooEarly):
		services.SendErrorResponse(w, "End date cannot be earlier than the latest entry date", http.StatusConflict, nil)
	case errors.Is(err, services.ErrPaymentNotFound):
		services.SendErrorResponse(w, "Payment not found", http.StatusNotFound, nil)
	case errors.Is(err, services.ErrNoReceipt):
		services.SendErrorResponse(w, "No receipt is attached to this payment", http.StatusNotFound, nil)
	case errors.Is(err, services.ErrReceiptUpload):
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
	default:
		log.Printf("[SETTLE] Request failed: %v", err)
		services.SendErrorResponse(w, "Operation failed, please try again", http.StatusInternalServerError, nil)
	}
}
