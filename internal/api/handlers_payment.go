/**
 * @description
 * This file contains the HTTP handlers for the money side of the API: charge
 * initialization, synchronous verification, escrow refunds, creator balances
 * and payouts.
 */

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/collably/collab-service/internal/domain"
)

type initializePaymentPayload struct {
	Email string `json:"email"`
}

type refundPaymentPayload struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Amount    int64     `json:"amount"`
}

// InitializePaymentHandler creates the escrow payment for an accepted request
// and returns the gateway checkout URL.
func (h *CollabHandlers) InitializePaymentHandler(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := h.partyFromContext(w, r)
	if !ok {
		return
	}
	requestID, ok := h.requestIDFromURL(w, r)
	if !ok {
		return
	}
	var payload initializePaymentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.settlement.InitializePayment(r.Context(), requestID, buyerID, payload.Email)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// VerifyPaymentHandler polls the gateway for the charge outcome and reconciles
// it. Safe to call any number of times.
func (h *CollabHandlers) VerifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.partyFromContext(w, r); !ok {
		return
	}
	reference := chi.URLParam(r, "reference")
	if reference == "" {
		h.writeError(w, http.StatusBadRequest, "Payment reference required")
		return
	}

	payment, err := h.settlement.VerifyPayment(r.Context(), reference)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

// RefundPaymentHandler refunds part or all of an escrowed payment. Internal
// endpoint; dispute resolution and support tooling call it.
func (h *CollabHandlers) RefundPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var payload refundPaymentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if payload.PaymentID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "payment_id is required")
		return
	}

	payment, err := h.ledger.Refund(r.Context(), payload.PaymentID, payload.Amount)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

// GetBalancesHandler returns the caller's three earnings balances.
func (h *CollabHandlers) GetBalancesHandler(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := h.partyFromContext(w, r)
	if !ok {
		return
	}
	account, err := h.ledger.GetBalances(r.Context(), creatorID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// RequestPayoutHandler withdraws from the caller's available balance.
func (h *CollabHandlers) RequestPayoutHandler(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := h.partyFromContext(w, r)
	if !ok {
		return
	}
	if !h.consumePayoutRateLimit(w, r, creatorID) {
		return
	}
	var payload domain.CreatePayoutPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	payout, err := h.payouts.RequestPayout(r.Context(), creatorID, payload)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, payout)
}

// ListPayoutsHandler returns the caller's withdrawal history.
func (h *CollabHandlers) ListPayoutsHandler(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := h.partyFromContext(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	payouts, err := h.payouts.ListPayouts(r.Context(), creatorID, limit, offset)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if payouts == nil {
		payouts = []domain.Payout{}
	}
	h.writeJSON(w, http.StatusOK, payouts)
}
