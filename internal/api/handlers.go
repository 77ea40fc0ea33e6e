/**
 * @description
 * This file contains the HTTP handlers for the collaboration-request lifecycle
 * endpoints. Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application services, and writing the HTTP
 * response. They act as the bridge between the web layer and the business logic
 * layer.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameter extraction.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/collably/collab-service/internal/app"
	"github.com/collably/collab-service/internal/domain"
	"github.com/collably/collab-service/internal/store"
)

// CollabHandlers holds the application services that handlers will use.
type CollabHandlers struct {
	stateMachine *app.RequestStateMachine
	negotiation  *app.NegotiationEngine
	ledger       *app.EscrowLedger
	payouts      *app.PayoutOrchestrator
	settlement   *app.SettlementCoordinator
	rateLimiter  *app.RedisRateLimiter

	payoutRateLimitPerMinute int
}

// NewCollabHandlers creates a new instance of CollabHandlers.
func NewCollabHandlers(
	stateMachine *app.RequestStateMachine,
	negotiation *app.NegotiationEngine,
	ledger *app.EscrowLedger,
	payouts *app.PayoutOrchestrator,
	settlement *app.SettlementCoordinator,
	rateLimiter *app.RedisRateLimiter,
	payoutRateLimitPerMinute int,
) *CollabHandlers {
	return &CollabHandlers{
		stateMachine:             stateMachine,
		negotiation:              negotiation,
		ledger:                   ledger,
		payouts:                  payouts,
		settlement:               settlement,
		rateLimiter:              rateLimiter,
		payoutRateLimitPerMinute: payoutRateLimitPerMinute,
	}
}

// partyFromContext pulls the authenticated party id or writes a 500; the
// middleware guarantees it is present on routed requests.
func (h *CollabHandlers) partyFromContext(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	partyID, ok := GetPartyID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get party ID from context")
		return uuid.Nil, false
	}
	return partyID, true
}

// requestIDFromURL parses the {requestID} URL parameter.
func (h *CollabHandlers) requestIDFromURL(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request ID")
		return uuid.Nil, false
	}
	return requestID, true
}

// CreateRequestHandler handles a buyer creating a new collaboration request.
func (h *CollabHandlers) CreateRequestHandler(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := h.partyFromContext(w, r)
	if !ok {
		return
	}
	var payload domain.CreateCollabRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	request, err := h.stateMachine.CreateRequest(r.Context(), buyerID, payload)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, request)
}

// GetRequestHandler returns one request to either of its parties. The creator's
// first read stamps viewed_at.
func (h *CollabHandlers) GetRequestHandler(w http.ResponseWriter, r *http.Request) {
	partyID, ok := h.partyFromContext(w, r)
	if !ok {
		return
	}
	requestID, ok := h.requestIDFromURL(w, r)
	if !ok {
		return
	}

	request, err := h.stateMachine.GetRequest(r.Context(), requestID, partyID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if partyID == request.CreatorID && request.ViewedAt == nil {
		if viewed, viewErr := h.stateMachine.MarkViewed(r.Context(), requestID, partyID); viewErr == nil {
			request = viewed
		} else if !errors.Is(viewErr, store.ErrInvalidStateTransition) {
			log.Printf("level=warn component=api msg=\"failed to stamp first read\" request_id=%s err=%v", requestID, viewErr)
		}
	}
	h.writeJSON(w, http.StatusOK, request)
}

// LookupRequestHandler resolves a request by its public reference code. Internal
// endpoint; support tooling uses the reference from buyer and creator receipts.
func (h *CollabHandlers) LookupRequestHandler(w http.ResponseWriter, r *http.Request) {
	request, err := h.stateMachine.LookupByReference(r.Context(), chi.URLParam(r, "referenceCode"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, request)
}

// ListRequestsHandler lists the caller's requests, as buyer or as creator
// depending on the `role` query parameter.
func (h *CollabHandlers) ListRequestsHandler(w http.ResponseWriter, r *http.Request) {
	partyID, ok := h.partyFromContext(w, r)
	if !ok {
		return
	}
	opts := domain.RequestListOptions{
		Status: r.URL.Query().Get("status"),
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		opts.Limit = limit
	}
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		opts.Offset = offset
	}

	var (
		requests []domain.CollaborationRequest
		err      error
	)
	if r.URL.Query().Get("role") == "creator" {
		requests, err = h.stateMachine.ListCreatorRequests(r.Context(), partyID, opts)
	} else {
		requests, err = h.stateMachine.ListBuyerRequests(r.Context(), partyID, opts)
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if requests == nil {
		requests = []domain.CollaborationRequest{}
	}
	h.writeJSON(w, http.StatusOK, requests)
}

// CounterOfferHandler appends a negotiation round from either party.
func (h *CollabHandlers) CounterOfferHandler(w http.ResponseWriter, r *http.Request) {
	partyID, ok := h.partyFromContext(w, r)
	if !ok {
		return
	}
	requestID, ok := h.requestIDFromURL(w, r)
	if !ok {
		return
	}
	var payload domain.CounterOfferPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	request, err := h.negotiation.ProposeCounter(r.Context(), requestID, partyID, payload)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, request)
}

// NegotiationHistoryHandler returns the append-only counter-offer rounds.
func (h *CollabHandlers) NegotiationHistoryHandler(w http.ResponseWriter, r *http.Request) {
	partyID, ok := h.partyFromContext(w, r)
	if !ok {
		return
	}
	requestID, ok := h.requestIDFromURL(w, r)
	if !ok {
		return
	}

	history, err := h.stateMachine.NegotiationHistory(r.Context(), requestID, partyID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if history == nil {
		history = []domain.Negotiation{}
	}
	h.writeJSON(w, http.StatusOK, history)
}

// SubmitDraftHandler handles the buyer submitting a saved draft to the creator.
func (h *CollabHandlers) SubmitDraftHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.stateMachine.SubmitDraft)
}

// AcceptRequestHandler handles the creator accepting a request.
func (h *CollabHandlers) AcceptRequestHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.stateMachine.Accept)
}

// DeclineRequestHandler handles the creator declining a request with a reason.
func (h *CollabHandlers) DeclineRequestHandler(w http.ResponseWriter, r *http.Request) {
	partyID, ok := h.partyFromContext(w, r)
	if !ok {
		return
	}
	requestID, ok := h.requestIDFromURL(w, r)
	if !ok {
		return
	}
	var payload domain.DeclineRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	request, err := h.stateMachine.Decline(r.Context(), requestID, partyID, payload.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, request)
}

// CancelRequestHandler handles the buyer withdrawing a pre-acceptance request.
func (h *CollabHandlers) CancelRequestHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.stateMachine.Cancel)
}

// SendContractHandler moves an accepted request to contract_pending.
func (h *CollabHandlers) SendContractHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.stateMachine.SendContract)
}

// SignContractHandler moves a contract_pending request to contract_signed.
func (h *CollabHandlers) SignContractHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.stateMachine.SignContract)
}

// SubmitContentHandler records the creator's deliverables.
func (h *CollabHandlers) SubmitContentHandler(w http.ResponseWriter, r *http.Request) {
	partyID, ok := h.partyFromContext(w, r)
	if !ok {
		return
	}
	requestID, ok := h.requestIDFromURL(w, r)
	if !ok {
		return
	}
	var payload domain.SubmitContentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	request, err := h.stateMachine.SubmitContent(r.Context(), requestID, partyID, payload)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, request)
}

// RequestRevisionHandler sends submitted content back for rework.
func (h *CollabHandlers) RequestRevisionHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.stateMachine.RequestRevision)
}

// ApproveContentHandler is the buyer approving submitted content. The request
// completes and the escrow releases atomically.
func (h *CollabHandlers) ApproveContentHandler(w http.ResponseWriter, r *http.Request) {
	partyID, ok := h.partyFromContext(w, r)
	if !ok {
		return
	}
	requestID, ok := h.requestIDFromURL(w, r)
	if !ok {
		return
	}

	release, err := h.settlement.ApproveContent(r.Context(), requestID, partyID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"applied": release.Applied,
		"payment": release.Payment,
	})
}

// DisputeRequestHandler freezes a request for manual resolution.
func (h *CollabHandlers) DisputeRequestHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.stateMachine.Dispute)
}

// transition runs one party-scoped status move and writes the updated request.
func (h *CollabHandlers) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, requestID, partyID uuid.UUID) (*domain.CollaborationRequest, error)) {
	partyID, ok := h.partyFromContext(w, r)
	if !ok {
		return
	}
	requestID, ok := h.requestIDFromURL(w, r)
	if !ok {
		return
	}

	request, err := fn(r.Context(), requestID, partyID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, request)
}

// consumePayoutRateLimit applies the per-creator payout limiter. Redis being
// down fails open.
func (h *CollabHandlers) consumePayoutRateLimit(w http.ResponseWriter, r *http.Request, creatorID uuid.UUID) bool {
	if h.rateLimiter == nil || h.payoutRateLimitPerMinute <= 0 {
		return true
	}
	count, retryAfter, err := h.rateLimiter.ConsumeRateLimit(r.Context(), "payout", creatorID.String(), h.payoutRateLimitPerMinute, time.Minute)
	if err != nil {
		log.Printf("level=warn component=api msg=\"payout rate limiter unavailable; allowing\" creator_id=%s err=%v", creatorID, err)
		return true
	}
	if count > h.payoutRateLimitPerMinute {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many payout requests. Please try again later.")
		return false
	}
	return true
}

// writeDomainError maps service and store errors onto HTTP statuses.
func (h *CollabHandlers) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrRequestNotFound),
		errors.Is(err, store.ErrCreatorNotFound),
		errors.Is(err, store.ErrBankAccountNotFound),
		errors.Is(err, store.ErrPaymentNotFound),
		errors.Is(err, store.ErrPayoutNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalidStateTransition),
		errors.Is(err, store.ErrDuplicateActivePayment),
		errors.Is(err, store.ErrReconciliationConflict):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNegotiationRoundExceeded),
		errors.Is(err, store.ErrInsufficientBalance),
		errors.Is(err, app.ErrBelowMinimumPayout),
		errors.Is(err, app.ErrCreatorSuspended):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, app.ErrInvalidPayload),
		errors.Is(err, app.ErrDeclineReasonTooShort):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("level=error component=api msg=\"unhandled service error\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *CollabHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *CollabHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
