/**
 * @description
 * This file contains the counter-offer logic. `NegotiationEngine` appends
 * negotiation rounds to a request; the round cap and the status guard are both
 * enforced by the store in the same conditional update that records the round,
 * so concurrent counters can never exceed the cap.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/collably/collab-service/internal/domain"
	"github.com/collably/collab-service/internal/store"
	"github.com/collably/collab-service/pkg/rabbitmq"
)

// NegotiationEngine owns counter-offer rounds on collaboration requests.
type NegotiationEngine struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher
}

// NewNegotiationEngine creates a new negotiation service.
func NewNegotiationEngine(repo store.Repository, producer rabbitmq.Publisher) *NegotiationEngine {
	return &NegotiationEngine{repo: repo, eventProducer: producer}
}

// ProposeCounter appends one counter-offer round from either party. Valid from
// pending, viewed or negotiating; the request moves to (or stays in)
// negotiating and its negotiated budget becomes the proposed figure.
func (e *NegotiationEngine) ProposeCounter(ctx context.Context, requestID, partyID uuid.UUID, payload domain.CounterOfferPayload) (*domain.CollaborationRequest, error) {
	if payload.ProposedBudget <= 0 {
		return nil, fmt.Errorf("%w: proposed budget must be positive", ErrInvalidPayload)
	}
	if payload.ProposedStartDate != nil && payload.ProposedEndDate != nil &&
		!payload.ProposedEndDate.After(*payload.ProposedStartDate) {
		return nil, fmt.Errorf("%w: proposed end date must be after start date", ErrInvalidPayload)
	}

	request, err := e.repo.FindRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: request %s is %s", store.ErrInvalidStateTransition, requestID, request.Status)
	}
	var initiator domain.Party
	switch partyID {
	case request.BuyerID:
		initiator = domain.PartyBuyer
	case request.CreatorID:
		initiator = domain.PartyCreator
	default:
		return nil, store.ErrRequestNotFound
	}

	negotiation := &domain.Negotiation{
		ID:                uuid.New(),
		RequestID:         requestID,
		Initiator:         initiator,
		ProposedBudget:    payload.ProposedBudget,
		ProposedStartDate: payload.ProposedStartDate,
		ProposedEndDate:   payload.ProposedEndDate,
		Message:           payload.Message,
		Outcome:           "open",
	}
	updated, err := e.repo.AppendNegotiation(ctx, negotiation)
	if err != nil {
		return nil, err
	}

	if e.eventProducer != nil {
		event := rabbitmq.RequestLifecycleEvent{
			RequestID:     updated.ID,
			ReferenceCode: updated.ReferenceCode,
			BuyerID:       updated.BuyerID,
			CreatorID:     updated.CreatorID,
			Status:        string(updated.Status),
			Budget:        payload.ProposedBudget,
			Timestamp:     time.Now().UTC(),
		}
		if err := e.eventProducer.Publish(ctx, rabbitmq.CollabEventsExchange, "collab.negotiation.countered", event); err != nil {
			log.Printf("level=warn component=negotiation_engine msg=\"event publish failed\" request_id=%s err=%v", updated.ID, err)
		}
	}
	return updated, nil
}
