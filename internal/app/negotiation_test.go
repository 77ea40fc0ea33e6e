package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/collably/collab-service/internal/domain"
	"github.com/collably/collab-service/internal/store"
)

func TestProposeCounterValidation(t *testing.T) {
	engine := NewNegotiationEngine(&stubRepository{}, nil)
	start := time.Now().UTC().Add(48 * time.Hour)
	end := start.Add(-time.Hour)

	tests := []struct {
		name    string
		payload domain.CounterOfferPayload
	}{
		{name: "zero budget", payload: domain.CounterOfferPayload{ProposedBudget: 0}},
		{name: "negative budget", payload: domain.CounterOfferPayload{ProposedBudget: -1}},
		{name: "end before start", payload: domain.CounterOfferPayload{ProposedBudget: 50000, ProposedStartDate: &start, ProposedEndDate: &end}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.ProposeCounter(context.Background(), uuid.New(), uuid.New(), tt.payload)
			if !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("ProposeCounter() error = %v, want ErrInvalidPayload", err)
			}
		})
	}
}

func TestProposeCounterResolvesInitiator(t *testing.T) {
	buyerID := uuid.New()
	creatorID := uuid.New()

	tests := []struct {
		name          string
		partyID       uuid.UUID
		wantInitiator domain.Party
	}{
		{name: "buyer counters", partyID: buyerID, wantInitiator: domain.PartyBuyer},
		{name: "creator counters", partyID: creatorID, wantInitiator: domain.PartyCreator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var appended *domain.Negotiation
			repo := &stubRepository{
				findRequestByID: func(ctx context.Context, id uuid.UUID) (*domain.CollaborationRequest, error) {
					return &domain.CollaborationRequest{ID: id, BuyerID: buyerID, CreatorID: creatorID, Status: domain.RequestStatusViewed}, nil
				},
				appendNegotiation: func(ctx context.Context, negotiation *domain.Negotiation) (*domain.CollaborationRequest, error) {
					appended = negotiation
					budget := negotiation.ProposedBudget
					return &domain.CollaborationRequest{
						ID:               negotiation.RequestID,
						BuyerID:          buyerID,
						CreatorID:        creatorID,
						Status:           domain.RequestStatusNegotiating,
						NegotiatedBudget: &budget,
					}, nil
				},
			}
			engine := NewNegotiationEngine(repo, nil)

			updated, err := engine.ProposeCounter(context.Background(), uuid.New(), tt.partyID, domain.CounterOfferPayload{
				ProposedBudget: 75000,
				Message:        "can meet in the middle",
			})
			if err != nil {
				t.Fatalf("ProposeCounter() error = %v", err)
			}
			if appended.Initiator != tt.wantInitiator {
				t.Errorf("initiator = %s, want %s", appended.Initiator, tt.wantInitiator)
			}
			if appended.Outcome != "open" {
				t.Errorf("outcome = %q, want open", appended.Outcome)
			}
			if updated.Status != domain.RequestStatusNegotiating {
				t.Errorf("request status = %s, want negotiating", updated.Status)
			}
		})
	}
}

func TestProposeCounterRejectsStranger(t *testing.T) {
	repo := &stubRepository{
		findRequestByID: func(ctx context.Context, id uuid.UUID) (*domain.CollaborationRequest, error) {
			return &domain.CollaborationRequest{ID: id, BuyerID: uuid.New(), CreatorID: uuid.New()}, nil
		},
	}
	engine := NewNegotiationEngine(repo, nil)

	_, err := engine.ProposeCounter(context.Background(), uuid.New(), uuid.New(), domain.CounterOfferPayload{ProposedBudget: 50000})
	if !errors.Is(err, store.ErrRequestNotFound) {
		t.Fatalf("ProposeCounter() error = %v, want ErrRequestNotFound", err)
	}
}

func TestProposeCounterRejectsSettledRequest(t *testing.T) {
	buyerID := uuid.New()
	repo := &stubRepository{
		findRequestByID: func(ctx context.Context, id uuid.UUID) (*domain.CollaborationRequest, error) {
			return &domain.CollaborationRequest{ID: id, BuyerID: buyerID, CreatorID: uuid.New(), Status: domain.RequestStatusCompleted}, nil
		},
	}
	engine := NewNegotiationEngine(repo, nil)

	_, err := engine.ProposeCounter(context.Background(), uuid.New(), buyerID, domain.CounterOfferPayload{ProposedBudget: 50000})
	if !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Fatalf("ProposeCounter() error = %v, want ErrInvalidStateTransition", err)
	}
}

func TestProposeCounterPropagatesRoundCap(t *testing.T) {
	buyerID := uuid.New()
	repo := &stubRepository{
		findRequestByID: func(ctx context.Context, id uuid.UUID) (*domain.CollaborationRequest, error) {
			return &domain.CollaborationRequest{ID: id, BuyerID: buyerID, CreatorID: uuid.New(), NegotiationRounds: 3, MaxNegotiationRounds: 3}, nil
		},
		appendNegotiation: func(ctx context.Context, negotiation *domain.Negotiation) (*domain.CollaborationRequest, error) {
			return nil, store.ErrNegotiationRoundExceeded
		},
	}
	engine := NewNegotiationEngine(repo, nil)

	_, err := engine.ProposeCounter(context.Background(), uuid.New(), buyerID, domain.CounterOfferPayload{ProposedBudget: 50000})
	if !errors.Is(err, store.ErrNegotiationRoundExceeded) {
		t.Fatalf("ProposeCounter() error = %v, want ErrNegotiationRoundExceeded", err)
	}
}
