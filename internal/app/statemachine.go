/**
 * @description
 * This file contains the collaboration-request lifecycle logic. The
 * `RequestStateMachine` struct owns every request status transition: creation,
 * the creator's first read, acceptance, decline (with the suspension penalty),
 * cancellation, contract signing, content submission, revisions, and disputes.
 *
 * Key features:
 * - Guards live in the store's conditional updates; this layer validates input,
 *   enforces the creator suspension window at creation time, and publishes
 *   lifecycle events to RabbitMQ for downstream services.
 * - A guard miss surfaces as store.ErrInvalidStateTransition with zero side
 *   effects on the row.
 *
 * @dependencies
 * - context, errors, fmt, log, strings, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For publishing lifecycle events.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/collably/collab-service/internal/domain"
	"github.com/collably/collab-service/internal/store"
	"github.com/collably/collab-service/pkg/rabbitmq"
)

var (
	ErrCreatorSuspended      = errors.New("creator is suspended and cannot receive requests")
	ErrDeclineReasonTooShort = errors.New("decline reason is too short")
	ErrInvalidPayload        = errors.New("invalid request payload")
)

// RequestStateMachineConfig carries the lifecycle knobs, all loaded from config.
type RequestStateMachineConfig struct {
	RequestExpiry              time.Duration // pending/viewed/negotiating requests expire after this
	MaxNegotiationRounds       int
	MaxRevisions               int
	DeclineSuspensionThreshold int
	DeclineSuspensionDays      int
	MinDeclineReasonLength     int
}

// RequestStateMachine owns the collaboration-request lifecycle.
type RequestStateMachine struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher
	cfg           RequestStateMachineConfig
}

// NewRequestStateMachine creates a new request lifecycle service.
func NewRequestStateMachine(repo store.Repository, producer rabbitmq.Publisher, cfg RequestStateMachineConfig) *RequestStateMachine {
	return &RequestStateMachine{repo: repo, eventProducer: producer, cfg: cfg}
}

// newReferenceCode derives a short human-quotable code from the request id.
func newReferenceCode(id uuid.UUID) string {
	return "CLB-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:12])
}

// CreateRequest validates and persists a new buyer -> creator proposal. Suspended
// creators are rejected here, before any row is written.
func (m *RequestStateMachine) CreateRequest(ctx context.Context, buyerID uuid.UUID, payload domain.CreateCollabRequestPayload) (*domain.CollaborationRequest, error) {
	if payload.ProposedBudget <= 0 {
		return nil, fmt.Errorf("%w: proposed budget must be positive", ErrInvalidPayload)
	}
	if payload.CreatorID == uuid.Nil {
		return nil, fmt.Errorf("%w: creator_id is required", ErrInvalidPayload)
	}
	if buyerID == payload.CreatorID {
		return nil, fmt.Errorf("%w: buyer and creator must differ", ErrInvalidPayload)
	}
	if !payload.ProposedEndDate.After(payload.ProposedStartDate) {
		return nil, fmt.Errorf("%w: proposed end date must be after start date", ErrInvalidPayload)
	}

	creator, err := m.repo.FindCreatorByID(ctx, payload.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to find creator: %w", err)
	}
	now := time.Now().UTC()
	if creator.Suspended(now) {
		log.Printf("level=info component=request_state_machine msg=\"request rejected, creator suspended\" creator_id=%s suspended_until=%s", creator.ID, creator.SuspendedUntil)
		return nil, ErrCreatorSuspended
	}

	currency := strings.ToUpper(strings.TrimSpace(payload.Currency))
	if currency == "" {
		currency = "NGN"
	}

	status := domain.RequestStatusPending
	if payload.Draft {
		status = domain.RequestStatusDraft
	}

	id := uuid.New()
	request := &domain.CollaborationRequest{
		ID:                   id,
		ReferenceCode:        newReferenceCode(id),
		BuyerID:              buyerID,
		CreatorID:            payload.CreatorID,
		Currency:             currency,
		ProposedBudget:       payload.ProposedBudget,
		ProposedStartDate:    payload.ProposedStartDate,
		ProposedEndDate:      payload.ProposedEndDate,
		Brief:                strings.TrimSpace(payload.Brief),
		Status:               status,
		MaxRevisions:         m.cfg.MaxRevisions,
		MaxNegotiationRounds: m.cfg.MaxNegotiationRounds,
		ExpiresAt:            now.Add(m.cfg.RequestExpiry),
	}
	if err := m.repo.CreateCollabRequest(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to create collaboration request: %w", err)
	}

	// Drafts stay private to the buyer until submission.
	if request.Status == domain.RequestStatusPending {
		m.publish(ctx, "collab.request.created", rabbitmq.RequestLifecycleEvent{
			RequestID:     request.ID,
			ReferenceCode: request.ReferenceCode,
			BuyerID:       request.BuyerID,
			CreatorID:     request.CreatorID,
			Status:        string(request.Status),
			Budget:        request.ProposedBudget,
			Timestamp:     now,
		})
	}
	return request, nil
}

// SubmitDraft moves the buyer's saved draft to pending. The suspension window is
// re-checked here because the creator's standing may have changed since the draft
// was saved; the expiry clock starts now.
func (m *RequestStateMachine) SubmitDraft(ctx context.Context, requestID, buyerID uuid.UUID) (*domain.CollaborationRequest, error) {
	draft, err := m.repo.FindRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if draft.BuyerID != buyerID {
		return nil, store.ErrRequestNotFound
	}

	creator, err := m.repo.FindCreatorByID(ctx, draft.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to find creator: %w", err)
	}
	now := time.Now().UTC()
	if creator.Suspended(now) {
		return nil, ErrCreatorSuspended
	}

	request, err := m.repo.SubmitDraftRequest(ctx, requestID, buyerID, now.Add(m.cfg.RequestExpiry))
	if err != nil {
		return nil, err
	}
	m.publish(ctx, "collab.request.created", rabbitmq.RequestLifecycleEvent{
		RequestID:     request.ID,
		ReferenceCode: request.ReferenceCode,
		BuyerID:       request.BuyerID,
		CreatorID:     request.CreatorID,
		Status:        string(request.Status),
		Budget:        request.ProposedBudget,
		Timestamp:     now,
	})
	return request, nil
}

// GetRequest retrieves a single request, restricted to its two parties.
func (m *RequestStateMachine) GetRequest(ctx context.Context, requestID, partyID uuid.UUID) (*domain.CollaborationRequest, error) {
	request, err := m.repo.FindRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.BuyerID != partyID && request.CreatorID != partyID {
		return nil, store.ErrRequestNotFound
	}
	return request, nil
}

// LookupByReference retrieves a request by its public reference code without a
// party restriction. Internal support tooling is the only caller.
func (m *RequestStateMachine) LookupByReference(ctx context.Context, referenceCode string) (*domain.CollaborationRequest, error) {
	referenceCode = strings.TrimSpace(referenceCode)
	if referenceCode == "" {
		return nil, fmt.Errorf("%w: reference code required", ErrInvalidPayload)
	}
	return m.repo.FindRequestByReference(ctx, referenceCode)
}

// ListBuyerRequests lists a buyer's requests, newest first.
func (m *RequestStateMachine) ListBuyerRequests(ctx context.Context, buyerID uuid.UUID, opts domain.RequestListOptions) ([]domain.CollaborationRequest, error) {
	return m.repo.ListRequestsByBuyer(ctx, buyerID, opts)
}

// ListCreatorRequests lists the requests addressed to a creator, newest first.
func (m *RequestStateMachine) ListCreatorRequests(ctx context.Context, creatorID uuid.UUID, opts domain.RequestListOptions) ([]domain.CollaborationRequest, error) {
	return m.repo.ListRequestsByCreator(ctx, creatorID, opts)
}

// NegotiationHistory returns the append-only counter-offer rounds for a request.
func (m *RequestStateMachine) NegotiationHistory(ctx context.Context, requestID, partyID uuid.UUID) ([]domain.Negotiation, error) {
	if _, err := m.GetRequest(ctx, requestID, partyID); err != nil {
		return nil, err
	}
	return m.repo.GetNegotiationHistory(ctx, requestID)
}

// MarkViewed stamps the creator's first read. Repeat reads are no-ops.
func (m *RequestStateMachine) MarkViewed(ctx context.Context, requestID, creatorID uuid.UUID) (*domain.CollaborationRequest, error) {
	return m.repo.MarkRequestViewed(ctx, requestID, creatorID)
}

// Accept locks the current budget as the final budget and moves the request to
// accepted. Only the creator may accept, from pending, viewed or negotiating.
func (m *RequestStateMachine) Accept(ctx context.Context, requestID, creatorID uuid.UUID) (*domain.CollaborationRequest, error) {
	request, err := m.repo.AcceptRequest(ctx, requestID, creatorID)
	if err != nil {
		return nil, err
	}
	m.publish(ctx, "collab.request.accepted", rabbitmq.RequestLifecycleEvent{
		RequestID:     request.ID,
		ReferenceCode: request.ReferenceCode,
		BuyerID:       request.BuyerID,
		CreatorID:     request.CreatorID,
		Status:        string(request.Status),
		Budget:        request.CurrentBudget(),
		Timestamp:     time.Now().UTC(),
	})
	return request, nil
}

// Decline rejects a request with a mandatory reason and applies the decline
// penalty: the configured number of declines since the last suspension opens a
// suspension window and resets the counter.
func (m *RequestStateMachine) Decline(ctx context.Context, requestID, creatorID uuid.UUID, reason string) (*domain.CollaborationRequest, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) < m.cfg.MinDeclineReasonLength {
		return nil, fmt.Errorf("%w: at least %d characters required", ErrDeclineReasonTooShort, m.cfg.MinDeclineReasonLength)
	}

	request, err := m.repo.DeclineRequest(ctx, requestID, creatorID, reason)
	if err != nil {
		return nil, err
	}

	suspension := time.Duration(m.cfg.DeclineSuspensionDays) * 24 * time.Hour
	creator, err := m.repo.RecordCreatorDecline(ctx, creatorID, m.cfg.DeclineSuspensionThreshold, suspension)
	if err != nil {
		// The decline itself stands; the penalty bookkeeping failure must not
		// resurrect the request.
		log.Printf("level=error component=request_state_machine msg=\"failed to record decline penalty\" creator_id=%s err=%v", creatorID, err)
	} else if creator.Suspended(time.Now().UTC()) {
		log.Printf("level=info component=request_state_machine msg=\"creator suspended after repeated declines\" creator_id=%s suspended_until=%s suspension_count=%d", creator.ID, creator.SuspendedUntil, creator.SuspensionCount)
	} else {
		// Declines below the threshold still count against the creator.
		log.Printf("level=warn component=request_state_machine msg=\"decline recorded toward suspension threshold\" creator_id=%s decline_count=%d threshold=%d", creator.ID, creator.DeclineCount, m.cfg.DeclineSuspensionThreshold)
		m.publish(ctx, "collab.creator.decline_warning", rabbitmq.RequestLifecycleEvent{
			RequestID:     request.ID,
			ReferenceCode: request.ReferenceCode,
			BuyerID:       request.BuyerID,
			CreatorID:     creator.ID,
			Status:        string(request.Status),
			Reason:        reason,
			Timestamp:     time.Now().UTC(),
		})
	}

	m.publish(ctx, "collab.request.declined", rabbitmq.RequestLifecycleEvent{
		RequestID:     request.ID,
		ReferenceCode: request.ReferenceCode,
		BuyerID:       request.BuyerID,
		CreatorID:     request.CreatorID,
		Status:        string(request.Status),
		Reason:        reason,
		Timestamp:     time.Now().UTC(),
	})
	return request, nil
}

// Cancel withdraws the buyer's own request. Only reachable before acceptance.
func (m *RequestStateMachine) Cancel(ctx context.Context, requestID, buyerID uuid.UUID) (*domain.CollaborationRequest, error) {
	request, err := m.repo.CancelRequest(ctx, requestID, buyerID)
	if err != nil {
		return nil, err
	}
	m.publish(ctx, "collab.request.cancelled", rabbitmq.RequestLifecycleEvent{
		RequestID:     request.ID,
		ReferenceCode: request.ReferenceCode,
		BuyerID:       request.BuyerID,
		CreatorID:     request.CreatorID,
		Status:        string(request.Status),
		Timestamp:     time.Now().UTC(),
	})
	return request, nil
}

// SendContract moves an accepted request to contract_pending.
func (m *RequestStateMachine) SendContract(ctx context.Context, requestID, partyID uuid.UUID) (*domain.CollaborationRequest, error) {
	if _, err := m.GetRequest(ctx, requestID, partyID); err != nil {
		return nil, err
	}
	return m.repo.MarkContractPending(ctx, requestID)
}

// SignContract moves a contract_pending request to contract_signed.
func (m *RequestStateMachine) SignContract(ctx context.Context, requestID, partyID uuid.UUID) (*domain.CollaborationRequest, error) {
	if _, err := m.GetRequest(ctx, requestID, partyID); err != nil {
		return nil, err
	}
	return m.repo.MarkContractSigned(ctx, requestID)
}

// SubmitContent records the creator's deliverable URLs and moves the request to
// content_submitted. Valid from in_progress and revision_requested.
func (m *RequestStateMachine) SubmitContent(ctx context.Context, requestID, creatorID uuid.UUID, payload domain.SubmitContentPayload) (*domain.CollaborationRequest, error) {
	if len(payload.ContentURLs) == 0 {
		return nil, fmt.Errorf("%w: at least one content URL is required", ErrInvalidPayload)
	}
	for _, u := range payload.ContentURLs {
		if strings.TrimSpace(u) == "" {
			return nil, fmt.Errorf("%w: content URLs must be non-empty", ErrInvalidPayload)
		}
	}
	request, err := m.repo.SubmitContent(ctx, requestID, creatorID, payload.ContentURLs)
	if err != nil {
		return nil, err
	}
	m.publish(ctx, "collab.content.submitted", rabbitmq.RequestLifecycleEvent{
		RequestID:     request.ID,
		ReferenceCode: request.ReferenceCode,
		BuyerID:       request.BuyerID,
		CreatorID:     request.CreatorID,
		Status:        string(request.Status),
		Timestamp:     time.Now().UTC(),
	})
	return request, nil
}

// RequestRevision sends submitted content back to the creator. The revision
// counter guard lives in the store's conditional update.
func (m *RequestStateMachine) RequestRevision(ctx context.Context, requestID, buyerID uuid.UUID) (*domain.CollaborationRequest, error) {
	return m.repo.RequestRevision(ctx, requestID, buyerID)
}

// Dispute freezes the request for manual resolution. Either party may raise it
// once the collaboration is funded.
func (m *RequestStateMachine) Dispute(ctx context.Context, requestID, partyID uuid.UUID) (*domain.CollaborationRequest, error) {
	if _, err := m.GetRequest(ctx, requestID, partyID); err != nil {
		return nil, err
	}
	request, err := m.repo.MarkRequestDisputed(ctx, requestID)
	if err != nil {
		return nil, err
	}
	m.publish(ctx, "collab.request.disputed", rabbitmq.RequestLifecycleEvent{
		RequestID:     request.ID,
		ReferenceCode: request.ReferenceCode,
		BuyerID:       request.BuyerID,
		CreatorID:     request.CreatorID,
		Status:        string(request.Status),
		Timestamp:     time.Now().UTC(),
	})
	return request, nil
}

// ExpireStale flips every pre-acceptance request past its expiry to expired.
// Called by the scheduler; safe to run concurrently across replicas.
func (m *RequestStateMachine) ExpireStale(ctx context.Context) (int, error) {
	expired, err := m.repo.ExpireStaleRequests(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale requests: %w", err)
	}
	for _, id := range expired {
		m.publish(ctx, "collab.request.expired", rabbitmq.RequestLifecycleEvent{
			RequestID: id,
			Status:    string(domain.RequestStatusExpired),
			Timestamp: time.Now().UTC(),
		})
	}
	return len(expired), nil
}

func (m *RequestStateMachine) publish(ctx context.Context, routingKey string, event rabbitmq.RequestLifecycleEvent) {
	if m.eventProducer == nil {
		return
	}
	if err := m.eventProducer.Publish(ctx, rabbitmq.CollabEventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=request_state_machine msg=\"event publish failed\" routing_key=%s request_id=%s err=%v", routingKey, event.RequestID, err)
	}
}
