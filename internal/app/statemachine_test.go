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

func testStateMachineConfig() RequestStateMachineConfig {
	return RequestStateMachineConfig{
		RequestExpiry:              24 * time.Hour,
		MaxNegotiationRounds:       3,
		MaxRevisions:               2,
		DeclineSuspensionThreshold: 2,
		DeclineSuspensionDays:      3,
		MinDeclineReasonLength:     10,
	}
}

func TestCreateRequestValidation(t *testing.T) {
	buyerID := uuid.New()
	creatorID := uuid.New()
	start := time.Now().UTC().Add(48 * time.Hour)
	end := start.Add(7 * 24 * time.Hour)

	tests := []struct {
		name    string
		buyerID uuid.UUID
		payload domain.CreateCollabRequestPayload
	}{
		{
			name:    "zero budget",
			buyerID: buyerID,
			payload: domain.CreateCollabRequestPayload{CreatorID: creatorID, ProposedBudget: 0, ProposedStartDate: start, ProposedEndDate: end},
		},
		{
			name:    "negative budget",
			buyerID: buyerID,
			payload: domain.CreateCollabRequestPayload{CreatorID: creatorID, ProposedBudget: -100, ProposedStartDate: start, ProposedEndDate: end},
		},
		{
			name:    "missing creator",
			buyerID: buyerID,
			payload: domain.CreateCollabRequestPayload{ProposedBudget: 50000, ProposedStartDate: start, ProposedEndDate: end},
		},
		{
			name:    "buyer is creator",
			buyerID: creatorID,
			payload: domain.CreateCollabRequestPayload{CreatorID: creatorID, ProposedBudget: 50000, ProposedStartDate: start, ProposedEndDate: end},
		},
		{
			name:    "end date before start date",
			buyerID: buyerID,
			payload: domain.CreateCollabRequestPayload{CreatorID: creatorID, ProposedBudget: 50000, ProposedStartDate: end, ProposedEndDate: start},
		},
	}

	machine := NewRequestStateMachine(&stubRepository{}, nil, testStateMachineConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := machine.CreateRequest(context.Background(), tt.buyerID, tt.payload)
			if !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("CreateRequest() error = %v, want ErrInvalidPayload", err)
			}
		})
	}
}

func TestCreateRequestRejectsSuspendedCreator(t *testing.T) {
	creatorID := uuid.New()
	suspendedUntil := time.Now().UTC().Add(48 * time.Hour)
	repo := &stubRepository{
		findCreatorByID: func(ctx context.Context, id uuid.UUID) (*domain.Creator, error) {
			return &domain.Creator{ID: id, SuspendedUntil: &suspendedUntil}, nil
		},
	}
	machine := NewRequestStateMachine(repo, nil, testStateMachineConfig())

	start := time.Now().UTC().Add(48 * time.Hour)
	_, err := machine.CreateRequest(context.Background(), uuid.New(), domain.CreateCollabRequestPayload{
		CreatorID:         creatorID,
		ProposedBudget:    50000,
		ProposedStartDate: start,
		ProposedEndDate:   start.Add(7 * 24 * time.Hour),
	})
	if !errors.Is(err, ErrCreatorSuspended) {
		t.Fatalf("CreateRequest() error = %v, want ErrCreatorSuspended", err)
	}
}

func TestCreateRequestAllowsLapsedSuspension(t *testing.T) {
	lapsed := time.Now().UTC().Add(-time.Hour)
	var created *domain.CollaborationRequest
	repo := &stubRepository{
		findCreatorByID: func(ctx context.Context, id uuid.UUID) (*domain.Creator, error) {
			return &domain.Creator{ID: id, SuspendedUntil: &lapsed, SuspensionCount: 1}, nil
		},
		createCollabRequest: func(ctx context.Context, req *domain.CollaborationRequest) error {
			created = req
			return nil
		},
	}
	cfg := testStateMachineConfig()
	machine := NewRequestStateMachine(repo, nil, cfg)

	start := time.Now().UTC().Add(48 * time.Hour)
	request, err := machine.CreateRequest(context.Background(), uuid.New(), domain.CreateCollabRequestPayload{
		CreatorID:         uuid.New(),
		ProposedBudget:    50000,
		Currency:          "ngn",
		ProposedStartDate: start,
		ProposedEndDate:   start.Add(7 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}
	if created == nil {
		t.Fatal("request was never persisted")
	}
	if request.Status != domain.RequestStatusPending {
		t.Errorf("status = %s, want pending", request.Status)
	}
	if request.Currency != "NGN" {
		t.Errorf("currency = %s, want NGN", request.Currency)
	}
	if request.MaxNegotiationRounds != cfg.MaxNegotiationRounds {
		t.Errorf("max negotiation rounds = %d, want %d", request.MaxNegotiationRounds, cfg.MaxNegotiationRounds)
	}
	wantExpiry := time.Now().UTC().Add(cfg.RequestExpiry)
	if request.ExpiresAt.Before(wantExpiry.Add(-time.Minute)) || request.ExpiresAt.After(wantExpiry.Add(time.Minute)) {
		t.Errorf("expires_at = %s, want about %s", request.ExpiresAt, wantExpiry)
	}
}

func TestCreateRequestAsDraftStaysDraft(t *testing.T) {
	var created *domain.CollaborationRequest
	repo := &stubRepository{
		findCreatorByID: func(ctx context.Context, id uuid.UUID) (*domain.Creator, error) {
			return &domain.Creator{ID: id}, nil
		},
		createCollabRequest: func(ctx context.Context, req *domain.CollaborationRequest) error {
			created = req
			return nil
		},
	}
	machine := NewRequestStateMachine(repo, nil, testStateMachineConfig())

	start := time.Now().UTC().Add(48 * time.Hour)
	request, err := machine.CreateRequest(context.Background(), uuid.New(), domain.CreateCollabRequestPayload{
		CreatorID:         uuid.New(),
		ProposedBudget:    50000,
		ProposedStartDate: start,
		ProposedEndDate:   start.Add(7 * 24 * time.Hour),
		Draft:             true,
	})
	if err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}
	if created == nil {
		t.Fatal("request was never persisted")
	}
	if request.Status != domain.RequestStatusDraft {
		t.Errorf("status = %s, want draft", request.Status)
	}
}

func TestSubmitDraft(t *testing.T) {
	buyerID := uuid.New()
	creatorID := uuid.New()
	requestID := uuid.New()
	cfg := testStateMachineConfig()

	var gotExpiry time.Time
	repo := &stubRepository{
		findRequestByID: func(ctx context.Context, id uuid.UUID) (*domain.CollaborationRequest, error) {
			return &domain.CollaborationRequest{ID: id, BuyerID: buyerID, CreatorID: creatorID, Status: domain.RequestStatusDraft}, nil
		},
		findCreatorByID: func(ctx context.Context, id uuid.UUID) (*domain.Creator, error) {
			return &domain.Creator{ID: id}, nil
		},
		submitDraftRequest: func(ctx context.Context, id, bID uuid.UUID, expiresAt time.Time) (*domain.CollaborationRequest, error) {
			gotExpiry = expiresAt
			return &domain.CollaborationRequest{ID: id, BuyerID: bID, CreatorID: creatorID, Status: domain.RequestStatusPending, ExpiresAt: expiresAt}, nil
		},
	}
	machine := NewRequestStateMachine(repo, nil, cfg)

	request, err := machine.SubmitDraft(context.Background(), requestID, buyerID)
	if err != nil {
		t.Fatalf("SubmitDraft() error = %v", err)
	}
	if request.Status != domain.RequestStatusPending {
		t.Errorf("status = %s, want pending", request.Status)
	}
	wantExpiry := time.Now().UTC().Add(cfg.RequestExpiry)
	if gotExpiry.Before(wantExpiry.Add(-time.Minute)) || gotExpiry.After(wantExpiry.Add(time.Minute)) {
		t.Errorf("expires_at = %s, want about %s", gotExpiry, wantExpiry)
	}
}

func TestSubmitDraftHidesDraftFromStrangers(t *testing.T) {
	buyerID := uuid.New()
	repo := &stubRepository{
		findRequestByID: func(ctx context.Context, id uuid.UUID) (*domain.CollaborationRequest, error) {
			return &domain.CollaborationRequest{ID: id, BuyerID: buyerID, CreatorID: uuid.New(), Status: domain.RequestStatusDraft}, nil
		},
	}
	machine := NewRequestStateMachine(repo, nil, testStateMachineConfig())

	_, err := machine.SubmitDraft(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, store.ErrRequestNotFound) {
		t.Errorf("SubmitDraft() as stranger error = %v, want ErrRequestNotFound", err)
	}
}

func TestSubmitDraftRechecksSuspension(t *testing.T) {
	buyerID := uuid.New()
	suspendedUntil := time.Now().UTC().Add(48 * time.Hour)
	repo := &stubRepository{
		findRequestByID: func(ctx context.Context, id uuid.UUID) (*domain.CollaborationRequest, error) {
			return &domain.CollaborationRequest{ID: id, BuyerID: buyerID, CreatorID: uuid.New(), Status: domain.RequestStatusDraft}, nil
		},
		findCreatorByID: func(ctx context.Context, id uuid.UUID) (*domain.Creator, error) {
			return &domain.Creator{ID: id, SuspendedUntil: &suspendedUntil}, nil
		},
	}
	machine := NewRequestStateMachine(repo, nil, testStateMachineConfig())

	_, err := machine.SubmitDraft(context.Background(), uuid.New(), buyerID)
	if !errors.Is(err, ErrCreatorSuspended) {
		t.Errorf("SubmitDraft() error = %v, want ErrCreatorSuspended", err)
	}
}

func TestGetRequestHidesRequestFromStrangers(t *testing.T) {
	buyerID := uuid.New()
	creatorID := uuid.New()
	requestID := uuid.New()
	repo := &stubRepository{
		findRequestByID: func(ctx context.Context, id uuid.UUID) (*domain.CollaborationRequest, error) {
			return &domain.CollaborationRequest{ID: id, BuyerID: buyerID, CreatorID: creatorID}, nil
		},
	}
	machine := NewRequestStateMachine(repo, nil, testStateMachineConfig())

	if _, err := machine.GetRequest(context.Background(), requestID, buyerID); err != nil {
		t.Errorf("GetRequest() as buyer error = %v", err)
	}
	if _, err := machine.GetRequest(context.Background(), requestID, creatorID); err != nil {
		t.Errorf("GetRequest() as creator error = %v", err)
	}
	if _, err := machine.GetRequest(context.Background(), requestID, uuid.New()); !errors.Is(err, store.ErrRequestNotFound) {
		t.Errorf("GetRequest() as stranger error = %v, want ErrRequestNotFound", err)
	}
}

func TestDeclineRejectsShortReason(t *testing.T) {
	machine := NewRequestStateMachine(&stubRepository{}, nil, testStateMachineConfig())

	for _, reason := range []string{"", "too short", "   padded   "} {
		_, err := machine.Decline(context.Background(), uuid.New(), uuid.New(), reason)
		if !errors.Is(err, ErrDeclineReasonTooShort) {
			t.Errorf("Decline(%q) error = %v, want ErrDeclineReasonTooShort", reason, err)
		}
	}
}

func TestDeclineRecordsPenalty(t *testing.T) {
	creatorID := uuid.New()
	var gotThreshold int
	var gotSuspension time.Duration
	repo := &stubRepository{
		declineRequest: func(ctx context.Context, requestID, cID uuid.UUID, reason string) (*domain.CollaborationRequest, error) {
			return &domain.CollaborationRequest{ID: requestID, CreatorID: cID, Status: domain.RequestStatusDeclined}, nil
		},
		recordCreatorDecline: func(ctx context.Context, cID uuid.UUID, maxDeclines int, suspension time.Duration) (*domain.Creator, error) {
			gotThreshold = maxDeclines
			gotSuspension = suspension
			return &domain.Creator{ID: cID, DeclineCount: 1}, nil
		},
	}
	machine := NewRequestStateMachine(repo, nil, testStateMachineConfig())

	request, err := machine.Decline(context.Background(), uuid.New(), creatorID, "schedule conflict, fully booked this month")
	if err != nil {
		t.Fatalf("Decline() error = %v", err)
	}
	if request.Status != domain.RequestStatusDeclined {
		t.Errorf("status = %s, want declined", request.Status)
	}
	if gotThreshold != 2 {
		t.Errorf("decline threshold = %d, want 2", gotThreshold)
	}
	if gotSuspension != 3*24*time.Hour {
		t.Errorf("suspension window = %s, want 72h", gotSuspension)
	}
}

func TestDeclineStandsWhenPenaltyBookkeepingFails(t *testing.T) {
	repo := &stubRepository{
		declineRequest: func(ctx context.Context, requestID, creatorID uuid.UUID, reason string) (*domain.CollaborationRequest, error) {
			return &domain.CollaborationRequest{ID: requestID, Status: domain.RequestStatusDeclined}, nil
		},
		recordCreatorDecline: func(ctx context.Context, creatorID uuid.UUID, maxDeclines int, suspension time.Duration) (*domain.Creator, error) {
			return nil, errors.New("connection reset")
		},
	}
	machine := NewRequestStateMachine(repo, nil, testStateMachineConfig())

	request, err := machine.Decline(context.Background(), uuid.New(), uuid.New(), "budget does not cover production costs")
	if err != nil {
		t.Fatalf("Decline() error = %v, want nil despite penalty failure", err)
	}
	if request.Status != domain.RequestStatusDeclined {
		t.Errorf("status = %s, want declined", request.Status)
	}
}

func TestDeclineBelowThresholdEmitsWarning(t *testing.T) {
	producer := &capturingProducer{}
	repo := &stubRepository{
		declineRequest: func(ctx context.Context, requestID, creatorID uuid.UUID, reason string) (*domain.CollaborationRequest, error) {
			return &domain.CollaborationRequest{ID: requestID, CreatorID: creatorID, Status: domain.RequestStatusDeclined}, nil
		},
		recordCreatorDecline: func(ctx context.Context, creatorID uuid.UUID, maxDeclines int, suspension time.Duration) (*domain.Creator, error) {
			return &domain.Creator{ID: creatorID, DeclineCount: 1}, nil
		},
	}
	machine := NewRequestStateMachine(repo, producer, testStateMachineConfig())

	if _, err := machine.Decline(context.Background(), uuid.New(), uuid.New(), "schedule conflict, fully booked this month"); err != nil {
		t.Fatalf("Decline() error = %v", err)
	}
	if !producer.published("collab.creator.decline_warning") {
		t.Errorf("decline warning was not published, got routing keys %v", producer.routingKeys)
	}
	if !producer.published("collab.request.declined") {
		t.Errorf("declined event was not published, got routing keys %v", producer.routingKeys)
	}
}

func TestDeclineAtThresholdSkipsWarning(t *testing.T) {
	producer := &capturingProducer{}
	suspendedUntil := time.Now().UTC().Add(72 * time.Hour)
	repo := &stubRepository{
		declineRequest: func(ctx context.Context, requestID, creatorID uuid.UUID, reason string) (*domain.CollaborationRequest, error) {
			return &domain.CollaborationRequest{ID: requestID, CreatorID: creatorID, Status: domain.RequestStatusDeclined}, nil
		},
		recordCreatorDecline: func(ctx context.Context, creatorID uuid.UUID, maxDeclines int, suspension time.Duration) (*domain.Creator, error) {
			return &domain.Creator{ID: creatorID, SuspensionCount: 1, SuspendedUntil: &suspendedUntil}, nil
		},
	}
	machine := NewRequestStateMachine(repo, producer, testStateMachineConfig())

	if _, err := machine.Decline(context.Background(), uuid.New(), uuid.New(), "budget does not cover production costs"); err != nil {
		t.Fatalf("Decline() error = %v", err)
	}
	if producer.published("collab.creator.decline_warning") {
		t.Error("warning published although the decline opened a suspension")
	}
}

func TestLookupByReference(t *testing.T) {
	referenceCode := "REQ-COLLAB001"
	repo := &stubRepository{
		findRequestByReference: func(ctx context.Context, code string) (*domain.CollaborationRequest, error) {
			if code != referenceCode {
				return nil, store.ErrRequestNotFound
			}
			return &domain.CollaborationRequest{ID: uuid.New(), ReferenceCode: code}, nil
		},
	}
	machine := NewRequestStateMachine(repo, nil, testStateMachineConfig())

	request, err := machine.LookupByReference(context.Background(), "  "+referenceCode+"  ")
	if err != nil {
		t.Fatalf("LookupByReference() error = %v", err)
	}
	if request.ReferenceCode != referenceCode {
		t.Errorf("reference code = %s, want %s", request.ReferenceCode, referenceCode)
	}

	if _, err := machine.LookupByReference(context.Background(), "   "); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("LookupByReference(blank) error = %v, want ErrInvalidPayload", err)
	}
}

func TestSubmitContentValidation(t *testing.T) {
	machine := NewRequestStateMachine(&stubRepository{}, nil, testStateMachineConfig())

	tests := []struct {
		name string
		urls []string
	}{
		{name: "no urls", urls: nil},
		{name: "empty url", urls: []string{"https://example.com/v1", "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := machine.SubmitContent(context.Background(), uuid.New(), uuid.New(), domain.SubmitContentPayload{ContentURLs: tt.urls})
			if !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("SubmitContent() error = %v, want ErrInvalidPayload", err)
			}
		})
	}
}

func TestExpireStaleCountsExpiredRequests(t *testing.T) {
	expired := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	repo := &stubRepository{
		expireStaleRequests: func(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
			return expired, nil
		},
	}
	machine := NewRequestStateMachine(repo, nil, testStateMachineConfig())

	n, err := machine.ExpireStale(context.Background())
	if err != nil {
		t.Fatalf("ExpireStale() error = %v", err)
	}
	if n != len(expired) {
		t.Errorf("expired count = %d, want %d", n, len(expired))
	}
}
