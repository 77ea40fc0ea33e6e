package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/collably/collab-service/internal/domain"
	"github.com/collably/collab-service/internal/store"
	"github.com/collably/collab-service/pkg/paystackclient"
)

func TestRequestPayoutRejectsBelowMinimum(t *testing.T) {
	orchestrator := NewPayoutOrchestrator(&stubRepository{}, nil, 5000)

	_, err := orchestrator.RequestPayout(context.Background(), uuid.New(), domain.CreatePayoutPayload{
		BankAccountID: uuid.New(),
		Amount:        4999,
	})
	if !errors.Is(err, ErrBelowMinimumPayout) {
		t.Fatalf("RequestPayout() error = %v, want ErrBelowMinimumPayout", err)
	}
}

func TestRequestPayoutPropagatesInsufficientBalance(t *testing.T) {
	recipientCode := "RCP_cached"
	repo := &stubRepository{
		findBankAccountByID: func(ctx context.Context, bankAccountID, creatorID uuid.UUID) (*domain.BankAccount, error) {
			return &domain.BankAccount{ID: bankAccountID, CreatorID: creatorID, RecipientCode: &recipientCode}, nil
		},
		createPayoutWithDebit: func(ctx context.Context, payout *domain.Payout) error {
			return store.ErrInsufficientBalance
		},
	}
	orchestrator := NewPayoutOrchestrator(repo, nil, 5000)

	_, err := orchestrator.RequestPayout(context.Background(), uuid.New(), domain.CreatePayoutPayload{
		BankAccountID: uuid.New(),
		Amount:        250000,
	})
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("RequestPayout() error = %v, want ErrInsufficientBalance", err)
	}
}

func TestRequestPayoutCreditsBackOnGatewayFailure(t *testing.T) {
	recipientCode := "RCP_cached"
	var failedReference string
	var failedTerminal domain.PayoutStatus
	repo := &stubRepository{
		findBankAccountByID: func(ctx context.Context, bankAccountID, creatorID uuid.UUID) (*domain.BankAccount, error) {
			return &domain.BankAccount{ID: bankAccountID, CreatorID: creatorID, RecipientCode: &recipientCode}, nil
		},
		createPayoutWithDebit: func(ctx context.Context, payout *domain.Payout) error { return nil },
		failPayout: func(ctx context.Context, reference string, terminal domain.PayoutStatus, reason string) (*domain.Payout, error) {
			failedReference = reference
			failedTerminal = terminal
			return &domain.Payout{Reference: reference, Status: terminal}, nil
		},
	}
	gateway := &stubGateway{
		initiateTransfer: func(ctx context.Context, req paystackclient.TransferRequest) (*paystackclient.TransferData, error) {
			return nil, paystackclient.ErrGatewayUnavailable
		},
	}
	orchestrator := NewPayoutOrchestrator(repo, gateway, 5000)

	_, err := orchestrator.RequestPayout(context.Background(), uuid.New(), domain.CreatePayoutPayload{
		BankAccountID: uuid.New(),
		Amount:        50000,
	})
	if err == nil {
		t.Fatal("RequestPayout() succeeded despite gateway failure")
	}
	if failedReference == "" {
		t.Fatal("provisional debit was never credited back")
	}
	if failedTerminal != domain.PayoutStatusFailed {
		t.Errorf("payout failed with terminal %s, want failed", failedTerminal)
	}
}

func TestRequestPayoutResolvesAndCachesRecipient(t *testing.T) {
	bankAccountID := uuid.New()
	createCalls := 0
	var cachedCode string
	var transferRecipient string
	repo := &stubRepository{
		findBankAccountByID: func(ctx context.Context, id, creatorID uuid.UUID) (*domain.BankAccount, error) {
			return &domain.BankAccount{
				ID:            id,
				CreatorID:     creatorID,
				AccountName:   "Ada Obi",
				AccountNumber: "0123456789",
				BankCode:      "058",
			}, nil
		},
		setBankAccountRecipientCode: func(ctx context.Context, id uuid.UUID, code string) error {
			cachedCode = code
			return nil
		},
		createPayoutWithDebit: func(ctx context.Context, payout *domain.Payout) error { return nil },
		markPayoutProcessing: func(ctx context.Context, reference, transferCode string) (*domain.Payout, error) {
			return &domain.Payout{Reference: reference, TransferCode: &transferCode, Status: domain.PayoutStatusProcessing}, nil
		},
	}
	gateway := &stubGateway{
		createRecipient: func(ctx context.Context, req paystackclient.RecipientRequest) (*paystackclient.Recipient, error) {
			createCalls++
			return &paystackclient.Recipient{RecipientCode: "RCP_new", Active: true}, nil
		},
		initiateTransfer: func(ctx context.Context, req paystackclient.TransferRequest) (*paystackclient.TransferData, error) {
			transferRecipient = req.Recipient
			return &paystackclient.TransferData{TransferCode: "TRF_abc", Status: "pending", Reference: req.Reference}, nil
		},
	}
	orchestrator := NewPayoutOrchestrator(repo, gateway, 5000)

	payout, err := orchestrator.RequestPayout(context.Background(), uuid.New(), domain.CreatePayoutPayload{
		BankAccountID: bankAccountID,
		Amount:        50000,
	})
	if err != nil {
		t.Fatalf("RequestPayout() error = %v", err)
	}
	if createCalls != 1 {
		t.Errorf("CreateRecipient called %d times, want 1", createCalls)
	}
	if cachedCode != "RCP_new" {
		t.Errorf("cached recipient code = %q, want RCP_new", cachedCode)
	}
	if transferRecipient != "RCP_new" {
		t.Errorf("transfer recipient = %q, want RCP_new", transferRecipient)
	}
	if payout.Status != domain.PayoutStatusProcessing {
		t.Errorf("payout status = %s, want processing", payout.Status)
	}
}

func TestRequestPayoutSkipsRecipientCreationWhenCached(t *testing.T) {
	cached := "RCP_cached"
	repo := &stubRepository{
		findBankAccountByID: func(ctx context.Context, id, creatorID uuid.UUID) (*domain.BankAccount, error) {
			return &domain.BankAccount{ID: id, CreatorID: creatorID, RecipientCode: &cached}, nil
		},
		createPayoutWithDebit: func(ctx context.Context, payout *domain.Payout) error { return nil },
		markPayoutProcessing: func(ctx context.Context, reference, transferCode string) (*domain.Payout, error) {
			return &domain.Payout{Reference: reference, Status: domain.PayoutStatusProcessing}, nil
		},
	}
	gateway := &stubGateway{
		// createRecipient left nil: calling it would panic the test.
		initiateTransfer: func(ctx context.Context, req paystackclient.TransferRequest) (*paystackclient.TransferData, error) {
			if req.Recipient != cached {
				t.Errorf("transfer recipient = %q, want cached %q", req.Recipient, cached)
			}
			return &paystackclient.TransferData{TransferCode: "TRF_abc"}, nil
		},
	}
	orchestrator := NewPayoutOrchestrator(repo, gateway, 5000)

	if _, err := orchestrator.RequestPayout(context.Background(), uuid.New(), domain.CreatePayoutPayload{
		BankAccountID: uuid.New(),
		Amount:        50000,
	}); err != nil {
		t.Fatalf("RequestPayout() error = %v", err)
	}
}
