package app

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/collably/collab-service/internal/domain"
	"github.com/collably/collab-service/internal/store"
	"github.com/collably/collab-service/pkg/paystackclient"
)

// stubRepository embeds store.Repository so each test only overrides the
// methods it exercises; calling anything else panics with a nil dereference,
// which is exactly the signal we want in a unit test.
type stubRepository struct {
	store.Repository

	findCreatorByID             func(ctx context.Context, creatorID uuid.UUID) (*domain.Creator, error)
	recordCreatorDecline        func(ctx context.Context, creatorID uuid.UUID, maxDeclines int, suspension time.Duration) (*domain.Creator, error)
	createCollabRequest         func(ctx context.Context, req *domain.CollaborationRequest) error
	findRequestByID             func(ctx context.Context, requestID uuid.UUID) (*domain.CollaborationRequest, error)
	findRequestByReference      func(ctx context.Context, referenceCode string) (*domain.CollaborationRequest, error)
	submitDraftRequest          func(ctx context.Context, requestID, buyerID uuid.UUID, expiresAt time.Time) (*domain.CollaborationRequest, error)
	declineRequest              func(ctx context.Context, requestID, creatorID uuid.UUID, reason string) (*domain.CollaborationRequest, error)
	appendNegotiation           func(ctx context.Context, negotiation *domain.Negotiation) (*domain.CollaborationRequest, error)
	findPaymentByReference      func(ctx context.Context, reference string) (*domain.Payment, error)
	createPayment               func(ctx context.Context, payment *domain.Payment) error
	markRequestPaymentPending   func(ctx context.Context, requestID uuid.UUID) (*domain.CollaborationRequest, error)
	markPaymentInitialized      func(ctx context.Context, reference string) (*domain.Payment, error)
	markPaymentCancelled        func(ctx context.Context, reference string) (*domain.Payment, error)
	markPaymentFailed           func(ctx context.Context, reference, failureReason string) (*domain.Payment, error)
	settleEscrow                func(ctx context.Context, reference, gatewayTxID, channel string) (*store.EscrowSettlement, error)
	releaseEscrow               func(ctx context.Context, requestID uuid.UUID) (*store.EscrowRelease, error)
	refundEscrow                func(ctx context.Context, paymentID uuid.UUID, refundAmount, creatorDebit int64) (*domain.Payment, error)
	findBankAccountByID         func(ctx context.Context, bankAccountID, creatorID uuid.UUID) (*domain.BankAccount, error)
	setBankAccountRecipientCode func(ctx context.Context, bankAccountID uuid.UUID, recipientCode string) error
	createPayoutWithDebit       func(ctx context.Context, payout *domain.Payout) error
	markPayoutProcessing        func(ctx context.Context, reference, transferCode string) (*domain.Payout, error)
	completePayout              func(ctx context.Context, reference string) (*domain.Payout, error)
	failPayout                  func(ctx context.Context, reference string, terminal domain.PayoutStatus, failureReason string) (*domain.Payout, error)
	findPayoutByReference       func(ctx context.Context, reference string) (*domain.Payout, error)
	expireStaleRequests         func(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

func (s *stubRepository) ExpireStaleRequests(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return s.expireStaleRequests(ctx, now)
}

func (s *stubRepository) FindCreatorByID(ctx context.Context, creatorID uuid.UUID) (*domain.Creator, error) {
	return s.findCreatorByID(ctx, creatorID)
}

func (s *stubRepository) RecordCreatorDecline(ctx context.Context, creatorID uuid.UUID, maxDeclines int, suspension time.Duration) (*domain.Creator, error) {
	return s.recordCreatorDecline(ctx, creatorID, maxDeclines, suspension)
}

func (s *stubRepository) CreateCollabRequest(ctx context.Context, req *domain.CollaborationRequest) error {
	return s.createCollabRequest(ctx, req)
}

func (s *stubRepository) FindRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.CollaborationRequest, error) {
	return s.findRequestByID(ctx, requestID)
}

func (s *stubRepository) FindRequestByReference(ctx context.Context, referenceCode string) (*domain.CollaborationRequest, error) {
	return s.findRequestByReference(ctx, referenceCode)
}

func (s *stubRepository) SubmitDraftRequest(ctx context.Context, requestID, buyerID uuid.UUID, expiresAt time.Time) (*domain.CollaborationRequest, error) {
	return s.submitDraftRequest(ctx, requestID, buyerID, expiresAt)
}

func (s *stubRepository) DeclineRequest(ctx context.Context, requestID, creatorID uuid.UUID, reason string) (*domain.CollaborationRequest, error) {
	return s.declineRequest(ctx, requestID, creatorID, reason)
}

func (s *stubRepository) AppendNegotiation(ctx context.Context, negotiation *domain.Negotiation) (*domain.CollaborationRequest, error) {
	return s.appendNegotiation(ctx, negotiation)
}

func (s *stubRepository) FindPaymentByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	return s.findPaymentByReference(ctx, reference)
}

func (s *stubRepository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	return s.createPayment(ctx, payment)
}

func (s *stubRepository) MarkRequestPaymentPending(ctx context.Context, requestID uuid.UUID) (*domain.CollaborationRequest, error) {
	return s.markRequestPaymentPending(ctx, requestID)
}

func (s *stubRepository) MarkPaymentInitialized(ctx context.Context, reference string) (*domain.Payment, error) {
	return s.markPaymentInitialized(ctx, reference)
}

func (s *stubRepository) MarkPaymentCancelled(ctx context.Context, reference string) (*domain.Payment, error) {
	return s.markPaymentCancelled(ctx, reference)
}

func (s *stubRepository) MarkPaymentFailed(ctx context.Context, reference, failureReason string) (*domain.Payment, error) {
	return s.markPaymentFailed(ctx, reference, failureReason)
}

func (s *stubRepository) SettleEscrow(ctx context.Context, reference, gatewayTxID, channel string) (*store.EscrowSettlement, error) {
	return s.settleEscrow(ctx, reference, gatewayTxID, channel)
}

func (s *stubRepository) ReleaseEscrow(ctx context.Context, requestID uuid.UUID) (*store.EscrowRelease, error) {
	return s.releaseEscrow(ctx, requestID)
}

func (s *stubRepository) RefundEscrow(ctx context.Context, paymentID uuid.UUID, refundAmount, creatorDebit int64) (*domain.Payment, error) {
	return s.refundEscrow(ctx, paymentID, refundAmount, creatorDebit)
}

func (s *stubRepository) FindBankAccountByID(ctx context.Context, bankAccountID, creatorID uuid.UUID) (*domain.BankAccount, error) {
	return s.findBankAccountByID(ctx, bankAccountID, creatorID)
}

func (s *stubRepository) SetBankAccountRecipientCode(ctx context.Context, bankAccountID uuid.UUID, recipientCode string) error {
	return s.setBankAccountRecipientCode(ctx, bankAccountID, recipientCode)
}

func (s *stubRepository) CreatePayoutWithDebit(ctx context.Context, payout *domain.Payout) error {
	return s.createPayoutWithDebit(ctx, payout)
}

func (s *stubRepository) MarkPayoutProcessing(ctx context.Context, reference, transferCode string) (*domain.Payout, error) {
	return s.markPayoutProcessing(ctx, reference, transferCode)
}

func (s *stubRepository) CompletePayout(ctx context.Context, reference string) (*domain.Payout, error) {
	return s.completePayout(ctx, reference)
}

func (s *stubRepository) FailPayout(ctx context.Context, reference string, terminal domain.PayoutStatus, failureReason string) (*domain.Payout, error) {
	return s.failPayout(ctx, reference, terminal, failureReason)
}

func (s *stubRepository) FindPayoutByReference(ctx context.Context, reference string) (*domain.Payout, error) {
	return s.findPayoutByReference(ctx, reference)
}

// capturingProducer records every published routing key so tests can assert on
// the event stream without a broker.
type capturingProducer struct {
	routingKeys []string
}

func (p *capturingProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.routingKeys = append(p.routingKeys, routingKey)
	return nil
}

func (p *capturingProducer) Close() {}

func (p *capturingProducer) published(routingKey string) bool {
	for _, key := range p.routingKeys {
		if key == routingKey {
			return true
		}
	}
	return false
}

// stubGateway implements Gateway with overridable function fields.
type stubGateway struct {
	initializeCharge  func(ctx context.Context, req paystackclient.ChargeRequest) (*paystackclient.ChargeAuthorization, error)
	verifyTransaction func(ctx context.Context, reference string) (*paystackclient.TransactionData, error)
	createRecipient   func(ctx context.Context, req paystackclient.RecipientRequest) (*paystackclient.Recipient, error)
	initiateTransfer  func(ctx context.Context, req paystackclient.TransferRequest) (*paystackclient.TransferData, error)
}

func (g *stubGateway) InitializeCharge(ctx context.Context, req paystackclient.ChargeRequest) (*paystackclient.ChargeAuthorization, error) {
	return g.initializeCharge(ctx, req)
}

func (g *stubGateway) VerifyTransaction(ctx context.Context, reference string) (*paystackclient.TransactionData, error) {
	return g.verifyTransaction(ctx, reference)
}

func (g *stubGateway) CreateRecipient(ctx context.Context, req paystackclient.RecipientRequest) (*paystackclient.Recipient, error) {
	return g.createRecipient(ctx, req)
}

func (g *stubGateway) InitiateTransfer(ctx context.Context, req paystackclient.TransferRequest) (*paystackclient.TransferData, error) {
	return g.initiateTransfer(ctx, req)
}
