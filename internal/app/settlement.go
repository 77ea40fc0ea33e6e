/**
 * @description
 * This file contains the settlement façade. `SettlementCoordinator` is the single
 * entry point for charge initialization and for reconciling gateway outcomes
 * against the payment ledger. The synchronous verify endpoint and the webhook
 * consumer both converge on the same ReconcileCharge/ReconcileTransfer methods,
 * so a charge observed twice settles exactly once.
 *
 * Key features:
 * - The gateway reference is the idempotency key throughout.
 * - A gateway outcome that contradicts a recorded terminal state surfaces
 *   store.ErrReconciliationConflict and is never written over the ledger.
 *
 * @dependencies
 * - context, errors, fmt, log, strings, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/paystackclient, pkg/rabbitmq: For external service communication.
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
	"github.com/collably/collab-service/pkg/paystackclient"
	"github.com/collably/collab-service/pkg/rabbitmq"
)

// Gateway abstracts the payment gateway operations the settlement and payout
// flows need. *paystackclient.Client satisfies it.
type Gateway interface {
	InitializeCharge(ctx context.Context, req paystackclient.ChargeRequest) (*paystackclient.ChargeAuthorization, error)
	VerifyTransaction(ctx context.Context, reference string) (*paystackclient.TransactionData, error)
	CreateRecipient(ctx context.Context, req paystackclient.RecipientRequest) (*paystackclient.Recipient, error)
	InitiateTransfer(ctx context.Context, req paystackclient.TransferRequest) (*paystackclient.TransferData, error)
}

// SettlementCoordinator reconciles gateway charge and transfer outcomes against
// the escrow ledger and payout records.
type SettlementCoordinator struct {
	repo          store.Repository
	gateway       Gateway
	ledger        *EscrowLedger
	eventProducer rabbitmq.Publisher
}

// NewSettlementCoordinator creates a new settlement service.
func NewSettlementCoordinator(repo store.Repository, gateway Gateway, ledger *EscrowLedger, producer rabbitmq.Publisher) *SettlementCoordinator {
	return &SettlementCoordinator{repo: repo, gateway: gateway, ledger: ledger, eventProducer: producer}
}

// newPaymentReference derives the gateway charge reference for a new payment.
func newPaymentReference(id uuid.UUID) string {
	return "PAY-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:16])
}

// InitializePayment creates the pending payment for an accepted request and asks
// the gateway for a checkout authorization. At most one payment per request is
// active; a second initialize while one is in flight fails with
// store.ErrDuplicateActivePayment.
func (c *SettlementCoordinator) InitializePayment(ctx context.Context, requestID, buyerID uuid.UUID, buyerEmail string) (*domain.InitializePaymentResult, error) {
	request, err := c.repo.FindRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.BuyerID != buyerID {
		return nil, store.ErrRequestNotFound
	}
	// Only an accepted deal can be funded. payment_pending stays fundable so the
	// buyer can retry after a cancelled or failed charge.
	switch request.Status {
	case domain.RequestStatusAccepted, domain.RequestStatusContractSigned, domain.RequestStatusPaymentPending:
	default:
		return nil, fmt.Errorf("%w: request %s is %s", store.ErrInvalidStateTransition, requestID, request.Status)
	}

	payment := c.ledger.NewPayment(request, newPaymentReference(uuid.New()))
	if err := c.repo.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}

	// The request flips to payment_pending alongside the first payment. A retry
	// after a cancelled charge finds it already flipped; that miss is harmless.
	if _, err := c.repo.MarkRequestPaymentPending(ctx, requestID); err != nil &&
		!errors.Is(err, store.ErrInvalidStateTransition) {
		log.Printf("level=warn component=settlement_coordinator msg=\"payment_pending flip failed\" request_id=%s err=%v", requestID, err)
	}

	auth, err := c.gateway.InitializeCharge(ctx, paystackclient.ChargeRequest{
		Email:     buyerEmail,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Reference: payment.GatewayReference,
	})
	if err != nil {
		// Free the one-active-payment slot so the buyer can retry.
		if _, cancelErr := c.repo.MarkPaymentCancelled(ctx, payment.GatewayReference); cancelErr != nil {
			log.Printf("level=error component=settlement_coordinator msg=\"failed to cancel payment after gateway error\" reference=%s err=%v", payment.GatewayReference, cancelErr)
		}
		return nil, fmt.Errorf("gateway charge initialization failed: %w", err)
	}

	initialized, err := c.repo.MarkPaymentInitialized(ctx, payment.GatewayReference)
	if err != nil {
		return nil, fmt.Errorf("failed to mark payment initialized: %w", err)
	}

	log.Printf("level=info component=settlement_coordinator msg=\"payment initialized\" request_id=%s reference=%s amount=%d fee=%d", requestID, payment.GatewayReference, payment.Amount, payment.PlatformFee)
	return &domain.InitializePaymentResult{
		Payment:          initialized,
		AuthorizationURL: auth.AuthorizationURL,
	}, nil
}

// VerifyPayment polls the gateway for a charge outcome and reconciles it. The
// buyer-facing verify endpoint and a webhook can race here; reconciliation is
// idempotent either way.
func (c *SettlementCoordinator) VerifyPayment(ctx context.Context, reference string) (*domain.Payment, error) {
	payment, err := c.repo.FindPaymentByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	// Nothing the gateway reports can move a payment out of a terminal state.
	if payment.Status.IsTerminal() {
		return payment, nil
	}

	tx, err := c.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("gateway verify failed: %w", err)
	}
	return c.ReconcileCharge(ctx, domain.ChargeStatusEvent{
		Reference:   reference,
		Status:      tx.Status,
		Channel:     tx.Channel,
		GatewayTxID: fmt.Sprintf("%d", tx.ID),
		Amount:      tx.Amount,
		Currency:    tx.Currency,
		Reason:      tx.GatewayResponse,
		OccurredAt:  time.Now().UTC(),
	})
}

// ReconcileCharge applies one gateway charge outcome to the payment identified
// by its reference. Duplicate deliveries of the same outcome are no-op
// successes; an outcome contradicting a terminal state is a conflict.
func (c *SettlementCoordinator) ReconcileCharge(ctx context.Context, event domain.ChargeStatusEvent) (*domain.Payment, error) {
	switch strings.ToLower(event.Status) {
	case "success":
		return c.applyChargeSuccess(ctx, event)
	case "failed", "abandoned", "reversed":
		return c.applyChargeFailure(ctx, event)
	default:
		return nil, fmt.Errorf("unknown charge status %q for reference %s", event.Status, event.Reference)
	}
}

func (c *SettlementCoordinator) applyChargeSuccess(ctx context.Context, event domain.ChargeStatusEvent) (*domain.Payment, error) {
	payment, err := c.repo.FindPaymentByReference(ctx, event.Reference)
	if err != nil {
		return nil, err
	}
	if event.Amount > 0 && event.Amount != payment.Amount {
		return nil, fmt.Errorf("%w: gateway reports amount %d, payment %s recorded %d", store.ErrReconciliationConflict, event.Amount, event.Reference, payment.Amount)
	}

	settlement, err := c.repo.SettleEscrow(ctx, event.Reference, event.GatewayTxID, event.Channel)
	if err != nil {
		return nil, fmt.Errorf("failed to settle escrow: %w", err)
	}
	if !settlement.Applied {
		switch settlement.Payment.Status {
		case domain.PaymentStatusEscrow, domain.PaymentStatusReleased,
			domain.PaymentStatusPartiallyRefunded, domain.PaymentStatusRefunded:
			// Replay of an outcome already applied.
			log.Printf("level=info component=settlement_coordinator msg=\"charge success replay ignored\" reference=%s status=%s", event.Reference, settlement.Payment.Status)
			return settlement.Payment, nil
		default:
			return nil, fmt.Errorf("%w: success event for payment %s in state %s", store.ErrReconciliationConflict, event.Reference, settlement.Payment.Status)
		}
	}

	log.Printf("level=info component=settlement_coordinator msg=\"payment escrowed\" reference=%s amount=%d creator_payout=%d", event.Reference, settlement.Payment.Amount, settlement.Payment.CreatorPayout)
	c.publishPayment(ctx, "collab.payment.escrowed", settlement.Payment, "")
	return settlement.Payment, nil
}

func (c *SettlementCoordinator) applyChargeFailure(ctx context.Context, event domain.ChargeStatusEvent) (*domain.Payment, error) {
	payment, err := c.repo.MarkPaymentFailed(ctx, event.Reference, event.Reason)
	if err == nil {
		log.Printf("level=info component=settlement_coordinator msg=\"payment failed\" reference=%s reason=%q", event.Reference, event.Reason)
		c.publishPayment(ctx, "collab.payment.failed", payment, event.Reason)
		return payment, nil
	}
	if !errors.Is(err, store.ErrInvalidStateTransition) {
		return nil, err
	}

	existing, findErr := c.repo.FindPaymentByReference(ctx, event.Reference)
	if findErr != nil {
		return nil, findErr
	}
	switch existing.Status {
	case domain.PaymentStatusFailed, domain.PaymentStatusCancelled:
		return existing, nil
	default:
		return nil, fmt.Errorf("%w: failure event for payment %s in state %s", store.ErrReconciliationConflict, event.Reference, existing.Status)
	}
}

// ReconcileTransfer applies one gateway transfer outcome to the payout
// identified by its reference. Failure and reversal both credit the provisional
// debit back inside the store transaction.
func (c *SettlementCoordinator) ReconcileTransfer(ctx context.Context, event domain.TransferStatusEvent) (*domain.Payout, error) {
	var (
		payout *domain.Payout
		err    error
	)
	status := strings.ToLower(event.Status)
	switch status {
	case "success":
		payout, err = c.repo.CompletePayout(ctx, event.Reference)
	case "failed":
		payout, err = c.repo.FailPayout(ctx, event.Reference, domain.PayoutStatusFailed, event.Reason)
	case "reversed":
		payout, err = c.repo.FailPayout(ctx, event.Reference, domain.PayoutStatusReversed, event.Reason)
	default:
		return nil, fmt.Errorf("unknown transfer status %q for reference %s", event.Status, event.Reference)
	}
	if err == nil {
		log.Printf("level=info component=settlement_coordinator msg=\"payout reconciled\" reference=%s status=%s", event.Reference, payout.Status)
		c.publishPayout(ctx, "collab.payout."+status, payout, event.Reason)
		return payout, nil
	}
	if !errors.Is(err, store.ErrInvalidStateTransition) {
		return nil, err
	}

	existing, findErr := c.repo.FindPayoutByReference(ctx, event.Reference)
	if findErr != nil {
		return nil, findErr
	}
	if sameTransferOutcome(existing.Status, status) {
		return existing, nil
	}
	return nil, fmt.Errorf("%w: %s event for payout %s in state %s", store.ErrReconciliationConflict, event.Status, event.Reference, existing.Status)
}

func sameTransferOutcome(status domain.PayoutStatus, outcome string) bool {
	switch outcome {
	case "success":
		return status == domain.PayoutStatusCompleted
	case "failed":
		return status == domain.PayoutStatusFailed
	case "reversed":
		return status == domain.PayoutStatusReversed
	}
	return false
}

// ApproveContent is the buyer's acceptance of submitted content. The request
// completes and the escrow releases in the same database transaction.
func (c *SettlementCoordinator) ApproveContent(ctx context.Context, requestID, buyerID uuid.UUID) (*store.EscrowRelease, error) {
	request, err := c.repo.FindRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.BuyerID != buyerID {
		return nil, store.ErrRequestNotFound
	}
	if request.Status != domain.RequestStatusContentSubmitted {
		return nil, fmt.Errorf("%w: request %s is %s", store.ErrInvalidStateTransition, requestID, request.Status)
	}
	return c.ledger.Release(ctx, requestID)
}

func (c *SettlementCoordinator) publishPayment(ctx context.Context, routingKey string, payment *domain.Payment, reason string) {
	if c.eventProducer == nil {
		return
	}
	event := rabbitmq.PaymentLifecycleEvent{
		RequestID:        payment.RequestID,
		CreatorID:        payment.CreatorID,
		GatewayReference: payment.GatewayReference,
		Amount:           payment.Amount,
		PlatformFee:      payment.PlatformFee,
		CreatorPayout:    payment.CreatorPayout,
		Status:           string(payment.Status),
		Reason:           reason,
		Timestamp:        time.Now().UTC(),
	}
	if err := c.eventProducer.Publish(ctx, rabbitmq.CollabEventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=settlement_coordinator msg=\"event publish failed\" routing_key=%s reference=%s err=%v", routingKey, payment.GatewayReference, err)
	}
}

func (c *SettlementCoordinator) publishPayout(ctx context.Context, routingKey string, payout *domain.Payout, reason string) {
	if c.eventProducer == nil {
		return
	}
	event := rabbitmq.PaymentLifecycleEvent{
		CreatorID:        payout.CreatorID,
		GatewayReference: payout.Reference,
		Amount:           payout.Amount,
		Status:           string(payout.Status),
		Reason:           reason,
		Timestamp:        time.Now().UTC(),
	}
	if err := c.eventProducer.Publish(ctx, rabbitmq.CollabEventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=settlement_coordinator msg=\"event publish failed\" routing_key=%s reference=%s err=%v", routingKey, payout.Reference, err)
	}
}
