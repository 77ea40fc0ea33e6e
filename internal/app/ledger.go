/**
 * @description
 * This file contains the escrow money-movement logic. `EscrowLedger` computes the
 * platform fee split with fixed-point arithmetic and drives the payment
 * transitions (escrow credit, release, refund) through the store's transactional
 * methods.
 *
 * Key features:
 * - SplitFee guarantees platformFee + creatorPayout == amount exactly for every
 *   input, with the fee rounded half-up from basis points.
 * - Release and refund publish ledger events to RabbitMQ; the database moves are
 *   already committed when the events go out, so publish failures only cost the
 *   notification, never the money.
 *
 * @dependencies
 * - context, fmt, log, time: Standard Go libraries.
 * - github.com/shopspring/decimal: Fixed-point fee arithmetic.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For publishing ledger events.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/collably/collab-service/internal/domain"
	"github.com/collably/collab-service/internal/store"
	"github.com/collably/collab-service/pkg/rabbitmq"
)

// EscrowLedger owns the payment fee split and the escrow release/refund moves.
type EscrowLedger struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher
	feeBPS        int32
}

// NewEscrowLedger creates a new escrow ledger service. feeBPS is the platform
// fee rate in basis points (1000 = 10%).
func NewEscrowLedger(repo store.Repository, producer rabbitmq.Publisher, feeBPS int32) *EscrowLedger {
	return &EscrowLedger{repo: repo, eventProducer: producer, feeBPS: feeBPS}
}

// FeeBPS returns the configured platform fee rate in basis points.
func (l *EscrowLedger) FeeBPS() int32 {
	return l.feeBPS
}

// SplitFee computes (platformFee, creatorPayout) for an amount in minor units.
// The fee is amount * bps / 10000 rounded half-up; the payout is the remainder,
// so the two always sum back to the amount.
func SplitFee(amount int64, feeBPS int32) (platformFee, creatorPayout int64) {
	fee := decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(int64(feeBPS))).
		Div(decimal.NewFromInt(10000)).
		Round(0)
	platformFee = fee.IntPart()
	creatorPayout = amount - platformFee
	return platformFee, creatorPayout
}

// NewPayment builds the pending payment record for a funded request, with the
// fee split locked in at creation time.
func (l *EscrowLedger) NewPayment(request *domain.CollaborationRequest, reference string) *domain.Payment {
	amount := request.CurrentBudget()
	if request.FinalBudget != nil {
		amount = *request.FinalBudget
	}
	platformFee, creatorPayout := SplitFee(amount, l.feeBPS)
	return &domain.Payment{
		ID:               uuid.New(),
		RequestID:        request.ID,
		BuyerID:          request.BuyerID,
		CreatorID:        request.CreatorID,
		Amount:           amount,
		PlatformFee:      platformFee,
		FeeBPS:           l.feeBPS,
		CreatorPayout:    creatorPayout,
		Currency:         request.Currency,
		GatewayReference: reference,
		Status:           domain.PaymentStatusPending,
	}
}

// Release moves an escrowed payment to released, shifts the creator payout from
// pending to available earnings and completes the request, all in one database
// transaction. Replays are no-op successes.
func (l *EscrowLedger) Release(ctx context.Context, requestID uuid.UUID) (*store.EscrowRelease, error) {
	release, err := l.repo.ReleaseEscrow(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to release escrow: %w", err)
	}
	if !release.Applied {
		log.Printf("level=info component=escrow_ledger msg=\"release replay ignored\" request_id=%s", requestID)
		return release, nil
	}

	l.publish(ctx, "collab.payment.released", rabbitmq.PaymentLifecycleEvent{
		RequestID:        release.Payment.RequestID,
		CreatorID:        release.Payment.CreatorID,
		GatewayReference: release.Payment.GatewayReference,
		Amount:           release.Payment.Amount,
		PlatformFee:      release.Payment.PlatformFee,
		CreatorPayout:    release.Payment.CreatorPayout,
		Status:           string(release.Payment.Status),
		Timestamp:        time.Now().UTC(),
	})
	return release, nil
}

// Refund returns part or all of an escrowed payment to the buyer and debits the
// creator's pending earnings by the creator share of the refunded amount. The
// platform keeps its fee share of what it keeps; a full refund debits exactly
// the original creator payout.
func (l *EscrowLedger) Refund(ctx context.Context, paymentID uuid.UUID, refundAmount int64) (*domain.Payment, error) {
	if refundAmount <= 0 {
		return nil, fmt.Errorf("%w: refund amount must be positive", ErrInvalidPayload)
	}
	_, creatorDebit := SplitFee(refundAmount, l.feeBPS)
	payment, err := l.repo.RefundEscrow(ctx, paymentID, refundAmount, creatorDebit)
	if err != nil {
		return nil, fmt.Errorf("failed to refund escrow: %w", err)
	}

	l.publish(ctx, "collab.payment.refunded", rabbitmq.PaymentLifecycleEvent{
		RequestID:        payment.RequestID,
		CreatorID:        payment.CreatorID,
		GatewayReference: payment.GatewayReference,
		Amount:           refundAmount,
		CreatorPayout:    creatorDebit,
		Status:           string(payment.Status),
		Timestamp:        time.Now().UTC(),
	})
	return payment, nil
}

// GetBalances returns the creator's three earnings balances.
func (l *EscrowLedger) GetBalances(ctx context.Context, creatorID uuid.UUID) (*domain.LedgerAccount, error) {
	return l.repo.GetLedgerAccount(ctx, creatorID)
}

func (l *EscrowLedger) publish(ctx context.Context, routingKey string, event rabbitmq.PaymentLifecycleEvent) {
	if l.eventProducer == nil {
		return
	}
	if err := l.eventProducer.Publish(ctx, rabbitmq.CollabEventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=escrow_ledger msg=\"event publish failed\" routing_key=%s reference=%s err=%v", routingKey, event.GatewayReference, err)
	}
}
