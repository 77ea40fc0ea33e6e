/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access
 * operations the collab-service needs. Defining an interface decouples the business
 * logic from the PostgreSQL implementation and lets the app-layer tests substitute
 * lightweight stubs.
 *
 * Every state transition exposed here is a conditional single-row update keyed on
 * the expected current status: a guard miss changes nothing and is reported back to
 * the caller, never applied partially.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/collably/collab-service/internal/domain"
)

var (
	ErrRequestNotFound          = errors.New("collaboration request not found")
	ErrCreatorNotFound          = errors.New("creator not found")
	ErrBankAccountNotFound      = errors.New("bank account not found")
	ErrPaymentNotFound          = errors.New("payment not found")
	ErrPayoutNotFound           = errors.New("payout not found")
	ErrInvalidStateTransition   = errors.New("invalid state transition")
	ErrInsufficientBalance      = errors.New("insufficient available balance")
	ErrNegotiationRoundExceeded = errors.New("negotiation round limit exceeded")
	ErrDuplicateActivePayment   = errors.New("an active payment already exists for this request")
	ErrReconciliationConflict   = errors.New("gateway outcome conflicts with recorded terminal state")
)

// EscrowSettlement describes the result of an idempotent pending->escrow attempt.
type EscrowSettlement struct {
	Payment *domain.Payment
	Applied bool // false when a concurrent duplicate already advanced the payment
}

// EscrowRelease describes the result of an idempotent escrow->released attempt.
type EscrowRelease struct {
	Payment *domain.Payment
	Applied bool
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Creator and ledger-account methods
	FindCreatorByID(ctx context.Context, creatorID uuid.UUID) (*domain.Creator, error)
	// RecordCreatorDecline atomically increments the creator's decline count and,
	// when the threshold is reached, opens a suspension window and resets the count.
	RecordCreatorDecline(ctx context.Context, creatorID uuid.UUID, maxDeclines int, suspension time.Duration) (*domain.Creator, error)
	GetLedgerAccount(ctx context.Context, creatorID uuid.UUID) (*domain.LedgerAccount, error)
	FindBankAccountByID(ctx context.Context, bankAccountID, creatorID uuid.UUID) (*domain.BankAccount, error)
	SetBankAccountRecipientCode(ctx context.Context, bankAccountID uuid.UUID, recipientCode string) error

	// Collaboration request methods
	CreateCollabRequest(ctx context.Context, req *domain.CollaborationRequest) error
	FindRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.CollaborationRequest, error)
	FindRequestByReference(ctx context.Context, referenceCode string) (*domain.CollaborationRequest, error)
	ListRequestsByBuyer(ctx context.Context, buyerID uuid.UUID, opts domain.RequestListOptions) ([]domain.CollaborationRequest, error)
	ListRequestsByCreator(ctx context.Context, creatorID uuid.UUID, opts domain.RequestListOptions) ([]domain.CollaborationRequest, error)
	// SubmitDraftRequest moves a buyer's draft to pending and starts its expiry clock.
	SubmitDraftRequest(ctx context.Context, requestID, buyerID uuid.UUID, expiresAt time.Time) (*domain.CollaborationRequest, error)
	MarkRequestViewed(ctx context.Context, requestID, creatorID uuid.UUID) (*domain.CollaborationRequest, error)
	AcceptRequest(ctx context.Context, requestID, creatorID uuid.UUID) (*domain.CollaborationRequest, error)
	DeclineRequest(ctx context.Context, requestID, creatorID uuid.UUID, reason string) (*domain.CollaborationRequest, error)
	CancelRequest(ctx context.Context, requestID, buyerID uuid.UUID) (*domain.CollaborationRequest, error)
	MarkContractPending(ctx context.Context, requestID uuid.UUID) (*domain.CollaborationRequest, error)
	MarkContractSigned(ctx context.Context, requestID uuid.UUID) (*domain.CollaborationRequest, error)
	MarkRequestPaymentPending(ctx context.Context, requestID uuid.UUID) (*domain.CollaborationRequest, error)
	SubmitContent(ctx context.Context, requestID, creatorID uuid.UUID, contentURLs []string) (*domain.CollaborationRequest, error)
	RequestRevision(ctx context.Context, requestID, buyerID uuid.UUID) (*domain.CollaborationRequest, error)
	MarkRequestDisputed(ctx context.Context, requestID uuid.UUID) (*domain.CollaborationRequest, error)
	// ExpireStaleRequests flips every pre-acceptance request past its expiry to
	// expired in one conditional bulk update and returns the expired ids.
	ExpireStaleRequests(ctx context.Context, now time.Time) ([]uuid.UUID, error)

	// Negotiation methods
	AppendNegotiation(ctx context.Context, negotiation *domain.Negotiation) (*domain.CollaborationRequest, error)
	GetNegotiationHistory(ctx context.Context, requestID uuid.UUID) ([]domain.Negotiation, error)

	// Payment / escrow ledger methods
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	FindPaymentByReference(ctx context.Context, reference string) (*domain.Payment, error)
	FindActivePaymentByRequestID(ctx context.Context, requestID uuid.UUID) (*domain.Payment, error)
	MarkPaymentInitialized(ctx context.Context, reference string) (*domain.Payment, error)
	// SettleEscrow applies the single pending|initialized -> escrow transition,
	// credits the creator's pending earnings, and flips the request to in_progress,
	// all in one database transaction. A payment already at or past escrow is
	// returned with Applied=false.
	SettleEscrow(ctx context.Context, reference, gatewayTxID, channel string) (*EscrowSettlement, error)
	// ReleaseEscrow applies escrow -> released, moves the unrefunded creator
	// share from pending to available (+ lifetime total), and completes the
	// request, all in one database transaction.
	ReleaseEscrow(ctx context.Context, requestID uuid.UUID) (*EscrowRelease, error)
	// RefundEscrow debits the creator's pending earnings by the creator share of
	// the refunded amount without crediting the available balance. A partially
	// refunded payment may be refunded again until the amount is exhausted.
	RefundEscrow(ctx context.Context, paymentID uuid.UUID, refundAmount, creatorDebit int64) (*domain.Payment, error)
	MarkPaymentFailed(ctx context.Context, reference, failureReason string) (*domain.Payment, error)
	MarkPaymentCancelled(ctx context.Context, reference string) (*domain.Payment, error)
	// ListAutoReleasablePayments returns escrowed payments whose content has been
	// sitting unapproved since before the cutoff.
	ListAutoReleasablePayments(ctx context.Context, cutoff time.Time, limit int) ([]domain.Payment, error)

	// Payout methods
	// CreatePayoutWithDebit inserts the payout row and debits the creator's
	// available balance in one transaction; the debit is conditional on
	// sufficient funds.
	CreatePayoutWithDebit(ctx context.Context, payout *domain.Payout) error
	FindPayoutByReference(ctx context.Context, reference string) (*domain.Payout, error)
	ListPayoutsByCreator(ctx context.Context, creatorID uuid.UUID, limit, offset int) ([]domain.Payout, error)
	MarkPayoutProcessing(ctx context.Context, reference, transferCode string) (*domain.Payout, error)
	CompletePayout(ctx context.Context, reference string) (*domain.Payout, error)
	// FailPayout moves a pending|processing payout to failed or reversed and
	// credits the full amount back to the available balance in one transaction.
	FailPayout(ctx context.Context, reference string, terminal domain.PayoutStatus, failureReason string) (*domain.Payout, error)
}
