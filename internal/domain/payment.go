/**
 * @description
 * This file defines the escrow-payment and payout domain models: the Payment ledger
 * record held against a collaboration request, the creator's three-balance ledger
 * account, and the Payout withdrawal record.
 *
 * @notes
 * - `Amount == PlatformFee + CreatorPayout` holds exactly for every Payment; the
 *   split is computed with fixed-point arithmetic, never floats.
 * - FeeBPS stores the platform fee rate in basis points (1000 = 10%) so the rate
 *   itself is integer-safe.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus enumerates the escrow-payment lifecycle states.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusInitialized       PaymentStatus = "initialized"
	PaymentStatusEscrow            PaymentStatus = "escrow"
	PaymentStatusReleased          PaymentStatus = "released"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusCancelled         PaymentStatus = "cancelled"
)

// IsTerminal reports whether a payment in this status can never transition again.
// partially_refunded is not terminal: the unrefunded remainder can still be
// refunded further or released.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusReleased, PaymentStatusRefunded,
		PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

// Active reports whether the payment still occupies the one-active-payment slot
// for its request.
func (s PaymentStatus) Active() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusInitialized, PaymentStatusEscrow:
		return true
	}
	return false
}

// Payment is the escrow ledger record for one funded collaboration request.
// At most one payment per request is non-terminal at any time.
// RefundedCreatorShare accumulates the creator-side debits across refunds, so a
// release after partial refunds moves exactly what is still pending.
type Payment struct {
	ID                   uuid.UUID     `json:"id"`
	RequestID            uuid.UUID     `json:"request_id"`
	BuyerID              uuid.UUID     `json:"buyer_id"`
	CreatorID            uuid.UUID     `json:"creator_id"`
	Amount               int64         `json:"amount"` // in minor units
	PlatformFee          int64         `json:"platform_fee"`
	FeeBPS               int32         `json:"fee_bps"`
	CreatorPayout        int64         `json:"creator_payout"`
	Currency             string        `json:"currency"`
	GatewayReference     string        `json:"gateway_reference"`
	GatewayTxID          *string       `json:"gateway_tx_id,omitempty"`
	Channel              *string       `json:"channel,omitempty"`
	Status               PaymentStatus `json:"status"`
	FailureReason        *string       `json:"failure_reason,omitempty"`
	RefundedAmount       int64         `json:"refunded_amount"`
	RefundedCreatorShare int64         `json:"refunded_creator_share"`
	EscrowedAt           *time.Time    `json:"escrowed_at,omitempty"`
	ReleasedAt           *time.Time    `json:"released_at,omitempty"`
	RefundedAt           *time.Time    `json:"refunded_at,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// LedgerAccount holds the creator's three earnings balances. All mutations are
// single atomic increments/decrements in the store; balances never go negative.
type LedgerAccount struct {
	CreatorID        uuid.UUID `json:"creator_id"`
	PendingEarnings  int64     `json:"pending_earnings"`  // escrowed, not yet released
	AvailableBalance int64     `json:"available_balance"` // released, withdrawable
	TotalEarnings    int64     `json:"total_earnings"`    // lifetime released
	UpdatedAt        time.Time `json:"updated_at"`
}

// PayoutStatus enumerates the withdrawal lifecycle states.
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusReversed   PayoutStatus = "reversed"
)

// IsTerminal reports whether a payout in this status can never transition again.
func (s PayoutStatus) IsTerminal() bool {
	switch s {
	case PayoutStatusCompleted, PayoutStatusFailed, PayoutStatusReversed:
		return true
	}
	return false
}

// Payout is one withdrawal request. The available balance is debited atomically
// with record creation (a provisional debit); a failed or reversed transfer
// credits the full amount back.
type Payout struct {
	ID            uuid.UUID    `json:"id"`
	CreatorID     uuid.UUID    `json:"creator_id"`
	BankAccountID uuid.UUID    `json:"bank_account_id"`
	Amount        int64        `json:"amount"` // in minor units
	Currency      string       `json:"currency"`
	Reference     string       `json:"reference"`
	TransferCode  *string      `json:"transfer_code,omitempty"`
	Status        PayoutStatus `json:"status"`
	FailureReason *string      `json:"failure_reason,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// InitializePaymentResult is returned to the buyer after a charge is initialized.
type InitializePaymentResult struct {
	Payment          *Payment `json:"payment"`
	AuthorizationURL string   `json:"authorization_url"`
}

// CreatePayoutPayload is the DTO for incoming payout API requests.
type CreatePayoutPayload struct {
	BankAccountID uuid.UUID `json:"bank_account_id"`
	Amount        int64     `json:"amount"` // in minor units
}
