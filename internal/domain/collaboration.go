/**
 * @description
 * This file defines the core domain models for the collaboration-request side of the
 * collab-service: the CollaborationRequest lifecycle record, its append-only
 * negotiation history, and the creator profile fields the request state machine
 * depends on (decline counters and suspension windows).
 *
 * @notes
 * - Monetary amounts are stored as `int64` in the smallest currency unit (minor
 *   units), which avoids floating-point inaccuracies with financial data.
 * - Status transitions are owned by the app layer; these structs carry state only.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus enumerates the collaboration-request lifecycle states.
type RequestStatus string

const (
	RequestStatusDraft             RequestStatus = "draft"
	RequestStatusPending           RequestStatus = "pending"
	RequestStatusViewed            RequestStatus = "viewed"
	RequestStatusNegotiating       RequestStatus = "negotiating"
	RequestStatusAccepted          RequestStatus = "accepted"
	RequestStatusContractPending   RequestStatus = "contract_pending"
	RequestStatusContractSigned    RequestStatus = "contract_signed"
	RequestStatusPaymentPending    RequestStatus = "payment_pending"
	RequestStatusInProgress        RequestStatus = "in_progress"
	RequestStatusContentSubmitted  RequestStatus = "content_submitted"
	RequestStatusRevisionRequested RequestStatus = "revision_requested"
	RequestStatusCompleted         RequestStatus = "completed"
	RequestStatusCancelled         RequestStatus = "cancelled"
	RequestStatusDeclined          RequestStatus = "declined"
	RequestStatusDisputed          RequestStatus = "disputed"
	RequestStatusExpired           RequestStatus = "expired"
)

// IsTerminal reports whether a request in this status can never transition again.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestStatusCompleted, RequestStatusCancelled, RequestStatusDeclined,
		RequestStatusDisputed, RequestStatusExpired:
		return true
	}
	return false
}

// Party identifies which side of a collaboration initiated an action.
type Party string

const (
	PartyBuyer   Party = "buyer"
	PartyCreator Party = "creator"
)

// CollaborationRequest is the central record for one buyer -> creator proposal.
// It maps directly to the `collab_requests` table.
type CollaborationRequest struct {
	ID                   uuid.UUID     `json:"id"`
	ReferenceCode        string        `json:"reference_code"`
	BuyerID              uuid.UUID     `json:"buyer_id"`
	CreatorID            uuid.UUID     `json:"creator_id"`
	Currency             string        `json:"currency"`
	ProposedBudget       int64         `json:"proposed_budget"` // in minor units
	NegotiatedBudget     *int64        `json:"negotiated_budget,omitempty"`
	FinalBudget          *int64        `json:"final_budget,omitempty"` // set once, at acceptance
	ProposedStartDate    time.Time     `json:"proposed_start_date"`
	ProposedEndDate      time.Time     `json:"proposed_end_date"`
	ActualStartDate      *time.Time    `json:"actual_start_date,omitempty"`
	ActualEndDate        *time.Time    `json:"actual_end_date,omitempty"`
	ContentDeadline      *time.Time    `json:"content_deadline,omitempty"`
	Brief                string        `json:"brief"`
	Status               RequestStatus `json:"status"`
	DeclineReason        *string       `json:"decline_reason,omitempty"`
	RevisionCount        int           `json:"revision_count"`
	MaxRevisions         int           `json:"max_revisions"`
	NegotiationRounds    int           `json:"negotiation_rounds"`
	MaxNegotiationRounds int           `json:"max_negotiation_rounds"`
	ContentURLs          []string      `json:"content_urls,omitempty"`
	ExpiresAt            time.Time     `json:"expires_at"`
	ViewedAt             *time.Time    `json:"viewed_at,omitempty"`
	AcceptedAt           *time.Time    `json:"accepted_at,omitempty"`
	ContractSignedAt     *time.Time    `json:"contract_signed_at,omitempty"`
	ContentSubmittedAt   *time.Time    `json:"content_submitted_at,omitempty"`
	CompletedAt          *time.Time    `json:"completed_at,omitempty"`
	CancelledAt          *time.Time    `json:"cancelled_at,omitempty"`
	DeclinedAt           *time.Time    `json:"declined_at,omitempty"`
	DisputedAt           *time.Time    `json:"disputed_at,omitempty"`
	ExpiredAt            *time.Time    `json:"expired_at,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// CurrentBudget returns the budget a counterparty would accept right now:
// the latest negotiated figure, falling back to the original proposal.
func (r *CollaborationRequest) CurrentBudget() int64 {
	if r.NegotiatedBudget != nil {
		return *r.NegotiatedBudget
	}
	return r.ProposedBudget
}

// Negotiation is one counter-offer round, owned by a CollaborationRequest.
// Rows are append-only; round numbers are strictly increasing per request.
type Negotiation struct {
	ID                uuid.UUID  `json:"id"`
	RequestID         uuid.UUID  `json:"request_id"`
	Initiator         Party      `json:"initiator"`
	Round             int        `json:"round"`
	ProposedBudget    int64      `json:"proposed_budget"`
	ProposedStartDate *time.Time `json:"proposed_start_date,omitempty"`
	ProposedEndDate   *time.Time `json:"proposed_end_date,omitempty"`
	Message           string     `json:"message"`
	Outcome           string     `json:"outcome"` // 'open', 'accepted', 'countered', 'declined'
	CreatedAt         time.Time  `json:"created_at"`
}

// Creator is the slice of the creator profile the request state machine needs:
// decline-penalty bookkeeping and the suspension window.
type Creator struct {
	ID              uuid.UUID  `json:"id"`
	Username        string     `json:"username"`
	DeclineCount    int        `json:"decline_count"`
	SuspensionCount int        `json:"suspension_count"`
	SuspendedUntil  *time.Time `json:"suspended_until,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Suspended reports whether the creator is inside an active suspension window.
// The check is against the expiry timestamp, not the suspension counter.
func (c *Creator) Suspended(now time.Time) bool {
	return c.SuspendedUntil != nil && c.SuspendedUntil.After(now)
}

// BankAccount is a creator's saved payout destination. The gateway recipient
// code is cached on the row after first resolution so repeated payouts do not
// re-create the recipient.
type BankAccount struct {
	ID                  uuid.UUID `json:"id"`
	CreatorID           uuid.UUID `json:"creator_id"`
	AccountName         string    `json:"account_name"`
	AccountNumber       string    `json:"account_number"`
	AccountNumberMasked string    `json:"account_number_masked"`
	BankCode            string    `json:"bank_code"`
	BankName            string    `json:"bank_name"`
	RecipientCode       *string   `json:"recipient_code,omitempty"`
	IsDefault           bool      `json:"is_default"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// CreateCollabRequestPayload is the DTO for incoming request-creation API calls.
// Draft=true saves the request without submitting it to the creator.
type CreateCollabRequestPayload struct {
	CreatorID         uuid.UUID `json:"creator_id"`
	Currency          string    `json:"currency"`
	ProposedBudget    int64     `json:"proposed_budget"` // in minor units
	ProposedStartDate time.Time `json:"proposed_start_date"`
	ProposedEndDate   time.Time `json:"proposed_end_date"`
	Brief             string    `json:"brief"`
	Draft             bool      `json:"draft,omitempty"`
}

// CounterOfferPayload is the DTO for a negotiation counter-offer.
type CounterOfferPayload struct {
	ProposedBudget    int64      `json:"proposed_budget"`
	ProposedStartDate *time.Time `json:"proposed_start_date,omitempty"`
	ProposedEndDate   *time.Time `json:"proposed_end_date,omitempty"`
	Message           string     `json:"message"`
}

// DeclineRequestPayload carries the mandatory decline reason.
type DeclineRequestPayload struct {
	Reason string `json:"reason"`
}

// SubmitContentPayload carries the deliverable URLs a creator submits.
type SubmitContentPayload struct {
	ContentURLs []string `json:"content_urls"`
}

// RequestListOptions controls pagination and filtering for per-party listings.
type RequestListOptions struct {
	Limit  int
	Offset int
	Status string
}
