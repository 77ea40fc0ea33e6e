/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface for
 * creators, collaboration requests, and negotiation history. Every lifecycle
 * transition is a single conditional UPDATE keyed on the expected current status so
 * the guard check and the mutation are one atomic statement; a guard miss performs
 * no write and is surfaced as ErrInvalidStateTransition.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collably/collab-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const requestColumns = `
	id, reference_code, buyer_id, creator_id, currency, proposed_budget,
	negotiated_budget, final_budget, proposed_start_date, proposed_end_date,
	actual_start_date, actual_end_date, content_deadline, COALESCE(brief, '') AS brief,
	status, decline_reason, revision_count, max_revisions, negotiation_rounds,
	max_negotiation_rounds, content_urls, expires_at, viewed_at, accepted_at,
	contract_signed_at, content_submitted_at, completed_at, cancelled_at,
	declined_at, disputed_at, expired_at, created_at, updated_at`

func scanRequest(row pgx.Row) (*domain.CollaborationRequest, error) {
	var req domain.CollaborationRequest
	err := row.Scan(
		&req.ID, &req.ReferenceCode, &req.BuyerID, &req.CreatorID, &req.Currency,
		&req.ProposedBudget, &req.NegotiatedBudget, &req.FinalBudget,
		&req.ProposedStartDate, &req.ProposedEndDate, &req.ActualStartDate,
		&req.ActualEndDate, &req.ContentDeadline, &req.Brief, &req.Status,
		&req.DeclineReason, &req.RevisionCount, &req.MaxRevisions,
		&req.NegotiationRounds, &req.MaxNegotiationRounds, &req.ContentURLs,
		&req.ExpiresAt, &req.ViewedAt, &req.AcceptedAt, &req.ContractSignedAt,
		&req.ContentSubmittedAt, &req.CompletedAt, &req.CancelledAt,
		&req.DeclinedAt, &req.DisputedAt, &req.ExpiredAt, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// classifyTransitionMiss turns a zero-row conditional update into the right error:
// the row either does not exist (or belongs to someone else) or sits in a state the
// transition does not allow.
func (r *PostgresRepository) classifyTransitionMiss(ctx context.Context, requestID uuid.UUID) error {
	var status domain.RequestStatus
	err := r.db.QueryRow(ctx, "SELECT status FROM collab_requests WHERE id = $1", requestID).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrRequestNotFound
		}
		return err
	}
	return fmt.Errorf("%w: request %s is %s", ErrInvalidStateTransition, requestID, status)
}

// FindCreatorByID retrieves the creator profile slice the state machine depends on.
func (r *PostgresRepository) FindCreatorByID(ctx context.Context, creatorID uuid.UUID) (*domain.Creator, error) {
	var creator domain.Creator
	query := `
		SELECT id, btrim(username), decline_count, suspension_count, suspended_until, created_at, updated_at
		FROM creators
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, creatorID).Scan(
		&creator.ID, &creator.Username, &creator.DeclineCount,
		&creator.SuspensionCount, &creator.SuspendedUntil,
		&creator.CreatedAt, &creator.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCreatorNotFound
		}
		return nil, err
	}
	return &creator, nil
}

// RecordCreatorDecline atomically increments the decline count and applies the
// suspension window when the threshold is reached. The CASE expressions mirror the
// increment so the threshold decision and the reset happen in one statement.
func (r *PostgresRepository) RecordCreatorDecline(ctx context.Context, creatorID uuid.UUID, maxDeclines int, suspension time.Duration) (*domain.Creator, error) {
	suspensionSeconds := int(suspension.Seconds())
	var creator domain.Creator
	query := `
		UPDATE creators
		SET
			decline_count = CASE
				WHEN decline_count + 1 >= $2 THEN 0
				ELSE decline_count + 1
			END,
			suspension_count = CASE
				WHEN decline_count + 1 >= $2 THEN suspension_count + 1
				ELSE suspension_count
			END,
			suspended_until = CASE
				WHEN decline_count + 1 >= $2 THEN NOW() + ($3 * INTERVAL '1 second')
				ELSE suspended_until
			END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING id, btrim(username), decline_count, suspension_count, suspended_until, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, creatorID, maxDeclines, suspensionSeconds).Scan(
		&creator.ID, &creator.Username, &creator.DeclineCount,
		&creator.SuspensionCount, &creator.SuspendedUntil,
		&creator.CreatedAt, &creator.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCreatorNotFound
		}
		return nil, err
	}
	return &creator, nil
}

// FindBankAccountByID retrieves a creator-owned payout destination.
func (r *PostgresRepository) FindBankAccountByID(ctx context.Context, bankAccountID, creatorID uuid.UUID) (*domain.BankAccount, error) {
	var account domain.BankAccount
	query := `
		SELECT id, creator_id, account_name, account_number, account_number_masked,
		       bank_code, bank_name, recipient_code, is_default, created_at, updated_at
		FROM bank_accounts
		WHERE id = $1 AND creator_id = $2
	`
	err := r.db.QueryRow(ctx, query, bankAccountID, creatorID).Scan(
		&account.ID, &account.CreatorID, &account.AccountName, &account.AccountNumber,
		&account.AccountNumberMasked, &account.BankCode, &account.BankName,
		&account.RecipientCode, &account.IsDefault, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBankAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// SetBankAccountRecipientCode caches the gateway recipient token on the bank account row.
func (r *PostgresRepository) SetBankAccountRecipientCode(ctx context.Context, bankAccountID uuid.UUID, recipientCode string) error {
	result, err := r.db.Exec(ctx,
		`UPDATE bank_accounts SET recipient_code = $1, updated_at = NOW() WHERE id = $2`,
		recipientCode, bankAccountID,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrBankAccountNotFound
	}
	return nil
}

// CreateCollabRequest persists a new collaboration request in the pending state.
func (r *PostgresRepository) CreateCollabRequest(ctx context.Context, req *domain.CollaborationRequest) error {
	query := `
		INSERT INTO collab_requests (
			id, reference_code, buyer_id, creator_id, currency, proposed_budget,
			proposed_start_date, proposed_end_date, brief, status, revision_count,
			max_revisions, negotiation_rounds, max_negotiation_rounds, expires_at,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, 0, $12, $13, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		req.ID, req.ReferenceCode, req.BuyerID, req.CreatorID, req.Currency,
		req.ProposedBudget, req.ProposedStartDate, req.ProposedEndDate, req.Brief,
		req.Status, req.MaxRevisions, req.MaxNegotiationRounds, req.ExpiresAt,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
}

// FindRequestByID retrieves a collaboration request by its primary key.
func (r *PostgresRepository) FindRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.CollaborationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM collab_requests WHERE id = $1`
	req, err := scanRequest(r.db.QueryRow(ctx, query, requestID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return req, nil
}

// FindRequestByReference retrieves a collaboration request by its public reference code.
func (r *PostgresRepository) FindRequestByReference(ctx context.Context, referenceCode string) (*domain.CollaborationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM collab_requests WHERE reference_code = $1`
	req, err := scanRequest(r.db.QueryRow(ctx, query, referenceCode))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return req, nil
}

func (r *PostgresRepository) listRequests(ctx context.Context, column string, partyID uuid.UUID, opts domain.RequestListOptions) ([]domain.CollaborationRequest, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + requestColumns + ` FROM collab_requests WHERE ` + column + ` = $1`
	args := []interface{}{partyID}
	if opts.Status != "" {
		query += ` AND status = $2`
		args = append(args, opts.Status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []domain.CollaborationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// ListRequestsByBuyer retrieves requests created by a buyer, newest first.
func (r *PostgresRepository) ListRequestsByBuyer(ctx context.Context, buyerID uuid.UUID, opts domain.RequestListOptions) ([]domain.CollaborationRequest, error) {
	return r.listRequests(ctx, "buyer_id", buyerID, opts)
}

// ListRequestsByCreator retrieves requests addressed to a creator, newest first.
func (r *PostgresRepository) ListRequestsByCreator(ctx context.Context, creatorID uuid.UUID, opts domain.RequestListOptions) ([]domain.CollaborationRequest, error) {
	return r.listRequests(ctx, "creator_id", creatorID, opts)
}

// SubmitDraftRequest moves a buyer's saved draft to pending. The expiry clock
// starts at submission, not at draft creation.
func (r *PostgresRepository) SubmitDraftRequest(ctx context.Context, requestID, buyerID uuid.UUID, expiresAt time.Time) (*domain.CollaborationRequest, error) {
	query := `
		UPDATE collab_requests
		SET status = 'pending', expires_at = $3, updated_at = NOW()
		WHERE id = $1 AND buyer_id = $2 AND status = 'draft'
		RETURNING ` + requestColumns
	req, err := scanRequest(r.db.QueryRow(ctx, query, requestID, buyerID, expiresAt))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.classifyTransitionMiss(ctx, requestID)
		}
		return nil, err
	}
	return req, nil
}

// MarkRequestViewed stamps the first creator read. The transition is one-way:
// a request already past viewed is returned unchanged.
func (r *PostgresRepository) MarkRequestViewed(ctx context.Context, requestID, creatorID uuid.UUID) (*domain.CollaborationRequest, error) {
	query := `
		UPDATE collab_requests
		SET status = 'viewed', viewed_at = COALESCE(viewed_at, NOW()), updated_at = NOW()
		WHERE id = $1 AND creator_id = $2 AND status = 'pending'
		RETURNING ` + requestColumns
	req, err := scanRequest(r.db.QueryRow(ctx, query, requestID, creatorID))
	if err == nil {
		return req, nil
	}
	if err != pgx.ErrNoRows {
		return nil, err
	}
	// Already viewed (or further along): a repeat read is not an error.
	existing, findErr := r.FindRequestByID(ctx, requestID)
	if findErr != nil {
		return nil, findErr
	}
	if existing.CreatorID != creatorID {
		return nil, ErrRequestNotFound
	}
	return existing, nil
}

// AcceptRequest moves a negotiable request to accepted and freezes the final
// budget from the latest negotiated terms in the same statement.
func (r *PostgresRepository) AcceptRequest(ctx context.Context, requestID, creatorID uuid.UUID) (*domain.CollaborationRequest, error) {
	query := `
		UPDATE collab_requests
		SET status = 'accepted',
		    final_budget = COALESCE(negotiated_budget, proposed_budget),
		    accepted_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND creator_id = $2 AND status IN ('pending', 'viewed', 'negotiating')
		RETURNING ` + requestColumns
	req, err := scanRequest(r.db.QueryRow(ctx, query, requestID, creatorID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.classifyTransitionMiss(ctx, requestID)
		}
		return nil, err
	}
	return req, nil
}

// DeclineRequest moves a negotiable request to declined with the mandatory reason.
func (r *PostgresRepository) DeclineRequest(ctx context.Context, requestID, creatorID uuid.UUID, reason string) (*domain.CollaborationRequest, error) {
	query := `
		UPDATE collab_requests
		SET status = 'declined', decline_reason = $3, declined_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND creator_id = $2 AND status IN ('pending', 'viewed', 'negotiating')
		RETURNING ` + requestColumns
	req, err := scanRequest(r.db.QueryRow(ctx, query, requestID, creatorID, reason))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.classifyTransitionMiss(ctx, requestID)
		}
		return nil, err
	}
	return req, nil
}

// CancelRequest is the buyer-initiated cancellation, allowed before acceptance only.
func (r *PostgresRepository) CancelRequest(ctx context.Context, requestID, buyerID uuid.UUID) (*domain.CollaborationRequest, error) {
	query := `
		UPDATE collab_requests
		SET status = 'cancelled', cancelled_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND buyer_id = $2 AND status IN ('pending', 'viewed', 'negotiating')
		RETURNING ` + requestColumns
	req, err := scanRequest(r.db.QueryRow(ctx, query, requestID, buyerID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.classifyTransitionMiss(ctx, requestID)
		}
		return nil, err
	}
	return req, nil
}

// MarkContractPending moves an accepted request into contract generation.
func (r *PostgresRepository) MarkContractPending(ctx context.Context, requestID uuid.UUID) (*domain.CollaborationRequest, error) {
	query := `
		UPDATE collab_requests
		SET status = 'contract_pending', updated_at = NOW()
		WHERE id = $1 AND status = 'accepted'
		RETURNING ` + requestColumns
	req, err := scanRequest(r.db.QueryRow(ctx, query, requestID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.classifyTransitionMiss(ctx, requestID)
		}
		return nil, err
	}
	return req, nil
}

// MarkContractSigned stamps the countersigned contract.
func (r *PostgresRepository) MarkContractSigned(ctx context.Context, requestID uuid.UUID) (*domain.CollaborationRequest, error) {
	query := `
		UPDATE collab_requests
		SET status = 'contract_signed', contract_signed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'contract_pending'
		RETURNING ` + requestColumns
	req, err := scanRequest(r.db.QueryRow(ctx, query, requestID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.classifyTransitionMiss(ctx, requestID)
		}
		return nil, err
	}
	return req, nil
}

// MarkRequestPaymentPending flips a funded-but-unpaid request once a charge is initialized.
func (r *PostgresRepository) MarkRequestPaymentPending(ctx context.Context, requestID uuid.UUID) (*domain.CollaborationRequest, error) {
	query := `
		UPDATE collab_requests
		SET status = 'payment_pending', updated_at = NOW()
		WHERE id = $1 AND status IN ('accepted', 'contract_signed')
		RETURNING ` + requestColumns
	req, err := scanRequest(r.db.QueryRow(ctx, query, requestID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.classifyTransitionMiss(ctx, requestID)
		}
		return nil, err
	}
	return req, nil
}

// SubmitContent records deliverable URLs and moves the request to content_submitted.
func (r *PostgresRepository) SubmitContent(ctx context.Context, requestID, creatorID uuid.UUID, contentURLs []string) (*domain.CollaborationRequest, error) {
	query := `
		UPDATE collab_requests
		SET status = 'content_submitted', content_urls = $3,
		    content_submitted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND creator_id = $2 AND status IN ('in_progress', 'revision_requested')
		RETURNING ` + requestColumns
	req, err := scanRequest(r.db.QueryRow(ctx, query, requestID, creatorID, contentURLs))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.classifyTransitionMiss(ctx, requestID)
		}
		return nil, err
	}
	return req, nil
}

// RequestRevision increments the revision counter under the max-revisions cap.
// The cap check lives in the WHERE clause so the guard and the increment are atomic.
func (r *PostgresRepository) RequestRevision(ctx context.Context, requestID, buyerID uuid.UUID) (*domain.CollaborationRequest, error) {
	query := `
		UPDATE collab_requests
		SET status = 'revision_requested', revision_count = revision_count + 1, updated_at = NOW()
		WHERE id = $1 AND buyer_id = $2 AND status = 'content_submitted'
		  AND revision_count < max_revisions
		RETURNING ` + requestColumns
	req, err := scanRequest(r.db.QueryRow(ctx, query, requestID, buyerID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.classifyTransitionMiss(ctx, requestID)
		}
		return nil, err
	}
	return req, nil
}

// MarkRequestDisputed freezes an in-flight collaboration for manual review.
func (r *PostgresRepository) MarkRequestDisputed(ctx context.Context, requestID uuid.UUID) (*domain.CollaborationRequest, error) {
	query := `
		UPDATE collab_requests
		SET status = 'disputed', disputed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('in_progress', 'content_submitted', 'revision_requested')
		RETURNING ` + requestColumns
	req, err := scanRequest(r.db.QueryRow(ctx, query, requestID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.classifyTransitionMiss(ctx, requestID)
		}
		return nil, err
	}
	return req, nil
}

// ExpireStaleRequests sweeps pre-acceptance requests past their expiry in one bulk
// conditional update. Funded requests are never expired by the sweep.
func (r *PostgresRepository) ExpireStaleRequests(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	query := `
		UPDATE collab_requests
		SET status = 'expired', expired_at = $1, updated_at = NOW()
		WHERE status IN ('pending', 'viewed', 'negotiating') AND expires_at < $1
		RETURNING id
	`
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		expired = append(expired, id)
	}
	return expired, rows.Err()
}

// AppendNegotiation appends one counter-offer round and advances the request to
// negotiating in a single transaction. The round cap is enforced by the UPDATE's
// WHERE clause; the inserted round number comes from the post-increment counter so
// rounds are strictly increasing even under concurrent counters.
func (r *PostgresRepository) AppendNegotiation(ctx context.Context, negotiation *domain.Negotiation) (*domain.CollaborationRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	updateQuery := `
		UPDATE collab_requests
		SET status = 'negotiating',
		    negotiation_rounds = negotiation_rounds + 1,
		    negotiated_budget = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'viewed', 'negotiating')
		  AND negotiation_rounds < max_negotiation_rounds
		RETURNING ` + requestColumns
	req, err := scanRequest(tx.QueryRow(ctx, updateQuery, negotiation.RequestID, negotiation.ProposedBudget))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.classifyNegotiationMiss(ctx, negotiation.RequestID)
		}
		return nil, err
	}

	negotiation.Round = req.NegotiationRounds
	insertQuery := `
		INSERT INTO negotiations (
			id, request_id, initiator, round, proposed_budget,
			proposed_start_date, proposed_end_date, message, outcome, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'open', NOW())
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, insertQuery,
		negotiation.ID, negotiation.RequestID, negotiation.Initiator, negotiation.Round,
		negotiation.ProposedBudget, negotiation.ProposedStartDate,
		negotiation.ProposedEndDate, negotiation.Message,
	).Scan(&negotiation.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return req, nil
}

// classifyNegotiationMiss distinguishes a round-cap rejection from a bad state.
func (r *PostgresRepository) classifyNegotiationMiss(ctx context.Context, requestID uuid.UUID) error {
	var status domain.RequestStatus
	var rounds, maxRounds int
	err := r.db.QueryRow(ctx,
		"SELECT status, negotiation_rounds, max_negotiation_rounds FROM collab_requests WHERE id = $1",
		requestID,
	).Scan(&status, &rounds, &maxRounds)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrRequestNotFound
		}
		return err
	}
	if rounds >= maxRounds {
		return fmt.Errorf("%w: %d of %d rounds used", ErrNegotiationRoundExceeded, rounds, maxRounds)
	}
	return fmt.Errorf("%w: request %s is %s", ErrInvalidStateTransition, requestID, status)
}

// GetNegotiationHistory returns all counter-offer rounds for a request, oldest first.
func (r *PostgresRepository) GetNegotiationHistory(ctx context.Context, requestID uuid.UUID) ([]domain.Negotiation, error) {
	query := `
		SELECT id, request_id, initiator, round, proposed_budget, proposed_start_date,
		       proposed_end_date, COALESCE(message, '') AS message, outcome, created_at
		FROM negotiations
		WHERE request_id = $1
		ORDER BY round ASC
	`
	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []domain.Negotiation
	for rows.Next() {
		var n domain.Negotiation
		err := rows.Scan(
			&n.ID, &n.RequestID, &n.Initiator, &n.Round, &n.ProposedBudget,
			&n.ProposedStartDate, &n.ProposedEndDate, &n.Message, &n.Outcome, &n.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		history = append(history, n)
	}
	return history, rows.Err()
}
