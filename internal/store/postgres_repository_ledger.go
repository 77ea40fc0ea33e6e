/**
 * @description
 * PostgreSQL implementation of the escrow-payment and payout sides of the
 * Repository: payment rows, the creator's three-balance ledger account, and payout
 * rows with their provisional debits.
 *
 * The safety-critical transitions (pending->escrow, escrow->released, payout debit
 * and compensating credit) each run inside one database transaction, and every
 * status move is a compare-and-set UPDATE keyed on the expected prior status. A
 * duplicate trigger that finds the row already advanced applies nothing.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/collably/collab-service/internal/domain"
)

const paymentColumns = `
	id, request_id, buyer_id, creator_id, amount, platform_fee, fee_bps,
	creator_payout, currency, gateway_reference, gateway_tx_id, channel, status,
	failure_reason, refunded_amount, refunded_creator_share, escrowed_at,
	released_at, refunded_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID, &p.RequestID, &p.BuyerID, &p.CreatorID, &p.Amount, &p.PlatformFee,
		&p.FeeBPS, &p.CreatorPayout, &p.Currency, &p.GatewayReference, &p.GatewayTxID,
		&p.Channel, &p.Status, &p.FailureReason, &p.RefundedAmount,
		&p.RefundedCreatorShare, &p.EscrowedAt, &p.ReleasedAt, &p.RefundedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const payoutColumns = `
	id, creator_id, bank_account_id, amount, currency, reference, transfer_code,
	status, failure_reason, completed_at, created_at, updated_at`

func scanPayout(row pgx.Row) (*domain.Payout, error) {
	var p domain.Payout
	err := row.Scan(
		&p.ID, &p.CreatorID, &p.BankAccountID, &p.Amount, &p.Currency, &p.Reference,
		&p.TransferCode, &p.Status, &p.FailureReason, &p.CompletedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// GetLedgerAccount returns the creator's three earnings balances.
func (r *PostgresRepository) GetLedgerAccount(ctx context.Context, creatorID uuid.UUID) (*domain.LedgerAccount, error) {
	var account domain.LedgerAccount
	query := `
		SELECT creator_id, pending_earnings, available_balance, total_earnings, updated_at
		FROM creator_ledger_accounts
		WHERE creator_id = $1
	`
	err := r.db.QueryRow(ctx, query, creatorID).Scan(
		&account.CreatorID, &account.PendingEarnings, &account.AvailableBalance,
		&account.TotalEarnings, &account.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCreatorNotFound
		}
		return nil, err
	}
	return &account, nil
}

// CreatePayment inserts a new pending payment. The one-active-payment-per-request
// invariant is a partial unique index on (request_id) WHERE status IN
// ('pending','initialized','escrow'); a violation maps to ErrDuplicateActivePayment.
func (r *PostgresRepository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (
			id, request_id, buyer_id, creator_id, amount, platform_fee, fee_bps,
			creator_payout, currency, gateway_reference, status, refunded_amount,
			refunded_creator_share, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, 0, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		payment.ID, payment.RequestID, payment.BuyerID, payment.CreatorID,
		payment.Amount, payment.PlatformFee, payment.FeeBPS, payment.CreatorPayout,
		payment.Currency, payment.GatewayReference, payment.Status,
	).Scan(&payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateActivePayment
		}
		return err
	}
	return nil
}

// FindPaymentByReference retrieves a payment by its gateway reference, the natural
// idempotency key for reconciliation.
func (r *PostgresRepository) FindPaymentByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE gateway_reference = $1`
	payment, err := scanPayment(r.db.QueryRow(ctx, query, reference))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return payment, nil
}

// activePaymentFilter renders the SQL status list that occupies the
// one-active-payment slot, kept in lockstep with domain.PaymentStatus.Active.
// The partial unique index on payments(request_id) covers the same set.
func activePaymentFilter() string {
	all := []domain.PaymentStatus{
		domain.PaymentStatusPending, domain.PaymentStatusInitialized,
		domain.PaymentStatusEscrow, domain.PaymentStatusReleased,
		domain.PaymentStatusPartiallyRefunded, domain.PaymentStatusRefunded,
		domain.PaymentStatusFailed, domain.PaymentStatusCancelled,
	}
	var quoted []string
	for _, s := range all {
		if s.Active() {
			quoted = append(quoted, "'"+string(s)+"'")
		}
	}
	return strings.Join(quoted, ", ")
}

// FindActivePaymentByRequestID returns the one payment still occupying the
// request's active slot.
func (r *PostgresRepository) FindActivePaymentByRequestID(ctx context.Context, requestID uuid.UUID) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE request_id = $1 AND status IN (` + activePaymentFilter() + `)
	`
	payment, err := scanPayment(r.db.QueryRow(ctx, query, requestID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return payment, nil
}

// MarkPaymentInitialized records that the gateway accepted the charge.
func (r *PostgresRepository) MarkPaymentInitialized(ctx context.Context, reference string) (*domain.Payment, error) {
	query := `
		UPDATE payments
		SET status = 'initialized', updated_at = NOW()
		WHERE gateway_reference = $1 AND status = 'pending'
		RETURNING ` + paymentColumns
	payment, err := scanPayment(r.db.QueryRow(ctx, query, reference))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.classifyPaymentMiss(ctx, reference)
		}
		return nil, err
	}
	return payment, nil
}

func (r *PostgresRepository) classifyPaymentMiss(ctx context.Context, reference string) error {
	var status domain.PaymentStatus
	err := r.db.QueryRow(ctx, "SELECT status FROM payments WHERE gateway_reference = $1", reference).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrPaymentNotFound
		}
		return err
	}
	return fmt.Errorf("%w: payment %s is %s", ErrInvalidStateTransition, reference, status)
}

// SettleEscrow is the exactly-once pending|initialized -> escrow move. One
// transaction: compare-and-set the payment, credit pending earnings, flip the
// request to in_progress. A payment already at or past escrow comes back with
// Applied=false so duplicate verify/webhook deliveries are no-op successes.
func (r *PostgresRepository) SettleEscrow(ctx context.Context, reference, gatewayTxID, channel string) (*EscrowSettlement, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	updateQuery := `
		UPDATE payments
		SET status = 'escrow',
		    gateway_tx_id = COALESCE(NULLIF($2, ''), gateway_tx_id),
		    channel = COALESCE(NULLIF($3, ''), channel),
		    escrowed_at = NOW(),
		    updated_at = NOW()
		WHERE gateway_reference = $1 AND status IN ('pending', 'initialized')
		RETURNING ` + paymentColumns
	payment, err := scanPayment(tx.QueryRow(ctx, updateQuery, reference, gatewayTxID, channel))
	if err != nil {
		if err != pgx.ErrNoRows {
			return nil, err
		}
		// No row moved: either unknown reference or a concurrent duplicate
		// already advanced it. Report the current state and apply nothing.
		existing, findErr := r.FindPaymentByReference(ctx, reference)
		if findErr != nil {
			return nil, findErr
		}
		return &EscrowSettlement{Payment: existing, Applied: false}, nil
	}

	creditQuery := `
		UPDATE creator_ledger_accounts
		SET pending_earnings = pending_earnings + $2, updated_at = NOW()
		WHERE creator_id = $1
	`
	result, err := tx.Exec(ctx, creditQuery, payment.CreatorID, payment.CreatorPayout)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected() == 0 {
		return nil, ErrCreatorNotFound
	}

	requestQuery := `
		UPDATE collab_requests
		SET status = 'in_progress', actual_start_date = COALESCE(actual_start_date, NOW()), updated_at = NOW()
		WHERE id = $1 AND status IN ('accepted', 'contract_signed', 'payment_pending')
	`
	if _, err := tx.Exec(ctx, requestQuery, payment.RequestID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &EscrowSettlement{Payment: payment, Applied: true}, nil
}

// ReleaseEscrow is the escrow -> released move plus the three-balance update and
// the request completion, all in one transaction. A partially refunded payment
// releases only the unrefunded creator share. Duplicate triggers are no-ops.
func (r *PostgresRepository) ReleaseEscrow(ctx context.Context, requestID uuid.UUID) (*EscrowRelease, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	updateQuery := `
		UPDATE payments
		SET status = 'released', released_at = NOW(), updated_at = NOW()
		WHERE request_id = $1 AND status IN ('escrow', 'partially_refunded')
		RETURNING ` + paymentColumns
	payment, err := scanPayment(tx.QueryRow(ctx, updateQuery, requestID))
	if err != nil {
		if err != pgx.ErrNoRows {
			return nil, err
		}
		existing, findErr := r.FindActivePaymentByRequestID(ctx, requestID)
		if findErr != nil {
			if errors.Is(findErr, ErrPaymentNotFound) {
				// Nothing active: a concurrent release already finished.
				return &EscrowRelease{Applied: false}, nil
			}
			return nil, findErr
		}
		return &EscrowRelease{Payment: existing, Applied: false}, nil
	}

	// The pending debit is conditional on sufficient pending earnings so the
	// balance can never be driven negative by a mismatched ledger.
	releasable := payment.CreatorPayout - payment.RefundedCreatorShare
	moveQuery := `
		UPDATE creator_ledger_accounts
		SET pending_earnings = pending_earnings - $2,
		    available_balance = available_balance + $2,
		    total_earnings = total_earnings + $2,
		    updated_at = NOW()
		WHERE creator_id = $1 AND pending_earnings >= $2
	`
	result, err := tx.Exec(ctx, moveQuery, payment.CreatorID, releasable)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: pending earnings below releasable share %d", ErrInsufficientBalance, releasable)
	}

	completeQuery := `
		UPDATE collab_requests
		SET status = 'completed', completed_at = NOW(),
		    actual_end_date = COALESCE(actual_end_date, NOW()), updated_at = NOW()
		WHERE id = $1 AND status = 'content_submitted'
	`
	if _, err := tx.Exec(ctx, completeQuery, requestID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &EscrowRelease{Payment: payment, Applied: true}, nil
}

// RefundEscrow moves an escrowed or partially refunded payment toward refunded
// and debits the creator's pending earnings by the creator share of the refund.
// The refund that exhausts the amount debits whatever creator share is still
// attributed to the payment, so rounding across staged refunds never strands a
// remainder. The available balance is never credited on this path.
func (r *PostgresRepository) RefundEscrow(ctx context.Context, paymentID uuid.UUID, refundAmount, creatorDebit int64) (*domain.Payment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Lock the row so staged refunds serialize on the running totals.
	var (
		status               domain.PaymentStatus
		amount               int64
		creatorPayout        int64
		refundedAmount       int64
		refundedCreatorShare int64
	)
	lockQuery := `
		SELECT status, amount, creator_payout, refunded_amount, refunded_creator_share
		FROM payments
		WHERE id = $1
		FOR UPDATE
	`
	err = tx.QueryRow(ctx, lockQuery, paymentID).Scan(
		&status, &amount, &creatorPayout, &refundedAmount, &refundedCreatorShare,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if status != domain.PaymentStatusEscrow && status != domain.PaymentStatusPartiallyRefunded {
		return nil, fmt.Errorf("%w: payment %s is %s", ErrInvalidStateTransition, paymentID, status)
	}
	if refundedAmount+refundAmount > amount {
		return nil, fmt.Errorf("%w: refund %d exceeds remaining refundable %d on payment %s", ErrInvalidStateTransition, refundAmount, amount-refundedAmount, paymentID)
	}

	newStatus := domain.PaymentStatusPartiallyRefunded
	debit := creatorDebit
	remainingShare := creatorPayout - refundedCreatorShare
	if refundedAmount+refundAmount == amount {
		newStatus = domain.PaymentStatusRefunded
		debit = remainingShare
	} else if debit > remainingShare {
		debit = remainingShare
	}

	updateQuery := `
		UPDATE payments
		SET status = $2,
		    refunded_amount = refunded_amount + $3,
		    refunded_creator_share = refunded_creator_share + $4,
		    refunded_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + paymentColumns
	payment, err := scanPayment(tx.QueryRow(ctx, updateQuery, paymentID, newStatus, refundAmount, debit))
	if err != nil {
		return nil, err
	}

	debitQuery := `
		UPDATE creator_ledger_accounts
		SET pending_earnings = pending_earnings - $2, updated_at = NOW()
		WHERE creator_id = $1 AND pending_earnings >= $2
	`
	result, err := tx.Exec(ctx, debitQuery, payment.CreatorID, debit)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: pending earnings below refund debit %d", ErrInsufficientBalance, debit)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return payment, nil
}

// MarkPaymentFailed records a terminal charge failure; only reachable before escrow.
func (r *PostgresRepository) MarkPaymentFailed(ctx context.Context, reference, failureReason string) (*domain.Payment, error) {
	query := `
		UPDATE payments
		SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE gateway_reference = $1 AND status IN ('pending', 'initialized')
		RETURNING ` + paymentColumns
	payment, err := scanPayment(r.db.QueryRow(ctx, query, reference, failureReason))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.classifyPaymentMiss(ctx, reference)
		}
		return nil, err
	}
	return payment, nil
}

// MarkPaymentCancelled abandons an unfunded payment; only reachable before escrow.
func (r *PostgresRepository) MarkPaymentCancelled(ctx context.Context, reference string) (*domain.Payment, error) {
	query := `
		UPDATE payments
		SET status = 'cancelled', updated_at = NOW()
		WHERE gateway_reference = $1 AND status IN ('pending', 'initialized')
		RETURNING ` + paymentColumns
	payment, err := scanPayment(r.db.QueryRow(ctx, query, reference))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.classifyPaymentMiss(ctx, reference)
		}
		return nil, err
	}
	return payment, nil
}

// ListAutoReleasablePayments returns escrow-holding payments whose submitted
// content has had no buyer action since before the cutoff. Consumed by the
// auto-release sweep.
func (r *PostgresRepository) ListAutoReleasablePayments(ctx context.Context, cutoff time.Time, limit int) ([]domain.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	query := `
		SELECT ` + paymentColumns + `
		FROM payments p
		WHERE p.status IN ('escrow', 'partially_refunded')
		  AND EXISTS (
			SELECT 1 FROM collab_requests cr
			WHERE cr.id = p.request_id
			  AND cr.status = 'content_submitted'
			  AND cr.content_submitted_at < $1
		  )
		ORDER BY p.escrowed_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	return payments, rows.Err()
}

// CreatePayoutWithDebit inserts the payout row and applies the provisional debit
// in one transaction. The debit's WHERE clause carries the sufficient-balance
// check, so two concurrent payouts can never spend the same funds.
func (r *PostgresRepository) CreatePayoutWithDebit(ctx context.Context, payout *domain.Payout) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	debitQuery := `
		UPDATE creator_ledger_accounts
		SET available_balance = available_balance - $2, updated_at = NOW()
		WHERE creator_id = $1 AND available_balance >= $2
	`
	result, err := tx.Exec(ctx, debitQuery, payout.CreatorID, payout.Amount)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}

	insertQuery := `
		INSERT INTO payouts (
			id, creator_id, bank_account_id, amount, currency, reference, status,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, insertQuery,
		payout.ID, payout.CreatorID, payout.BankAccountID, payout.Amount,
		payout.Currency, payout.Reference, payout.Status,
	).Scan(&payout.CreatedAt, &payout.UpdatedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// FindPayoutByReference retrieves a payout by our transfer reference.
func (r *PostgresRepository) FindPayoutByReference(ctx context.Context, reference string) (*domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE reference = $1`
	payout, err := scanPayout(r.db.QueryRow(ctx, query, reference))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return payout, nil
}

// ListPayoutsByCreator returns a creator's withdrawal history, newest first.
func (r *PostgresRepository) ListPayoutsByCreator(ctx context.Context, creatorID uuid.UUID, limit, offset int) ([]domain.Payout, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT ` + payoutColumns + `
		FROM payouts
		WHERE creator_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, creatorID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []domain.Payout
	for rows.Next() {
		payout, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, *payout)
	}
	return payouts, rows.Err()
}

// MarkPayoutProcessing records the gateway transfer code after initiation.
func (r *PostgresRepository) MarkPayoutProcessing(ctx context.Context, reference, transferCode string) (*domain.Payout, error) {
	query := `
		UPDATE payouts
		SET status = 'processing', transfer_code = $2, updated_at = NOW()
		WHERE reference = $1 AND status = 'pending'
		RETURNING ` + payoutColumns
	payout, err := scanPayout(r.db.QueryRow(ctx, query, reference, transferCode))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.classifyPayoutMiss(ctx, reference)
		}
		return nil, err
	}
	return payout, nil
}

func (r *PostgresRepository) classifyPayoutMiss(ctx context.Context, reference string) error {
	var status domain.PayoutStatus
	err := r.db.QueryRow(ctx, "SELECT status FROM payouts WHERE reference = $1", reference).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrPayoutNotFound
		}
		return err
	}
	return fmt.Errorf("%w: payout %s is %s", ErrInvalidStateTransition, reference, status)
}

// CompletePayout confirms the transfer; the amount was already debited at creation,
// so no balance changes here.
func (r *PostgresRepository) CompletePayout(ctx context.Context, reference string) (*domain.Payout, error) {
	query := `
		UPDATE payouts
		SET status = 'completed', completed_at = NOW(), updated_at = NOW()
		WHERE reference = $1 AND status IN ('pending', 'processing')
		RETURNING ` + payoutColumns
	payout, err := scanPayout(r.db.QueryRow(ctx, query, reference))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.classifyPayoutMiss(ctx, reference)
		}
		return nil, err
	}
	return payout, nil
}

// FailPayout applies the compensating transaction for the provisional debit:
// terminal status plus a full credit back, in one database transaction.
func (r *PostgresRepository) FailPayout(ctx context.Context, reference string, terminal domain.PayoutStatus, failureReason string) (*domain.Payout, error) {
	if !terminal.IsTerminal() || terminal == domain.PayoutStatusCompleted {
		return nil, fmt.Errorf("%w: %s is not a payout failure state", ErrInvalidStateTransition, terminal)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	updateQuery := `
		UPDATE payouts
		SET status = $2, failure_reason = $3, updated_at = NOW()
		WHERE reference = $1 AND status IN ('pending', 'processing')
		RETURNING ` + payoutColumns
	payout, err := scanPayout(tx.QueryRow(ctx, updateQuery, reference, terminal, failureReason))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.classifyPayoutMiss(ctx, reference)
		}
		return nil, err
	}

	creditQuery := `
		UPDATE creator_ledger_accounts
		SET available_balance = available_balance + $2, updated_at = NOW()
		WHERE creator_id = $1
	`
	result, err := tx.Exec(ctx, creditQuery, payout.CreatorID, payout.Amount)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected() == 0 {
		return nil, ErrCreatorNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return payout, nil
}
