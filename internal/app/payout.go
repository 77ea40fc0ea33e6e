/**
 * @description
 * This file contains the withdrawal logic. `PayoutOrchestrator` creates payouts
 * against the creator's available balance and drives the gateway transfer.
 *
 * Key features:
 * - The available balance is debited in the same transaction that inserts the
 *   payout row, before the gateway is called. A gateway rejection rolls the
 *   debit back immediately through the failure path.
 * - Gateway recipient codes are resolved once per bank account and cached on
 *   the row.
 *
 * @dependencies
 * - context, errors, fmt, log, strings: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/paystackclient: For transfer and recipient calls.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/collably/collab-service/internal/domain"
	"github.com/collably/collab-service/internal/store"
	"github.com/collably/collab-service/pkg/paystackclient"
)

// ErrBelowMinimumPayout rejects withdrawal requests under the configured floor.
var ErrBelowMinimumPayout = errors.New("payout amount is below the minimum")

// PayoutOrchestrator owns creator withdrawals.
type PayoutOrchestrator struct {
	repo          store.Repository
	gateway       Gateway
	minimumPayout int64
}

// NewPayoutOrchestrator creates a new payout service. minimumPayout is in minor
// units.
func NewPayoutOrchestrator(repo store.Repository, gateway Gateway, minimumPayout int64) *PayoutOrchestrator {
	return &PayoutOrchestrator{repo: repo, gateway: gateway, minimumPayout: minimumPayout}
}

func newPayoutReference(id uuid.UUID) string {
	return "PYT-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:16])
}

// RequestPayout withdraws from the creator's available balance to a saved bank
// account. The debit happens with the insert; only then is the gateway asked to
// move money, so a crash between the two leaves a pending payout to reconcile,
// never an unbacked transfer.
func (o *PayoutOrchestrator) RequestPayout(ctx context.Context, creatorID uuid.UUID, payload domain.CreatePayoutPayload) (*domain.Payout, error) {
	if payload.Amount < o.minimumPayout {
		return nil, fmt.Errorf("%w: minimum is %d minor units", ErrBelowMinimumPayout, o.minimumPayout)
	}

	bankAccount, err := o.repo.FindBankAccountByID(ctx, payload.BankAccountID, creatorID)
	if err != nil {
		return nil, err
	}
	recipientCode, err := o.resolveRecipientCode(ctx, bankAccount)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	payout := &domain.Payout{
		ID:            id,
		CreatorID:     creatorID,
		BankAccountID: bankAccount.ID,
		Amount:        payload.Amount,
		Currency:      "NGN",
		Reference:     newPayoutReference(id),
		Status:        domain.PayoutStatusPending,
	}
	if err := o.repo.CreatePayoutWithDebit(ctx, payout); err != nil {
		return nil, err
	}
	log.Printf("level=info component=payout_orchestrator msg=\"payout created\" creator_id=%s reference=%s amount=%d", creatorID, payout.Reference, payout.Amount)

	transfer, err := o.gateway.InitiateTransfer(ctx, paystackclient.TransferRequest{
		Source:    "balance",
		Amount:    payout.Amount,
		Recipient: recipientCode,
		Reference: payout.Reference,
		Reason:    "Creator earnings withdrawal",
	})
	if err != nil {
		// Credit the provisional debit straight back; the gateway never saw
		// a usable transfer.
		if _, failErr := o.repo.FailPayout(ctx, payout.Reference, domain.PayoutStatusFailed, err.Error()); failErr != nil {
			log.Printf("level=error component=payout_orchestrator msg=\"failed to reverse payout debit after gateway error\" reference=%s err=%v", payout.Reference, failErr)
		}
		return nil, fmt.Errorf("gateway transfer initiation failed: %w", err)
	}

	processing, err := o.repo.MarkPayoutProcessing(ctx, payout.Reference, transfer.TransferCode)
	if err != nil {
		return nil, fmt.Errorf("failed to mark payout processing: %w", err)
	}
	return processing, nil
}

// resolveRecipientCode returns the cached gateway recipient for a bank account,
// creating and caching one on first use.
func (o *PayoutOrchestrator) resolveRecipientCode(ctx context.Context, bankAccount *domain.BankAccount) (string, error) {
	if bankAccount.RecipientCode != nil && *bankAccount.RecipientCode != "" {
		return *bankAccount.RecipientCode, nil
	}

	recipient, err := o.gateway.CreateRecipient(ctx, paystackclient.RecipientRequest{
		Type:          "nuban",
		Name:          bankAccount.AccountName,
		AccountNumber: bankAccount.AccountNumber,
		BankCode:      bankAccount.BankCode,
		Currency:      "NGN",
	})
	if err != nil {
		return "", fmt.Errorf("failed to create gateway recipient: %w", err)
	}
	if err := o.repo.SetBankAccountRecipientCode(ctx, bankAccount.ID, recipient.RecipientCode); err != nil {
		// The code still works for this payout; the next one re-resolves.
		log.Printf("level=warn component=payout_orchestrator msg=\"failed to cache recipient code\" bank_account_id=%s err=%v", bankAccount.ID, err)
	}
	return recipient.RecipientCode, nil
}

// ListPayouts returns a creator's withdrawal history, newest first.
func (o *PayoutOrchestrator) ListPayouts(ctx context.Context, creatorID uuid.UUID, limit, offset int) ([]domain.Payout, error) {
	return o.repo.ListPayoutsByCreator(ctx, creatorID, limit, offset)
}
