package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/collably/collab-service/internal/domain"
	"github.com/collably/collab-service/internal/store"
)

// GatewayEventConsumer feeds verified gateway webhook events from the queue into
// the settlement coordinator. Handlers return true to ack; a processing error
// nacks and requeues, which is safe because reconciliation is idempotent.
type GatewayEventConsumer struct {
	coordinator *SettlementCoordinator
}

func NewGatewayEventConsumer(coordinator *SettlementCoordinator) *GatewayEventConsumer {
	return &GatewayEventConsumer{coordinator: coordinator}
}

func (c *GatewayEventConsumer) HandleChargeEvent(body []byte) bool {
	var event domain.ChargeStatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=gateway_consumer msg=\"failed to unmarshal charge event\" err=%v", err)
		return true
	}
	if event.Reference == "" {
		log.Printf("level=warn component=gateway_consumer msg=\"charge event missing reference\" event_id=%s", event.EventID)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err := c.coordinator.ReconcileCharge(ctx, event)
	return c.disposition(err, "charge", event.Reference)
}

func (c *GatewayEventConsumer) HandleTransferEvent(body []byte) bool {
	var event domain.TransferStatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=gateway_consumer msg=\"failed to unmarshal transfer event\" err=%v", err)
		return true
	}
	if event.Reference == "" {
		log.Printf("level=warn component=gateway_consumer msg=\"transfer event missing reference\" event_id=%s", event.EventID)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err := c.coordinator.ReconcileTransfer(ctx, event)
	return c.disposition(err, "transfer", event.Reference)
}

// disposition decides ack vs requeue. Unknown references and conflicts are
// permanent for this delivery: redelivering them cannot change the outcome, so
// they are logged and acked. Everything else (database down, timeouts) requeues.
func (c *GatewayEventConsumer) disposition(err error, kind, reference string) bool {
	if err == nil {
		return true
	}
	switch {
	case errors.Is(err, store.ErrPaymentNotFound), errors.Is(err, store.ErrPayoutNotFound):
		log.Printf("level=warn component=gateway_consumer msg=\"no record for gateway event; dropping\" kind=%s reference=%s", kind, reference)
		return true
	case errors.Is(err, store.ErrReconciliationConflict):
		log.Printf("level=error component=gateway_consumer msg=\"reconciliation conflict; dropping for manual review\" kind=%s reference=%s err=%v", kind, reference, err)
		return true
	default:
		log.Printf("level=error component=gateway_consumer msg=\"processing error; requeueing\" kind=%s reference=%s err=%v", kind, reference, err)
		return false
	}
}
