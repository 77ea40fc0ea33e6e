package app

import (
	"context"
	"errors"
	"testing"

	"github.com/collably/collab-service/internal/domain"
	"github.com/collably/collab-service/internal/store"
)

func TestHandleChargeEventAcksMalformedBody(t *testing.T) {
	consumer := NewGatewayEventConsumer(newTestCoordinator(&stubRepository{}, nil))

	if !consumer.HandleChargeEvent([]byte("{not json")) {
		t.Error("malformed charge event was requeued, want ack")
	}
	if !consumer.HandleChargeEvent([]byte(`{"status":"success"}`)) {
		t.Error("charge event without reference was requeued, want ack")
	}
}

func TestHandleChargeEventDispositions(t *testing.T) {
	tests := []struct {
		name    string
		findErr error
		wantAck bool
	}{
		{name: "unknown reference acks", findErr: store.ErrPaymentNotFound, wantAck: true},
		{name: "transient error requeues", findErr: errors.New("connection refused"), wantAck: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepository{
				findPaymentByReference: func(ctx context.Context, ref string) (*domain.Payment, error) {
					return nil, tt.findErr
				},
			}
			consumer := NewGatewayEventConsumer(newTestCoordinator(repo, nil))

			ack := consumer.HandleChargeEvent([]byte(`{"reference":"PAY-X","status":"success","amount":100000}`))
			if ack != tt.wantAck {
				t.Errorf("ack = %v, want %v", ack, tt.wantAck)
			}
		})
	}
}

func TestHandleChargeEventAcksConflict(t *testing.T) {
	repo := &stubRepository{
		findPaymentByReference: func(ctx context.Context, ref string) (*domain.Payment, error) {
			return &domain.Payment{GatewayReference: ref, Amount: 100000, Status: domain.PaymentStatusFailed}, nil
		},
		settleEscrow: func(ctx context.Context, ref, gatewayTxID, channel string) (*store.EscrowSettlement, error) {
			return &store.EscrowSettlement{
				Payment: &domain.Payment{GatewayReference: ref, Amount: 100000, Status: domain.PaymentStatusFailed},
				Applied: false,
			}, nil
		},
	}
	consumer := NewGatewayEventConsumer(newTestCoordinator(repo, nil))

	// A conflict is permanent for this delivery; redelivery cannot resolve it.
	if !consumer.HandleChargeEvent([]byte(`{"reference":"PAY-X","status":"success","amount":100000}`)) {
		t.Error("conflicting charge event was requeued, want ack for manual review")
	}
}

func TestHandleTransferEventAcksMalformedBody(t *testing.T) {
	consumer := NewGatewayEventConsumer(newTestCoordinator(&stubRepository{}, nil))

	if !consumer.HandleTransferEvent([]byte("oops")) {
		t.Error("malformed transfer event was requeued, want ack")
	}
	if !consumer.HandleTransferEvent([]byte(`{"status":"success"}`)) {
		t.Error("transfer event without reference was requeued, want ack")
	}
}

func TestHandleTransferEventDispositions(t *testing.T) {
	tests := []struct {
		name        string
		completeErr error
		wantAck     bool
	}{
		{name: "success acks", wantAck: true},
		{name: "unknown reference acks", completeErr: store.ErrPayoutNotFound, wantAck: true},
		{name: "transient error requeues", completeErr: errors.New("timeout"), wantAck: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepository{
				completePayout: func(ctx context.Context, ref string) (*domain.Payout, error) {
					if tt.completeErr != nil {
						return nil, tt.completeErr
					}
					return &domain.Payout{Reference: ref, Status: domain.PayoutStatusCompleted}, nil
				},
			}
			consumer := NewGatewayEventConsumer(newTestCoordinator(repo, nil))

			ack := consumer.HandleTransferEvent([]byte(`{"reference":"PYT-X","status":"success"}`))
			if ack != tt.wantAck {
				t.Errorf("ack = %v, want %v", ack, tt.wantAck)
			}
		})
	}
}
