package domain

import "time"

// ChargeStatusEvent is the message published when the payment gateway reports a
// charge outcome, either via webhook or via a synchronous verify poll that the
// API layer chose to fan out. Consumers reconcile it against the payment row.
type ChargeStatusEvent struct {
	EventID     string    `json:"event_id"`
	Reference   string    `json:"reference"`
	Status      string    `json:"status"` // 'success', 'failed', 'abandoned'
	Channel     string    `json:"channel,omitempty"`
	GatewayTxID string    `json:"gateway_tx_id,omitempty"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// TransferStatusEvent is the message published when the gateway reports a payout
// transfer outcome ('transfer.success', 'transfer.failed', 'transfer.reversed').
type TransferStatusEvent struct {
	EventID      string    `json:"event_id"`
	Reference    string    `json:"reference"`
	TransferCode string    `json:"transfer_code,omitempty"`
	Status       string    `json:"status"` // 'success', 'failed', 'reversed'
	Amount       int64     `json:"amount"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
