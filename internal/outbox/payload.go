// Package outbox implements the delivery half of C7: draining pending
// notification_outbox rows and delivering them to external collaborators
// (real-time broadcaster, webhook sink, push notifier) via a narrow
// Deliver contract, with exponential backoff on failure. Enqueueing lives
// in package store, inside the same transaction as the state change that
// caused it; this package never writes inside that transaction.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/oxzoid/ospay-core/internal/domain"
)

// Payload is the JSON snapshot shape from spec.md §6.
type Payload struct {
	OrderID        string  `json:"orderId"`
	UserID         string  `json:"userId"`
	MerchantID     string  `json:"merchantId,omitempty"`
	Status         string  `json:"status"`
	MinimalStatus  string  `json:"minimal_status"`
	OrderVersion   int64   `json:"order_version"`
	PreviousStatus string  `json:"previousStatus,omitempty"`
	UpdatedAt      string  `json:"updatedAt"`
	TxHash         *string `json:"tx_hash,omitempty"`
}

// Marshal renders a Payload to its stored JSON form.
func Marshal(p Payload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// NewPayload builds a Payload snapshot for an outbox row at enqueue time.
func NewPayload(orderID, userID, merchantID string, status domain.Status, minimal domain.MinimalStatus, version int64, previous domain.Status, txHash string) Payload {
	p := Payload{
		OrderID:        orderID,
		UserID:         userID,
		MerchantID:     merchantID,
		Status:         string(status),
		MinimalStatus:  string(minimal),
		OrderVersion:   version,
		PreviousStatus: string(previous),
		UpdatedAt:      time.Now().UTC().Format(time.RFC3339),
	}
	if txHash != "" {
		p.TxHash = &txHash
	}
	return p
}
