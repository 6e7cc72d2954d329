package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/usdcpay/core"
	"github.com/layer-3/usdcpay/ports"
)

// TopicPrefix is prepended to the event name to form the topic.
const TopicPrefix = "usdcpay."

// TransactionEvent is the payload of every transaction lifecycle event
type TransactionEvent struct {
	Event            string    `json:"event"`
	TransactionID    string    `json:"transaction_id"`
	SenderID         string    `json:"sender_id"`
	RecipientID      string    `json:"recipient_id"`
	RecipientAddress string    `json:"recipient_address"`
	Amount           string    `json:"amount"`
	Status           string    `json:"status"`
	TxHash           *string   `json:"tx_hash,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishTransaction publishes a lifecycle event for tx on usdcpay.<event>
func (p *WatermillPublisher) PublishTransaction(ctx context.Context, event string, tx *core.Transaction) error {
	payload, err := json.Marshal(TransactionEvent{
		Event:            event,
		TransactionID:    tx.ID,
		SenderID:         tx.SenderID,
		RecipientID:      tx.RecipientID,
		RecipientAddress: tx.RecipientAddress,
		Amount:           tx.Amount,
		Status:           string(tx.Status),
		TxHash:           tx.TxHash,
		OccurredAt:       tx.UpdatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event", event)
	msg.Metadata.Set("transaction_id", tx.ID)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(TopicPrefix+event, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// NoopPublisher drops every event. Used when events are disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishTransaction(context.Context, string, *core.Transaction) error {
	return nil
}
