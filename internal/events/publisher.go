// Package events publishes transaction status transitions to a Kafka
// topic for downstream consumers (analytics, merchant webhooks).
// Publishing is fire-and-forget: a broker outage never affects
// reconciliation.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/malipo/orchestrator/internal/domain"
)

const publishTimeout = 5 * time.Second

type StatusEvent struct {
	TransactionID string    `json:"transaction_id"`
	OwnerUID      string    `json:"owner_uid"`
	Processor     string    `json:"processor"`
	Status        string    `json:"status"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	GatewayRef    string    `json:"gateway_ref,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher builds a publisher, or nil when no brokers are
// configured; a nil *Publisher is safe to call.
func NewPublisher(brokers []string, topic string) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			WriteTimeout: publishTimeout,
		},
	}
}

// PublishStatus emits one event keyed by transaction id, so all events
// for a transaction land on one partition in order.
func (p *Publisher) PublishStatus(ctx context.Context, tx *domain.Transaction) {
	if p == nil {
		return
	}

	event := StatusEvent{
		TransactionID: tx.ID,
		OwnerUID:      tx.OwnerUID,
		Processor:     string(tx.Processor),
		Status:        string(tx.Status),
		Amount:        tx.Amount.String(),
		Currency:      tx.Currency,
		GatewayRef:    tx.GatewayRef,
		OccurredAt:    time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("[events] WARNING: encode event for %s: %v", tx.ID, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(tx.ID),
		Value: payload,
	})
	if err != nil {
		log.Printf("[events] WARNING: publish for %s failed: %v", tx.ID, err)
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
