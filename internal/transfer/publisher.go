package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"giveaway/internal/model"
)

// MessageWriter is the producing half of a kafka client.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher hands payout batches and refunds to the transfer facility over
// kafka. Batches are keyed by batch id, refunds by event id.
type Publisher struct {
	Batches MessageWriter
	Refunds MessageWriter
}

func NewPublisher(batches, refunds MessageWriter) *Publisher {
	return &Publisher{Batches: batches, Refunds: refunds}
}

func (p *Publisher) Submit(ctx context.Context, batch model.TransferBatch) error {
	if p.Batches == nil {
		return fmt.Errorf("batch writer is nil")
	}
	return writeJSON(ctx, p.Batches, batch.ID, batch)
}

func (p *Publisher) Refund(ctx context.Context, refund model.Refund) error {
	if p.Refunds == nil {
		return fmt.Errorf("refund writer is nil")
	}
	return writeJSON(ctx, p.Refunds, strconv.FormatUint(refund.EventID, 10), refund)
}

func writeJSON(ctx context.Context, w MessageWriter, key string, payload interface{}) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", key, err)
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message %s: %w", key, err)
	}
	return nil
}
