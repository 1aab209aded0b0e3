package transfer

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// Default topic names.
const (
	TopicBatches = "giveaway_payout_batches"
	TopicResults = "giveaway_payout_results"
	TopicRefunds = "giveaway_refunds"
)

// ResultGroup is the consumer group reading transfer results.
const ResultGroup = "giveaway-results"

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func NewReader(brokers []string, topic string, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
}
