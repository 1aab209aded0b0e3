package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"giveaway/internal/model"
	"giveaway/internal/retry"
)

// MessageReader is the consuming half of a kafka client with manual commits.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// ResultConsumer feeds transfer results back into the giveaway service.
// A message is committed once handled or once Handle rejects it for good;
// transient failures are retried and, when retries run out, stop the
// consumer without committing so the result is read again on restart.
type ResultConsumer struct {
	Reader MessageReader
	Handle func(ctx context.Context, result model.TransferResult) error
	// Permanent reports errors that retrying cannot fix.
	Permanent func(error) bool
	// DeadLetters receives results rejected for good. Optional.
	DeadLetters MessageWriter

	MaxRetries   int
	RetryBackoff time.Duration
	Log          *zap.Logger

	OnConsumed func()
	OnError    func(stage string)
}

// Run consumes until ctx is cancelled or a result cannot be applied.
func (c *ResultConsumer) Run(ctx context.Context) error {
	if c.Reader == nil {
		return fmt.Errorf("result reader is nil")
	}
	if c.Handle == nil {
		return fmt.Errorf("result handler is nil")
	}
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}

	for {
		msg, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("kafka fetch failed", zap.Error(err))
			c.failed("fetch")
			if err := sleep(ctx, 500*time.Millisecond); err != nil {
				return err
			}
			continue
		}
		if c.OnConsumed != nil {
			c.OnConsumed()
		}

		if err := c.process(ctx, log, msg); err != nil {
			return err
		}
		if err := c.Reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *ResultConsumer) process(ctx context.Context, log *zap.Logger, msg kafka.Message) error {
	var result model.TransferResult
	if err := json.Unmarshal(msg.Value, &result); err != nil {
		log.Warn("invalid transfer result", zap.Int64("offset", msg.Offset), zap.Error(err))
		c.failed("decode")
		return c.deadLetter(ctx, msg)
	}

	err := retry.Do(ctx, c.MaxRetries, c.RetryBackoff, func(ctx context.Context) error {
		err := c.Handle(ctx, result)
		if err == nil {
			return nil
		}
		if c.Permanent != nil && c.Permanent(err) {
			return retry.Permanent(err)
		}
		log.Warn("apply transfer result failed", zap.String("batch_id", result.BatchID), zap.Error(err))
		return err
	})
	if retry.IsPermanent(err) {
		log.Error("transfer result rejected",
			zap.String("batch_id", result.BatchID),
			zap.Uint64("event_id", result.EventID),
			zap.Error(err),
		)
		c.failed("rejected")
		return c.deadLetter(ctx, msg)
	}
	if err != nil {
		c.failed("apply")
		return fmt.Errorf("apply batch %s: %w", result.BatchID, err)
	}
	return nil
}

func (c *ResultConsumer) deadLetter(ctx context.Context, msg kafka.Message) error {
	if c.DeadLetters == nil {
		return nil
	}
	if err := c.DeadLetters.WriteMessages(ctx, kafka.Message{Key: msg.Key, Value: msg.Value, Time: time.Now()}); err != nil {
		return fmt.Errorf("write dead letter: %w", err)
	}
	return nil
}

func (c *ResultConsumer) failed(stage string) {
	if c.OnError != nil {
		c.OnError(stage)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
