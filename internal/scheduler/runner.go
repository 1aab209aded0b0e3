// Package scheduler drives events through their lifecycle on a timer:
// it finalizes due events, dispatches pending payouts in batches and closes
// events once every payout is complete.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"giveaway/internal/giveaway"
	"giveaway/internal/lock"
	"giveaway/internal/model"
	"giveaway/internal/retry"
)

// Service is the part of the giveaway service the scheduler drives.
type Service interface {
	State(ctx context.Context) (model.ContractState, error)
	Events(ctx context.Context, from, limit uint64) ([]model.EventView, error)
	EventsToFinalize(ctx context.Context, from, limit uint64) ([]model.EventView, error)
	Payouts(ctx context.Context, id uint64, from, limit uint64) ([]model.PayoutView, error)
	Finalize(ctx context.Context, id uint64) ([]model.Payout, error)
	Distribute(ctx context.Context, id uint64, from, limit uint64) (model.TransferBatch, error)
	Close(ctx context.Context, id uint64) error
	FlushOutbox(ctx context.Context) (int, error)
}

// Locker serializes scheduler cycles across processes.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// RunConfig holds runtime settings for the scheduler.
type RunConfig struct {
	// BatchSize is the number of payouts per dispatched batch.
	BatchSize uint64
	// ScanSize is the number of events read per page.
	ScanSize     uint64
	Interval     time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Summary reports what one cycle did.
type Summary struct {
	Finalized  int
	Dispatched int
	Closed     int
	Flushed    int
	LowWater   uint64
}

// Runner periodically advances events.
type Runner struct {
	cfg        RunConfig
	svc        Service
	checkpoint StateStore
	locker     Locker
	logger     *zap.Logger

	OnCycle func(elapsed time.Duration, err error)
}

// NewRunner builds a Runner with its dependencies. checkpoint and locker may be nil.
func NewRunner(cfg RunConfig, svc Service, checkpoint StateStore, locker Locker, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ScanSize == 0 {
		cfg.ScanSize = 100
	}
	return &Runner{
		cfg:        cfg,
		svc:        svc,
		checkpoint: checkpoint,
		locker:     locker,
		logger:     logger,
	}
}

// Run executes cycles every Interval until ctx is cancelled. Cycle errors
// are logged and retried on the next tick.
func (r *Runner) Run(ctx context.Context) error {
	if r.cfg.Interval <= 0 {
		return fmt.Errorf("scan interval must be greater than zero")
	}
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		started := time.Now()
		summary, err := r.RunOnce(ctx)
		if r.OnCycle != nil {
			r.OnCycle(time.Since(started), err)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("scheduler cycle failed", zap.Error(err))
		} else if summary.Finalized+summary.Dispatched+summary.Closed+summary.Flushed > 0 {
			r.logger.Info("scheduler cycle complete",
				zap.Int("finalized", summary.Finalized),
				zap.Int("dispatched", summary.Dispatched),
				zap.Int("closed", summary.Closed),
				zap.Int("flushed", summary.Flushed),
				zap.Uint64("low_water", summary.LowWater),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single pass from the checkpoint to the newest event.
func (r *Runner) RunOnce(ctx context.Context) (Summary, error) {
	if r.svc == nil {
		return Summary{}, fmt.Errorf("service is nil")
	}
	if r.cfg.BatchSize == 0 {
		return Summary{}, fmt.Errorf("batch size must be greater than zero")
	}

	if r.locker != nil {
		release, err := r.locker.Lock(ctx, "scheduler")
		if err != nil {
			if errors.Is(err, lock.ErrHeld) {
				r.logger.Debug("scheduler lock held elsewhere")
				return Summary{}, nil
			}
			return Summary{}, fmt.Errorf("acquire lock: %w", err)
		}
		defer release()
	}

	state, err := r.svc.State(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load state: %w", err)
	}

	flushed, err := r.svc.FlushOutbox(ctx)
	if err != nil {
		r.logger.Warn("flush transfer outbox failed", zap.Error(err))
	}

	var from uint64
	if r.checkpoint != nil {
		lowWater, ok, err := r.checkpoint.Load(ctx)
		if err != nil {
			return Summary{}, err
		}
		if ok {
			from = lowWater
		}
	}

	summary := Summary{LowWater: from, Flushed: flushed}
	if from >= state.NextEventID {
		return summary, nil
	}

	ranges, err := SplitRange(from, state.NextEventID-1, r.cfg.ScanSize)
	if err != nil {
		return summary, err
	}

	blocked := false
	for _, page := range ranges {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		events, err := r.svc.Events(ctx, page.From, page.Len())
		if err != nil {
			return summary, fmt.Errorf("list events %d-%d: %w", page.From, page.To, err)
		}
		due, err := r.svc.EventsToFinalize(ctx, page.From, page.Len())
		if err != nil {
			return summary, fmt.Errorf("list due events %d-%d: %w", page.From, page.To, err)
		}
		dueIDs := make(map[uint64]struct{}, len(due))
		for _, e := range due {
			dueIDs[e.ID] = struct{}{}
		}

		for _, event := range events {
			_, isDue := dueIDs[event.ID]
			settled, err := r.advance(ctx, event, isDue, &summary)
			if err != nil {
				r.logger.Warn("advance event failed", zap.Uint64("event_id", event.ID), zap.Error(err))
			}
			if !settled {
				blocked = true
			}
			if !blocked {
				summary.LowWater = event.ID + 1
			}
		}
	}

	if r.checkpoint != nil && summary.LowWater != from {
		if err := r.checkpoint.Save(ctx, summary.LowWater); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

// advance moves one event forward as far as possible and reports whether it
// needs no further attention.
func (r *Runner) advance(ctx context.Context, event model.EventView, due bool, summary *Summary) (bool, error) {
	switch event.Status {
	case model.EventDistributed:
		return true, nil
	case model.EventPending:
		if !due {
			return false, nil
		}
		err := r.withRetry(ctx, func(ctx context.Context) error {
			_, err := r.svc.Finalize(ctx, event.ID)
			return err
		})
		if errors.Is(err, giveaway.ErrNoParticipants) {
			// registration is over once the event time passes
			r.logger.Info("event abandoned without participants", zap.Uint64("event_id", event.ID))
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("finalize: %w", err)
		}
		summary.Finalized++
		return r.drain(ctx, event.ID, summary)
	case model.EventCalculated:
		return r.drain(ctx, event.ID, summary)
	default:
		return false, fmt.Errorf("unknown status %q", event.Status)
	}
}

// drain dispatches every batch-sized slice that has Pending payouts and no
// batch still awaiting a result, then closes the event when all are Complete.
func (r *Runner) drain(ctx context.Context, id uint64, summary *Summary) (bool, error) {
	payouts, err := r.svc.Payouts(ctx, id, 0, math.MaxUint64)
	if err != nil {
		return false, fmt.Errorf("list payouts: %w", err)
	}

	if len(payouts) > 0 {
		chunks, err := SplitRange(0, uint64(len(payouts))-1, r.cfg.BatchSize)
		if err != nil {
			return false, err
		}
		complete := true
		for _, chunk := range chunks {
			pending, inFlight := false, false
			for _, p := range payouts[chunk.From : chunk.To+1] {
				if p.Status != model.PayoutComplete {
					complete = false
				}
				if p.Status == model.PayoutPending {
					pending = true
				}
				if p.InFlight() {
					inFlight = true
				}
			}
			if !pending || inFlight {
				continue
			}

			var batch model.TransferBatch
			err := r.withRetry(ctx, func(ctx context.Context) error {
				var err error
				batch, err = r.svc.Distribute(ctx, id, chunk.From, chunk.Len())
				return err
			})
			if err != nil {
				return false, fmt.Errorf("distribute %d-%d: %w", chunk.From, chunk.To, err)
			}
			if !batch.Empty() {
				summary.Dispatched++
			}
		}
		if !complete {
			return false, nil
		}
	}

	if err := r.svc.Close(ctx, id); err != nil {
		return false, fmt.Errorf("close: %w", err)
	}
	summary.Closed++
	return true, nil
}

// withRetry retries infrastructure failures. Rejected operations are returned at once.
func (r *Runner) withRetry(ctx context.Context, fn func(context.Context) error) error {
	return retry.Do(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		err := fn(ctx)
		if giveaway.IsPrecondition(err) {
			return retry.Permanent(err)
		}
		return err
	})
}
