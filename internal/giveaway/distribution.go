package giveaway

import (
	"context"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"giveaway/internal/model"
	"giveaway/internal/storage"
)

// Distribute builds one batch from the Pending payouts in [from, from+limit)
// and hands it to the transfer facility. A zero limit selects the rest of the
// list. The batch is committed to the outbox together with the payout updates
// and only then submitted; a failed submit leaves it queued for FlushOutbox
// under the same id. An empty batch is returned without dispatching when
// nothing in range is Pending.
func (s *Service) Distribute(ctx context.Context, id uint64, from, limit uint64) (model.TransferBatch, error) {
	if s.transfer == nil {
		return model.TransferBatch{}, fmt.Errorf("transfer facility is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := model.TransferBatch{ID: uuid.NewString(), EventID: id, Total: new(big.Int)}
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		event, err := loadEvent(ctx, tx, id)
		if err != nil {
			return err
		}
		if event.Status != model.EventCalculated {
			return fmt.Errorf("%w: event %d is %s", ErrWrongStatus, id, event.Status)
		}
		payouts, err := tx.Payouts(ctx, id)
		if err != nil {
			return fmt.Errorf("load payouts %d: %w", id, err)
		}

		n := uint64(len(payouts))
		if limit == 0 {
			limit = n
		}
		start, end := clip(from, limit, n)

		batch.Token = event.RewardsToken
		var touched []model.PayoutView
		for i := start; i < end; i++ {
			p := payouts[i]
			if p.Status != model.PayoutPending {
				continue
			}
			p.Attempts++
			p.Batch = batch.ID
			touched = append(touched, model.PayoutView{Index: i, Payout: p})
			batch.Items = append(batch.Items, model.TransferItem{
				PayoutIndex: i,
				Recipient:   p.Winner,
				Token:       p.Token,
				Amount:      new(big.Int).Set(p.Amount),
			})
			batch.Total.Add(batch.Total, p.Amount)
		}
		if batch.Empty() {
			return nil
		}

		if err := tx.PutPayouts(ctx, id, touched); err != nil {
			return fmt.Errorf("store payouts %d: %w", id, err)
		}
		if err := tx.PutOutbox(ctx, batch); err != nil {
			return fmt.Errorf("queue batch %s: %w", batch.ID, err)
		}
		return nil
	})
	if err != nil {
		return model.TransferBatch{}, err
	}

	if batch.Empty() {
		batch.ID = ""
		s.logger.Debug("nothing to distribute", zap.Uint64("event_id", id), zap.Uint64("from", from), zap.Uint64("limit", limit))
		return batch, nil
	}
	s.logger.Info("batch dispatched",
		zap.Uint64("event_id", id),
		zap.String("batch_id", batch.ID),
		zap.Int("items", len(batch.Items)),
		zap.String("total", batch.Total.String()),
	)
	s.hooks.batchDispatched(id, len(batch.Items))
	s.deliver(ctx, batch)
	return batch, nil
}

// FlushOutbox resubmits every batch that has not been handed to the transfer
// facility yet. It returns how many were delivered.
func (s *Service) FlushOutbox(ctx context.Context) (int, error) {
	if s.transfer == nil {
		return 0, fmt.Errorf("transfer facility is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var queued []model.TransferBatch
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		queued, err = tx.Outbox(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("load outbox: %w", err)
	}

	delivered := 0
	for _, batch := range queued {
		if s.deliver(ctx, batch) {
			delivered++
		}
	}
	return delivered, nil
}

// deliver submits a queued batch and drops it from the outbox on success.
// Failures are logged; the batch stays queued.
func (s *Service) deliver(ctx context.Context, batch model.TransferBatch) bool {
	if err := s.transfer.Submit(ctx, batch); err != nil {
		s.logger.Warn("batch submit failed, kept in outbox",
			zap.Uint64("event_id", batch.EventID),
			zap.String("batch_id", batch.ID),
			zap.Error(err),
		)
		return false
	}
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		return tx.DeleteOutbox(ctx, batch.ID)
	})
	if err != nil {
		s.logger.Warn("drop delivered batch from outbox", zap.String("batch_id", batch.ID), zap.Error(err))
	}
	return true
}

// OnTransferResult applies the facility's verdict on a dispatched batch.
// Success completes every listed payout that is still Pending, whichever
// batch carried it. Failure returns a payout to the retry pool only when the
// report is for its outstanding batch, so repeated or late failure reports
// for an older batch change nothing. Reports for an event that is already
// Distributed are ignored.
func (s *Service) OnTransferResult(ctx context.Context, result model.TransferResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	completed := 0
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		event, err := loadEvent(ctx, tx, result.EventID)
		if err != nil {
			return err
		}
		switch event.Status {
		case model.EventDistributed:
			return nil
		case model.EventCalculated:
		default:
			return fmt.Errorf("%w: event %d is %s", ErrWrongStatus, result.EventID, event.Status)
		}

		payouts, err := tx.Payouts(ctx, result.EventID)
		if err != nil {
			return fmt.Errorf("load payouts %d: %w", result.EventID, err)
		}

		var touched []model.PayoutView
		for _, item := range result.Items {
			if item.PayoutIndex >= uint64(len(payouts)) {
				return fmt.Errorf("%w: payout %d out of range", ErrBatchMismatch, item.PayoutIndex)
			}
			p := payouts[item.PayoutIndex]
			if p.Winner != item.Recipient || item.Amount == nil || p.Amount.Cmp(item.Amount) != 0 {
				return fmt.Errorf("%w: payout %d", ErrBatchMismatch, item.PayoutIndex)
			}
			if p.Status == model.PayoutComplete {
				continue
			}
			switch {
			case result.Success:
				p.Status = model.PayoutComplete
				p.Batch = ""
				completed++
			case result.BatchID != "" && p.Batch == result.BatchID:
				p.Failures++
				p.Batch = ""
			default:
				continue
			}
			touched = append(touched, model.PayoutView{Index: item.PayoutIndex, Payout: p})
		}
		if result.BatchID != "" {
			if err := tx.DeleteOutbox(ctx, result.BatchID); err != nil {
				return fmt.Errorf("drop batch %s: %w", result.BatchID, err)
			}
		}
		if len(touched) == 0 {
			return nil
		}
		return tx.PutPayouts(ctx, result.EventID, touched)
	})
	if err != nil {
		return err
	}

	if result.Success {
		s.logger.Info("batch settled",
			zap.Uint64("event_id", result.EventID),
			zap.String("batch_id", result.BatchID),
			zap.Int("completed", completed),
		)
	} else {
		s.logger.Warn("batch failed",
			zap.Uint64("event_id", result.EventID),
			zap.String("batch_id", result.BatchID),
			zap.String("reason", result.Reason),
			zap.Int("items", len(result.Items)),
		)
	}
	s.hooks.batchSettled(result.EventID, result.Success, completed)
	return nil
}
