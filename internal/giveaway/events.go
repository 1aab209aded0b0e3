package giveaway

import (
	"context"
	"fmt"
	"math/big"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"giveaway/internal/draw"
	"giveaway/internal/fee"
	"giveaway/internal/model"
	"giveaway/internal/storage"
)

// CreateEvent stores a new Pending event owned by caller. deposit must cover
// the rewards plus the service fee; any excess is refunded to caller.
func (s *Service) CreateEvent(ctx context.Context, caller common.Address, in model.EventInput, deposit *big.Int) (uint64, error) {
	if err := s.validateInput(in); err != nil {
		return 0, err
	}
	if deposit == nil {
		deposit = new(big.Int)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now, err := s.clock.Now(ctx)
	if err != nil {
		return 0, fmt.Errorf("read clock: %w", err)
	}
	if in.AddParticipantsEnd <= now && len(in.Participants) == 0 {
		return 0, ErrUnreachable
	}

	total := model.TotalRewards(in.Rewards)
	serviceFee, required := s.cfg.Fee.RequiredDeposit(total)
	if deposit.Cmp(required) < 0 {
		return 0, fmt.Errorf("%w: attached %s, required %s", ErrInsufficientDeposit, deposit, required)
	}
	excess := new(big.Int).Sub(deposit, required)
	currency := fee.CurrencyKey(in.RewardsToken)

	var id uint64
	err = s.store.Update(ctx, func(tx storage.Tx) error {
		state, err := loadState(ctx, tx)
		if err != nil {
			return err
		}
		if !state.Active {
			return ErrInactive
		}
		ok, err := whitelisted(ctx, tx, in.RewardsToken)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrTokenNotAllowed, currency)
		}

		id = state.NextEventID
		event := newEvent(caller, in)
		if err := tx.PutEvent(ctx, id, event); err != nil {
			return fmt.Errorf("store event %d: %w", id, err)
		}
		state.NextEventID++
		if err := tx.PutState(ctx, state); err != nil {
			return fmt.Errorf("store state: %w", err)
		}
		if err := tx.AccrueFee(ctx, currency, serviceFee); err != nil {
			return fmt.Errorf("accrue fee: %w", err)
		}

		if excess.Sign() > 0 {
			refund := model.Refund{EventID: id, Recipient: caller, Token: in.RewardsToken, Amount: excess}
			if err := s.refunder.Refund(ctx, refund); err != nil {
				return fmt.Errorf("refund excess deposit: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("event created",
		zap.Uint64("event_id", id),
		zap.String("owner", caller.Hex()),
		zap.String("currency", currency),
		zap.String("total", total.String()),
		zap.String("fee", serviceFee.String()),
		zap.String("refund", excess.String()),
	)
	s.hooks.eventCreated(id, currency, serviceFee)
	return id, nil
}

func (s *Service) validateInput(in model.EventInput) error {
	if len(in.Rewards) == 0 || len(in.Rewards) >= s.cfg.MaxWinners {
		return fmt.Errorf("%w: %d rewards, limit %d", ErrTooManyRewards, len(in.Rewards), s.cfg.MaxWinners-1)
	}
	for i, reward := range in.Rewards {
		if reward == nil || reward.Sign() <= 0 {
			return fmt.Errorf("%w: reward %d", ErrInvalidRewards, i)
		}
	}
	if utf8.RuneCountInString(in.Title) >= s.cfg.MaxTitleLength {
		return fmt.Errorf("%w: title", ErrTextTooLong)
	}
	if utf8.RuneCountInString(in.Description) >= s.cfg.MaxDescriptionLength {
		return fmt.Errorf("%w: description", ErrTextTooLong)
	}
	if in.AddParticipantsStart > in.AddParticipantsEnd {
		return ErrInvalidWindow
	}
	return nil
}

func newEvent(owner common.Address, in model.EventInput) model.Event {
	event := model.Event{
		Owner:                      owner,
		Status:                     model.EventPending,
		Rewards:                    make([]*big.Int, len(in.Rewards)),
		RewardsToken:               in.RewardsToken,
		Participants:               []common.Address{},
		AllowDuplicateParticipants: in.AllowDuplicateParticipants,
		AddParticipantsStart:       in.AddParticipantsStart,
		AddParticipantsEnd:         in.AddParticipantsEnd,
		EventTimestamp:             in.EventTimestamp,
		Title:                      in.Title,
		Description:                in.Description,
	}
	for i, reward := range in.Rewards {
		event.Rewards[i] = new(big.Int).Set(reward)
	}
	appendParticipants(&event, in.Participants)
	return event
}

// appendParticipants adds candidates in order, skipping repeats unless the
// event allows them. It returns how many were added.
func appendParticipants(event *model.Event, candidates []common.Address) int {
	added := 0
	for _, candidate := range candidates {
		if !event.AllowDuplicateParticipants && event.HasParticipant(candidate) {
			continue
		}
		event.Participants = append(event.Participants, candidate)
		added++
	}
	return added
}

// InsertParticipants appends participants while the registration window is open.
func (s *Service) InsertParticipants(ctx context.Context, caller common.Address, id uint64, participants []common.Address) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now, err := s.clock.Now(ctx)
	if err != nil {
		return 0, fmt.Errorf("read clock: %w", err)
	}

	var added int
	err = s.store.Update(ctx, func(tx storage.Tx) error {
		state, err := loadState(ctx, tx)
		if err != nil {
			return err
		}
		if !state.Active {
			return ErrInactive
		}
		event, err := loadEvent(ctx, tx, id)
		if err != nil {
			return err
		}
		if event.Status != model.EventPending {
			return fmt.Errorf("%w: event %d is %s", ErrWrongStatus, id, event.Status)
		}
		if event.Owner != caller {
			return ErrNoAccess
		}
		if now < event.AddParticipantsStart || now >= event.AddParticipantsEnd || now >= event.EventTimestamp {
			return fmt.Errorf("%w: event %d at %d", ErrWindowClosed, id, now)
		}

		added = appendParticipants(&event, participants)
		if added == 0 {
			return nil
		}
		return tx.PutEvent(ctx, id, event)
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("participants added", zap.Uint64("event_id", id), zap.Int("added", added), zap.Int("submitted", len(participants)))
	return added, nil
}

// Finalize runs the draw for a Pending event whose time has come and stores
// the resulting payouts.
func (s *Service) Finalize(ctx context.Context, id uint64) ([]model.Payout, error) {
	if s.random == nil {
		return nil, fmt.Errorf("randomness source is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now, err := s.clock.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("read clock: %w", err)
	}

	var (
		payouts []model.Payout
		result  draw.Result
	)
	err = s.store.Update(ctx, func(tx storage.Tx) error {
		event, err := loadEvent(ctx, tx, id)
		if err != nil {
			return err
		}
		if event.Status != model.EventPending {
			return fmt.Errorf("%w: event %d is %s", ErrWrongStatus, id, event.Status)
		}
		if len(event.Rewards) == 0 || len(event.Participants) == 0 {
			return fmt.Errorf("%w: event %d", ErrNoParticipants, id)
		}
		if now < event.EventTimestamp {
			return fmt.Errorf("%w: event %d at %d, due %d", ErrTooEarly, id, now, event.EventTimestamp)
		}

		seed, err := s.random.Seed(ctx)
		if err != nil {
			return fmt.Errorf("read seed: %w", err)
		}
		if len(seed) < s.cfg.SeedWindow {
			return fmt.Errorf("%w: %d bytes, need %d", ErrShortSeed, len(seed), s.cfg.SeedWindow)
		}

		result = draw.Run(event.Participants, event.Rewards, seed, s.cfg.SeedWindow)
		views := make([]model.PayoutView, len(result.Assignments))
		payouts = make([]model.Payout, len(result.Assignments))
		for i, a := range result.Assignments {
			p := model.Payout{
				Winner: a.Winner,
				Amount: a.Reward,
				Token:  event.RewardsToken,
				Status: model.PayoutPending,
			}
			payouts[i] = p
			views[i] = model.PayoutView{Index: uint64(i), Payout: p}
		}

		finalized := now
		event.Status = model.EventCalculated
		event.FinalizedTimestamp = &finalized
		event.Seed = append([]byte(nil), seed...)
		event.Undistributed = result.Undistributed
		if err := tx.PutEvent(ctx, id, event); err != nil {
			return fmt.Errorf("store event %d: %w", id, err)
		}
		if err := tx.PutPayouts(ctx, id, views); err != nil {
			return fmt.Errorf("store payouts %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("event finalized",
		zap.Uint64("event_id", id),
		zap.Int("winners", len(result.Assignments)),
		zap.Int("undistributed", len(result.Undistributed)),
	)
	s.hooks.eventFinalized(id, len(result.Assignments), len(result.Undistributed))
	return payouts, nil
}

// Close marks a Calculated event Distributed once every payout is Complete.
func (s *Service) Close(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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
		pending := 0
		for _, p := range payouts {
			if p.Status != model.PayoutComplete {
				pending++
			}
		}
		if pending > 0 {
			return fmt.Errorf("%w: event %d has %d pending", ErrPayoutsPending, id, pending)
		}
		event.Status = model.EventDistributed
		return tx.PutEvent(ctx, id, event)
	})
	if err != nil {
		return err
	}

	s.logger.Info("event closed", zap.Uint64("event_id", id))
	s.hooks.eventClosed(id)
	return nil
}
