package giveaway

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"giveaway/internal/fee"
	"giveaway/internal/model"
	"giveaway/internal/storage"
)

// State returns the contract-wide state.
func (s *Service) State(ctx context.Context) (model.ContractState, error) {
	var state model.ContractState
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		state, err = loadState(ctx, tx)
		return err
	})
	return state, err
}

// NextEventID returns the id the next created event will get.
func (s *Service) NextEventID(ctx context.Context) (uint64, error) {
	state, err := s.State(ctx)
	if err != nil {
		return 0, err
	}
	return state.NextEventID, nil
}

// Event returns one event.
func (s *Service) Event(ctx context.Context, id uint64) (model.EventView, error) {
	var view model.EventView
	err := s.store.View(ctx, func(tx storage.Tx) error {
		event, err := loadEvent(ctx, tx, id)
		if err != nil {
			return err
		}
		view = model.EventView{ID: id, Event: event}
		return nil
	})
	return view, err
}

// Events lists events with ids in [from, from+limit).
func (s *Service) Events(ctx context.Context, from, limit uint64) ([]model.EventView, error) {
	return s.listEvents(ctx, from, limit, func(model.Event) bool { return true })
}

// EventsToFinalize lists Pending events in [from, from+limit) whose event
// time has been reached.
func (s *Service) EventsToFinalize(ctx context.Context, from, limit uint64) ([]model.EventView, error) {
	now, err := s.clock.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("read clock: %w", err)
	}
	return s.listEvents(ctx, from, limit, func(e model.Event) bool {
		return e.Status == model.EventPending && now >= e.EventTimestamp
	})
}

func (s *Service) listEvents(ctx context.Context, from, limit uint64, keep func(model.Event) bool) ([]model.EventView, error) {
	var out []model.EventView
	err := s.store.View(ctx, func(tx storage.Tx) error {
		state, err := loadState(ctx, tx)
		if err != nil {
			return err
		}
		start, end := clip(from, limit, state.NextEventID)
		for id := start; id < end; id++ {
			event, err := loadEvent(ctx, tx, id)
			if err != nil {
				return err
			}
			if keep(event) {
				out = append(out, model.EventView{ID: id, Event: event})
			}
		}
		return nil
	})
	return out, err
}

// Payouts lists an event's payouts with indexes in [from, from+limit).
func (s *Service) Payouts(ctx context.Context, id uint64, from, limit uint64) ([]model.PayoutView, error) {
	var out []model.PayoutView
	err := s.store.View(ctx, func(tx storage.Tx) error {
		if _, err := loadEvent(ctx, tx, id); err != nil {
			return err
		}
		payouts, err := tx.Payouts(ctx, id)
		if err != nil {
			return fmt.Errorf("load payouts %d: %w", id, err)
		}
		start, end := clip(from, limit, uint64(len(payouts)))
		for i := start; i < end; i++ {
			out = append(out, model.PayoutView{Index: i, Payout: payouts[i]})
		}
		return nil
	})
	return out, err
}

// FeeBalances returns the accrued fees per currency.
func (s *Service) FeeBalances(ctx context.Context) (fee.Balances, error) {
	var balances fee.Balances
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		balances, err = tx.FeeBalances(ctx)
		return err
	})
	return balances, err
}

// IsWhitelisted reports whether token may be used as a reward currency.
// The native currency (nil) is always allowed.
func (s *Service) IsWhitelisted(ctx context.Context, token *common.Address) (bool, error) {
	var ok bool
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		ok, err = whitelisted(ctx, tx, token)
		return err
	})
	return ok, err
}

// WhitelistedTokens lists every allowed token.
func (s *Service) WhitelistedTokens(ctx context.Context) ([]model.TokenMeta, error) {
	var tokens []model.TokenMeta
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		tokens, err = tx.WhitelistedTokens(ctx)
		return err
	})
	return tokens, err
}
