package giveaway

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"giveaway/internal/draw"
	"giveaway/internal/fee"
	"giveaway/internal/model"
	"giveaway/internal/storage"
)

// Config holds the limits applied to every event.
type Config struct {
	// MaxWinners is the exclusive upper bound on the reward count.
	MaxWinners int
	// SeedWindow is how many seed bytes the draw cursor cycles through.
	// Finalize rejects seeds shorter than this.
	SeedWindow           int
	MaxTitleLength       int
	MaxDescriptionLength int
	Fee                  fee.Schedule
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxWinners:           draw.DefaultWindow,
		SeedWindow:           draw.DefaultWindow,
		MaxTitleLength:       100,
		MaxDescriptionLength: 280,
		Fee:                  fee.Schedule{Numerator: 2, Denominator: 100},
	}
}

// Deps are the collaborators the service calls out to.
type Deps struct {
	Store    storage.Store
	Clock    Clock
	Random   Randomness
	Refunder Refunder
	Transfer TransferFacility
	Hooks    Hooks
}

// Service owns events, payouts and the fee ledger. Operations run one at a
// time and each commits atomically.
type Service struct {
	cfg      Config
	store    storage.Store
	clock    Clock
	random   Randomness
	refunder Refunder
	transfer TransferFacility
	hooks    Hooks
	logger   *zap.Logger

	mu sync.Mutex
}

// New builds a Service with its dependencies.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("clock is nil")
	}
	if deps.Refunder == nil {
		return nil, fmt.Errorf("refunder is nil")
	}
	if cfg.MaxWinners <= 1 {
		return nil, fmt.Errorf("max winners must be greater than one")
	}
	if cfg.SeedWindow <= 0 {
		return nil, fmt.Errorf("seed window must be greater than zero")
	}
	if cfg.MaxTitleLength <= 0 || cfg.MaxDescriptionLength <= 0 {
		return nil, fmt.Errorf("text length limits must be greater than zero")
	}
	if err := cfg.Fee.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		clock:    deps.Clock,
		random:   deps.Random,
		refunder: deps.Refunder,
		transfer: deps.Transfer,
		hooks:    deps.Hooks,
		logger:   logger,
	}, nil
}

// Config returns the active limits.
func (s *Service) Config() Config {
	return s.cfg
}

// Init records the contract owner and transfer facility. It runs once.
func (s *Service) Init(ctx context.Context, owner common.Address, facility string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.store.Update(ctx, func(tx storage.Tx) error {
		_, ok, err := tx.State(ctx)
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		if ok {
			return ErrAlreadyInitialized
		}
		return tx.PutState(ctx, model.ContractState{
			Owner:            owner,
			TransferFacility: facility,
			Active:           true,
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info("contract initialized", zap.String("owner", owner.Hex()), zap.String("facility", facility))
	return nil
}

// SetActive enables or disables event creation and registration.
func (s *Service) SetActive(ctx context.Context, caller common.Address, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.store.Update(ctx, func(tx storage.Tx) error {
		state, err := loadState(ctx, tx)
		if err != nil {
			return err
		}
		if caller != state.Owner {
			return ErrNoAccess
		}
		state.Active = active
		return tx.PutState(ctx, state)
	})
	if err != nil {
		return err
	}
	s.logger.Info("contract active flag set", zap.Bool("active", active))
	return nil
}

// WhitelistToken allows token as a reward currency.
func (s *Service) WhitelistToken(ctx context.Context, caller common.Address, meta model.TokenMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.store.Update(ctx, func(tx storage.Tx) error {
		state, err := loadState(ctx, tx)
		if err != nil {
			return err
		}
		if caller != state.Owner {
			return ErrNoAccess
		}
		return tx.PutWhitelisted(ctx, meta)
	})
	if err != nil {
		return err
	}
	s.logger.Info("token whitelisted", zap.String("token", meta.Address.Hex()), zap.String("symbol", meta.Symbol))
	return nil
}

func loadState(ctx context.Context, tx storage.Tx) (model.ContractState, error) {
	state, ok, err := tx.State(ctx)
	if err != nil {
		return model.ContractState{}, fmt.Errorf("load state: %w", err)
	}
	if !ok {
		return model.ContractState{}, ErrNotInitialized
	}
	return state, nil
}

func loadEvent(ctx context.Context, tx storage.Tx, id uint64) (model.Event, error) {
	event, ok, err := tx.Event(ctx, id)
	if err != nil {
		return model.Event{}, fmt.Errorf("load event %d: %w", id, err)
	}
	if !ok {
		return model.Event{}, fmt.Errorf("event %d: %w", id, ErrEventNotFound)
	}
	return event, nil
}

func whitelisted(ctx context.Context, tx storage.Tx, token *common.Address) (bool, error) {
	if token == nil {
		return true, nil
	}
	_, ok, err := tx.Whitelisted(ctx, *token)
	if err != nil {
		return false, fmt.Errorf("load whitelist: %w", err)
	}
	return ok, nil
}

// clip returns the half-open range [from, from+limit) bounded by n.
func clip(from, limit, n uint64) (uint64, uint64) {
	if from >= n {
		return n, n
	}
	end := n
	if limit < n-from {
		end = from + limit
	}
	return from, end
}
