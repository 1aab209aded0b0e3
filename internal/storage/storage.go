package storage

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"giveaway/internal/fee"
	"giveaway/internal/model"
)

// ErrReadOnly is returned when a write is attempted inside View.
var ErrReadOnly = errors.New("storage: read-only transaction")

// Store runs operations atomically. A failed Update leaves no trace.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}

// Tx is the per-operation view over persisted giveaway records.
// Lookups that miss return (zero, false, nil).
type Tx interface {
	State(ctx context.Context) (model.ContractState, bool, error)
	PutState(ctx context.Context, state model.ContractState) error

	Event(ctx context.Context, id uint64) (model.Event, bool, error)
	PutEvent(ctx context.Context, id uint64, event model.Event) error

	// Payouts returns the event's payouts ordered by index.
	Payouts(ctx context.Context, eventID uint64) ([]model.Payout, error)
	// PutPayouts upserts payouts by index.
	PutPayouts(ctx context.Context, eventID uint64, payouts []model.PayoutView) error

	AccrueFee(ctx context.Context, currency string, amount *big.Int) error
	FeeBalances(ctx context.Context) (fee.Balances, error)

	Whitelisted(ctx context.Context, token common.Address) (model.TokenMeta, bool, error)
	PutWhitelisted(ctx context.Context, meta model.TokenMeta) error
	WhitelistedTokens(ctx context.Context) ([]model.TokenMeta, error)

	// PutOutbox records a batch that still has to reach the transfer facility.
	PutOutbox(ctx context.Context, batch model.TransferBatch) error
	// DeleteOutbox drops a delivered batch. Unknown ids are ignored.
	DeleteOutbox(ctx context.Context, batchID string) error
	// Outbox returns undelivered batches, oldest first.
	Outbox(ctx context.Context) ([]model.TransferBatch, error)
}
