package giveaway

import (
	"context"
	"math/big"

	"giveaway/internal/model"
)

// Clock reads the current time in unix seconds. It never goes backwards.
type Clock interface {
	Now(ctx context.Context) (uint64, error)
}

// Randomness supplies the draw seed.
type Randomness interface {
	Seed(ctx context.Context) ([]byte, error)
}

// Refunder returns excess deposit to an account.
type Refunder interface {
	Refund(ctx context.Context, refund model.Refund) error
}

// TransferFacility accepts a batch for asynchronous execution. The outcome
// arrives later through Service.OnTransferResult. A batch id may be submitted
// more than once and must be executed at most once.
type TransferFacility interface {
	Submit(ctx context.Context, batch model.TransferBatch) error
}

// Hooks observe completed operations. Nil funcs are skipped.
type Hooks struct {
	EventCreated    func(eventID uint64, currency string, fee *big.Int)
	EventFinalized  func(eventID uint64, winners, undistributed int)
	BatchDispatched func(eventID uint64, items int)
	BatchSettled    func(eventID uint64, success bool, completed int)
	EventClosed     func(eventID uint64)
}

func (h Hooks) eventCreated(eventID uint64, currency string, fee *big.Int) {
	if h.EventCreated != nil {
		h.EventCreated(eventID, currency, fee)
	}
}

func (h Hooks) eventFinalized(eventID uint64, winners, undistributed int) {
	if h.EventFinalized != nil {
		h.EventFinalized(eventID, winners, undistributed)
	}
}

func (h Hooks) batchDispatched(eventID uint64, items int) {
	if h.BatchDispatched != nil {
		h.BatchDispatched(eventID, items)
	}
}

func (h Hooks) batchSettled(eventID uint64, success bool, completed int) {
	if h.BatchSettled != nil {
		h.BatchSettled(eventID, success, completed)
	}
}

func (h Hooks) eventClosed(eventID uint64) {
	if h.EventClosed != nil {
		h.EventClosed(eventID)
	}
}
