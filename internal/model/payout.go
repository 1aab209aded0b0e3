package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PayoutStatus tracks delivery of a single reward.
type PayoutStatus string

const (
	PayoutPending  PayoutStatus = "pending"
	PayoutComplete PayoutStatus = "complete"
)

// Payout is one reward assigned to one winner.
type Payout struct {
	Winner   common.Address  `json:"winner"`
	Amount   *big.Int        `json:"amount"`
	Token    *common.Address `json:"token,omitempty"`
	Status   PayoutStatus    `json:"status"`
	Attempts uint32          `json:"attempts"`
	Failures uint32          `json:"failures"`
	// Batch is the id of the latest dispatched batch still awaiting a result.
	Batch string `json:"batch,omitempty"`
}

// InFlight reports whether a dispatched batch for this payout has not reported back yet.
func (p Payout) InFlight() bool {
	return p.Status == PayoutPending && p.Batch != ""
}

// PayoutView pairs a payout with its index in the event's payout list.
type PayoutView struct {
	Index uint64 `json:"index"`
	Payout
}
