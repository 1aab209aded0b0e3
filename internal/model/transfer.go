package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TransferItem is one recipient line of a bulk transfer.
type TransferItem struct {
	PayoutIndex uint64          `json:"payout_index"`
	Recipient   common.Address  `json:"recipient"`
	Token       *common.Address `json:"token,omitempty"`
	Amount      *big.Int        `json:"amount"`
}

// TransferBatch is the request handed to the bulk transfer facility.
type TransferBatch struct {
	ID      string          `json:"id"`
	EventID uint64          `json:"event_id"`
	Token   *common.Address `json:"token,omitempty"`
	Items   []TransferItem  `json:"items"`
	Total   *big.Int        `json:"total"`
}

// Empty reports whether the batch carries no payouts.
func (b TransferBatch) Empty() bool {
	return len(b.Items) == 0
}

// TransferResult is the facility's batch-level report for a dispatched batch.
type TransferResult struct {
	BatchID string         `json:"batch_id"`
	EventID uint64         `json:"event_id"`
	Items   []TransferItem `json:"items"`
	Success bool           `json:"success"`
	Reason  string         `json:"reason,omitempty"`
}

// Refund returns excess deposit to an event owner.
type Refund struct {
	EventID   uint64          `json:"event_id"`
	Recipient common.Address  `json:"recipient"`
	Token     *common.Address `json:"token,omitempty"`
	Amount    *big.Int        `json:"amount"`
}
