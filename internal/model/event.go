package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// EventStatus is the lifecycle state of a giveaway event.
type EventStatus string

const (
	EventPending     EventStatus = "pending"
	EventCalculated  EventStatus = "calculated"
	EventDistributed EventStatus = "distributed"
)

// Event is the current shape of a stored giveaway event.
type Event struct {
	Owner                      common.Address   `json:"owner"`
	Status                     EventStatus      `json:"status"`
	Rewards                    []*big.Int       `json:"rewards"`
	RewardsToken               *common.Address  `json:"rewards_token,omitempty"`
	Participants               []common.Address `json:"participants"`
	AllowDuplicateParticipants bool             `json:"allow_duplicate_participants"`
	AddParticipantsStart       uint64           `json:"add_participants_start"`
	AddParticipantsEnd         uint64           `json:"add_participants_end"`
	EventTimestamp             uint64           `json:"event_timestamp"`
	FinalizedTimestamp         *uint64          `json:"finalized_timestamp,omitempty"`
	Seed                       hexutil.Bytes    `json:"seed,omitempty"`
	Undistributed              []*big.Int       `json:"undistributed,omitempty"`
	Title                      string           `json:"title"`
	Description                string           `json:"description"`
}

// EventInput is the organizer-supplied part of a new event.
type EventInput struct {
	Rewards                    []*big.Int       `json:"rewards"`
	RewardsToken               *common.Address  `json:"rewards_token,omitempty"`
	Participants               []common.Address `json:"participants"`
	AllowDuplicateParticipants bool             `json:"allow_duplicate_participants"`
	AddParticipantsStart       uint64           `json:"add_participants_start"`
	AddParticipantsEnd         uint64           `json:"add_participants_end"`
	EventTimestamp             uint64           `json:"event_timestamp"`
	Title                      string           `json:"title"`
	Description                string           `json:"description"`
}

// EventView pairs an event with its id for listings.
type EventView struct {
	ID uint64 `json:"id"`
	Event
}

// TotalRewards sums the reward amounts.
func TotalRewards(rewards []*big.Int) *big.Int {
	total := new(big.Int)
	for _, reward := range rewards {
		if reward != nil {
			total.Add(total, reward)
		}
	}
	return total
}

// HasParticipant reports whether addr is already registered.
func (e *Event) HasParticipant(addr common.Address) bool {
	for _, p := range e.Participants {
		if p == addr {
			return true
		}
	}
	return false
}
