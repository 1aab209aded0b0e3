package model

import "github.com/ethereum/go-ethereum/common"

// ContractState holds the process-wide settings shared by every event.
type ContractState struct {
	Owner            common.Address `json:"owner"`
	TransferFacility string         `json:"transfer_facility"`
	Active           bool           `json:"active"`
	NextEventID      uint64         `json:"next_event_id"`
}
