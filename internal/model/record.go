package model

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Record kinds stored behind an Envelope.
const (
	KindEvent  = "event"
	KindPayout = "payout"
	KindState  = "state"
	KindBatch  = "batch"
)

const (
	eventVersionCurrent  uint16 = 1
	payoutVersionCurrent uint16 = 2
	stateVersionCurrent  uint16 = 1
	batchVersionCurrent  uint16 = 1
)

// Envelope wraps a stored record with its kind and shape version.
// Readers decode the payload by version and upgrade it to the current shape.
type Envelope struct {
	Kind    string          `json:"kind"`
	Version uint16          `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

// VersionedEvent is any stored shape of an event.
type VersionedEvent interface {
	upgrade() Event
}

// EventV1 is the first stored event shape.
type EventV1 Event

func (e EventV1) upgrade() Event { return Event(e) }

// VersionedPayout is any stored shape of a payout.
type VersionedPayout interface {
	upgrade() Payout
}

// PayoutV1 is the first stored payout shape. It counted attempts and
// failures but did not record which batch was outstanding.
type PayoutV1 struct {
	Winner   common.Address  `json:"winner"`
	Amount   *big.Int        `json:"amount"`
	Token    *common.Address `json:"token,omitempty"`
	Status   PayoutStatus    `json:"status"`
	Attempts uint32          `json:"attempts"`
	Failures uint32          `json:"failures"`
}

// upgrade leaves Batch empty, so a v1 payout is never treated as in flight.
func (p PayoutV1) upgrade() Payout {
	return Payout{
		Winner:   p.Winner,
		Amount:   p.Amount,
		Token:    p.Token,
		Status:   p.Status,
		Attempts: p.Attempts,
		Failures: p.Failures,
	}
}

// PayoutV2 adds the outstanding batch id.
type PayoutV2 Payout

func (p PayoutV2) upgrade() Payout { return Payout(p) }

// VersionedState is any stored shape of the contract state.
type VersionedState interface {
	upgrade() ContractState
}

// StateV1 is the first stored contract state shape.
type StateV1 ContractState

func (s StateV1) upgrade() ContractState { return ContractState(s) }

// EncodeEvent wraps an event in the current envelope.
func EncodeEvent(e Event) ([]byte, error) {
	return encodeEnvelope(KindEvent, eventVersionCurrent, EventV1(e))
}

// DecodeEvent reads any known event shape and upgrades it.
func DecodeEvent(data []byte) (Event, error) {
	env, err := decodeEnvelope(data, KindEvent)
	if err != nil {
		return Event{}, err
	}

	var v VersionedEvent
	switch env.Version {
	case 1:
		var e EventV1
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return Event{}, fmt.Errorf("decode event v1: %w", err)
		}
		v = e
	default:
		return Event{}, fmt.Errorf("unsupported event version %d", env.Version)
	}
	return v.upgrade(), nil
}

// EncodePayout wraps a payout in the current envelope.
func EncodePayout(p Payout) ([]byte, error) {
	return encodeEnvelope(KindPayout, payoutVersionCurrent, PayoutV2(p))
}

// DecodePayout reads any known payout shape and upgrades it.
func DecodePayout(data []byte) (Payout, error) {
	env, err := decodeEnvelope(data, KindPayout)
	if err != nil {
		return Payout{}, err
	}

	var v VersionedPayout
	switch env.Version {
	case 1:
		var p PayoutV1
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Payout{}, fmt.Errorf("decode payout v1: %w", err)
		}
		v = p
	case 2:
		var p PayoutV2
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Payout{}, fmt.Errorf("decode payout v2: %w", err)
		}
		v = p
	default:
		return Payout{}, fmt.Errorf("unsupported payout version %d", env.Version)
	}
	return v.upgrade(), nil
}

// EncodeState wraps the contract state in the current envelope.
func EncodeState(s ContractState) ([]byte, error) {
	return encodeEnvelope(KindState, stateVersionCurrent, StateV1(s))
}

// DecodeState reads any known contract state shape and upgrades it.
func DecodeState(data []byte) (ContractState, error) {
	env, err := decodeEnvelope(data, KindState)
	if err != nil {
		return ContractState{}, err
	}

	var v VersionedState
	switch env.Version {
	case 1:
		var s StateV1
		if err := json.Unmarshal(env.Payload, &s); err != nil {
			return ContractState{}, fmt.Errorf("decode state v1: %w", err)
		}
		v = s
	default:
		return ContractState{}, fmt.Errorf("unsupported state version %d", env.Version)
	}
	return v.upgrade(), nil
}

// EncodeBatch wraps a transfer batch awaiting delivery.
func EncodeBatch(b TransferBatch) ([]byte, error) {
	return encodeEnvelope(KindBatch, batchVersionCurrent, b)
}

// DecodeBatch reads a stored transfer batch.
func DecodeBatch(data []byte) (TransferBatch, error) {
	env, err := decodeEnvelope(data, KindBatch)
	if err != nil {
		return TransferBatch{}, err
	}
	if env.Version != batchVersionCurrent {
		return TransferBatch{}, fmt.Errorf("unsupported batch version %d", env.Version)
	}
	var b TransferBatch
	if err := json.Unmarshal(env.Payload, &b); err != nil {
		return TransferBatch{}, fmt.Errorf("decode batch v1: %w", err)
	}
	return b, nil
}

func encodeEnvelope(kind string, version uint16, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", kind, err)
	}
	data, err := json.Marshal(Envelope{Kind: kind, Version: version, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", kind, err)
	}
	return data, nil
}

func decodeEnvelope(data []byte, kind string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse %s envelope: %w", kind, err)
	}
	if env.Kind != kind {
		return Envelope{}, fmt.Errorf("record kind %q, want %q", env.Kind, kind)
	}
	return env, nil
}
