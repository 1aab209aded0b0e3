package storage

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"giveaway/internal/fee"
	"giveaway/internal/model"
)

// MemoryStore keeps encoded records in process memory.
// Update runs against a copy that replaces the live data only on success.
type MemoryStore struct {
	mu   sync.RWMutex
	data *memoryData
}

type memoryData struct {
	state   []byte
	events  map[uint64][]byte
	payouts map[uint64][][]byte
	fees    fee.Balances
	tokens  map[common.Address]model.TokenMeta
	outbox  map[string]outboxEntry
	seq     uint64
}

type outboxEntry struct {
	seq  uint64
	data []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: &memoryData{
		events:  make(map[uint64][]byte),
		payouts: make(map[uint64][][]byte),
		fees:    fee.Balances{},
		tokens:  make(map[common.Address]model.TokenMeta),
		outbox:  make(map[string]outboxEntry),
	}}
}

func (s *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.data.clone()
	if err := fn(&memoryTx{data: working}); err != nil {
		return err
	}
	s.data = working
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memoryTx{data: s.data, readOnly: true})
}

// clone copies the maps. Encoded records are never mutated in place.
func (d *memoryData) clone() *memoryData {
	out := &memoryData{
		state:   d.state,
		events:  make(map[uint64][]byte, len(d.events)),
		payouts: make(map[uint64][][]byte, len(d.payouts)),
		fees:    d.fees.Clone(),
		tokens:  make(map[common.Address]model.TokenMeta, len(d.tokens)),
		outbox:  make(map[string]outboxEntry, len(d.outbox)),
		seq:     d.seq,
	}
	for k, v := range d.events {
		out.events[k] = v
	}
	for k, v := range d.payouts {
		out.payouts[k] = v
	}
	for k, v := range d.tokens {
		out.tokens[k] = v
	}
	for k, v := range d.outbox {
		out.outbox[k] = v
	}
	return out
}

type memoryTx struct {
	data     *memoryData
	readOnly bool
}

func (tx *memoryTx) writable() error {
	if tx.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (tx *memoryTx) State(ctx context.Context) (model.ContractState, bool, error) {
	if tx.data.state == nil {
		return model.ContractState{}, false, nil
	}
	state, err := model.DecodeState(tx.data.state)
	if err != nil {
		return model.ContractState{}, false, err
	}
	return state, true, nil
}

func (tx *memoryTx) PutState(ctx context.Context, state model.ContractState) error {
	if err := tx.writable(); err != nil {
		return err
	}
	data, err := model.EncodeState(state)
	if err != nil {
		return err
	}
	tx.data.state = data
	return nil
}

func (tx *memoryTx) Event(ctx context.Context, id uint64) (model.Event, bool, error) {
	data, ok := tx.data.events[id]
	if !ok {
		return model.Event{}, false, nil
	}
	event, err := model.DecodeEvent(data)
	if err != nil {
		return model.Event{}, false, fmt.Errorf("event %d: %w", id, err)
	}
	return event, true, nil
}

func (tx *memoryTx) PutEvent(ctx context.Context, id uint64, event model.Event) error {
	if err := tx.writable(); err != nil {
		return err
	}
	data, err := model.EncodeEvent(event)
	if err != nil {
		return err
	}
	tx.data.events[id] = data
	return nil
}

func (tx *memoryTx) Payouts(ctx context.Context, eventID uint64) ([]model.Payout, error) {
	raw := tx.data.payouts[eventID]
	out := make([]model.Payout, 0, len(raw))
	for i, data := range raw {
		p, err := model.DecodePayout(data)
		if err != nil {
			return nil, fmt.Errorf("payout %d/%d: %w", eventID, i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (tx *memoryTx) PutPayouts(ctx context.Context, eventID uint64, payouts []model.PayoutView) error {
	if err := tx.writable(); err != nil {
		return err
	}
	current := tx.data.payouts[eventID]
	next := make([][]byte, len(current))
	copy(next, current)
	for _, view := range payouts {
		if view.Index > uint64(len(next)) {
			return fmt.Errorf("payout %d/%d: index beyond end %d", eventID, view.Index, len(next))
		}
		data, err := model.EncodePayout(view.Payout)
		if err != nil {
			return err
		}
		if view.Index == uint64(len(next)) {
			next = append(next, data)
			continue
		}
		next[view.Index] = data
	}
	tx.data.payouts[eventID] = next
	return nil
}

func (tx *memoryTx) AccrueFee(ctx context.Context, currency string, amount *big.Int) error {
	if err := tx.writable(); err != nil {
		return err
	}
	tx.data.fees.Accrue(currency, amount)
	return nil
}

func (tx *memoryTx) FeeBalances(ctx context.Context) (fee.Balances, error) {
	return tx.data.fees.Clone(), nil
}

func (tx *memoryTx) Whitelisted(ctx context.Context, token common.Address) (model.TokenMeta, bool, error) {
	meta, ok := tx.data.tokens[token]
	return meta, ok, nil
}

func (tx *memoryTx) PutWhitelisted(ctx context.Context, meta model.TokenMeta) error {
	if err := tx.writable(); err != nil {
		return err
	}
	tx.data.tokens[meta.Address] = meta
	return nil
}

func (tx *memoryTx) WhitelistedTokens(ctx context.Context) ([]model.TokenMeta, error) {
	out := make([]model.TokenMeta, 0, len(tx.data.tokens))
	for _, meta := range tx.data.tokens {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address.Bytes(), out[j].Address.Bytes()) < 0
	})
	return out, nil
}

func (tx *memoryTx) PutOutbox(ctx context.Context, batch model.TransferBatch) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if batch.ID == "" {
		return fmt.Errorf("outbox batch id is empty")
	}
	data, err := model.EncodeBatch(batch)
	if err != nil {
		return err
	}
	seq := tx.data.seq
	if prev, ok := tx.data.outbox[batch.ID]; ok {
		seq = prev.seq
	} else {
		tx.data.seq++
	}
	tx.data.outbox[batch.ID] = outboxEntry{seq: seq, data: data}
	return nil
}

func (tx *memoryTx) DeleteOutbox(ctx context.Context, batchID string) error {
	if err := tx.writable(); err != nil {
		return err
	}
	delete(tx.data.outbox, batchID)
	return nil
}

func (tx *memoryTx) Outbox(ctx context.Context) ([]model.TransferBatch, error) {
	entries := make([]outboxEntry, 0, len(tx.data.outbox))
	for _, entry := range tx.data.outbox {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]model.TransferBatch, 0, len(entries))
	for _, entry := range entries {
		batch, err := model.DecodeBatch(entry.data)
		if err != nil {
			return nil, fmt.Errorf("outbox: %w", err)
		}
		out = append(out, batch)
	}
	return out, nil
}
