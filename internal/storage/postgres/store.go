package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"giveaway/internal/fee"
	"giveaway/internal/model"
	"giveaway/internal/storage"
)

//go:embed schema.sql
var schema string

const contractStateName = "contract"

// Store provides Postgres persistence for giveaway records.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity for health probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Update runs fn in a read-write transaction. A transaction-scoped advisory
// lock serializes operations across processes.
func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, false, fn)
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, true, fn)
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, readOnly bool, fn func(storage.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if !readOnly {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('giveaway'))`); err != nil {
			return fmt.Errorf("lock contract: %w", err)
		}
	}

	if err := fn(&pgTx{tx: tx, readOnly: readOnly}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// LoadState returns last_processed for a scheduler checkpoint name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var last int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed FROM scheduler_state WHERE name=$1`, name)
	if err := row.Scan(&last); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(last), true, nil
}

// SaveState upserts last_processed for a scheduler checkpoint name.
func (s *Store) SaveState(ctx context.Context, name string, last uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scheduler_state (name, last_processed, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed = EXCLUDED.last_processed, updated_at = now()
	`, name, int64(last))
	return err
}

type pgTx struct {
	tx       pgx.Tx
	readOnly bool
}

func (t *pgTx) writable() error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	return nil
}

func (t *pgTx) State(ctx context.Context) (model.ContractState, bool, error) {
	var record string
	row := t.tx.QueryRow(ctx, `SELECT record::text FROM contract_state WHERE name=$1`, contractStateName)
	if err := row.Scan(&record); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ContractState{}, false, nil
		}
		return model.ContractState{}, false, err
	}
	state, err := model.DecodeState([]byte(record))
	if err != nil {
		return model.ContractState{}, false, err
	}
	return state, true, nil
}

func (t *pgTx) PutState(ctx context.Context, state model.ContractState) error {
	if err := t.writable(); err != nil {
		return err
	}
	data, err := model.EncodeState(state)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO contract_state (name, record, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (name) DO UPDATE
		SET record = EXCLUDED.record, updated_at = now()
	`, contractStateName, string(data))
	return err
}

func (t *pgTx) Event(ctx context.Context, id uint64) (model.Event, bool, error) {
	var record string
	row := t.tx.QueryRow(ctx, `SELECT record::text FROM events WHERE id=$1`, int64(id))
	if err := row.Scan(&record); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Event{}, false, nil
		}
		return model.Event{}, false, err
	}
	event, err := model.DecodeEvent([]byte(record))
	if err != nil {
		return model.Event{}, false, fmt.Errorf("event %d: %w", id, err)
	}
	return event, true, nil
}

func (t *pgTx) PutEvent(ctx context.Context, id uint64, event model.Event) error {
	if err := t.writable(); err != nil {
		return err
	}
	data, err := model.EncodeEvent(event)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO events (id, status, event_ts, record, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
			event_ts = EXCLUDED.event_ts,
			record = EXCLUDED.record,
			updated_at = now()
	`, int64(id), string(event.Status), int64(event.EventTimestamp), string(data))
	return err
}

func (t *pgTx) Payouts(ctx context.Context, eventID uint64) ([]model.Payout, error) {
	rows, err := t.tx.Query(ctx, `SELECT idx, record::text FROM payouts WHERE event_id=$1 ORDER BY idx`, int64(eventID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Payout
	for rows.Next() {
		var (
			idx    int64
			record string
		)
		if err := rows.Scan(&idx, &record); err != nil {
			return nil, err
		}
		if idx != int64(len(out)) {
			return nil, fmt.Errorf("payout %d/%d: index gap", eventID, idx)
		}
		p, err := model.DecodePayout([]byte(record))
		if err != nil {
			return nil, fmt.Errorf("payout %d/%d: %w", eventID, idx, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) PutPayouts(ctx context.Context, eventID uint64, payouts []model.PayoutView) error {
	if err := t.writable(); err != nil {
		return err
	}
	if len(payouts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, view := range payouts {
		data, err := model.EncodePayout(view.Payout)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO payouts (event_id, idx, status, record, updated_at)
			VALUES ($1, $2, $3, $4::jsonb, now())
			ON CONFLICT (event_id, idx) DO UPDATE
			SET status = EXCLUDED.status, record = EXCLUDED.record, updated_at = now()
		`, int64(eventID), int64(view.Index), string(view.Status), string(data))
	}

	br := t.tx.SendBatch(ctx, batch)
	defer br.Close()

	for range payouts {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) AccrueFee(ctx context.Context, currency string, amount *big.Int) error {
	if err := t.writable(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO fee_balances (currency, balance, updated_at)
		VALUES ($1, $2::numeric, now())
		ON CONFLICT (currency) DO UPDATE
		SET balance = fee_balances.balance + EXCLUDED.balance, updated_at = now()
	`, currency, amount.String())
	return err
}

func (t *pgTx) FeeBalances(ctx context.Context) (fee.Balances, error) {
	rows, err := t.tx.Query(ctx, `SELECT currency, balance::text FROM fee_balances`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := fee.Balances{}
	for rows.Next() {
		var currency, balance string
		if err := rows.Scan(&currency, &balance); err != nil {
			return nil, err
		}
		amount, ok := new(big.Int).SetString(balance, 10)
		if !ok {
			return nil, fmt.Errorf("fee balance %s: invalid amount %q", currency, balance)
		}
		out[currency] = amount
	}
	return out, rows.Err()
}

func (t *pgTx) Whitelisted(ctx context.Context, token common.Address) (model.TokenMeta, bool, error) {
	var (
		meta     = model.TokenMeta{Address: token}
		decimals int16
	)
	row := t.tx.QueryRow(ctx, `SELECT decimals, symbol, name FROM whitelisted_tokens WHERE address=$1`, addressKey(token))
	if err := row.Scan(&decimals, &meta.Symbol, &meta.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TokenMeta{}, false, nil
		}
		return model.TokenMeta{}, false, err
	}
	meta.Decimals = uint8(decimals)
	return meta, true, nil
}

func (t *pgTx) PutWhitelisted(ctx context.Context, meta model.TokenMeta) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO whitelisted_tokens (address, decimals, symbol, name, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (address) DO UPDATE
		SET decimals = EXCLUDED.decimals, symbol = EXCLUDED.symbol, name = EXCLUDED.name
	`, addressKey(meta.Address), int16(meta.Decimals), meta.Symbol, meta.Name)
	return err
}

func (t *pgTx) WhitelistedTokens(ctx context.Context) ([]model.TokenMeta, error) {
	rows, err := t.tx.Query(ctx, `SELECT address, decimals, symbol, name FROM whitelisted_tokens ORDER BY address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TokenMeta
	for rows.Next() {
		var (
			addr     string
			decimals int16
			meta     model.TokenMeta
		)
		if err := rows.Scan(&addr, &decimals, &meta.Symbol, &meta.Name); err != nil {
			return nil, err
		}
		meta.Address = common.HexToAddress(addr)
		meta.Decimals = uint8(decimals)
		out = append(out, meta)
	}
	return out, rows.Err()
}

func addressKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func (t *pgTx) PutOutbox(ctx context.Context, batch model.TransferBatch) error {
	if err := t.writable(); err != nil {
		return err
	}
	if batch.ID == "" {
		return fmt.Errorf("outbox batch id is empty")
	}
	data, err := model.EncodeBatch(batch)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO transfer_outbox (batch_id, event_id, record)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (batch_id) DO UPDATE SET record = EXCLUDED.record
	`, batch.ID, int64(batch.EventID), string(data))
	return err
}

func (t *pgTx) DeleteOutbox(ctx context.Context, batchID string) error {
	if err := t.writable(); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM transfer_outbox WHERE batch_id=$1`, batchID)
	return err
}

func (t *pgTx) Outbox(ctx context.Context) ([]model.TransferBatch, error) {
	rows, err := t.tx.Query(ctx, `SELECT batch_id, record::text FROM transfer_outbox ORDER BY created_at, batch_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TransferBatch
	for rows.Next() {
		var id, record string
		if err := rows.Scan(&id, &record); err != nil {
			return nil, err
		}
		batch, err := model.DecodeBatch([]byte(record))
		if err != nil {
			return nil, fmt.Errorf("outbox %s: %w", id, err)
		}
		out = append(out, batch)
	}
	return out, rows.Err()
}
