package giveaway

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"giveaway/internal/draw"
	"giveaway/internal/fee"
	"giveaway/internal/model"
	"giveaway/internal/storage"
)

var (
	contractOwner = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	organizer     = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	stranger      = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	alice         = common.HexToAddress("0x000000000000000000000000000000000000000a")
	bob           = common.HexToAddress("0x000000000000000000000000000000000000000b")
	carol         = common.HexToAddress("0x000000000000000000000000000000000000000c")
)

type fakeClock struct{ now uint64 }

func (c *fakeClock) Now(ctx context.Context) (uint64, error) { return c.now, nil }

type fakeRandom struct{ seed []byte }

func (r *fakeRandom) Seed(ctx context.Context) ([]byte, error) {
	return append([]byte(nil), r.seed...), nil
}

type fakeRefunder struct {
	refunds []model.Refund
	err     error
}

func (r *fakeRefunder) Refund(ctx context.Context, refund model.Refund) error {
	if r.err != nil {
		return r.err
	}
	r.refunds = append(r.refunds, refund)
	return nil
}

type fakeFacility struct {
	batches []model.TransferBatch
	err     error
}

func (f *fakeFacility) Submit(ctx context.Context, batch model.TransferBatch) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, batch)
	return nil
}

type harness struct {
	svc      *Service
	store    *storage.MemoryStore
	clock    *fakeClock
	random   *fakeRandom
	refunder *fakeRefunder
	facility *fakeFacility
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    storage.NewMemoryStore(),
		clock:    &fakeClock{now: 1000},
		random:   &fakeRandom{seed: seedOf(2, 0)},
		refunder: &fakeRefunder{},
		facility: &fakeFacility{},
	}
	svc, err := New(DefaultConfig(), Deps{
		Store:    h.store,
		Clock:    h.clock,
		Random:   h.random,
		Refunder: h.refunder,
		Transfer: h.facility,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h.svc = svc
	if err := svc.Init(context.Background(), contractOwner, "bulk-sender"); err != nil {
		t.Fatalf("init: %v", err)
	}
	return h
}

func seedOf(prefix ...byte) []byte {
	seed := make([]byte, draw.DefaultWindow)
	copy(seed, prefix)
	return seed
}

func amounts(values ...int64) []*big.Int {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		out[i] = big.NewInt(v)
	}
	return out
}

func baseInput(participants ...common.Address) model.EventInput {
	return model.EventInput{
		Rewards:              amounts(500, 300),
		Participants:         participants,
		AddParticipantsStart: 900,
		AddParticipantsEnd:   1100,
		EventTimestamp:       1200,
		Title:                "Launch",
		Description:          "Launch giveaway",
	}
}

func (h *harness) create(t *testing.T, in model.EventInput) uint64 {
	t.Helper()
	_, required := h.svc.Config().Fee.RequiredDeposit(model.TotalRewards(in.Rewards))
	id, err := h.svc.CreateEvent(context.Background(), organizer, in, required)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return id
}

func (h *harness) payouts(t *testing.T, id uint64) []model.PayoutView {
	t.Helper()
	views, err := h.svc.Payouts(context.Background(), id, 0, 100)
	if err != nil {
		t.Fatalf("payouts: %v", err)
	}
	return views
}

func (h *harness) outbox(t *testing.T) []string {
	t.Helper()
	var ids []string
	err := h.store.View(context.Background(), func(tx storage.Tx) error {
		queued, err := tx.Outbox(context.Background())
		for _, b := range queued {
			ids = append(ids, b.ID)
		}
		return err
	})
	if err != nil {
		t.Fatalf("outbox: %v", err)
	}
	return ids
}

func (h *harness) finalized(t *testing.T, participants ...common.Address) uint64 {
	t.Helper()
	id := h.create(t, baseInput(participants...))
	h.clock.now = 1200
	if _, err := h.svc.Finalize(context.Background(), id); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return id
}

func TestInitRunsOnce(t *testing.T) {
	h := newHarness(t)
	err := h.svc.Init(context.Background(), stranger, "other")
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	state, err := h.svc.State(context.Background())
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Owner != contractOwner || !state.Active || state.TransferFacility != "bulk-sender" {
		t.Fatalf("state mismatch: %+v", state)
	}
}

func TestOperationsRequireInit(t *testing.T) {
	svc, err := New(DefaultConfig(), Deps{Store: storage.NewMemoryStore(), Clock: &fakeClock{now: 1000}, Refunder: &fakeRefunder{}}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = svc.CreateEvent(context.Background(), organizer, baseInput(alice), big.NewInt(1_000_000))
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestNewRequiresRefunder(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{Store: storage.NewMemoryStore(), Clock: &fakeClock{now: 1000}}, nil)
	if err == nil {
		t.Fatalf("expected error for missing refunder")
	}
}

func TestCreateEventAccruesFeeAndRefundsExcess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := baseInput(alice)
	in.Rewards = amounts(250_000, 250_000)

	total := model.TotalRewards(in.Rewards)
	serviceFee, required := h.svc.Config().Fee.RequiredDeposit(total)
	if serviceFee.Int64() != 10_000 {
		t.Fatalf("fee mismatch: %s", serviceFee)
	}
	if new(big.Int).Add(total, serviceFee).Cmp(required) != 0 {
		t.Fatalf("required deposit %s != total %s + fee %s", required, total, serviceFee)
	}

	deposit := new(big.Int).Add(required, big.NewInt(7))
	id, err := h.svc.CreateEvent(ctx, organizer, in, deposit)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != 0 {
		t.Fatalf("first id should be 0, got %d", id)
	}

	want := []model.Refund{{EventID: 0, Recipient: organizer, Amount: big.NewInt(7)}}
	if !reflect.DeepEqual(h.refunder.refunds, want) {
		t.Fatalf("refunds mismatch: %+v", h.refunder.refunds)
	}

	balances, err := h.svc.FeeBalances(ctx)
	if err != nil {
		t.Fatalf("fees: %v", err)
	}
	if got := balances.Get(fee.NativeCurrency); got.Int64() != 10_000 {
		t.Fatalf("accrued fee mismatch: %s", got)
	}

	next, _ := h.svc.NextEventID(ctx)
	if next != 1 {
		t.Fatalf("next id mismatch: %d", next)
	}
	view, err := h.svc.Event(ctx, id)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	if view.Status != model.EventPending || view.Owner != organizer || view.FinalizedTimestamp != nil {
		t.Fatalf("event mismatch: %+v", view)
	}
}

func TestCreateEventExactDepositHasNoRefund(t *testing.T) {
	h := newHarness(t)
	h.create(t, baseInput(alice))
	if len(h.refunder.refunds) != 0 {
		t.Fatalf("unexpected refund: %+v", h.refunder.refunds)
	}
}

func TestCreateEventRejectsInsufficientDeposit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := baseInput(alice)
	_, required := h.svc.Config().Fee.RequiredDeposit(model.TotalRewards(in.Rewards))

	_, err := h.svc.CreateEvent(ctx, organizer, in, new(big.Int).Sub(required, big.NewInt(1)))
	if !errors.Is(err, ErrInsufficientDeposit) {
		t.Fatalf("expected ErrInsufficientDeposit, got %v", err)
	}
	next, _ := h.svc.NextEventID(ctx)
	if next != 0 {
		t.Fatalf("id consumed by rejected create: %d", next)
	}
	balances, _ := h.svc.FeeBalances(ctx)
	if len(balances) != 0 {
		t.Fatalf("fee accrued by rejected create: %v", balances)
	}
}

func TestCreateEventRefundFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.refunder.err = errors.New("transfer down")
	in := baseInput(alice)
	_, required := h.svc.Config().Fee.RequiredDeposit(model.TotalRewards(in.Rewards))

	if _, err := h.svc.CreateEvent(ctx, organizer, in, new(big.Int).Add(required, big.NewInt(1))); err == nil {
		t.Fatalf("expected refund error")
	}
	if _, err := h.svc.Event(ctx, 0); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("event should not exist, got %v", err)
	}
}

func TestCreateEventValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deposit := big.NewInt(1_000_000_000)
	token := common.HexToAddress("0x0000000000000000000000000000000000000123")

	tooMany := baseInput(alice)
	tooMany.Rewards = make([]*big.Int, draw.DefaultWindow)
	for i := range tooMany.Rewards {
		tooMany.Rewards[i] = big.NewInt(1)
	}
	noRewards := baseInput(alice)
	noRewards.Rewards = nil
	zeroReward := baseInput(alice)
	zeroReward.Rewards = amounts(5, 0)
	longText := baseInput(alice)
	longText.Description = string(make([]byte, 280))
	badWindow := baseInput(alice)
	badWindow.AddParticipantsStart = 1200
	unreachable := baseInput()
	unreachable.AddParticipantsEnd = 1000
	foreignToken := baseInput(alice)
	foreignToken.RewardsToken = &token

	cases := []struct {
		name string
		in   model.EventInput
		want error
	}{
		{"too many rewards", tooMany, ErrTooManyRewards},
		{"no rewards", noRewards, ErrTooManyRewards},
		{"zero reward", zeroReward, ErrInvalidRewards},
		{"long description", longText, ErrTextTooLong},
		{"window start after end", badWindow, ErrInvalidWindow},
		{"unreachable", unreachable, ErrUnreachable},
		{"token not whitelisted", foreignToken, ErrTokenNotAllowed},
	}
	for _, tc := range cases {
		_, err := h.svc.CreateEvent(ctx, organizer, tc.in, deposit)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		if !IsPrecondition(err) {
			t.Fatalf("%s: not classified as precondition: %v", tc.name, err)
		}
	}

	if err := h.svc.WhitelistToken(ctx, stranger, model.TokenMeta{Address: token}); !errors.Is(err, ErrNoAccess) {
		t.Fatalf("expected ErrNoAccess, got %v", err)
	}
	if err := h.svc.WhitelistToken(ctx, contractOwner, model.TokenMeta{Address: token, Symbol: "TKN", Decimals: 6}); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	id, err := h.svc.CreateEvent(ctx, organizer, foreignToken, deposit)
	if err != nil {
		t.Fatalf("create with whitelisted token: %v", err)
	}
	balances, _ := h.svc.FeeBalances(ctx)
	if balances.Get(fee.CurrencyKey(&token)).Sign() <= 0 {
		t.Fatalf("fee not accrued in token currency: %v", balances)
	}
	view, _ := h.svc.Event(ctx, id)
	if view.RewardsToken == nil || *view.RewardsToken != token {
		t.Fatalf("rewards token not stored: %+v", view.RewardsToken)
	}
}

func TestInactiveContractRejectsCreateAndRegistration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t, baseInput(alice))

	if err := h.svc.SetActive(ctx, stranger, false); !errors.Is(err, ErrNoAccess) {
		t.Fatalf("expected ErrNoAccess, got %v", err)
	}
	if err := h.svc.SetActive(ctx, contractOwner, false); err != nil {
		t.Fatalf("set active: %v", err)
	}

	if _, err := h.svc.CreateEvent(ctx, organizer, baseInput(alice), big.NewInt(1_000_000)); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive, got %v", err)
	}
	if _, err := h.svc.InsertParticipants(ctx, organizer, id, []common.Address{bob}); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive, got %v", err)
	}

	h.clock.now = 1200
	if _, err := h.svc.Finalize(ctx, id); err != nil {
		t.Fatalf("finalize while inactive: %v", err)
	}
}

func TestCreateEventDedupesInitialParticipants(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t, baseInput(alice, bob, alice))

	dup := baseInput(alice, bob, alice)
	dup.AllowDuplicateParticipants = true
	dupID := h.create(t, dup)

	view, _ := h.svc.Event(ctx, id)
	if !reflect.DeepEqual(view.Participants, []common.Address{alice, bob}) {
		t.Fatalf("participants mismatch: %v", view.Participants)
	}
	dupView, _ := h.svc.Event(ctx, dupID)
	if len(dupView.Participants) != 3 {
		t.Fatalf("duplicates should be kept: %v", dupView.Participants)
	}
}

func TestInsertParticipants(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t, baseInput(alice))

	if _, err := h.svc.InsertParticipants(ctx, stranger, id, []common.Address{bob}); !errors.Is(err, ErrNoAccess) {
		t.Fatalf("expected ErrNoAccess, got %v", err)
	}
	if _, err := h.svc.InsertParticipants(ctx, organizer, 42, []common.Address{bob}); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}

	added, err := h.svc.InsertParticipants(ctx, organizer, id, []common.Address{bob, alice, carol, bob})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if added != 2 {
		t.Fatalf("added mismatch: %d", added)
	}
	view, _ := h.svc.Event(ctx, id)
	if !reflect.DeepEqual(view.Participants, []common.Address{alice, bob, carol}) {
		t.Fatalf("participants mismatch: %v", view.Participants)
	}

	h.clock.now = 899
	if _, err := h.svc.InsertParticipants(ctx, organizer, id, []common.Address{stranger}); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("before window: expected ErrWindowClosed, got %v", err)
	}
	h.clock.now = 1100
	if _, err := h.svc.InsertParticipants(ctx, organizer, id, []common.Address{stranger}); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("window end is exclusive: expected ErrWindowClosed, got %v", err)
	}
}

func TestInsertParticipantsClosesAtEventTime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := baseInput(alice)
	in.EventTimestamp = 1050
	id := h.create(t, in)

	h.clock.now = 1050
	if _, err := h.svc.InsertParticipants(ctx, organizer, id, []common.Address{bob}); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("expected ErrWindowClosed, got %v", err)
	}
}

func TestFinalizeDrawsBySeed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := baseInput(alice, bob, carol)
	in.Rewards = amounts(5, 3)
	id := h.create(t, in)

	if _, err := h.svc.Finalize(ctx, id); !errors.Is(err, ErrTooEarly) {
		t.Fatalf("expected ErrTooEarly, got %v", err)
	}

	h.clock.now = 1200
	payouts, err := h.svc.Finalize(ctx, id)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	want := []model.Payout{
		{Winner: carol, Amount: big.NewInt(5), Status: model.PayoutPending},
		{Winner: alice, Amount: big.NewInt(3), Status: model.PayoutPending},
	}
	if !reflect.DeepEqual(payouts, want) {
		t.Fatalf("payouts mismatch: %+v", payouts)
	}

	stored := h.payouts(t, id)
	if len(stored) != 2 || stored[0].Index != 0 || stored[0].Winner != carol || stored[1].Winner != alice {
		t.Fatalf("stored payouts mismatch: %+v", stored)
	}

	view, _ := h.svc.Event(ctx, id)
	if view.Status != model.EventCalculated || view.FinalizedTimestamp == nil || *view.FinalizedTimestamp != 1200 {
		t.Fatalf("event not calculated: %+v", view)
	}
	if !reflect.DeepEqual([]byte(view.Seed), h.random.seed) {
		t.Fatalf("seed not recorded")
	}

	if _, err := h.svc.Finalize(ctx, id); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("second finalize: expected ErrWrongStatus, got %v", err)
	}
	h.clock.now = 1000
	if _, err := h.svc.InsertParticipants(ctx, organizer, id, []common.Address{stranger}); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("insert after finalize: expected ErrWrongStatus, got %v", err)
	}
}

func TestFinalizeRecordsUndistributedRewards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := baseInput(alice)
	in.Rewards = amounts(5, 3)
	id := h.create(t, in)

	h.clock.now = 1200
	payouts, err := h.svc.Finalize(ctx, id)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if len(payouts) != 1 || payouts[0].Winner != alice || payouts[0].Amount.Int64() != 5 {
		t.Fatalf("payouts mismatch: %+v", payouts)
	}
	view, _ := h.svc.Event(ctx, id)
	if !reflect.DeepEqual(view.Undistributed, amounts(3)) {
		t.Fatalf("undistributed mismatch: %v", view.Undistributed)
	}
}

func TestFinalizePreconditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	empty := h.create(t, baseInput())
	withAlice := h.create(t, baseInput(alice))

	h.clock.now = 1200
	if _, err := h.svc.Finalize(ctx, empty); !errors.Is(err, ErrNoParticipants) {
		t.Fatalf("expected ErrNoParticipants, got %v", err)
	}

	h.random.seed = []byte{1, 2, 3}
	if _, err := h.svc.Finalize(ctx, withAlice); !errors.Is(err, ErrShortSeed) {
		t.Fatalf("expected ErrShortSeed, got %v", err)
	}
	view, _ := h.svc.Event(ctx, withAlice)
	if view.Status != model.EventPending {
		t.Fatalf("rejected finalize changed status: %s", view.Status)
	}
}

func TestDistributeRetriesFailedBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.finalized(t, alice, bob, carol)

	first, err := h.svc.Distribute(ctx, id, 0, 0)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if len(first.Items) != 2 || first.Total.Int64() != 800 || first.ID == "" {
		t.Fatalf("batch mismatch: %+v", first)
	}
	if len(h.facility.batches) != 1 {
		t.Fatalf("batch not submitted")
	}

	if err := h.svc.OnTransferResult(ctx, model.TransferResult{BatchID: first.ID, EventID: id, Items: first.Items, Success: false, Reason: "out of gas"}); err != nil {
		t.Fatalf("failure callback: %v", err)
	}
	for _, p := range h.payouts(t, id) {
		if p.Status != model.PayoutPending || p.Attempts != 1 || p.Failures != 1 {
			t.Fatalf("failed payout state mismatch: %+v", p)
		}
	}
	if err := h.svc.Close(ctx, id); !errors.Is(err, ErrPayoutsPending) {
		t.Fatalf("expected ErrPayoutsPending, got %v", err)
	}

	second, err := h.svc.Distribute(ctx, id, 0, 0)
	if err != nil {
		t.Fatalf("redistribute: %v", err)
	}
	if !reflect.DeepEqual(second.Items, first.Items) {
		t.Fatalf("retry should include the same payouts: %+v", second.Items)
	}
	if second.ID == first.ID {
		t.Fatalf("retry batch reused id")
	}

	if err := h.svc.OnTransferResult(ctx, model.TransferResult{BatchID: second.ID, EventID: id, Items: second.Items, Success: true}); err != nil {
		t.Fatalf("success callback: %v", err)
	}
	if err := h.svc.Close(ctx, id); err != nil {
		t.Fatalf("close: %v", err)
	}
	view, _ := h.svc.Event(ctx, id)
	if view.Status != model.EventDistributed {
		t.Fatalf("status mismatch: %s", view.Status)
	}
	if err := h.svc.Close(ctx, id); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("second close: expected ErrWrongStatus, got %v", err)
	}
}

func TestCompletionHappensAtMostOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var completions int
	h.svc.hooks.BatchSettled = func(eventID uint64, success bool, completed int) {
		completions += completed
	}
	id := h.finalized(t, alice, bob, carol)

	a, _ := h.svc.Distribute(ctx, id, 0, 0)
	b, _ := h.svc.Distribute(ctx, id, 0, 1)

	for _, batch := range []model.TransferBatch{a, b, a} {
		if err := h.svc.OnTransferResult(ctx, model.TransferResult{BatchID: batch.ID, EventID: id, Items: batch.Items, Success: true}); err != nil {
			t.Fatalf("callback %s: %v", batch.ID, err)
		}
	}
	if completions != 2 {
		t.Fatalf("expected 2 completions, got %d", completions)
	}

	if err := h.svc.OnTransferResult(ctx, model.TransferResult{BatchID: b.ID, EventID: id, Items: b.Items, Success: false}); err != nil {
		t.Fatalf("late failure: %v", err)
	}
	for _, p := range h.payouts(t, id) {
		if p.Status != model.PayoutComplete {
			t.Fatalf("late failure reverted completion: %+v", p)
		}
	}

	empty, err := h.svc.Distribute(ctx, id, 0, 0)
	if err != nil {
		t.Fatalf("distribute complete range: %v", err)
	}
	if !empty.Empty() || len(h.facility.batches) != 2 {
		t.Fatalf("completed payouts must not be dispatched again: %+v", empty)
	}

	if err := h.svc.Close(ctx, id); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.svc.OnTransferResult(ctx, model.TransferResult{BatchID: a.ID, EventID: id, Items: a.Items, Success: true}); err != nil {
		t.Fatalf("callback after close should be a no-op: %v", err)
	}
}

func TestDistributeRangeIsClipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.finalized(t, alice, bob, carol)

	batch, err := h.svc.Distribute(ctx, id, 1, 10)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if len(batch.Items) != 1 || batch.Items[0].PayoutIndex != 1 || batch.Items[0].Recipient != alice {
		t.Fatalf("batch mismatch: %+v", batch.Items)
	}

	beyond, err := h.svc.Distribute(ctx, id, 5, 1)
	if err != nil {
		t.Fatalf("distribute beyond end: %v", err)
	}
	if !beyond.Empty() {
		t.Fatalf("expected empty batch: %+v", beyond)
	}
}

func TestDistributeRequiresCalculated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t, baseInput(alice))
	if _, err := h.svc.Distribute(ctx, id, 0, 0); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("expected ErrWrongStatus, got %v", err)
	}
	if err := h.svc.Close(ctx, id); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("close pending: expected ErrWrongStatus, got %v", err)
	}
	if err := h.svc.OnTransferResult(ctx, model.TransferResult{EventID: id, Success: true}); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("callback on pending: expected ErrWrongStatus, got %v", err)
	}
}

func TestDistributeSubmitFailureKeepsBatchQueued(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.finalized(t, alice, bob)
	h.facility.err = errors.New("broker down")

	batch, err := h.svc.Distribute(ctx, id, 0, 0)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if batch.ID == "" || len(batch.Items) != 2 {
		t.Fatalf("batch mismatch: %+v", batch)
	}
	for _, p := range h.payouts(t, id) {
		if p.Attempts != 1 || p.Batch != batch.ID || !p.InFlight() {
			t.Fatalf("queued payout state mismatch: %+v", p)
		}
	}
	if got := h.outbox(t); !reflect.DeepEqual(got, []string{batch.ID}) {
		t.Fatalf("outbox mismatch: %v", got)
	}

	if _, err := h.svc.FlushOutbox(ctx); err != nil {
		t.Fatalf("flush while down: %v", err)
	}
	if got := h.outbox(t); !reflect.DeepEqual(got, []string{batch.ID}) {
		t.Fatalf("undelivered batch left the outbox: %v", got)
	}

	h.facility.err = nil
	n, err := h.svc.FlushOutbox(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n != 1 || len(h.facility.batches) != 1 || h.facility.batches[0].ID != batch.ID {
		t.Fatalf("flush should resend the same batch: n=%d batches=%+v", n, h.facility.batches)
	}
	if got := h.outbox(t); len(got) != 0 {
		t.Fatalf("delivered batch still queued: %v", got)
	}
	for _, p := range h.payouts(t, id) {
		if p.Attempts != 1 {
			t.Fatalf("flush must not count a new attempt: %+v", p)
		}
	}
}

func TestDeliveredBatchLeavesOutbox(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.finalized(t, alice, bob)

	if _, err := h.svc.Distribute(ctx, id, 0, 0); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if got := h.outbox(t); len(got) != 0 {
		t.Fatalf("delivered batch still queued: %v", got)
	}
	n, err := h.svc.FlushOutbox(ctx)
	if err != nil || n != 0 || len(h.facility.batches) != 1 {
		t.Fatalf("flush resent a delivered batch: n=%d err=%v", n, err)
	}
}

func TestTransferResultDropsQueuedBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.finalized(t, alice, bob)
	h.facility.err = errors.New("broker down")

	batch, err := h.svc.Distribute(ctx, id, 0, 0)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if err := h.svc.OnTransferResult(ctx, model.TransferResult{BatchID: batch.ID, EventID: id, Items: batch.Items, Success: true}); err != nil {
		t.Fatalf("callback: %v", err)
	}
	if got := h.outbox(t); len(got) != 0 {
		t.Fatalf("settled batch still queued: %v", got)
	}
}

func TestRepeatedFailureForOlderBatchIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.finalized(t, alice, bob, carol)

	x, err := h.svc.Distribute(ctx, id, 0, 0)
	if err != nil {
		t.Fatalf("distribute x: %v", err)
	}
	failX := model.TransferResult{BatchID: x.ID, EventID: id, Items: x.Items, Success: false, Reason: "reverted"}
	if err := h.svc.OnTransferResult(ctx, failX); err != nil {
		t.Fatalf("fail x: %v", err)
	}

	y, err := h.svc.Distribute(ctx, id, 0, 0)
	if err != nil {
		t.Fatalf("distribute y: %v", err)
	}
	if err := h.svc.OnTransferResult(ctx, failX); err != nil {
		t.Fatalf("repeat fail x: %v", err)
	}
	for _, p := range h.payouts(t, id) {
		if !p.InFlight() || p.Batch != y.ID || p.Attempts != 2 || p.Failures != 1 {
			t.Fatalf("stale failure released an outstanding payout: %+v", p)
		}
	}

	if err := h.svc.OnTransferResult(ctx, model.TransferResult{BatchID: y.ID, EventID: id, Items: y.Items, Success: false}); err != nil {
		t.Fatalf("fail y: %v", err)
	}
	for _, p := range h.payouts(t, id) {
		if p.InFlight() || p.Batch != "" || p.Failures != 2 {
			t.Fatalf("failure for outstanding batch not applied: %+v", p)
		}
	}
}

func TestLateSuccessForOlderBatchCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.finalized(t, alice, bob)

	x, _ := h.svc.Distribute(ctx, id, 0, 0)
	y, _ := h.svc.Distribute(ctx, id, 0, 0)
	if err := h.svc.OnTransferResult(ctx, model.TransferResult{BatchID: x.ID, EventID: id, Items: x.Items, Success: true}); err != nil {
		t.Fatalf("callback: %v", err)
	}
	for _, p := range h.payouts(t, id) {
		if p.Status != model.PayoutComplete || p.Batch != "" {
			t.Fatalf("late success not applied: %+v", p)
		}
	}
	if err := h.svc.OnTransferResult(ctx, model.TransferResult{BatchID: y.ID, EventID: id, Items: y.Items, Success: false}); err != nil {
		t.Fatalf("callback: %v", err)
	}
	for _, p := range h.payouts(t, id) {
		if p.Status != model.PayoutComplete || p.Failures != 0 {
			t.Fatalf("failure after completion changed payout: %+v", p)
		}
	}
}

func TestTransferResultMustMatchPayouts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.finalized(t, alice, bob, carol)
	batch, _ := h.svc.Distribute(ctx, id, 0, 0)

	forged := append([]model.TransferItem(nil), batch.Items...)
	forged[1] = model.TransferItem{PayoutIndex: forged[1].PayoutIndex, Recipient: stranger, Amount: forged[1].Amount}
	err := h.svc.OnTransferResult(ctx, model.TransferResult{BatchID: batch.ID, EventID: id, Items: forged, Success: true})
	if !errors.Is(err, ErrBatchMismatch) {
		t.Fatalf("expected ErrBatchMismatch, got %v", err)
	}
	for _, p := range h.payouts(t, id) {
		if p.Status != model.PayoutPending {
			t.Fatalf("mismatched batch completed a payout: %+v", p)
		}
	}

	outOfRange := []model.TransferItem{{PayoutIndex: 9, Recipient: alice, Amount: big.NewInt(1)}}
	err = h.svc.OnTransferResult(ctx, model.TransferResult{EventID: id, Items: outOfRange, Success: true})
	if !errors.Is(err, ErrBatchMismatch) {
		t.Fatalf("expected ErrBatchMismatch, got %v", err)
	}
}

func TestStatusNeverMovesBackward(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.finalized(t, alice)
	rank := map[model.EventStatus]int{model.EventPending: 0, model.EventCalculated: 1, model.EventDistributed: 2}

	last := 1
	step := func() {
		view, err := h.svc.Event(ctx, id)
		if err != nil {
			t.Fatalf("event: %v", err)
		}
		if rank[view.Status] < last {
			t.Fatalf("status moved backward to %s", view.Status)
		}
		last = rank[view.Status]
	}

	batch, _ := h.svc.Distribute(ctx, id, 0, 0)
	step()
	_ = h.svc.OnTransferResult(ctx, model.TransferResult{EventID: id, Items: batch.Items, Success: true})
	step()
	_ = h.svc.Close(ctx, id)
	step()
	_, _ = h.svc.Finalize(ctx, id)
	step()
	_, _ = h.svc.Distribute(ctx, id, 0, 0)
	step()
	_ = h.svc.OnTransferResult(ctx, model.TransferResult{EventID: id, Items: batch.Items, Success: false})
	step()
	if last != 2 {
		t.Fatalf("event should be distributed")
	}
}

func TestAccessorsPaginate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	early := baseInput(alice)
	early.EventTimestamp = 1000
	h.create(t, early)
	h.create(t, baseInput(alice))
	h.create(t, early)

	events, err := h.svc.Events(ctx, 1, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 || events[0].ID != 1 || events[1].ID != 2 {
		t.Fatalf("events mismatch: %+v", events)
	}
	if events, _ := h.svc.Events(ctx, 3, 10); len(events) != 0 {
		t.Fatalf("expected empty page: %+v", events)
	}

	due, err := h.svc.EventsToFinalize(ctx, 0, 3)
	if err != nil {
		t.Fatalf("events to finalize: %v", err)
	}
	if len(due) != 2 || due[0].ID != 0 || due[1].ID != 2 {
		t.Fatalf("due events mismatch: %+v", due)
	}

	if _, err := h.svc.Payouts(ctx, 99, 0, 1); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
	if views, _ := h.svc.Payouts(ctx, 0, 0, 10); len(views) != 0 {
		t.Fatalf("pending event has payouts: %+v", views)
	}
}

func TestIsWhitelistedAllowsNative(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ok, err := h.svc.IsWhitelisted(ctx, nil)
	if err != nil || !ok {
		t.Fatalf("native currency must be allowed: %v %v", ok, err)
	}
	token := common.HexToAddress("0x0000000000000000000000000000000000000456")
	if ok, _ := h.svc.IsWhitelisted(ctx, &token); ok {
		t.Fatalf("unknown token allowed")
	}
}
