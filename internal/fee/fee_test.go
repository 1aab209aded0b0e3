package fee

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestComputeFeeFloorsAndCaps(t *testing.T) {
	s := Schedule{Numerator: 2, Denominator: 100, MaxFee: big.NewInt(1000)}

	if got := s.ComputeFee(big.NewInt(149)); got.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("fee mismatch: %s", got)
	}
	if got := s.ComputeFee(big.NewInt(49)); got.Sign() != 0 {
		t.Fatalf("fee should floor to zero: %s", got)
	}
	if got := s.ComputeFee(big.NewInt(1_000_000)); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("fee should be capped: %s", got)
	}
}

func TestRequiredDepositConservesValue(t *testing.T) {
	s := Schedule{Numerator: 2, Denominator: 100}
	total, _ := new(big.Int).SetString("500000000000000000", 10)

	fee, required := s.RequiredDeposit(total)
	want, _ := new(big.Int).SetString("10000000000000000", 10)
	if fee.Cmp(want) != 0 {
		t.Fatalf("fee mismatch: %s", fee)
	}
	if new(big.Int).Sub(required, fee).Cmp(total) != 0 {
		t.Fatalf("required %s != total %s + fee %s", required, total, fee)
	}
	if total.String() != "500000000000000000" {
		t.Fatalf("input mutated: %s", total)
	}
}

func TestScheduleValidate(t *testing.T) {
	if err := (Schedule{Numerator: 1}).Validate(); err == nil {
		t.Fatalf("expected error for zero denominator")
	}
	if err := (Schedule{Numerator: 3, Denominator: 2}).Validate(); err == nil {
		t.Fatalf("expected error for fee above 100%%")
	}
	if err := (Schedule{Numerator: 2, Denominator: 100}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBalancesAccrue(t *testing.T) {
	token := common.HexToAddress("0xAbCdEf0000000000000000000000000000000001")
	b := Balances{}
	b.Accrue(CurrencyKey(nil), big.NewInt(3))
	b.Accrue(CurrencyKey(nil), big.NewInt(4))
	b.Accrue(CurrencyKey(&token), big.NewInt(10))
	b.Accrue(CurrencyKey(&token), big.NewInt(0))

	if got := b.Get(NativeCurrency); got.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("native balance mismatch: %s", got)
	}
	if got := b.Get("0xabcdef0000000000000000000000000000000001"); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("token balance mismatch: %s", got)
	}

	clone := b.Clone()
	clone.Accrue(NativeCurrency, big.NewInt(1))
	if b.Get(NativeCurrency).Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("clone shares state with original")
	}
	if keys := b.Currencies(); len(keys) != 2 || keys[1] != NativeCurrency {
		t.Fatalf("currencies mismatch: %v", keys)
	}
}
