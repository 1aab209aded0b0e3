package fee

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativeCurrency is the ledger key for rewards paid in the chain's native coin.
const NativeCurrency = "native"

// Schedule is the service fee policy: min(MaxFee, total*Numerator/Denominator).
type Schedule struct {
	Numerator   uint64
	Denominator uint64
	// MaxFee caps the fee; nil means uncapped.
	MaxFee *big.Int
}

// Validate checks that the schedule can be applied.
func (s Schedule) Validate() error {
	if s.Denominator == 0 {
		return fmt.Errorf("fee denominator must be greater than zero")
	}
	if s.Numerator > s.Denominator {
		return fmt.Errorf("fee numerator %d exceeds denominator %d", s.Numerator, s.Denominator)
	}
	if s.MaxFee != nil && s.MaxFee.Sign() < 0 {
		return fmt.Errorf("max fee must not be negative")
	}
	return nil
}

// ComputeFee returns the fee owed on total using floor division.
func (s Schedule) ComputeFee(total *big.Int) *big.Int {
	if total == nil || total.Sign() <= 0 || s.Denominator == 0 {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(total, new(big.Int).SetUint64(s.Numerator))
	fee.Div(fee, new(big.Int).SetUint64(s.Denominator))
	if s.MaxFee != nil && fee.Cmp(s.MaxFee) > 0 {
		fee.Set(s.MaxFee)
	}
	return fee
}

// RequiredDeposit returns the fee and the minimum deposit covering total plus fee.
func (s Schedule) RequiredDeposit(total *big.Int) (*big.Int, *big.Int) {
	fee := s.ComputeFee(total)
	required := new(big.Int).Add(fee, total)
	return fee, required
}

// CurrencyKey maps a reward token to its ledger key; nil is the native coin.
func CurrencyKey(token *common.Address) string {
	if token == nil {
		return NativeCurrency
	}
	return strings.ToLower(token.Hex())
}

// Balances accumulates fees per currency key. It only grows.
type Balances map[string]*big.Int

// Accrue adds amount to the balance of currency, creating the entry if absent.
func (b Balances) Accrue(currency string, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	current, ok := b[currency]
	if !ok {
		b[currency] = new(big.Int).Set(amount)
		return
	}
	current.Add(current, amount)
}

// Get returns a copy of the balance for currency, zero when absent.
func (b Balances) Get(currency string) *big.Int {
	if v, ok := b[currency]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Clone deep-copies the balances.
func (b Balances) Clone() Balances {
	out := make(Balances, len(b))
	for k, v := range b {
		out[k] = new(big.Int).Set(v)
	}
	return out
}

// Currencies returns the keys in sorted order.
func (b Balances) Currencies() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
