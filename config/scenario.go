package config

import (
	"math"
	"math/big"
	"sort"
	"strings"

	"github.com/DomeLiquid/klend/core"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Step is one entry of a simulation scenario. A step advances the clock,
// publishes prices and runs at most one action, in that order. Amounts are
// in token units ("1.5" SOL) or "max".
type Step struct {
	AdvanceSecs uint64            `yaml:"advance_secs"`
	Prices      map[string]string `yaml:"prices"`

	Action          string `yaml:"action"`
	Owner           string `yaml:"owner"`
	Reserve         string `yaml:"reserve"`
	WithdrawReserve string `yaml:"withdraw_reserve"`
	Amount          string `yaml:"amount"`
	MinReceive      string `yaml:"min_receive"`
	ElevationGroup  uint8  `yaml:"elevation_group"`
	Referrer        string `yaml:"referrer"`

	// ExpectError is a substring of the error the action must fail with.
	// The scenario stops on any other outcome.
	ExpectError string `yaml:"expect_error"`
}

func (s *Step) normalize() {
	s.Action = strings.TrimSpace(s.Action)
	s.Reserve = strings.ToUpper(strings.TrimSpace(s.Reserve))
	s.WithdrawReserve = strings.ToUpper(strings.TrimSpace(s.WithdrawReserve))
	prices := make(map[string]string, len(s.Prices))
	for symbol, price := range s.Prices {
		prices[strings.ToUpper(strings.TrimSpace(symbol))] = strings.TrimSpace(price)
	}
	s.Prices = prices
}

func (s *Step) validate(reserves map[string]bool) error {
	for _, symbol := range s.PriceSymbols() {
		if !reserves[symbol] {
			return errors.Wrapf(core.InvalidConfig, "price for unknown reserve %s", symbol)
		}
		if _, _, err := ParsePrice(s.Prices[symbol]); err != nil {
			return err
		}
	}
	if s.Action == "" {
		if s.AdvanceSecs == 0 && len(s.Prices) == 0 {
			return errors.Wrap(core.InvalidConfig, "empty step")
		}
		return nil
	}
	if _, ok := core.ParseActionType(s.Action); !ok {
		return errors.Wrapf(core.InvalidConfig, "unknown action %q", s.Action)
	}
	for _, symbol := range []string{s.Reserve, s.WithdrawReserve} {
		if symbol != "" && !reserves[symbol] {
			return errors.Wrapf(core.InvalidConfig, "unknown reserve %s", symbol)
		}
	}
	return nil
}

// PriceSymbols returns the symbols priced by the step in a stable order.
func (s *Step) PriceSymbols() []string {
	symbols := make([]string, 0, len(s.Prices))
	for symbol := range s.Prices {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// ActionType returns zero for steps without an action.
func (s *Step) ActionType() core.ActionType {
	a, _ := core.ParseActionType(s.Action)
	return a
}

// ParsePrice converts a decimal string into a value and exponent pair.
func ParsePrice(s string) (uint64, int32, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, 0, errors.Wrapf(core.InvalidConfig, "price %q", s)
	}
	if !d.IsPositive() {
		return 0, 0, errors.Wrapf(core.InvalidConfig, "price %q must be positive", s)
	}
	coef := d.Coefficient()
	if !coef.IsUint64() {
		return 0, 0, errors.Wrapf(core.InvalidConfig, "price %q has too many digits", s)
	}
	return coef.Uint64(), d.Exponent(), nil
}

// RawAmount scales a token amount to base units. Empty and "max" mean
// core.U64_MAX.
func RawAmount(s string, decimals uint8) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "max") {
		return core.U64_MAX, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrapf(core.InvalidAmount, "amount %q", s)
	}
	raw := d.Shift(int32(decimals))
	if raw.IsNegative() || !raw.Equal(raw.Truncate(0)) {
		return 0, errors.Wrapf(core.InvalidAmount, "amount %q at %d decimals", s, decimals)
	}
	if raw.GreaterThan(decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)) {
		return 0, errors.Wrapf(core.InvalidAmount, "amount %q overflows", s)
	}
	return raw.BigInt().Uint64(), nil
}
