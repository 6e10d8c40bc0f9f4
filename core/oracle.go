package core

import (
	"strings"

	"github.com/DomeLiquid/klend/fraction"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type PriceSourceKind uint8

const (
	PythSource PriceSourceKind = iota
	SwitchboardSource
	ScopeSource
)

func (k PriceSourceKind) String() string {
	switch k {
	case PythSource:
		return "Pyth"
	case SwitchboardSource:
		return "Switchboard"
	case ScopeSource:
		return "Scope"
	default:
		return "Unknown"
	}
}

func ParsePriceSourceKind(s string) (PriceSourceKind, bool) {
	for k := PythSource; k <= ScopeSource; k++ {
		if strings.EqualFold(k.String(), s) {
			return k, true
		}
	}
	return 0, false
}

func (k *PriceSourceKind) UnmarshalYAML(value *yaml.Node) error {
	kind, ok := ParsePriceSourceKind(value.Value)
	if !ok {
		return errors.Wrapf(InvalidConfig, "price source %q", value.Value)
	}
	*k = kind
	return nil
}

type (
	// Price is value * 10^Exponent quoted in the market's quote currency.
	Price struct {
		Value        uint64 `json:"value"`
		Exponent     int32  `json:"exponent"`
		Timestamp    int64  `json:"timestamp"`
		ConfidenceOk bool   `json:"confidenceOk"`
	}

	PythPrice struct {
		Price       int64  `json:"price"`
		Conf        uint64 `json:"conf"`
		Expo        int32  `json:"expo"`
		PublishTime int64  `json:"publishTime"`
	}

	SwitchboardPrice struct {
		Mantissa     int64  `json:"mantissa"`
		Scale        uint32 `json:"scale"`
		StdDeviation uint64 `json:"stdDeviation"`
		Timestamp    int64  `json:"timestamp"`
	}

	ScopePrice struct {
		Value         uint64 `json:"value"`
		Exp           uint64 `json:"exp"`
		UnixTimestamp uint64 `json:"unixTimestamp"`
	}

	// PriceSource carries exactly one adapter payload selected by Kind.
	PriceSource struct {
		Kind        PriceSourceKind   `json:"kind"`
		Pyth        *PythPrice        `json:"pyth,omitempty"`
		Switchboard *SwitchboardPrice `json:"switchboard,omitempty"`
		Scope       *ScopePrice       `json:"scope,omitempty"`
	}
)

// Price resolves the adapter payload into a price tuple. maxConfidenceBps
// bounds the accepted confidence interval relative to the price.
func (s PriceSource) Price(maxConfidenceBps uint64) (Price, error) {
	switch s.Kind {
	case PythSource:
		if s.Pyth == nil || s.Pyth.Price <= 0 {
			return Price{}, errors.Wrap(InvalidOracle, "pyth price")
		}
		return Price{
			Value:        uint64(s.Pyth.Price),
			Exponent:     s.Pyth.Expo,
			Timestamp:    s.Pyth.PublishTime,
			ConfidenceOk: confidenceWithin(uint64(s.Pyth.Price), s.Pyth.Conf, maxConfidenceBps),
		}, nil
	case SwitchboardSource:
		if s.Switchboard == nil || s.Switchboard.Mantissa <= 0 {
			return Price{}, errors.Wrap(InvalidOracle, "switchboard price")
		}
		return Price{
			Value:        uint64(s.Switchboard.Mantissa),
			Exponent:     -int32(s.Switchboard.Scale),
			Timestamp:    s.Switchboard.Timestamp,
			ConfidenceOk: confidenceWithin(uint64(s.Switchboard.Mantissa), s.Switchboard.StdDeviation, maxConfidenceBps),
		}, nil
	case ScopeSource:
		if s.Scope == nil || s.Scope.Value == 0 {
			return Price{}, errors.Wrap(InvalidOracle, "scope price")
		}
		return Price{
			Value:        s.Scope.Value,
			Exponent:     -int32(s.Scope.Exp),
			Timestamp:    int64(s.Scope.UnixTimestamp),
			ConfidenceOk: true,
		}, nil
	default:
		return Price{}, errors.Wrapf(InvalidOracle, "unknown price source %d", s.Kind)
	}
}

func confidenceWithin(price, conf, maxConfidenceBps uint64) bool {
	if maxConfidenceBps == 0 {
		return true
	}
	lhs, err := fraction.FromUint64(conf).MulUint64(FULL_BPS)
	if err != nil {
		return false
	}
	rhs, err := fraction.FromUint64(price).MulUint64(maxConfidenceBps)
	if err != nil {
		return false
	}
	return lhs.Lte(rhs)
}

// Validate rejects prices that are unusable at now.
func (p Price) Validate(now int64, maxAgeSeconds uint64) error {
	if p.Value == 0 {
		return errors.Wrap(InvalidOracle, "zero price")
	}
	if !p.ConfidenceOk {
		return PriceNotValid
	}
	if now < p.Timestamp {
		return nil
	}
	if uint64(now-p.Timestamp) > maxAgeSeconds {
		return errors.Wrapf(PriceTooOld, "price age %ds > %ds", now-p.Timestamp, maxAgeSeconds)
	}
	return nil
}

func (p Price) ToFraction() (fraction.Fraction, error) {
	f := fraction.FromUint64(p.Value)
	var err error
	if p.Exponent >= 0 {
		for i := int32(0); i < p.Exponent; i++ {
			if f, err = f.MulUint64(10); err != nil {
				return fraction.Zero, err
			}
		}
		return f, nil
	}
	for e := -int64(p.Exponent); e > 0; e -= 19 {
		step := e
		if step > 19 {
			step = 19
		}
		scale, err := pow10(uint64(step))
		if err != nil {
			return fraction.Zero, err
		}
		if f, err = f.DivUint64(scale); err != nil {
			return fraction.Zero, err
		}
	}
	return f, nil
}

// pow10 is 10^n; 10^19 is the largest power that fits a uint64.
func pow10(n uint64) (uint64, error) {
	if n > 19 {
		return 0, errors.Wrapf(IntegerOverflow, "10^%d", n)
	}
	result := uint64(1)
	for i := uint64(0); i < n; i++ {
		result *= 10
	}
	return result, nil
}
