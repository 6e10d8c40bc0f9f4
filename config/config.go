package config

import (
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/DomeLiquid/klend/core"
	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	envDatabase              = "KLEND_DATABASE"
	envLogLevel              = "KLEND_LOG_LEVEL"
	envEmergencyMode         = "KLEND_EMERGENCY_MODE"
	envBorrowDisabled        = "KLEND_BORROW_DISABLED"
	envAutodeleverage        = "KLEND_AUTODELEVERAGE_ENABLED"
	envReferralFeeBps        = "KLEND_REFERRAL_FEE_BPS"
	envCloseFactorPct        = "KLEND_CLOSE_FACTOR_PCT"
	envMinNetValue           = "KLEND_MIN_NET_VALUE"
	envGlobalAllowedBorrow   = "KLEND_GLOBAL_ALLOWED_BORROW_VALUE"
	envGlobalUnhealthyBorrow = "KLEND_GLOBAL_UNHEALTHY_BORROW_VALUE"

	defaultDatabase = "file:klend?mode=memory&cache=shared"
)

// Config describes one lending market, its reserves and elevation groups.
// Reserves are referenced by symbol everywhere in the file.
type Config struct {
	Database        string                 `yaml:"database"`
	LogLevel        string                 `yaml:"log_level"`
	Market          MarketConfig           `yaml:"market"`
	Reserves        []ReserveConfig        `yaml:"reserves"`
	ElevationGroups []ElevationGroupConfig `yaml:"elevation_groups"`
	Scenario        []Step                 `yaml:"scenario"`
}

// MarketConfig leaves a knob at the NewLendingMarket default when it is
// omitted.
type MarketConfig struct {
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	AdminKey      string `yaml:"admin_key"`
	QuoteCurrency string `yaml:"quote_currency"`

	EmergencyMode  bool   `yaml:"emergency_mode"`
	BorrowDisabled bool   `yaml:"borrow_disabled"`
	ReferralFeeBps uint16 `yaml:"referral_fee_bps"`

	GlobalAllowedBorrowValue   *uint64 `yaml:"global_allowed_borrow_value"`
	GlobalUnhealthyBorrowValue *uint64 `yaml:"global_unhealthy_borrow_value"`
	MinNetValueInObligation    uint64  `yaml:"min_net_value_in_obligation"`

	CloseFactorPct                   *uint8  `yaml:"close_factor_pct"`
	InsolvencyRiskLtvPct             *uint8  `yaml:"insolvency_risk_ltv_pct"`
	MaxLiquidatableValueAtOnce       *uint64 `yaml:"max_liquidatable_value_at_once"`
	MinFullLiquidationValueThreshold *uint64 `yaml:"min_full_liquidation_value_threshold"`

	AutodeleverageEnabled bool   `yaml:"autodeleverage_enabled"`
	MarginCallPeriodSecs  uint64 `yaml:"margin_call_period_secs"`
}

// ReserveConfig limits default to unlimited when omitted.
type ReserveConfig struct {
	Token    core.TokenInfo `yaml:"token"`
	Decimals uint8          `yaml:"decimals"`
	Status   string         `yaml:"status"`

	LtvPct                  uint8 `yaml:"ltv_pct"`
	LiquidationThresholdPct uint8 `yaml:"liquidation_threshold_pct"`

	MinLiquidationBonusBps     uint16 `yaml:"min_liquidation_bonus_bps"`
	MaxLiquidationBonusBps     uint16 `yaml:"max_liquidation_bonus_bps"`
	BadDebtLiquidationBonusBps uint16 `yaml:"bad_debt_liquidation_bonus_bps"`

	ProtocolTakeRatePct       uint8   `yaml:"protocol_take_rate_pct"`
	ProtocolLiquidationFeePct uint8   `yaml:"protocol_liquidation_fee_pct"`
	HostFixedInterestRateBps  uint16  `yaml:"host_fixed_interest_rate_bps"`
	BorrowFactorPct           *uint64 `yaml:"borrow_factor_pct"`
	BorrowFeeBps              uint64  `yaml:"borrow_fee_bps"`

	DepositLimit                *uint64 `yaml:"deposit_limit"`
	BorrowLimit                 *uint64 `yaml:"borrow_limit"`
	BorrowLimitOutsideElevation *uint64 `yaml:"borrow_limit_outside_elevation_group"`

	BorrowRateCurve []core.CurvePoint `yaml:"borrow_rate_curve"`

	DepositWithdrawalCap core.WithdrawalCaps `yaml:"deposit_withdrawal_cap"`
	DebtWithdrawalCap    core.WithdrawalCaps `yaml:"debt_withdrawal_cap"`

	ElevationGroups                []uint8 `yaml:"elevation_groups"`
	DisableUsageAsCollOutsideEmode bool    `yaml:"disable_usage_as_collateral_outside_elevation_group"`

	DeleveragingMarginCallPeriodSecs   uint64 `yaml:"deleveraging_margin_call_period_secs"`
	DeleveragingBonusIncreaseBpsPerDay uint64 `yaml:"deleveraging_bonus_increase_bps_per_day"`
}

type ElevationGroupConfig struct {
	Id                      uint8    `yaml:"id"`
	LtvPct                  uint8    `yaml:"ltv_pct"`
	LiquidationThresholdPct uint8    `yaml:"liquidation_threshold_pct"`
	MaxLiquidationBonusBps  uint16   `yaml:"max_liquidation_bonus_bps"`
	DebtReserve             string   `yaml:"debt_reserve"`
	AllowedCollateral       []string `yaml:"allowed_collateral"`
	MaxReservesAsCollateral uint8    `yaml:"max_reserves_as_collateral"`
}

// Load reads the YAML file at path, applies KLEND_* overrides and validates
// the result.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) normalize() {
	cfg.Database = strings.TrimSpace(cfg.Database)
	if cfg.Database == "" {
		cfg.Database = defaultDatabase
	}
	cfg.LogLevel = strings.TrimSpace(cfg.LogLevel)
	cfg.Market.Name = strings.TrimSpace(cfg.Market.Name)
	if cfg.Market.QuoteCurrency == "" {
		cfg.Market.QuoteCurrency = "USD"
	}
	for i := range cfg.Reserves {
		t := &cfg.Reserves[i].Token
		t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
		if t.Name == "" {
			t.Name = t.Symbol
		}
		if t.AssetId == "" {
			t.AssetId = uuid.NewV5(uuid.NamespaceOID, t.Symbol).String()
		}
	}
	for i := range cfg.ElevationGroups {
		eg := &cfg.ElevationGroups[i]
		eg.DebtReserve = strings.ToUpper(strings.TrimSpace(eg.DebtReserve))
		for j := range eg.AllowedCollateral {
			eg.AllowedCollateral[j] = strings.ToUpper(strings.TrimSpace(eg.AllowedCollateral[j]))
		}
	}
	for i := range cfg.Scenario {
		cfg.Scenario[i].normalize()
	}
}

// Validate runs every configuration time check: market knobs, reserve
// configs with their curves and caps, elevation group consistency and the
// scenario references.
func (cfg *Config) Validate() error {
	if cfg.Market.Name == "" {
		return errors.Wrap(core.InvalidConfig, "market name required")
	}
	if len(cfg.Reserves) == 0 {
		return errors.Wrap(core.InvalidConfig, "at least one reserve required")
	}

	market, err := cfg.LendingMarket(clock.NewMock())
	if err != nil {
		return err
	}
	if err := market.Validate(); err != nil {
		return errors.Wrap(err, "market")
	}

	seen := make(map[string]bool, len(cfg.Reserves))
	for i := range cfg.Reserves {
		rc := &cfg.Reserves[i]
		symbol := rc.Token.Symbol
		if symbol == "" {
			return errors.Wrapf(core.InvalidConfig, "reserve %d: symbol required", i)
		}
		if seen[symbol] {
			return errors.Wrapf(core.InvalidConfig, "duplicate reserve %s", symbol)
		}
		seen[symbol] = true
		if rc.Decimals > core.MAX_MINT_DECIMALS {
			return errors.Wrapf(core.InvalidConfig, "reserve %s: %d decimals", symbol, rc.Decimals)
		}
		config, err := rc.ReserveConfig()
		if err != nil {
			return errors.Wrapf(err, "reserve %s", symbol)
		}
		if err := config.Validate(); err != nil {
			return errors.Wrapf(err, "reserve %s", symbol)
		}
		for _, id := range config.ElevationGroups {
			if _, err := market.GetElevationGroup(id); err != nil {
				return errors.Wrapf(core.InvalidConfig, "reserve %s: %v", symbol, err)
			}
		}
	}

	for _, eg := range cfg.ElevationGroups {
		refs := append([]string{eg.DebtReserve}, eg.AllowedCollateral...)
		for _, symbol := range refs {
			if symbol != "" && !seen[symbol] {
				return errors.Wrapf(core.InvalidConfig, "elevation group %d: unknown reserve %s", eg.Id, symbol)
			}
		}
	}

	for i, step := range cfg.Scenario {
		if err := step.validate(seen); err != nil {
			return errors.Wrapf(err, "scenario step %d", i+1)
		}
	}
	return nil
}

// LendingMarket builds the market with its elevation groups. Reserve ids are
// the ones core.NewReserve will assign.
func (cfg *Config) LendingMarket(clk clock.Clock) (*core.LendingMarket, error) {
	mc := cfg.Market
	m := core.NewLendingMarket(clk, mc.AdminKey, mc.Name, mc.Description, mc.QuoteCurrency)
	m.EmergencyMode = mc.EmergencyMode
	m.BorrowDisabled = mc.BorrowDisabled
	m.ReferralFeeBps = mc.ReferralFeeBps
	m.MinNetValueInObligation = mc.MinNetValueInObligation
	m.AutodeleverageEnabled = mc.AutodeleverageEnabled
	m.IndividualAutodeleverageMarginCallPeriodSecs = mc.MarginCallPeriodSecs
	setIf(&m.GlobalAllowedBorrowValue, mc.GlobalAllowedBorrowValue)
	setIf(&m.GlobalUnhealthyBorrowValue, mc.GlobalUnhealthyBorrowValue)
	setIf(&m.LiquidationMaxDebtCloseFactorPct, mc.CloseFactorPct)
	setIf(&m.InsolvencyRiskUnhealthyLtvPct, mc.InsolvencyRiskLtvPct)
	setIf(&m.MaxLiquidatableDebtMarketValueAtOnce, mc.MaxLiquidatableValueAtOnce)
	setIf(&m.MinFullLiquidationValueThreshold, mc.MinFullLiquidationValueThreshold)

	for _, egc := range cfg.ElevationGroups {
		eg := core.ElevationGroup{
			Id:                      egc.Id,
			LtvPct:                  egc.LtvPct,
			LiquidationThresholdPct: egc.LiquidationThresholdPct,
			MaxLiquidationBonusBps:  egc.MaxLiquidationBonusBps,
			MaxReservesAsCollateral: egc.MaxReservesAsCollateral,
		}
		if egc.DebtReserve != "" {
			eg.DebtReserve = cfg.reserveId(m.Id, egc.DebtReserve)
		}
		for _, symbol := range egc.AllowedCollateral {
			eg.AllowedCollateralReserves = append(eg.AllowedCollateralReserves, cfg.reserveId(m.Id, symbol))
		}
		if err := m.UpsertElevationGroup(eg); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Reserve returns the reserve config with the given symbol.
func (cfg *Config) Reserve(symbol string) (*ReserveConfig, bool) {
	symbol = strings.ToUpper(symbol)
	for i := range cfg.Reserves {
		if cfg.Reserves[i].Token.Symbol == symbol {
			return &cfg.Reserves[i], true
		}
	}
	return nil, false
}

func (cfg *Config) reserveId(marketId uuid.UUID, symbol string) uuid.UUID {
	rc, ok := cfg.Reserve(symbol)
	if !ok {
		return uuid.Nil
	}
	return core.ReserveId(marketId, rc.Token.AssetId, rc.Token.Symbol)
}

func (rc *ReserveConfig) ReserveConfig() (core.ReserveConfig, error) {
	status, err := parseStatus(rc.Status)
	if err != nil {
		return core.ReserveConfig{}, err
	}
	c := core.ReserveConfig{
		Status:                           status,
		LoanToValuePct:                   rc.LtvPct,
		LiquidationThresholdPct:          rc.LiquidationThresholdPct,
		MinLiquidationBonusBps:           rc.MinLiquidationBonusBps,
		MaxLiquidationBonusBps:           rc.MaxLiquidationBonusBps,
		BadDebtLiquidationBonusBps:       rc.BadDebtLiquidationBonusBps,
		ProtocolTakeRatePct:              rc.ProtocolTakeRatePct,
		ProtocolLiquidationFeePct:        rc.ProtocolLiquidationFeePct,
		HostFixedInterestRateBps:         rc.HostFixedInterestRateBps,
		BorrowFactorPct:                  100,
		Fees:                             core.ReserveFees{BorrowFeeBps: rc.BorrowFeeBps},
		DepositLimit:                     math.MaxUint64,
		BorrowLimit:                      math.MaxUint64,
		BorrowLimitOutsideElevationGroup: math.MaxUint64,
		BorrowRateCurve:                  core.NewBorrowRateCurve(rc.BorrowRateCurve...),
		TokenInfo:                        rc.Token,
		DepositWithdrawalCap:             rc.DepositWithdrawalCap,
		DebtWithdrawalCap:                rc.DebtWithdrawalCap,
		ElevationGroups:                  rc.ElevationGroups,
		DisableUsageAsCollOutsideEmode:   rc.DisableUsageAsCollOutsideEmode,

		DeleveragingMarginCallPeriodSecs:   rc.DeleveragingMarginCallPeriodSecs,
		DeleveragingBonusIncreaseBpsPerDay: rc.DeleveragingBonusIncreaseBpsPerDay,
	}
	setIf(&c.BorrowFactorPct, rc.BorrowFactorPct)
	setIf(&c.DepositLimit, rc.DepositLimit)
	setIf(&c.BorrowLimit, rc.BorrowLimit)
	setIf(&c.BorrowLimitOutsideElevationGroup, rc.BorrowLimitOutsideElevation)
	return c, nil
}

func parseStatus(s string) (core.ReserveStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "active":
		return core.ReserveStatusActive, nil
	case "obsolete":
		return core.ReserveStatusObsolete, nil
	case "hidden":
		return core.ReserveStatusHidden, nil
	default:
		return 0, errors.Wrapf(core.InvalidConfig, "reserve status %q", s)
	}
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func (cfg *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv(envDatabase)); v != "" {
		cfg.Database = v
	}
	if v := strings.TrimSpace(os.Getenv(envLogLevel)); v != "" {
		cfg.LogLevel = v
	}

	m := &cfg.Market
	for _, o := range []struct {
		key string
		dst *bool
	}{
		{envEmergencyMode, &m.EmergencyMode},
		{envBorrowDisabled, &m.BorrowDisabled},
		{envAutodeleverage, &m.AutodeleverageEnabled},
	} {
		if err := boolFromEnv(o.key, o.dst); err != nil {
			return err
		}
	}

	if v, ok, err := uintFromEnv(envReferralFeeBps, 16); err != nil {
		return err
	} else if ok {
		m.ReferralFeeBps = uint16(v)
	}
	if v, ok, err := uintFromEnv(envCloseFactorPct, 8); err != nil {
		return err
	} else if ok {
		pct := uint8(v)
		m.CloseFactorPct = &pct
	}
	if v, ok, err := uintFromEnv(envMinNetValue, 64); err != nil {
		return err
	} else if ok {
		m.MinNetValueInObligation = v
	}
	if v, ok, err := uintFromEnv(envGlobalAllowedBorrow, 64); err != nil {
		return err
	} else if ok {
		m.GlobalAllowedBorrowValue = &v
	}
	if v, ok, err := uintFromEnv(envGlobalUnhealthyBorrow, 64); err != nil {
		return err
	} else if ok {
		m.GlobalUnhealthyBorrowValue = &v
	}
	return nil
}

func boolFromEnv(key string, dst *bool) error {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return errors.Wrapf(err, "%s", key)
	}
	*dst = parsed
	return nil
}

func uintFromEnv(key string, bits int) (uint64, bool, error) {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return 0, false, nil
	}
	parsed, err := strconv.ParseUint(trimmed, 10, bits)
	if err != nil {
		return 0, false, errors.Wrapf(err, "%s", key)
	}
	return parsed, true, nil
}
