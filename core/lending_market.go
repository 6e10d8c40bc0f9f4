package core

import (
	"context"
	"math"
	"slices"

	"github.com/DomeLiquid/klend/fraction"
	"github.com/DomeLiquid/klend/utils"
	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

type (
	LendingMarketStore interface {
		CreateLendingMarket(ctx context.Context, market *LendingMarket) error
		GetLendingMarketById(ctx context.Context, id uuid.UUID) (*LendingMarket, error)
		GetLendingMarketByName(ctx context.Context, name string) (*LendingMarket, error)
		UpdateLendingMarket(ctx context.Context, market *LendingMarket) error
		ListLendingMarkets(ctx context.Context) ([]*LendingMarket, error)
	}

	LendingMarket struct {
		Id          uuid.UUID `json:"id"`
		AdminKey    string    `json:"adminKey"`
		Name        string    `json:"name"`
		Description string    `json:"description"`

		QuoteCurrency string `json:"quoteCurrency"`

		EmergencyMode  bool `json:"emergencyMode"`
		BorrowDisabled bool `json:"borrowDisabled"`

		// Share of the protocol take routed to referrers.
		ReferralFeeBps uint16 `json:"referralFeeBps"`

		// Caps applied on top of the per-obligation allowed/unhealthy values.
		GlobalAllowedBorrowValue   uint64 `json:"globalAllowedBorrowValue"`
		GlobalUnhealthyBorrowValue uint64 `json:"globalUnhealthyBorrowValue"`
		MinNetValueInObligation    uint64 `json:"minNetValueInObligation"`

		LiquidationMaxDebtCloseFactorPct     uint8  `json:"liquidationMaxDebtCloseFactorPct"`
		InsolvencyRiskUnhealthyLtvPct        uint8  `json:"insolvencyRiskUnhealthyLtvPct"`
		MaxLiquidatableDebtMarketValueAtOnce uint64 `json:"maxLiquidatableDebtMarketValueAtOnce"`
		MinFullLiquidationValueThreshold     uint64 `json:"minFullLiquidationValueThreshold"`

		AutodeleverageEnabled                        bool   `json:"autodeleverageEnabled"`
		IndividualAutodeleverageMarginCallPeriodSecs uint64 `json:"individualAutodeleverageMarginCallPeriodSecs"`

		ElevationGroups []ElevationGroup `json:"elevationGroups"`

		CreatedAt int64 `json:"createdAt"`
		UpdatedAt int64 `json:"updatedAt"`
	}
)

func NewLendingMarket(clk clock.Clock, adminKey, name, description, quoteCurrency string) *LendingMarket {
	return &LendingMarket{
		Id:                                   utils.DeriveId("lending-market", name),
		AdminKey:                             adminKey,
		Name:                                 name,
		Description:                          description,
		QuoteCurrency:                        quoteCurrency,
		GlobalAllowedBorrowValue:             math.MaxUint64,
		GlobalUnhealthyBorrowValue:           math.MaxUint64,
		LiquidationMaxDebtCloseFactorPct:     20,
		InsolvencyRiskUnhealthyLtvPct:        95,
		MaxLiquidatableDebtMarketValueAtOnce: 500_000,
		MinFullLiquidationValueThreshold:     2,
		CreatedAt:                            clk.Now().Unix(),
		UpdatedAt:                            clk.Now().Unix(),
	}
}

func (m *LendingMarket) Update(clk clock.Clock, adminKey, name, description string) {
	m.AdminKey = adminKey
	m.Name = name
	m.Description = description
	m.UpdatedAt = clk.Now().Unix()
}

func (m *LendingMarket) Clone() *LendingMarket {
	c := *m
	c.ElevationGroups = make([]ElevationGroup, len(m.ElevationGroups))
	for i := range m.ElevationGroups {
		c.ElevationGroups[i] = m.ElevationGroups[i].Clone()
	}
	return &c
}

func (m *LendingMarket) Validate() error {
	if m.ReferralFeeBps > FULL_BPS {
		return errors.Wrapf(InvalidConfig, "referral fee %d bps", m.ReferralFeeBps)
	}
	if m.LiquidationMaxDebtCloseFactorPct == 0 || m.LiquidationMaxDebtCloseFactorPct > 100 {
		return errors.Wrapf(InvalidConfig, "close factor %d%%", m.LiquidationMaxDebtCloseFactorPct)
	}
	if m.InsolvencyRiskUnhealthyLtvPct == 0 || m.InsolvencyRiskUnhealthyLtvPct > 100 {
		return errors.Wrapf(InvalidConfig, "insolvency risk ltv %d%%", m.InsolvencyRiskUnhealthyLtvPct)
	}
	if m.MaxLiquidatableDebtMarketValueAtOnce == 0 {
		return errors.Wrap(InvalidConfig, "max liquidatable debt value at once is zero")
	}
	seen := make(map[uint8]bool, len(m.ElevationGroups))
	for i := range m.ElevationGroups {
		eg := &m.ElevationGroups[i]
		if err := eg.Validate(); err != nil {
			return err
		}
		if seen[eg.Id] {
			return errors.Wrapf(InvalidConfig, "duplicate elevation group %d", eg.Id)
		}
		seen[eg.Id] = true
	}
	return nil
}

// GetElevationGroup returns nil for ELEVATION_GROUP_NONE.
func (m *LendingMarket) GetElevationGroup(id uint8) (*ElevationGroup, error) {
	if id == ELEVATION_GROUP_NONE {
		return nil, nil
	}
	idx := slices.IndexFunc(m.ElevationGroups, func(eg ElevationGroup) bool { return eg.Id == id })
	if idx < 0 {
		return nil, errors.Wrapf(ElevationGroupNotFound, "elevation group %d", id)
	}
	return &m.ElevationGroups[idx], nil
}

func (m *LendingMarket) UpsertElevationGroup(eg ElevationGroup) error {
	if err := eg.Validate(); err != nil {
		return err
	}
	for i := range m.ElevationGroups {
		if m.ElevationGroups[i].Id == eg.Id {
			m.ElevationGroups[i] = eg
			return nil
		}
	}
	m.ElevationGroups = append(m.ElevationGroups, eg)
	return nil
}

func (m *LendingMarket) AssertNotEmergency() error {
	if m.EmergencyMode {
		return errors.Wrapf(GlobalEmergencyMode, "lending market %s", m.Name)
	}
	return nil
}

func (m *LendingMarket) CloseFactor() fraction.Fraction {
	return fraction.FromPercent(uint64(m.LiquidationMaxDebtCloseFactorPct))
}

func (m *LendingMarket) InsolvencyRiskLtv() fraction.Fraction {
	return fraction.FromPercent(uint64(m.InsolvencyRiskUnhealthyLtvPct))
}
