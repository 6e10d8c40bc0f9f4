package core

import (
	"strings"

	"github.com/fox-one/mixin-sdk-go/v2"
	"github.com/pkg/errors"
)

type TokenInfo struct {
	Name             string          `json:"name" yaml:"name"`
	Symbol           string          `json:"symbol" yaml:"symbol"`
	AssetId          string          `json:"assetId" yaml:"asset_id"`
	ChainId          string          `json:"chainId,omitempty" yaml:"chain_id"`
	PriceSource      PriceSourceKind `json:"priceSource" yaml:"price_source"`
	MaxAgePriceSecs  uint64          `json:"maxAgePriceSecs" yaml:"max_age_price_secs"`
	MaxConfidenceBps uint64          `json:"maxConfidenceBps" yaml:"max_confidence_bps"`
}

// NewTokenInfoFromMixin builds the token info of a reserve backed by a Mixin
// safe asset. The returned decimals are the asset precision.
func NewTokenInfoFromMixin(asset *mixin.SafeAsset, source PriceSourceKind, maxAgePriceSecs uint64) (TokenInfo, uint8, error) {
	if asset == nil || asset.AssetID == "" {
		return TokenInfo{}, 0, errors.Wrap(InvalidConfig, "missing asset")
	}
	if asset.Precision < 0 || asset.Precision > 18 {
		return TokenInfo{}, 0, errors.Wrapf(InvalidConfig, "asset %s precision %d", asset.AssetID, asset.Precision)
	}
	return TokenInfo{
		Name:            asset.Name,
		Symbol:          strings.ToUpper(asset.Symbol),
		AssetId:         asset.AssetID,
		ChainId:         asset.ChainID,
		PriceSource:     source,
		MaxAgePriceSecs: maxAgePriceSecs,
	}, uint8(asset.Precision), nil
}

func (t TokenInfo) Validate() error {
	if t.MaxAgePriceSecs == 0 {
		return errors.Wrapf(InvalidConfig, "token %s: max price age must be set", t.Symbol)
	}
	if t.MaxConfidenceBps > FULL_BPS {
		return errors.Wrapf(InvalidConfig, "token %s: confidence bps out of range", t.Symbol)
	}
	return nil
}
