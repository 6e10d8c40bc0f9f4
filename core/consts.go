package core

import (
	"math"

	"github.com/DomeLiquid/klend/fraction"
)

const (
	SLOTS_PER_SECOND = 2
	SECONDS_PER_YEAR = 31_536_000
	SECONDS_PER_DAY  = 86_400
	SLOTS_PER_YEAR   = SLOTS_PER_SECOND * SECONDS_PER_YEAR

	// U64_MAX requests "as much as possible" from borrow, repay, withdraw and liquidate.
	U64_MAX = math.MaxUint64

	MAX_OBLIGATION_DEPOSITS = 8
	MAX_OBLIGATION_BORROWS  = 5

	MAX_CURVE_POINTS = 11

	MAX_MINT_DECIMALS = 18

	BAD_DEBT_LTV_PCT = 99

	ELEVATION_GROUP_NONE = 0
	MAX_ELEVATION_GROUP  = 32

	FULL_BPS = 10_000
)

var (
	INITIAL_COLLATERAL_RATE = fraction.One

	BAD_DEBT_LTV = fraction.FromPercent(BAD_DEBT_LTV_PCT)
)
