package core

import (
	"github.com/DomeLiquid/klend/fraction"
	"github.com/pkg/errors"
)

var (
	MathOverflow    = fraction.MathOverflow
	IntegerOverflow = fraction.IntegerOverflow

	StaleReserve    = errors.New("reserve is stale and must be refreshed")
	StaleObligation = errors.New("obligation is stale and must be refreshed")

	InvalidConfig         = errors.New("invalid config")
	InvalidAmount         = errors.New("invalid amount")
	InvalidOracle         = errors.New("invalid oracle price")
	PriceTooOld           = errors.New("price is older than the max age")
	PriceNotValid         = errors.New("price confidence is not valid")
	InvalidReserve        = errors.New("reserve not found")
	InvalidLendingMarket  = errors.New("reserve belongs to another lending market")
	ReserveObsolete       = errors.New("reserve is obsolete")
	InsufficientLiquidity = errors.New("insufficient liquidity available")
	GlobalEmergencyMode   = errors.New("lending market is in emergency mode")

	DepositCapExceeded    = errors.New("deposit limit exceeded")
	BorrowLimitExceeded   = errors.New("borrow limit exceeded")
	WithdrawalCapExceeded = errors.New("withdrawal cap exceeded")

	BorrowTooLarge       = errors.New("borrow amount exceeds remaining borrow capacity")
	BorrowTooSmall       = errors.New("borrow amount is too small to cover fees")
	BorrowingDisabled    = errors.New("borrowing is disabled")
	WithdrawExceedsLimit = errors.New("withdraw amount exceeds the safe limit")
	RepayTooSmall        = errors.New("repay amount is too small")

	ObligationReserveLimit     = errors.New("obligation reserve limit exceeded")
	ObligationDepositsEmpty    = errors.New("obligation has no deposits")
	ObligationBorrowsEmpty     = errors.New("obligation has no borrows")
	ObligationCollateralEmpty  = errors.New("obligation collateral is empty")
	ObligationLiquidityEmpty   = errors.New("obligation liquidity is empty")
	ObligationHealthy          = errors.New("obligation is healthy and cannot be liquidated")
	ObligationUnhealthy        = errors.New("obligation would be unhealthy")
	ObligationNotClosable      = errors.New("obligation still has deposits or borrows")
	CollateralNotAllowed       = errors.New("reserve cannot be used as collateral")
	LiquidationTooSmall        = errors.New("liquidation amount is too small")
	InvalidLiquidationReserves = errors.New("repay and withdraw reserves are not part of the obligation")
	LiquidationRewardTooSmall  = errors.New("liquidation reward below the requested minimum")
	NetValueRemainingTooSmall  = errors.New("obligation net value would fall below the market minimum")
	InvalidObligationOrder     = errors.New("invalid obligation order")
	ObligationNotMarkedForADL  = errors.New("obligation is not marked for deleveraging")

	ElevationGroupNotFound        = errors.New("elevation group not found")
	ElevationGroupMismatch        = errors.New("reserve is not part of the obligation elevation group")
	ElevationGroupDebtNotAllowed  = errors.New("debt reserve is not allowed in the elevation group")
	ElevationGroupTooManyReserves = errors.New("too many collateral reserves for the elevation group")

	InvalidAction = errors.New("invalid action")

	LendingMarketNotFound = errors.New("lending market not found")
	ObligationNotFound    = errors.New("obligation not found")

	NegativeElapsed = errors.New("current slot is before the last update")
	IndexDecreased  = errors.New("cumulative borrow rate decreased")
)
