package klend

import (
	"github.com/shopspring/decimal"
)

const (
	HOURS_PER_YEAR = 365.25 * 24

	DEFAULT_OPERATION_PAGE = 50
)

var (
	ONE     = decimal.NewFromInt(1)
	HUNDRED = decimal.NewFromInt(100)
)
