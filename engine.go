package klend

import (
	"context"

	"github.com/DomeLiquid/klend/core"
	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

// Engine runs lending operations against persisted records. Every call
// loads the records it touches, refreshes them in the current slot, applies
// one operation and commits the result with its journal entry in a single
// store transaction. The host serializes calls per lending market.
type Engine struct {
	clk     clock.Clock
	log     core.Log
	metrics *Metrics
	store   core.Store
}

type OptionFunc func(e *Engine)

func WithClock(clk clock.Clock) OptionFunc {
	return func(e *Engine) {
		e.clk = clk
	}
}

func WithLog(log core.Log) OptionFunc {
	return func(e *Engine) {
		e.log = log
	}
}

func WithMetrics(metrics *Metrics) OptionFunc {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

func NewEngine(store core.Store, opts ...OptionFunc) *Engine {
	e := &Engine{
		clk:   clock.New(),
		log:   nopLog(),
		store: store,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Slot maps the engine clock onto the slot schedule used for accrual.
func (e *Engine) Slot() uint64 {
	now := e.clk.Now().Unix()
	if now <= 0 {
		return 0
	}
	return uint64(now) * core.SLOTS_PER_SECOND
}

func (e *Engine) CreateLendingMarket(ctx context.Context, market *core.LendingMarket) error {
	if err := market.Validate(); err != nil {
		return err
	}
	return e.store.CreateLendingMarket(ctx, market)
}

func (e *Engine) UpdateLendingMarket(ctx context.Context, market *core.LendingMarket) error {
	if err := market.Validate(); err != nil {
		return err
	}
	market.UpdatedAt = e.clk.Now().Unix()
	return e.store.UpdateLendingMarket(ctx, market)
}

func (e *Engine) CreateReserve(ctx context.Context, marketId uuid.UUID, mintDecimals uint8, config core.ReserveConfig) (*core.Reserve, error) {
	if _, err := e.store.GetLendingMarketById(ctx, marketId); err != nil {
		return nil, err
	}
	reserve, err := core.NewReserve(e.clk, marketId, mintDecimals, config, e.Slot())
	if err != nil {
		return nil, err
	}
	if err := e.store.CreateReserve(ctx, reserve); err != nil {
		return nil, err
	}
	e.log.Info().Msgf("reserve %s (%s) created in market %s", reserve.Config.TokenInfo.Symbol, reserve.Id, marketId)
	return reserve, nil
}

// UpdateReserveConfig accrues interest under the old config before
// switching to the new one. Withdrawal cap counters carry over.
func (e *Engine) UpdateReserveConfig(ctx context.Context, reserveId uuid.UUID, config core.ReserveConfig) (*core.Reserve, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	reserve, err := e.store.GetReserveById(ctx, reserveId)
	if err != nil {
		return nil, err
	}
	u, err := e.begin(ctx, reserve.LendingMarket)
	if err != nil {
		return nil, err
	}
	r, err := u.refreshReserve(reserveId, nil)
	if err != nil {
		return nil, err
	}
	for _, caps := range []struct{ from, to *core.WithdrawalCaps }{
		{&r.Config.DepositWithdrawalCap, &config.DepositWithdrawalCap},
		{&r.Config.DebtWithdrawalCap, &config.DebtWithdrawalCap},
	} {
		caps.to.CurrentTotal = caps.from.CurrentTotal
		caps.to.LastIntervalStartTimestamp = caps.from.LastIntervalStartTimestamp
	}
	r.Config = config
	r.LastUpdate.MarkStale()
	if err := u.commit(ctx, nil); err != nil {
		return nil, err
	}
	return r, nil
}

// RefreshReserve accrues interest and caches price when one is given.
func (e *Engine) RefreshReserve(ctx context.Context, reserveId uuid.UUID, price *core.Price) (*core.Reserve, error) {
	reserve, err := e.store.GetReserveById(ctx, reserveId)
	if err != nil {
		return nil, err
	}
	u, err := e.begin(ctx, reserve.LendingMarket)
	if err != nil {
		return nil, err
	}
	r, err := u.refreshReserve(reserveId, price)
	if err != nil {
		return nil, err
	}
	if err := u.commit(ctx, nil); err != nil {
		return nil, err
	}
	return r, nil
}

// Obligation returns the owner's obligation and the market reserves,
// refreshed in the current slot. Nothing is persisted.
func (e *Engine) Obligation(ctx context.Context, marketId uuid.UUID, owner string) (*core.LendingMarket, *core.Obligation, core.ReserveMap, error) {
	u, err := e.begin(ctx, marketId)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := u.loadObligation(ctx, owner, false); err != nil {
		return nil, nil, nil, err
	}
	if err := u.refreshObligation(); err != nil {
		return nil, nil, nil, err
	}
	return u.market, u.obligation, u.reserves, nil
}

func (e *Engine) MarkObligationForDeleveraging(ctx context.Context, marketId uuid.UUID, owner string, targetLtvPct uint8) error {
	u, err := e.begin(ctx, marketId)
	if err != nil {
		return err
	}
	if !u.market.AutodeleverageEnabled {
		return errors.Wrap(core.InvalidConfig, "autodeleverage is disabled")
	}
	if err := u.loadObligation(ctx, owner, false); err != nil {
		return err
	}
	if err := u.obligation.MarkForDeleveraging(targetLtvPct, u.now); err != nil {
		return err
	}
	e.log.Warn().Msgf("obligation %s marked for deleveraging to %d%%", u.obligation.Id, targetLtvPct)
	return u.commit(ctx, nil)
}

// SetObligationOrder replaces the owner's order; nil cancels it.
func (e *Engine) SetObligationOrder(ctx context.Context, marketId uuid.UUID, owner string, order *core.ObligationOrder) error {
	u, err := e.begin(ctx, marketId)
	if err != nil {
		return err
	}
	if err := u.loadObligation(ctx, owner, false); err != nil {
		return err
	}
	if err := u.obligation.SetOrder(order); err != nil {
		return err
	}
	return u.commit(ctx, nil)
}

func (e *Engine) ListOperations(ctx context.Context, marketId uuid.UUID, owner string, action core.ActionType, createdBeforeAt, limit int64) ([]*core.Operation, error) {
	if limit <= 0 {
		limit = DEFAULT_OPERATION_PAGE
	}
	return e.store.ListOperations(ctx, marketId, owner, action, createdBeforeAt, limit)
}

// ExecuteMemo decodes a transfer memo produced by core.EncodeAction and
// executes it.
func (e *Engine) ExecuteMemo(ctx context.Context, memo string) (*core.Operation, error) {
	action, err := core.DecodeAction(memo)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, *action)
}

// Execute applies one action. The returned operation lists the transfers
// the host must settle.
func (e *Engine) Execute(ctx context.Context, action core.Action) (op *core.Operation, err error) {
	defer func() {
		e.metrics.ObserveOperation(action.Type, err)
		if err != nil {
			e.log.Warn().Msgf("%s by %s rejected: %v", action.Type, action.Owner, err)
		}
	}()

	if err := action.Validate(); err != nil {
		return nil, err
	}
	u, err := e.begin(ctx, action.Market)
	if err != nil {
		return nil, err
	}

	var detail core.OperationDetail
	switch action.Type {
	case core.ActionDeposit:
		err = u.deposit(ctx, action, &detail)
	case core.ActionWithdraw:
		err = u.withdraw(ctx, action, &detail)
	case core.ActionBorrow:
		err = u.borrow(ctx, action, &detail)
	case core.ActionRepay:
		err = u.repay(ctx, action, &detail)
	case core.ActionLiquidate:
		err = u.liquidate(ctx, action, &detail)
	case core.ActionRequestElevationGroup:
		err = u.requestElevationGroup(ctx, action)
	case core.ActionWithdrawProtocolFees, core.ActionWithdrawReferrerFees:
		err = u.withdrawFees(action, &detail)
	}
	if err != nil {
		return nil, err
	}

	var obligationId uuid.UUID
	if u.obligation != nil {
		obligationId = u.obligation.Id
	}
	op = core.NewOperation(e.clk, action, obligationId, u.slot, detail)
	if err := u.commit(ctx, op); err != nil {
		return nil, err
	}

	if detail.Liquidation != nil {
		e.metrics.ObserveLiquidation(detail.Liquidation.Reason)
	}
	e.log.Info().Msgf("%s by %s committed at slot %d with %d transfers", action.Type, action.Owner, u.slot, len(detail.Transfers))
	return op, nil
}
