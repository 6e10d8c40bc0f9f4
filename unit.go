package klend

import (
	"context"

	"github.com/DomeLiquid/klend/core"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

// unit holds the records of one engine call. Nothing it mutates reaches the
// store unless commit succeeds.
type unit struct {
	e    *Engine
	slot uint64
	now  int64

	market     *core.LendingMarket
	reserves   core.ReserveMap
	obligation *core.Obligation

	dirty map[uuid.UUID]struct{}
}

func (e *Engine) begin(ctx context.Context, marketId uuid.UUID) (*unit, error) {
	market, err := e.store.GetLendingMarketById(ctx, marketId)
	if err != nil {
		return nil, err
	}
	reserves, err := e.store.ListReservesByMarket(ctx, marketId)
	if err != nil {
		return nil, err
	}

	m := make(core.ReserveMap, len(reserves))
	for _, r := range reserves {
		m[r.Id] = r
	}
	return &unit{
		e:        e,
		slot:     e.Slot(),
		now:      e.clk.Now().Unix(),
		market:   market,
		reserves: m,
		dirty:    map[uuid.UUID]struct{}{},
	}, nil
}

func (u *unit) loadObligation(ctx context.Context, owner string, create bool) error {
	o, err := u.e.store.GetObligationById(ctx, core.ObligationId(u.market.Id, owner))
	if create && errors.Is(err, core.ObligationNotFound) {
		o, err = core.NewObligation(u.e.clk, u.market.Id, owner, "", u.slot), nil
	}
	if err != nil {
		return err
	}
	u.obligation = o
	return nil
}

func (u *unit) refreshReserve(id uuid.UUID, price *core.Price) (*core.Reserve, error) {
	r, err := u.reserves.Get(id)
	if err != nil {
		return nil, err
	}
	accrued := u.slot > r.LastUpdate.Slot
	if err := core.RefreshReserve(u.e.log, u.market, r, price, u.slot, u.now); err != nil {
		return nil, err
	}
	u.dirty[id] = struct{}{}
	u.e.metrics.ObserveRefresh(r, accrued)
	return r, nil
}

// refreshObligation refreshes every reserve the obligation references plus
// extra, then the obligation itself.
func (u *unit) refreshObligation(extra ...uuid.UUID) error {
	ids := extra
	for _, d := range u.obligation.Deposits {
		ids = append(ids, d.DepositReserve)
	}
	for _, b := range u.obligation.Borrows {
		ids = append(ids, b.BorrowReserve)
	}
	for _, id := range ids {
		if _, done := u.dirty[id]; done {
			continue
		}
		if _, err := u.refreshReserve(id, nil); err != nil {
			return err
		}
	}
	return core.RefreshObligation(u.market, u.obligation, u.reserves, u.slot, u.now)
}

func (u *unit) commit(ctx context.Context, op *core.Operation) error {
	return u.e.store.Transaction(ctx, func(tx core.Store) error {
		for id := range u.dirty {
			if err := tx.UpsertReserve(ctx, u.reserves[id]); err != nil {
				return err
			}
		}
		if u.obligation != nil {
			u.obligation.UpdatedAt = u.now
			if err := tx.UpsertObligation(ctx, u.obligation); err != nil {
				return err
			}
		}
		if op != nil {
			return tx.CreateOperation(ctx, op)
		}
		return nil
	})
}

func (u *unit) deposit(ctx context.Context, a core.Action, d *core.OperationDetail) error {
	if err := u.loadObligation(ctx, a.Owner, true); err != nil {
		return err
	}
	if len(u.obligation.Deposits) == 0 && len(u.obligation.Borrows) == 0 && a.Referrer != "" {
		u.obligation.Referrer = a.Referrer
	}

	r, err := u.refreshReserve(a.Reserve, nil)
	if err != nil {
		return err
	}
	collateral, liquidity, err := core.DepositReserveLiquidity(u.market, r, a.Amount, u.slot, u.now)
	if err != nil {
		return err
	}
	if _, err := u.refreshReserve(r.Id, nil); err != nil {
		return err
	}
	if err := core.DepositObligationCollateral(u.market, u.obligation, r, collateral, u.slot); err != nil {
		return err
	}
	d.AddTransfer(r.Id, core.TransferIn, liquidity)
	return nil
}

func (u *unit) withdraw(ctx context.Context, a core.Action, d *core.OperationDetail) error {
	if err := u.loadObligation(ctx, a.Owner, false); err != nil {
		return err
	}
	if err := u.refreshObligation(); err != nil {
		return err
	}

	collateral, err := core.WithdrawObligationCollateral(u.market, u.obligation, u.reserves, a.Reserve, a.Amount, u.slot, u.now)
	if err != nil {
		return err
	}
	liquidity, err := core.RedeemReserveCollateral(u.market, u.reserves[a.Reserve], collateral, u.slot, u.now)
	if err != nil {
		return err
	}
	d.AddTransfer(a.Reserve, core.TransferOut, liquidity)
	return nil
}

func (u *unit) borrow(ctx context.Context, a core.Action, d *core.OperationDetail) error {
	if err := u.loadObligation(ctx, a.Owner, false); err != nil {
		return err
	}
	if err := u.refreshObligation(a.Reserve); err != nil {
		return err
	}

	res, err := core.BorrowObligationLiquidity(u.e.log, u.market, u.obligation, u.reserves, a.Reserve, a.Amount, u.slot, u.now)
	if err != nil {
		return err
	}
	d.Borrow = &res
	d.AddTransfer(a.Reserve, core.TransferOut, res.ReceiveAmount)
	return nil
}

func (u *unit) repay(ctx context.Context, a core.Action, d *core.OperationDetail) error {
	if err := u.loadObligation(ctx, a.Owner, false); err != nil {
		return err
	}
	r, err := u.refreshReserve(a.Reserve, nil)
	if err != nil {
		return err
	}

	_, repaid, err := core.RepayObligationLiquidity(u.market, u.obligation, r, a.Amount, u.slot, u.now)
	if err != nil {
		return err
	}
	d.AddTransfer(a.Reserve, core.TransferIn, repaid)
	return nil
}

func (u *unit) liquidate(ctx context.Context, a core.Action, d *core.OperationDetail) error {
	if err := u.loadObligation(ctx, a.Owner, false); err != nil {
		return err
	}
	if err := u.refreshObligation(a.Reserve, a.WithdrawReserve); err != nil {
		return err
	}

	res, err := core.LiquidateObligation(u.e.log, u.market, u.obligation, u.reserves, a.Reserve, a.WithdrawReserve, a.Amount, a.MinReceive, u.slot, u.now)
	if err != nil {
		return err
	}
	d.Liquidation = &res
	d.AddTransfer(a.Reserve, core.TransferIn, res.RepayAmount)
	d.AddTransfer(a.WithdrawReserve, core.TransferOut, res.ReceivedLiquidityAmount)
	return nil
}

func (u *unit) requestElevationGroup(ctx context.Context, a core.Action) error {
	if err := u.loadObligation(ctx, a.Owner, false); err != nil {
		return err
	}
	if err := u.refreshObligation(); err != nil {
		return err
	}
	return core.RequestElevationGroup(u.market, u.obligation, u.reserves, a.ElevationGroup, u.slot, u.now)
}

func (u *unit) withdrawFees(a core.Action, d *core.OperationDetail) error {
	r, err := u.refreshReserve(a.Reserve, nil)
	if err != nil {
		return err
	}

	var amount uint64
	if a.Type == core.ActionWithdrawProtocolFees {
		amount, err = r.WithdrawProtocolFees(a.Amount)
	} else {
		amount, err = r.WithdrawReferrerFees(a.Amount)
	}
	if err != nil {
		return err
	}
	d.AddTransfer(r.Id, core.TransferOut, amount)
	return nil
}
