package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/DomeLiquid/klend"
	"github.com/DomeLiquid/klend/config"
	"github.com/DomeLiquid/klend/core"
	"github.com/DomeLiquid/klend/store"
	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// simulationStart is the clock origin of every simulation run.
const simulationStart = 1_700_000_000

func newSimulateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "run the config scenario against a fresh market and report positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			log, err := flags.logger(cmd, cfg)
			if err != nil {
				return err
			}

			sim, err := newSimulation(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer sim.close()

			if err := sim.run(cmd.Context(), cmd.OutOrStdout()); err != nil {
				return err
			}
			return sim.report(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

type simulation struct {
	cfg    *config.Config
	clk    *clock.Mock
	store  *store.Store
	engine *klend.Engine

	market   *core.LendingMarket
	reserves map[string]*core.Reserve
}

func newSimulation(ctx context.Context, cfg *config.Config, log core.Log) (*simulation, error) {
	s, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	clk := clock.NewMock()
	clk.Add(simulationStart * time.Second)

	sim := &simulation{
		cfg:      cfg,
		clk:      clk,
		store:    s,
		engine:   klend.NewEngine(s, klend.WithClock(clk), klend.WithLog(log), klend.WithMetrics(klend.NewMetrics(prometheus.NewRegistry()))),
		reserves: make(map[string]*core.Reserve, len(cfg.Reserves)),
	}
	if err := sim.setup(ctx); err != nil {
		sim.close()
		return nil, err
	}
	return sim, nil
}

func (s *simulation) setup(ctx context.Context) error {
	market, err := s.cfg.LendingMarket(s.clk)
	if err != nil {
		return err
	}
	if err := s.engine.CreateLendingMarket(ctx, market); err != nil {
		return errors.Wrapf(err, "create market %s", market.Name)
	}
	s.market = market

	for i := range s.cfg.Reserves {
		rc := &s.cfg.Reserves[i]
		reserveConfig, err := rc.ReserveConfig()
		if err != nil {
			return err
		}
		r, err := s.engine.CreateReserve(ctx, market.Id, rc.Decimals, reserveConfig)
		if err != nil {
			return errors.Wrapf(err, "create reserve %s", rc.Token.Symbol)
		}
		s.reserves[rc.Token.Symbol] = r
	}
	return nil
}

func (s *simulation) close() {
	_ = s.store.Close()
}

func (s *simulation) run(ctx context.Context, out io.Writer) error {
	for i := range s.cfg.Scenario {
		step := &s.cfg.Scenario[i]
		if err := s.step(ctx, out, i+1, step); err != nil {
			return errors.Wrapf(err, "step %d", i+1)
		}
	}
	return nil
}

func (s *simulation) step(ctx context.Context, out io.Writer, n int, step *config.Step) error {
	if step.AdvanceSecs > 0 {
		s.clk.Add(time.Duration(step.AdvanceSecs) * time.Second)
	}
	for _, symbol := range step.PriceSymbols() {
		value, expo, err := config.ParsePrice(step.Prices[symbol])
		if err != nil {
			return err
		}
		if _, err := s.engine.RefreshReserve(ctx, s.reserves[symbol].Id, &core.Price{
			Value:        value,
			Exponent:     expo,
			Timestamp:    s.clk.Now().Unix(),
			ConfidenceOk: true,
		}); err != nil {
			return errors.Wrapf(err, "price %s", symbol)
		}
	}
	if step.Action == "" {
		return nil
	}

	action, err := s.action(step)
	if err != nil {
		return err
	}
	op, err := s.engine.Execute(ctx, action)
	switch {
	case step.ExpectError != "" && err == nil:
		return errors.Errorf("%s succeeded, expected %q", action.Type, step.ExpectError)
	case step.ExpectError != "" && !strings.Contains(err.Error(), step.ExpectError):
		return errors.Wrapf(err, "expected %q", step.ExpectError)
	case step.ExpectError != "":
		fmt.Fprintf(out, "#%d %s %s rejected: %v\n", n, action.Type, step.Owner, err)
		return nil
	case err != nil:
		return err
	}

	parts := make([]string, 0, len(op.Detail.Transfers))
	for _, t := range op.Detail.Transfers {
		r, err := s.reserveById(t.Reserve)
		if err != nil {
			return err
		}
		dir := "in"
		if t.Direction == core.TransferOut {
			dir = "out"
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", dir, klend.UiAmount(r, t.Amount), r.Config.TokenInfo.Symbol))
	}
	if l := op.Detail.Liquidation; l != nil {
		parts = append(parts, fmt.Sprintf("reason %s", l.Reason))
	}
	fmt.Fprintf(out, "#%d %s %s slot %d: %s\n", n, action.Type, step.Owner, op.Slot, strings.Join(parts, ", "))
	return nil
}

func (s *simulation) action(step *config.Step) (core.Action, error) {
	a := core.Action{
		Type:           step.ActionType(),
		Market:         s.market.Id,
		Owner:          step.Owner,
		ElevationGroup: step.ElevationGroup,
		Referrer:       step.Referrer,
	}
	if step.Reserve != "" {
		r := s.reserves[step.Reserve]
		a.Reserve = r.Id
		amount, err := config.RawAmount(step.Amount, r.Liquidity.MintDecimals)
		if err != nil {
			return a, err
		}
		a.Amount = amount
	}
	if step.WithdrawReserve != "" {
		r := s.reserves[step.WithdrawReserve]
		a.WithdrawReserve = r.Id
		if step.MinReceive != "" {
			minReceive, err := config.RawAmount(step.MinReceive, r.Liquidity.MintDecimals)
			if err != nil {
				return a, err
			}
			a.MinReceive = minReceive
		}
	}
	return a, nil
}

func (s *simulation) reserveById(id uuid.UUID) (*core.Reserve, error) {
	for _, r := range s.reserves {
		if r.Id == id {
			return r, nil
		}
	}
	return nil, errors.Wrapf(core.InvalidReserve, "reserve %s", id)
}

func (s *simulation) report(ctx context.Context, out io.Writer) error {
	reserves, err := s.store.ListReservesByMarket(ctx, s.market.Id)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "\nreserves")
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"reserve", "price", "available", "borrowed", "utilization", "supply apy", "borrow apy", "protocol fees"})
	for _, r := range reserves {
		supply, borrow, err := klend.ReserveApy(r)
		if err != nil {
			return err
		}
		utilization, err := r.UtilizationRate()
		if err != nil {
			return err
		}
		decimals := -int32(r.Liquidity.MintDecimals)
		table.Append([]string{
			r.Config.TokenInfo.Symbol,
			r.Liquidity.MarketPrice.Decimal().String(),
			klend.UiAmount(r, r.Liquidity.AvailableAmount).String(),
			r.Liquidity.BorrowedAmount.Decimal().Shift(decimals).Round(6).String(),
			percent(utilization.Decimal().Mul(klend.HUNDRED)),
			percent(supply.Mul(klend.HUNDRED)),
			percent(borrow.Mul(klend.HUNDRED)),
			r.Liquidity.AccumulatedProtocolFees.Decimal().Shift(decimals).Round(6).String(),
		})
	}
	table.Render()

	obligations, err := s.store.ListObligationsByMarket(ctx, s.market.Id)
	if err != nil {
		return err
	}
	if len(obligations) == 0 {
		return nil
	}

	fmt.Fprintln(out, "\nobligations")
	table = tablewriter.NewWriter(out)
	table.SetHeader([]string{"owner", "deposited", "debt", "ltv", "unhealthy ltv", "net apy", "liquidation prices"})
	for _, stored := range obligations {
		market, o, refreshed, err := s.engine.Obligation(ctx, s.market.Id, stored.Owner)
		if err != nil {
			return errors.Wrapf(err, "obligation %s", stored.Owner)
		}
		ltv, err := o.LoanToValue()
		if err != nil {
			return err
		}
		unhealthy, err := o.UnhealthyLoanToValue()
		if err != nil {
			return err
		}
		apy, err := klend.ComputeNetApy(o, refreshed)
		if err != nil {
			return err
		}

		var prices []string
		for _, d := range o.Deposits {
			price, err := klend.ComputeLiquidationPrice(market, o, refreshed, d.DepositReserve)
			if err != nil {
				return err
			}
			if price.IsPositive() {
				prices = append(prices, fmt.Sprintf("%s@%s", refreshed[d.DepositReserve].Config.TokenInfo.Symbol, price.Round(4)))
			}
		}
		table.Append([]string{
			o.Owner,
			o.DepositedValue.Decimal().Round(2).String(),
			o.BorrowFactorAdjustedDebtValue.Decimal().Round(2).String(),
			percent(ltv.Decimal().Mul(klend.HUNDRED)),
			percent(unhealthy.Decimal().Mul(klend.HUNDRED)),
			percent(apy.Mul(klend.HUNDRED)),
			strings.Join(prices, " "),
		})
	}
	table.Render()
	return nil
}

func percent(d decimal.Decimal) string {
	return d.Round(2).String() + "%"
}
