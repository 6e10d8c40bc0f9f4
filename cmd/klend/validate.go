package main

import (
	"github.com/facebookgo/clock"
	"github.com/spf13/cobra"
)

func newValidateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "check a market config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			market, err := cfg.LendingMarket(clock.New())
			if err != nil {
				return err
			}
			cmd.Printf("market %s (%s): %d reserves, %d elevation groups, %d scenario steps\n",
				market.Name, market.Id, len(cfg.Reserves), len(market.ElevationGroups), len(cfg.Scenario))
			return nil
		},
	}
}
