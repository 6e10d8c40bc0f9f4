package main

import (
	"github.com/DomeLiquid/klend"
	"github.com/DomeLiquid/klend/config"
	"github.com/DomeLiquid/klend/core"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	config string
	debug  bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "klend",
		Short:         "lending market configuration and simulation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.config, "config", "c", "market.yaml", "market config file")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(newValidateCmd(flags), newSimulateCmd(flags))
	return cmd
}

func (f *rootFlags) load() (*config.Config, error) {
	return config.Load(f.config)
}

func (f *rootFlags) logger(cmd *cobra.Command, cfg *config.Config) (core.Log, error) {
	level := cfg.LogLevel
	if f.debug {
		level = "debug"
	}
	return klend.NewLogger(cmd.ErrOrStderr(), level)
}
