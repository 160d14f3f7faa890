package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/Dispatch/internal/config"
)

func main() {
	// Initialize zerolog global logger early so config loading can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	rootCmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Dispatch - driver call dashboard back end",
		Long: `Dispatch keeps the dashboard in sync with the call backend: it holds
the realtime channel, reconciles cached call data, buffers emergency
alerts and drives the operator's browser-side voice call.`,
		SilenceUsage: true,
	}
	config.Flags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(devicesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Loader, *config.Config, error) {
	loader, err := config.NewLoader(cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	zerolog.SetGlobalLevel(cfg.Level())
	return loader, cfg, nil
}
