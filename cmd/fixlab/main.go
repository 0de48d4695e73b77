package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rvullo/fixlab/internal/logging"
)

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "fixlab",
		Short:         "Replay historical bug fixes to measure assistant fix rates across treatment conditions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "run.yaml", "run configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format (text, json)")

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newCacheCmd())

	// First signal cancels the context for a graceful drain; a
	// second one exits immediately.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
		<-sigChan
		os.Exit(130)
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logging.New(flagLogLevel, flagLogFormat).Error("command failed", "error", err)
		os.Exit(1)
	}
}
