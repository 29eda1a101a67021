// Command bitswap-monitor consumes Bitswap monitoring events from AMQP
// brokers and exports them as Prometheus metrics.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "bitswap-monitor",
		Short:        "Real-time Bitswap monitoring client",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "Path to config file")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Subscribe to all configured monitors and serve metrics",
			Args:  cobra.NoArgs,
			RunE:  runMonitor,
		},
		&cobra.Command{
			Use:   "replay FILE...",
			Short: "Re-dispatch disk log files and print per-origin totals",
			Args:  cobra.MinimumNArgs(1),
			RunE:  runReplay,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
