package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ppss",
		Short: "PayPal subscription billing reconciler",
		Long: `ppss receives PayPal webhook notifications, queues them in Redis and
applies the subscription lifecycle to the sales ledger.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCommand(),
		newWorkerCommand(),
		newSweepCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
