package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/llamasoft/gorace/internal/config"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gorace",
	Short: "gorace - HTTP race condition testing harness",
	Long: `gorace probes HTTP race condition vulnerabilities by sending N
nearly-simultaneous requests whose final bytes are withheld until every
connection is ready, then released together.

A plan is a .http file: one or more requests separated by ### lines.
Every worker runs the same plan; each queue position is synchronized
across workers so the server receives the trailing bytes of all N
requests inside the smallest window the network allows.

Examples:
  gorace run redeem.http -n 8                 # race 8 workers
  gorace run redeem.http --tail-bytes 1       # withhold only the last byte
  gorace run plan.http --eval                 # expand <<<...>>> markers
  gorace run plan.http --fake-send            # print wire bytes, send nothing
  gorace history                              # list recorded runs
  gorace mock --port 8080                     # local fixture server`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(mockCmd)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		return nil
	}
}
