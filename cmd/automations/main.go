package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "automations",
	Short: "Durable notification automation engine",
	Long: `automations runs multi-step notification workflows: sends, delays,
webhook fetches, list subscriptions, profile updates, nested invocations and
cancellations, persisted in libSQL and driven by a durable step queue.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "settings file (default: ~/.automations/settings.yaml)")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate("automations {{.Version}}\n")

	rootCmd.AddCommand(newServeCmd(), newMigrateCmd(), newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
