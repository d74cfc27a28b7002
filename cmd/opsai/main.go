package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor  bool
	userFlag string
)

var rootCmd = &cobra.Command{
	Use:           "opsai",
	Short:         "Chat assistant over your business operations data",
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "act as this user (default: agent.default_user)")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, mcpCmd)
	rootCmd.AddCommand(askCmd, approveCmd, rejectCmd, ingestCmd)
	rootCmd.AddCommand(watchdogCmd, sweepCmd, seedCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
