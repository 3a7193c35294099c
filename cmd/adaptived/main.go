package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "adaptived",
	Short:         "Adaptive task scheduler daemon",
	Long:          `adaptived decides which maintenance and analysis tasks to run from live market and host conditions, runs them under a concurrency cap, and learns each task's cadence from its outcomes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var cfgPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "./adaptived.yaml", "path to config file (yaml or json)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
