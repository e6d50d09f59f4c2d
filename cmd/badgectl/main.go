// Package main provides badgectl, the operator CLI for the MyBadgeLife
// backend: minting tokens, promoting users, reindexing embeddings and
// testing provider keys.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mybadgelife/internal/config"
	"github.com/mybadgelife/internal/logging"
	"github.com/spf13/cobra"
)

var (
	timeout  time.Duration
	logLevel string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "badgectl",
	Short:         "Operator tooling for the MyBadgeLife backend",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.InitGlobalLogger(logging.ParseLogLevel(logLevel), logging.FormatText)
	},
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(setRoleCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(checkKeysCmd)
}

// loadConfig reads configuration from .env and the environment
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
