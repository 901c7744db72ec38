package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"reverie/internal/config"
	"reverie/internal/logging"
)

var (
	// Global flags
	configPath string
	dbPath     string
	logLevel   string

	// cfg is loaded once by the root PersistentPreRunE and shared by
	// every subcommand.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "reverie",
	Short: "reverie - hierarchical memory engine for long-running roleplay",
	Long: `reverie maintains long-term memory for a roleplay agent.

It compresses conversation history into a pyramid of summaries, extracts
and deduplicates atomic facts, indexes message chunks for semantic
search, and assembles token-budgeted context for each model call.

Run "reverie session" for an interactive loop, or use the one-shot
subcommands to inspect and maintain a conversation's memory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dbPath != "" {
			cfg.Store.DatabasePath = dbPath
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if err := logging.Initialize(cfg.Logging.Level, cfg.Logging.File); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "reverie.yaml", "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Override the database path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the log level (debug/info/warn/error)")

	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(hierarchyCmd)
	rootCmd.AddCommand(mergeFactsCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(initConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
