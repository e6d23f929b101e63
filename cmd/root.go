/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/quizdesk/quizstore/config"
	"github.com/quizdesk/quizstore/internal/app"
	"github.com/quizdesk/quizstore/internal/logger"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quizstore",
	Short: "Storage service for the quiz training app",
	Long: `quizstore serves the quiz training data over HTTP and manages its
storage: JSON documents on disk or PostgreSQL, and the one-way migration
between them.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// openApp loads the configuration and opens every store.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg := config.LoadConfig()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	return app.Open(cmd.Context(), cfg, log)
}

// openMigration opens the file store and the migration integrations
// without choosing a serving backend.
func openMigration(cmd *cobra.Command) (*app.App, error) {
	cfg := config.LoadConfig()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	return app.OpenMigration(cmd.Context(), cfg, log)
}
