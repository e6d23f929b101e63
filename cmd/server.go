/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quizdesk/quizstore/internal/server"
	"github.com/quizdesk/quizstore/internal/services"
	"github.com/quizdesk/quizstore/types"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the quizstore HTTP server",
	Long: `Starts the quizstore HTTP server. Usage:

	quizstore server

The storage backend is chosen once at start-up from STORAGE_BACKEND.
Missing default settings and questions are written on start; when
ADMIN_PASSWORD is set an "admin" account is created if absent. In auto
mode a relational store that has not been migrated yet is left alone and
the file store is served instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}

		var admin *types.User
		if a.Config.AdminPassword != "" {
			hashed, err := services.HashPassword(a.Config.AdminPassword, a.Config.Quiz.BcryptCost)
			if err != nil {
				_ = a.Close()
				return err
			}
			admin = &types.User{Username: "admin", Name: "Administrator", PasswordHash: hashed}
		}
		if a.MigrationPending {
			a.Log.Warn().Msg("defaults not written; run `quizstore migrate` to import the file documents first")
		} else if err := a.Facade.InitializeDefaults(cmd.Context(), admin); err != nil {
			_ = a.Close()
			return err
		}

		srv, err := server.New(a)
		if err != nil {
			_ = a.Close()
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		select {
		case err := <-errCh:
			_ = a.Close()
			return err
		case <-ctx.Done():
		}

		a.Log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
