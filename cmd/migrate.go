/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/quizdesk/quizstore/internal/db"
	"github.com/quizdesk/quizstore/internal/migration"
	"github.com/quizdesk/quizstore/internal/store"
	"github.com/spf13/cobra"
)

var (
	migrateNoBackup bool
	migrateForce    bool
	migrateJSON     bool
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Move the JSON documents into PostgreSQL",
	Long: `Copies every user, question, score and setting from the JSON data
directory into PostgreSQL. Usage:

	quizstore migrate [--no-backup] [--force]

The documents are backed up first unless --no-backup is given. A target
that already holds data is left alone unless --force is given; with
--force any record that cannot be converted aborts the run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openMigration(cmd)
		if err != nil {
			return err
		}
		defer func() {
			_ = a.Close()
		}()

		report, err := a.Migrator.Run(cmd.Context(), migration.Options{
			NoBackup: migrateNoBackup,
			Force:    migrateForce,
		})
		if report != nil {
			if perr := printReport(cmd.OutOrStdout(), report, migrateJSON); perr != nil {
				return perr
			}
		}
		if errors.Is(err, store.ErrAlreadyMigrated) {
			fmt.Fprintln(cmd.OutOrStdout(), "already migrated: the database holds data, rerun with --force to overwrite it")
			return nil
		}
		return err
	},
}

var migrateSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Apply the bundled database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openMigration(cmd)
		if err != nil {
			return err
		}
		defer func() {
			_ = a.Close()
		}()

		dsn := db.DSN(a.Config.Database)
		if err := db.MigrateUp(dsn); err != nil {
			return err
		}
		version, err := db.Version(dsn)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
		return nil
	},
}

var migrateDropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Revert the database schema, dropping every table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openMigration(cmd)
		if err != nil {
			return err
		}
		defer func() {
			_ = a.Close()
		}()
		return db.MigrateDown(db.DSN(a.Config.Database))
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateSchemaCmd, migrateDropCmd)

	migrateCmd.Flags().BoolVar(&migrateNoBackup, "no-backup", false, "skip the backup of the JSON documents")
	migrateCmd.Flags().BoolVar(&migrateForce, "force", false, "overwrite a database that already holds data")
	migrateCmd.Flags().BoolVar(&migrateJSON, "json", false, "print the report as JSON")
}

// printReport writes a migration or verification report either as JSON or
// as a per-entity table followed by skipped records and integrity issues.
func printReport(w io.Writer, r *migration.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	fmt.Fprintf(w, "%s %s: %s in %s\n", r.Kind, r.ID, r.Phase, r.Duration().Round(time.Millisecond))
	if r.BackupLocation != "" {
		fmt.Fprintf(w, "backup: %s\n", r.BackupLocation)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "failed during %s: %s\n", r.FailedPhase, r.Error)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tSOURCE\tTRANSFERRED\tSKIPPED\tDESTINATION\t")
	for _, e := range r.Entities {
		mark := ""
		if !e.Matches() {
			mark = "mismatch"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n", e.Entity, e.Source, e.Transferred, e.Skipped, e.Destination, mark)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, s := range r.Skipped {
		fmt.Fprintf(w, "skipped %s %q: %s\n", s.Entity, s.Key, s.Reason)
	}
	for _, i := range r.Issues {
		fmt.Fprintf(w, "issue %s %q: %s\n", i.Entity, i.Key, i.Problem)
	}
	return nil
}
