/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/quizdesk/quizstore/internal/services"
	"github.com/quizdesk/quizstore/internal/store"
	"github.com/spf13/cobra"
)

var verifyJSON bool

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the integrity of the active store",
	Long: `Checks the active store for orphaned scores and duplicate keys and,
when PostgreSQL is reachable, compares the JSON documents with the
database tables without transferring anything. Exits non-zero when a
problem is found.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer func() {
			_ = a.Close()
		}()

		admin := services.NewAdminService(a.Facade, a.Migrator, a.Log)
		report, err := admin.VerifyIntegrity(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if verifyJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(out, "%s store: %d issue(s)\n", report.Mode, len(report.Issues))
			for _, i := range report.Issues {
				fmt.Fprintf(out, "issue %s %q: %s\n", i.Entity, i.Key, i.Problem)
			}
			if report.Verification != nil {
				if err := printReport(out, report.Verification, false); err != nil {
					return err
				}
			}
		}

		if !report.OK() {
			return store.E(report.Mode, "verify_integrity", store.ErrVerificationMismatch, errors.New("integrity check failed"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "print the report as JSON")
}
