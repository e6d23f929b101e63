/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	restoreFrom string
	restoreList bool
)

// restoreCmd represents the restore command
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the JSON documents from a migration backup",
	Long: `Copies the documents of a migration backup back into the data
directory. Usage:

	quizstore restore --list
	quizstore restore [--from migration_backup_20240501120000]

Without --from the newest backup is restored.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openMigration(cmd)
		if err != nil {
			return err
		}
		defer func() {
			_ = a.Close()
		}()

		out := cmd.OutOrStdout()
		if restoreList {
			backups, err := a.ListBackups(cmd.Context())
			if err != nil {
				return err
			}
			for _, b := range backups {
				fmt.Fprintln(out, b)
			}
			return nil
		}

		restored, err := a.Restore(cmd.Context(), restoreFrom)
		for _, name := range restored {
			fmt.Fprintf(out, "restored %s\n", name)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().StringVar(&restoreFrom, "from", "", "backup to restore")
	restoreCmd.Flags().BoolVar(&restoreList, "list", false, "list the available backups")
}
