/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/quizdesk/quizstore/internal/services"
	"github.com/quizdesk/quizstore/types"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// createAdminCmd represents the create-admin command
var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Interactively create an administrator account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer func() {
			_ = a.Close()
		}()

		out := cmd.OutOrStdout()
		reader := bufio.NewReader(cmd.InOrStdin())
		fmt.Fprintln(out, "=== Create New Admin User ===")

		fmt.Fprint(out, "Enter Username: ")
		username, _ := reader.ReadString('\n')
		username = strings.TrimSpace(username)
		if username == "" {
			return errors.New("username is required")
		}

		fmt.Fprint(out, "Enter Name (default username): ")
		name, _ := reader.ReadString('\n')

		fmt.Fprint(out, "Enter Password: ")
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(out)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		fmt.Fprint(out, "Confirm Password: ")
		confirm, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(out)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if string(password) != string(confirm) {
			return errors.New("passwords do not match")
		}

		users := services.NewUserService(a.Facade, a.Config.Quiz.BcryptCost, a.Log)
		user, err := users.CreateAdmin(cmd.Context(), services.Registration{
			Username: username,
			Name:     name,
			Password: string(password),
		})
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return errors.New(types.ValidationMessage(err))
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "\nSuccess! Admin '%s' (%s) created in the %s store\n", user.Name, user.Username, a.Facade.Mode())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createAdminCmd)
}
