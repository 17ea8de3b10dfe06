package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"syscall"

	"github.com/jerome-ceccato/andre/andre"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// passwordReader reads a password without echoing it
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and set the admin API credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			return fmt.Errorf("%s_DATABASE_TYPE not set (must be one of: sqlite, postgres)", andre.DefaultEnvPrefix)
		}
		if cfg.Database == "" {
			return fmt.Errorf(
				"%s_DATABASE not set (must be a connection string or sqlite file path)",
				andre.DefaultEnvPrefix,
			)
		}

		db, err := andre.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			return fmt.Errorf("error creating database: %w", err)
		}
		defer func() {
			if sqlDB, e := db.DB(); e == nil {
				_ = sqlDB.Close()
			}
		}()

		runtimeConfig, err := andre.LoadRuntimeConfig(ctx, db)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if runtimeConfig.AdminUsername != "" && runtimeConfig.AdminPassword != "" {
			fmt.Fprintln(out, "Admin credentials are already set.")
			fmt.Fprintln(out, "Initialization complete. You can now start the bot with the 'run' subcommand.")
			return nil
		}

		fmt.Fprintln(out, "Admin credentials are not set. Let's set them up.")

		reader := bufio.NewReader(cmd.InOrStdin())
		var username string
		for username == "" {
			fmt.Fprint(out, "Enter admin username: ")
			line, err := reader.ReadString('\n')
			username = strings.TrimSpace(line)
			if err != nil && username == "" {
				return fmt.Errorf("error reading username: %w", err)
			}
		}

		readPassword := customPasswordReader
		if readPassword == nil {
			readPassword = func() ([]byte, error) {
				return term.ReadPassword(int(syscall.Stdin))
			}
		}

		password, err := promptPassword(out, readPassword)
		if err != nil {
			return err
		}

		hashedPassword, err := andre.HashPassword(password)
		if err != nil {
			return fmt.Errorf("error hashing password: %w", err)
		}

		if err = db.WithContext(ctx).Model(runtimeConfig).Updates(
			map[string]any{
				"admin_username": username,
				"admin_password": hashedPassword,
			},
		).Error; err != nil {
			return fmt.Errorf("error updating admin credentials: %w", err)
		}

		fmt.Fprintln(out, "Admin credentials set successfully.")
		fmt.Fprintln(out, "Initialization complete. You can now start the bot with the 'run' subcommand.")
		return nil
	},
}

// promptPassword asks for a password twice, until both match
func promptPassword(out io.Writer, readPassword passwordReader) (string, error) {
	for {
		fmt.Fprint(out, "Enter admin password: ")
		passwordBytes, err := readPassword()
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("error reading password: %w", err)
		}

		fmt.Fprint(out, "Confirm admin password: ")
		confirmBytes, err := readPassword()
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("error reading password: %w", err)
		}

		password := string(passwordBytes)
		switch {
		case password == "":
			fmt.Fprintln(out, "Password can't be empty. Please try again.")
		case password != string(confirmBytes):
			fmt.Fprintln(out, "Passwords do not match. Please try again.")
		default:
			return password, nil
		}
	}
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(initCmd)
}
