package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"
	"syscall"

	"github.com/jerome-ceccato/andre/andre"
	"github.com/spf13/cobra"
)

// execSelf replaces the current process with a fresh copy of the binary
var execSelf = func() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("error finding executable: %w", err)
	}
	return syscall.Exec(exe, os.Args, os.Environ())
}

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the bot and, if enabled, the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			bot, err := andre.New(cfg)
			if err != nil {
				return fmt.Errorf("error creating bot: %w", err)
			}

			err = bot.Run(ctx)
			if errors.Is(err, andre.ErrRestartRequested) {
				log.Println("restarting")
				return execSelf()
			}
			if err != nil {
				return fmt.Errorf("error running bot: %w", err)
			}
			return nil
		},
	}
)

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
