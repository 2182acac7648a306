package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/proctor/internal/config"
	"github.com/fakeyudi/proctor/internal/logging"
	"github.com/fakeyudi/proctor/internal/profile"
	"github.com/fakeyudi/proctor/internal/session"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

// activeProfile holds the loaded student profile.
var activeProfile *profile.Profile

// logger is built from cfg.LogLevel once the configuration is loaded.
var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:          "proctor",
	Short:        "Monitor an exam session and report integrity incidents",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup check for the setup command itself.
		if cmd.Name() == "setup" {
			return nil
		}

		// First-run: profile missing → run setup wizard automatically.
		// Only do this when stdin is an interactive terminal.
		if !profile.Exists() && term.IsTerminal(os.Stdin.Fd()) {
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), "  Welcome to proctor! Looks like this is your first time.")
			if err := runSetup(cmd); err != nil {
				return err
			}
		}

		activeProfile = nil
		if profile.Exists() {
			p, err := profile.Load()
			if err != nil {
				return fmt.Errorf("loading profile: %w", err)
			}
			activeProfile = p
		}

		if err := config.LoadDotEnv(); err != nil {
			return fmt.Errorf("loading .env: %w", err)
		}
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded

		// Profile values override the config files; environment overrides both.
		if activeProfile != nil {
			activeProfile.Apply(&cfg)
			config.ApplyEnv(&cfg)
		}

		l, err := logging.New(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	err := rootCmd.Execute()
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// GetConfig returns the merged configuration for use by subcommands.
func GetConfig() config.Config {
	return cfg
}

// GetProfile returns the active student profile, or nil.
func GetProfile() *profile.Profile {
	return activeProfile
}

// journalPath is the SQLite journal shared by every session.
func journalPath() (string, error) {
	dir, err := session.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "journal.db"), nil
}
