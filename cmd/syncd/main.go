// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/syncwell/syncd/internal/config"
	"github.com/syncwell/syncd/internal/database"
	"github.com/syncwell/syncd/internal/license"
	"github.com/syncwell/syncd/internal/models"
	"github.com/syncwell/syncd/internal/services"
)

var Version = "dev"

func main() {
	var rootCmd = &cobra.Command{
		Use:   "syncd",
		Short: "Licensing and device-fleet backend for the syncwell agent",
		Long: `syncd - the licensing backend for the syncwell agent.

Issues license keys from paid subscriptions, binds installed agents to
license seats, tracks device liveness through heartbeats, and ages stale
devices through an offline grace period.`,
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rootCmd.Version = Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand(Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunCreateAPIKeyCommand())
	rootCmd.AddCommand(RunProvisionLicenseCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/syncd/). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for the database (default is next to the config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stderr)")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(Version, configDir, dataDir, logPath)
		app.runServer()
	}

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of syncd",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

You can specify either a directory path or a direct file path:
- Directory: syncd generate-config --config-dir /etc/syncd/
- File:      syncd generate-config --config-dir /etc/syncd/config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := config.WriteDefault(configDir)
			if err != nil {
				return err
			}
			fmt.Printf("Config file written to %s\n", file)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path")

	return command
}

func RunCreateAPIKeyCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "create-api-key [name]",
		Short: "Create a management API key",
		Long: `Create an API key for the device management endpoints.

The raw key is printed exactly once; only its hash is stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(configDir)
			if err != nil {
				return err
			}
			defer db.Close()

			rawKey, apiKey, err := models.NewAPIKeyStore(db.Conn()).Create(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to create API key: %w", err)
			}

			fmt.Printf("API key %q created (id %d):\n\n  %s\n\nStore it now - it cannot be shown again.\n",
				apiKey.Name, apiKey.ID, rawKey)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path")

	return command
}

func RunProvisionLicenseCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "provision-license [email] [seats]",
		Short: "Manually provision a license",
		Long: `Manually provision a license for an account outside of subscription
webhooks, e.g. for evaluation or support cases.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := args[0]
			seats, err := strconv.Atoi(args[1])
			if err != nil || seats < 1 {
				return fmt.Errorf("seats must be a positive integer, got %q", args[1])
			}

			db, err := openDatabase(configDir)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()

			account, err := models.NewAccountStore(db.Conn()).Upsert(ctx, nil, email)
			if err != nil {
				return fmt.Errorf("failed to create account: %w", err)
			}

			key, err := license.Generate()
			if err != nil {
				return err
			}

			lic, err := models.NewLicenseStore(db.Conn()).UpsertForAccount(ctx, key, account.ID, seats, services.TierForQuantity(seats))
			if err != nil {
				return fmt.Errorf("failed to provision license: %w", err)
			}

			fmt.Printf("License %s provisioned for %s with %d seats (%s tier)\n",
				lic.Key, email, lic.SeatLimit, lic.Tier)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path")

	return command
}

func openDatabase(configDir string) (*database.DB, error) {
	cfg, err := config.New(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return database.New(cfg.GetDatabasePath())
}
