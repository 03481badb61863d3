// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/vidloom/accounts/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the accountd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accountd",
		Short: "accountd - Vidloom user accounts and authentication",
		Long: `accountd serves the Vidloom account API: registration with email
verification, login with JWT access and refresh tokens, password reset by
emailed code, and profile management.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewConfigCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}

// loadConfig layers the config file, the flags of cmd named in keys, and
// the environment over the defaults.
func loadConfig(cmd *cobra.Command, keys map[string]string) (config.Config, error) {
	return config.Load(config.LoadOptions{
		File:     configFile,
		Flags:    cmd.Flags(),
		FlagKeys: keys,
	})
}

// loadPartialConfig is loadConfig without validation, for commands that
// use only part of the configuration.
func loadPartialConfig(cmd *cobra.Command, keys map[string]string) (config.Config, error) {
	return config.Load(config.LoadOptions{
		File:           configFile,
		Flags:          cmd.Flags(),
		FlagKeys:       keys,
		SkipValidation: true,
	})
}
