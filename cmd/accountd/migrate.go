// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/vidloom/accounts/internal/store"
)

// migrateFlagKeys maps migrate flags onto config keys.
var migrateFlagKeys = map[string]string{
	"database-url": "store.postgres_url",
}

// migrator is the part of *store.Migrator the migrate commands use.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	AppliedMigrations() ([]uint, error)
	Close() error
}

// newMigrator is replaced in tests.
var newMigrator = func(url string) (migrator, error) {
	return store.NewMigrator(url)
}

// NewMigrateCmd creates the migrate subcommand and its children.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage PostgreSQL schema migrations",
		Long: `Manage the PostgreSQL user store schema. The database URL is read
from store.postgres_url, ACCOUNTD_STORE_POSTGRES_URL, or --database-url.
The mongo store needs no migrations; its indexes are created on start.`,
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
			pending, err := m.PendingMigrations()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				cmd.Println("No pending migrations")
				return nil
			}
			if err := m.Up(); err != nil {
				return err
			}
			cmd.Printf("Applied %d migration(s)\n", len(pending))
			return nil
		}),
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long: `Roll back the most recent migration, or every migration with --all.
Rolling back the users table deletes every account.`,
		Args: cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
			all, _ := cmd.Flags().GetBool("all")
			if all {
				if confirmed, _ := cmd.Flags().GetBool("yes"); !confirmed {
					return oops.Code("CONFIRMATION_REQUIRED").Errorf("rolling back every migration drops all accounts; pass --yes to confirm")
				}
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("Rolled back all migrations")
				return nil
			}
			if err := m.Steps(-1); err != nil {
				return err
			}
			cmd.Println("Rolled back 1 migration")
			return nil
		}),
	}
	down.Flags().Bool("all", false, "roll back every migration")
	down.Flags().Bool("yes", false, "confirm a destructive rollback")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			applied, err := m.AppliedMigrations()
			if err != nil {
				return err
			}
			pending, err := m.PendingMigrations()
			if err != nil {
				return err
			}

			state := "clean"
			if dirty {
				state = "dirty"
			}
			cmd.Printf("Current version: %d (%s)\n", version, state)
			printMigrations(cmd, "Applied", applied)
			printMigrations(cmd, "Pending", pending)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it",
		Long: `Set the recorded schema version and clear the dirty flag. Use it
after repairing a failed migration by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			if err := m.Force(version); err != nil {
				return err
			}
			cmd.Printf("Forced version %d\n", version)
			return nil
		}),
	})

	return cmd
}

// withMigrator opens a migrator for the command and closes it afterwards.
func withMigrator(run func(cmd *cobra.Command, m migrator, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		url, err := getDatabaseURL(cmd)
		if err != nil {
			return err
		}
		m, err := newMigrator(url)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := m.Close(); closeErr != nil {
				cmd.PrintErrf("warning: failed to close migrator: %v\n", closeErr)
			}
		}()
		return run(cmd, m, args)
	}
}

// getDatabaseURL resolves the postgres URL from the config layers.
func getDatabaseURL(cmd *cobra.Command) (string, error) {
	cfg, err := loadPartialConfig(cmd, migrateFlagKeys)
	if err != nil {
		return "", err
	}
	if cfg.Store.PostgresURL == "" {
		return "", oops.Code("CONFIG_INVALID").
			With("field", "store.postgres_url").
			Errorf("a PostgreSQL URL is required: set store.postgres_url, ACCOUNTD_STORE_POSTGRES_URL, or --database-url")
	}
	return cfg.Store.PostgresURL, nil
}

// parseForceVersion parses the force argument. Like fmt.Sscanf it stops at
// the first character that is not part of an integer.
func parseForceVersion(arg string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(strings.TrimSpace(arg), "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", arg).Errorf("version must be an integer, got %q", arg)
	}
	return version, nil
}

func printMigrations(cmd *cobra.Command, label string, versions []uint) {
	if len(versions) == 0 {
		cmd.Printf("%s: none\n", label)
		return
	}
	cmd.Printf("%s:\n", label)
	for _, v := range versions {
		name, err := store.MigrationName(v)
		if err != nil || name == "" {
			name = fmt.Sprintf("%06d", v)
		}
		cmd.Printf("  %s\n", name)
	}
}
