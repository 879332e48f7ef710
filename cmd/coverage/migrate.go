package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/coverage.report/internal/db"
)

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQLite schema",
	}

	withDB := func(fn func(cmd *cobra.Command, d *db.DB, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			d, err := db.OpenDB(a.cfg.GetDBPath())
			if err != nil {
				return err
			}
			defer d.Close()
			return fn(cmd, d, args)
		}
	}

	status := func(cmd *cobra.Command, d *db.DB, _ []string) error {
		v, dirty, err := d.MigrateVersion()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: version %d dirty=%t\n", a.cfg.GetDBPath(), v, dirty)
		return nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withDB(func(cmd *cobra.Command, d *db.DB, args []string) error {
				if err := d.MigrateUp(); err != nil {
					return err
				}
				return status(cmd, d, args)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: withDB(func(cmd *cobra.Command, d *db.DB, args []string) error {
				if err := d.MigrateDown(); err != nil {
					return err
				}
				return status(cmd, d, args)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the schema version",
			RunE:  withDB(status),
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Set the schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: withDB(func(cmd *cobra.Command, d *db.DB, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				if err := d.MigrateForce(v); err != nil {
					return err
				}
				return status(cmd, d, args)
			}),
		},
	)
	return cmd
}
