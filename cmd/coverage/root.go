package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/banshee-data/coverage.report/internal/config"
	"github.com/banshee-data/coverage.report/internal/monitoring"
	"github.com/banshee-data/coverage.report/internal/version"
)

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	envFile    string
	logLevel   string

	cfg *config.CoverageConfig
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "coverage",
		Short: "Measure AIS receiver coverage on an equal-area grid",
		Long: `coverage partitions a bounding box into cells of roughly equal area and
attributes received and missed AIS position reports to them, per receiver and
for all receivers merged.

Reports come from serial receivers, NMEA-over-UDP feeds, or recorded text and
pcap files. Results are kept in memory, SQLite, Redis or MongoDB.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.SetVersionTemplate(version.Banner("coverage"))

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "configuration file (.json or .toml)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading COVERAGE_* variables")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		newServeCmd(a),
		newReplayCmd(a),
		newGridCmd(a),
		newLookupCmd(a),
		newPlotCmd(a),
		newMigrateCmd(a),
		newStatusCmd(),
		newPortsCmd(),
	)
	return root
}

// load reads the dotenv file, the configuration file and the environment,
// in increasing order of precedence, then applies the log level.
func (a *app) load(cmd *cobra.Command) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", a.envFile, err)
		}
	}

	cfg := config.EmptyCoverageConfig()
	if a.configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(a.configPath); err != nil {
			return err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = &a.logLevel
	}
	if err := monitoring.SetLevel(cfg.GetLogLevel()); err != nil {
		return err
	}
	monitoring.SetOutput(cmd.ErrOrStderr())
	a.cfg = cfg
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
