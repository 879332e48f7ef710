package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/coverage.report/internal/coverage"
	"github.com/banshee-data/coverage.report/internal/report"
	"github.com/banshee-data/coverage.report/internal/security"
)

func newPlotCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Write PNG plots of the strip layout and the stored coverage",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := security.ValidateExportPath(out); err != nil {
				return err
			}
			ctx := cmd.Context()
			g, err := a.cfg.Grid()
			if err != nil {
				return err
			}
			store, _, err := openStore(ctx, a.cfg, g)
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := store.Sources(ctx)
			if err != nil {
				return err
			}
			sources := make(map[string]map[int]coverage.CellStats, len(ids))
			for _, id := range ids {
				cells, err := store.Cells(ctx, id)
				if err != nil && !errors.Is(err, coverage.ErrUnknownSource) {
					return err
				}
				sources[id] = cells
			}

			files, err := report.WritePNGs(out, g, sources)
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "plots", "output directory, inside the working or temp directory")
	return cmd
}
