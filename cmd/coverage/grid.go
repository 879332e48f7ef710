package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banshee-data/coverage.report/internal/geogrid"
)

type gridInfo struct {
	Bounds      geogrid.Bounds `json:"bounds"`
	CellHeightM float64        `json:"cell_height_m"`
	Strips      int            `json:"strips"`
	TotalCells  int            `json:"total_cells"`
}

func newGridCmd(a *app) *cobra.Command {
	var strips bool
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Describe the configured grid",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.cfg.Grid()
			if err != nil {
				return err
			}
			if !strips {
				return writeJSON(cmd.OutOrStdout(), gridInfo{
					Bounds:      g.Bounds(),
					CellHeightM: g.CellHeightMeters(),
					Strips:      g.NumStrips(),
					TotalCells:  g.TotalCells(),
				})
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "strip\tlat_min\theight\tcolumns\tcolumn_width")
			for i, s := range g.Strips() {
				width := "cap"
				if !s.IsPoleCap() {
					width = fmt.Sprintf("%.6f", s.ColumnWidth)
				}
				fmt.Fprintf(tw, "%d\t%.6f\t%.6f\t%d\t%s\n", i, s.LatMin, s.Height, s.Columns, width)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&strips, "strips", false, "print the strip table instead of a summary")
	return cmd
}

type lookupResult struct {
	ID       int                `json:"id"`
	Position geogrid.Position   `json:"position"`
	Bounds   geogrid.CellBounds `json:"bounds"`
}

func newLookupCmd(a *app) *cobra.Command {
	var (
		lon, lat float64
		id       int
	)
	cmd := &cobra.Command{
		Use:   "lookup (--lon X --lat Y | --id N)",
		Short: "Map a coordinate to its cell id, or a cell id back to a coordinate",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.cfg.Grid()
			if err != nil {
				return err
			}
			byID := cmd.Flags().Changed("id")
			byPoint := cmd.Flags().Changed("lon") && cmd.Flags().Changed("lat")
			if byID == byPoint {
				return errors.New("give either --id or both --lon and --lat")
			}

			if byPoint {
				var ok bool
				if id, ok = g.CellID(lon, lat); !ok {
					return fmt.Errorf("point (%g, %g) is outside the grid", lon, lat)
				}
			}
			pos, ok := g.CellPosition(id)
			if !ok {
				return fmt.Errorf("cell id %d out of range [0, %d)", id, g.TotalCells())
			}
			cb, _ := g.CellBounds(id)
			return writeJSON(cmd.OutOrStdout(), lookupResult{ID: id, Position: pos, Bounds: cb})
		},
	}
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude in degrees")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude in degrees")
	cmd.Flags().IntVar(&id, "id", 0, "cell id")
	return cmd
}
