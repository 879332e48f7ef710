// Package report renders PNG plots of the grid layout and of the recorded
// coverage distribution.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/coverage.report/internal/coverage"
	"github.com/banshee-data/coverage.report/internal/geogrid"
	"github.com/banshee-data/coverage.report/internal/monitoring"
	"github.com/banshee-data/coverage.report/internal/security"
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("no data to plot")

var lineColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}

// StripColumns plots the column count of every regular strip against its
// lower latitude. Pole caps are left out.
func StripColumns(g *geogrid.Grid) (*plot.Plot, error) {
	strips := g.Strips()
	pts := make(plotter.XYs, 0, len(strips))
	for _, s := range strips {
		if s.IsPoleCap() {
			continue
		}
		pts = append(pts, plotter.XY{X: s.LatMin, Y: float64(s.Columns)})
	}
	if len(pts) == 0 {
		return nil, ErrNoData
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Columns per strip (%d cells, %.0f m)", g.TotalCells(), g.CellHeightMeters())
	p.X.Label.Text = "Latitude (deg)"
	p.Y.Label.Text = "Columns"
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to create strip line: %w", err)
	}
	line.Color = lineColor
	line.Width = vg.Points(1)
	p.Add(line)
	return p, nil
}

// CoverageHistogram plots the distribution of per-cell coverage in [0,1].
func CoverageHistogram(title string, cells map[int]coverage.CellStats, bins int) (*plot.Plot, error) {
	values := make(plotter.Values, 0, len(cells))
	for _, c := range cells {
		if c.Received+c.Missing > 0 {
			values = append(values, c.Coverage())
		}
	}
	if len(values) == 0 {
		return nil, ErrNoData
	}
	if bins <= 0 {
		bins = 20
	}

	p := plot.New()
	s := coverage.Summarize(cells)
	p.Title.Text = fmt.Sprintf("%s: %d cells, mean %.2f, median %.2f", title, s.Cells, s.MeanCoverage, s.MedianCoverage)
	p.X.Label.Text = "Coverage"
	p.Y.Label.Text = "Cells"
	p.X.Min, p.X.Max = 0, 1

	h, err := plotter.NewHist(values, bins)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram: %w", err)
	}
	h.FillColor = lineColor
	p.Add(h)
	return p, nil
}

// WritePNGs renders the strip plot and one coverage histogram per source into
// dir and returns the written file paths.
func WritePNGs(dir string, g *geogrid.Grid, sources map[string]map[int]coverage.CellStats) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create plot directory: %w", err)
	}

	var written []string
	save := func(p *plot.Plot, name string) error {
		path := filepath.Join(dir, name)
		if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
			return err
		}
		if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
			return fmt.Errorf("failed to save %s: %w", name, err)
		}
		written = append(written, path)
		return nil
	}

	p, err := StripColumns(g)
	if err != nil && !errors.Is(err, ErrNoData) {
		return nil, err
	}
	if p != nil {
		if err := save(p, "strip_columns.png"); err != nil {
			return written, err
		}
	}

	ids := make([]string, 0, len(sources))
	for id := range sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p, err := CoverageHistogram(id, sources[id], 20)
		if errors.Is(err, ErrNoData) {
			monitoring.Logger().Debug("no coverage to plot", "source", id)
			continue
		}
		if err != nil {
			return written, err
		}
		if err := save(p, "coverage_"+security.SanitizeFilename(id)+".png"); err != nil {
			return written, err
		}
	}
	monitoring.Logf("Wrote %d plots to %s", len(written), dir)
	return written, nil
}
