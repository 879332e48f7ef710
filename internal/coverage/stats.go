// Package coverage turns decoded AIS position reports into per-receiver
// reception statistics over an equal-area grid.
//
// Each cell counts the reports received from ships inside it and the reports
// that were expected but never arrived, judged from the gap between a ship's
// consecutive reports and its class reporting interval.
package coverage

import (
	"errors"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Store keys of the calculators that are not tied to a single receiver.
const (
	// SuperSource merges all receivers.
	SuperSource = "supersource"
	// SatSource counts only reports relayed by satellite feeds.
	SatSource = "sat"
)

// ErrUnknownSource is returned when a source has no recorded cells.
var ErrUnknownSource = errors.New("unknown source")

// CellStats are the signal counters of one cell for one source.
type CellStats struct {
	Received int64 `json:"received"`
	Missing  int64 `json:"missing"`
}

// Coverage is the fraction of expected reports that were received, 0 for an
// empty cell.
func (c CellStats) Coverage() float64 {
	total := c.Received + c.Missing
	if total == 0 {
		return 0
	}
	return float64(c.Received) / float64(total)
}

// Add returns the element-wise sum of c and o.
func (c CellStats) Add(o CellStats) CellStats {
	return CellStats{Received: c.Received + o.Received, Missing: c.Missing + o.Missing}
}

// Summary describes the coverage distribution of a set of cells.
type Summary struct {
	Cells          int     `json:"cells"`
	Received       int64   `json:"received"`
	Missing        int64   `json:"missing"`
	MeanCoverage   float64 `json:"mean_coverage"`
	StdDevCoverage float64 `json:"stddev_coverage"`
	MedianCoverage float64 `json:"median_coverage"`
	MinCoverage    float64 `json:"min_coverage"`
	MaxCoverage    float64 `json:"max_coverage"`
}

// Summarize computes coverage statistics over cells. Cells without any
// signal are skipped.
func Summarize(cells map[int]CellStats) Summary {
	var s Summary
	values := make([]float64, 0, len(cells))
	for _, c := range cells {
		if c.Received+c.Missing == 0 {
			continue
		}
		s.Received += c.Received
		s.Missing += c.Missing
		values = append(values, c.Coverage())
	}
	s.Cells = len(values)
	if s.Cells == 0 {
		return s
	}

	sort.Float64s(values)
	s.MeanCoverage, s.StdDevCoverage = stat.MeanStdDev(values, nil)
	if s.Cells == 1 {
		s.StdDevCoverage = 0
	}
	s.MedianCoverage = stat.Quantile(0.5, stat.Empirical, values, nil)
	s.MinCoverage = floats.Min(values)
	s.MaxCoverage = floats.Max(values)
	return s
}
