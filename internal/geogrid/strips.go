package geogrid

import (
	"iter"
	"math"
)

// PoleLatitude is the absolute latitude beyond which a hemisphere collapses
// into a single pole-cap cell.
const PoleLatitude = 89.8

// PoleCapWidth is the column width sentinel carried by pole-cap strips.
const PoleCapWidth = -1.0

// Strip is one latitude band of the grid.
type Strip struct {
	LatMin      float64 `json:"lat_min"`      // lower latitude bound (degrees)
	Height      float64 `json:"height"`       // angular height (degrees)
	Columns     int     `json:"columns"`      // >= 1
	ColumnWidth float64 `json:"column_width"` // degrees, PoleCapWidth for caps
}

// LatMax returns the upper latitude bound of the strip.
func (s Strip) LatMax() float64 { return s.LatMin + s.Height }

// IsPoleCap reports whether the strip is a degenerate pole cap.
func (s Strip) IsPoleCap() bool { return s.ColumnWidth == PoleCapWidth }

type stripKind int

const (
	regularStrip stripKind = iota
	southCap
	northCap
)

// stripStep is one boundary produced by the layout walk. Column counts are
// not part of the walk; the builder derives them from latMin.
type stripStep struct {
	latMin float64
	height float64
	kind   stripKind
}

// layout walks strip boundaries from latMin to latMax. It is finite and can be
// ranged over any number of times with identical results, so the sizing pass
// and the building pass cannot drift apart.
func layout(latMin, latMax, cellHeightMeters float64) iter.Seq[stripStep] {
	return func(yield func(stripStep) bool) {
		lat := latMin
		if latMin < -PoleLatitude {
			if !yield(stripStep{latMin: latMin, height: -PoleLatitude - latMin, kind: southCap}) {
				return
			}
			lat = -PoleLatitude
		}

		stop := math.Min(latMax, PoleLatitude)
		for lat < stop {
			h := cellHeightMeters * LatDegreesPerMeter(lat)
			if !yield(stripStep{latMin: lat, height: h, kind: regularStrip}) {
				return
			}
			next := lat + h
			if next <= lat {
				// step below float resolution at this latitude
				break
			}
			lat = next
		}

		if latMax > PoleLatitude {
			yield(stripStep{latMin: PoleLatitude, height: latMax - PoleLatitude, kind: northCap})
		}
	}
}

// countStrips is the sizing consumer of layout.
func countStrips(steps iter.Seq[stripStep]) int {
	n := 0
	for range steps {
		n++
	}
	return n
}

// columns returns how many equal-width columns of cellHeightMeters fit across
// lonSpan degrees at latitude lat0, and their angular width.
//
// A full 360 degree span gets one extra column rather than a seam; a partial
// span rounds up and may overshoot the eastern bound slightly.
func columns(lat0, lonSpan, cellHeightMeters float64) (int, float64) {
	d := Circumference(lat0) * (lonSpan / 360.0)
	n := 1
	if d > cellHeightMeters {
		if lonSpan == 360.0 {
			n = int(math.Floor(d/cellHeightMeters)) + 1
		} else {
			n = int(math.Ceil(d / cellHeightMeters))
		}
	}
	return n, (d / float64(n)) * LonDegreesPerMeter(lat0)
}
