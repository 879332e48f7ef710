package geogrid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidGrid is returned by New for unusable bounds or cell sizes.
var ErrInvalidGrid = errors.New("invalid grid configuration")

// Size ceilings enforced by New. A cell height small enough to exceed them
// would overflow column counts or stall the strip walk.
const (
	MaxStrips = 1 << 20
	MaxCells  = 1 << 40
)

// Bounds is a geographic bounding box in degrees.
type Bounds struct {
	LonMin float64 `json:"lon_min"`
	LatMin float64 `json:"lat_min"`
	LonMax float64 `json:"lon_max"`
	LatMax float64 `json:"lat_max"`
}

// Contains reports whether the point lies inside b, edges included.
func (b Bounds) Contains(lon, lat float64) bool {
	return lon >= b.LonMin && lon <= b.LonMax && lat >= b.LatMin && lat <= b.LatMax
}

// LonSpan returns the longitude extent of b in degrees.
func (b Bounds) LonSpan() float64 { return b.LonMax - b.LonMin }

// Position is an approximate geographic location of a cell.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// CellBounds is the latitude/longitude box of a single cell.
type CellBounds struct {
	South float64 `json:"south"`
	North float64 `json:"north"`
	West  float64 `json:"west"`
	East  float64 `json:"east"`
}

// Grid is an immutable equal-area partition of a bounding box.
type Grid struct {
	bounds     Bounds
	cellHeight float64
	strips     []Strip
	offsets    []int // first cell id of each strip
	total      int
}

// New builds the strip table for the box [lonMin,lonMax] x [latMin,latMax]
// with cells approximately cellHeightMeters high and wide.
func New(lonMin, latMin, lonMax, latMax, cellHeightMeters float64) (*Grid, error) {
	b := Bounds{LonMin: lonMin, LatMin: latMin, LonMax: lonMax, LatMax: latMax}
	if err := validate(b, cellHeightMeters); err != nil {
		return nil, err
	}

	steps := layout(latMin, latMax, cellHeightMeters)
	n := countStrips(steps)

	g := &Grid{
		bounds:     b,
		cellHeight: cellHeightMeters,
		strips:     make([]Strip, 0, n),
		offsets:    make([]int, 0, n),
	}
	span := b.LonSpan()
	reach := math.Inf(-1)
	for step := range steps {
		s := Strip{LatMin: step.latMin, Height: step.height, Columns: 1, ColumnWidth: PoleCapWidth}
		if step.kind == regularStrip {
			if Circumference(step.latMin)*(span/360.0)/cellHeightMeters >= MaxCells {
				return nil, fmt.Errorf("%w: strip at %g needs more than %d columns", ErrInvalidGrid, step.latMin, int64(MaxCells))
			}
			s.Columns, s.ColumnWidth = columns(step.latMin, span, cellHeightMeters)
			reach = s.LatMax()
		}
		g.offsets = append(g.offsets, g.total)
		g.strips = append(g.strips, s)
		g.total += s.Columns
		if float64(g.total) > MaxCells {
			return nil, fmt.Errorf("%w: more than %d cells", ErrInvalidGrid, int64(MaxCells))
		}
	}
	if len(g.strips) != n {
		return nil, fmt.Errorf("strip layout produced %d strips, sized for %d", len(g.strips), n)
	}
	if start, stop := math.Max(latMin, -PoleLatitude), math.Min(latMax, PoleLatitude); start < stop && reach < stop {
		return nil, fmt.Errorf("%w: strip layout stalled at %g before %g", ErrInvalidGrid, reach, stop)
	}
	return g, nil
}

// estimateSize returns upper-bound estimates of the strip and cell counts,
// so New can refuse a layout before walking it.
func estimateSize(b Bounds, cellHeight float64) (strips, cells float64) {
	start, stop := math.Max(b.LatMin, -PoleLatitude), math.Min(b.LatMax, PoleLatitude)
	if start < stop {
		// degrees per meter shrinks towards the poles
		minStep := cellHeight * math.Min(LatDegreesPerMeter(0), LatDegreesPerMeter(90))
		strips = (stop - start) / minStep
	}
	rad := math.Pi / 180
	area := 2 * math.Pi * EarthRadiusMeters * EarthRadiusMeters *
		(math.Sin(b.LatMax*rad) - math.Sin(b.LatMin*rad)) * b.LonSpan() / 360
	cells = area / (cellHeight * cellHeight)
	return strips + 2, cells
}

func validate(b Bounds, cellHeight float64) error {
	for _, v := range []float64{b.LonMin, b.LatMin, b.LonMax, b.LatMax, cellHeight} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value %v", ErrInvalidGrid, v)
		}
	}
	if cellHeight <= 0 {
		return fmt.Errorf("%w: cell height must be positive, got %g", ErrInvalidGrid, cellHeight)
	}
	if b.LatMin >= b.LatMax {
		return fmt.Errorf("%w: latmin %g must be below latmax %g", ErrInvalidGrid, b.LatMin, b.LatMax)
	}
	if b.LonMin >= b.LonMax {
		return fmt.Errorf("%w: lonmin %g must be below lonmax %g", ErrInvalidGrid, b.LonMin, b.LonMax)
	}
	if b.LatMin < -90 || b.LatMax > 90 {
		return fmt.Errorf("%w: latitudes must lie within [-90, 90]", ErrInvalidGrid)
	}
	if b.LonSpan() > 360 {
		return fmt.Errorf("%w: longitude span %g exceeds 360", ErrInvalidGrid, b.LonSpan())
	}
	strips, cells := estimateSize(b, cellHeight)
	if strips > MaxStrips {
		return fmt.Errorf("%w: cell height %g m needs about %.0f strips (max %d)", ErrInvalidGrid, cellHeight, strips, MaxStrips)
	}
	if cells > MaxCells {
		return fmt.Errorf("%w: cell height %g m needs about %.0f cells (max %d)", ErrInvalidGrid, cellHeight, cells, int64(MaxCells))
	}
	return nil
}

// Bounds returns the bounding box the grid was built for.
func (g *Grid) Bounds() Bounds { return g.bounds }

// CellHeightMeters returns the target cell height.
func (g *Grid) CellHeightMeters() float64 { return g.cellHeight }

// Fingerprint identifies the cell layout. Grids built from the same bounds
// and cell height share a fingerprint and therefore agree on every cell id.
func (g *Grid) Fingerprint() string {
	buf := make([]byte, 0, 5*8)
	for _, v := range []float64{g.bounds.LonMin, g.bounds.LatMin, g.bounds.LonMax, g.bounds.LatMax, g.cellHeight} {
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v))
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:8])
}

// TotalCells returns the number of cells; valid ids are [0, TotalCells).
func (g *Grid) TotalCells() int { return g.total }

// NumStrips returns the number of latitude strips, pole caps included.
func (g *Grid) NumStrips() int { return len(g.strips) }

// Strips returns a copy of the strip table, south to north.
func (g *Grid) Strips() []Strip {
	out := make([]Strip, len(g.strips))
	copy(out, g.strips)
	return out
}

// StripAt returns the index and record of the strip containing lat.
func (g *Grid) StripAt(lat float64) (int, Strip, bool) {
	if math.IsNaN(lat) || lat < g.bounds.LatMin || lat > g.bounds.LatMax {
		return 0, Strip{}, false
	}
	if lat < -PoleLatitude {
		return 0, g.strips[0], true
	}
	last := len(g.strips) - 1
	if lat > PoleLatitude {
		return last, g.strips[last], true
	}
	// New guarantees the last regular strip reaches min(latmax, PoleLatitude).
	i := sort.Search(len(g.strips), func(i int) bool { return g.strips[i].LatMax() >= lat })
	return i, g.strips[i], true
}

// ColumnsAt returns the column count of the strip containing lat.
func (g *Grid) ColumnsAt(lat float64) (int, bool) {
	_, s, ok := g.StripAt(lat)
	return s.Columns, ok
}

// CellID returns the id of the cell containing (lon, lat). The second result
// is false when the point is outside the grid bounds or not a finite number.
func (g *Grid) CellID(lon, lat float64) (int, bool) {
	if math.IsNaN(lon) || math.IsNaN(lat) || !g.bounds.Contains(lon, lat) {
		return 0, false
	}
	if lat < -PoleLatitude {
		return 0, true
	}
	if lat > PoleLatitude {
		return g.total - 1, true
	}

	i, s, _ := g.StripAt(lat)
	col := int(math.Floor((lon - g.bounds.LonMin) / g.bounds.LonSpan() * float64(s.Columns)))
	if col >= s.Columns {
		col = s.Columns - 1
	}
	return g.offsets[i] + col, true
}

// stripOf returns the strip index holding id and the column within it.
func (g *Grid) stripOf(id int) (int, int) {
	i := sort.Search(len(g.offsets), func(i int) bool { return g.offsets[i] > id }) - 1
	return i, id - g.offsets[i]
}

// CellPosition returns an approximate coordinate for id: the southern edge of
// its strip and the western edge of its column. The first id maps to
// (latmin, lonmin) and the last to (latmax, lonmin).
func (g *Grid) CellPosition(id int) (Position, bool) {
	if id < 0 || id >= g.total {
		return Position{}, false
	}
	if id == 0 {
		return Position{Lat: g.bounds.LatMin, Lon: g.bounds.LonMin}, true
	}
	if id == g.total-1 {
		return Position{Lat: g.bounds.LatMax, Lon: g.bounds.LonMin}, true
	}
	i, col := g.stripOf(id)
	s := g.strips[i]
	return Position{Lat: s.LatMin, Lon: g.bounds.LonMin + float64(col)*s.ColumnWidth}, true
}

// CellBounds returns the latitude/longitude box of id, clipped to the grid
// bounds. Pole caps span the full longitude range.
func (g *Grid) CellBounds(id int) (CellBounds, bool) {
	if id < 0 || id >= g.total {
		return CellBounds{}, false
	}
	i, col := g.stripOf(id)
	s := g.strips[i]
	cb := CellBounds{
		South: math.Max(s.LatMin, g.bounds.LatMin),
		North: math.Min(s.LatMax(), g.bounds.LatMax),
		West:  g.bounds.LonMin,
		East:  g.bounds.LonMax,
	}
	if !s.IsPoleCap() {
		cb.West = g.bounds.LonMin + float64(col)*s.ColumnWidth
		cb.East = math.Min(cb.West+s.ColumnWidth, g.bounds.LonMax)
	}
	return cb, true
}
