package coverage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/coverage.report/internal/ais"
	"github.com/banshee-data/coverage.report/internal/geogrid"
	"github.com/banshee-data/coverage.report/internal/monitoring"
)

// ErrInvalidFactor is returned by Map for a merge factor out of range.
var ErrInvalidFactor = errors.New("invalid merge factor")

// MaxMapFactor bounds the cell merge factor accepted by Map.
const MaxMapFactor = 64

// Handler feeds every report to a calculator merging all receivers and to a
// calculator keyed by the receiving source. Reports from satellite feeds are
// also counted under SatSource.
type Handler struct {
	grid      *geogrid.Grid
	store     Store
	names     map[string]string
	satellite map[string]bool

	super     *Calculator
	perSource *Calculator
	sat       *Calculator

	coarse sync.Map // factor -> *geogrid.Grid
}

// NewHandler wires the calculators to store. names maps source ids to
// display names and may be nil.
func NewHandler(grid *geogrid.Grid, store Store, opts Options, names map[string]string) *Handler {
	satellite := make(map[string]bool, len(opts.SatelliteSources))
	for _, id := range opts.SatelliteSources {
		satellite[id] = true
	}
	return &Handler{
		grid:      grid,
		store:     store,
		names:     names,
		satellite: satellite,
		super:     NewCalculator(grid, store, opts, func(ais.Report) string { return SuperSource }),
		perSource: NewCalculator(grid, store, opts, func(r ais.Report) string { return r.Source }),
		sat:       NewCalculator(grid, store, opts, func(ais.Report) string { return SatSource }),
	}
}

// IsSatellite reports whether source is a configured satellite feed.
func (h *Handler) IsSatellite(source string) bool { return h.satellite[source] }

// Grid returns the grid the handler counts on.
func (h *Handler) Grid() *geogrid.Grid { return h.grid }

// Receive processes one report.
func (h *Handler) Receive(ctx context.Context, r ais.Report) error {
	if err := h.super.Process(ctx, r); err != nil {
		return fmt.Errorf("supersource: %w", err)
	}
	if r.Source == "" || r.Source == SuperSource || r.Source == SatSource {
		return nil
	}
	if err := h.perSource.Process(ctx, r); err != nil {
		return fmt.Errorf("source %s: %w", r.Source, err)
	}
	if h.satellite[r.Source] {
		if err := h.sat.Process(ctx, r); err != nil {
			return fmt.Errorf("satellite: %w", err)
		}
	}
	return nil
}

// Prune drops stale ship state from every calculator.
func (h *Handler) Prune(now time.Time) int {
	return h.super.Prune(now) + h.perSource.Prune(now) + h.sat.Prune(now)
}

// HandlerStats are the counters of the calculators.
type HandlerStats struct {
	Super     CalculatorStats `json:"supersource"`
	PerSource CalculatorStats `json:"per_source"`
	Satellite CalculatorStats `json:"satellite"`
}

// Stats returns the calculator counters.
func (h *Handler) Stats() HandlerStats {
	return HandlerStats{Super: h.super.Stats(), PerSource: h.perSource.Stats(), Satellite: h.sat.Stats()}
}

// SourceName returns the configured display name of id, or id.
func (h *Handler) SourceName(id string) string {
	switch id {
	case SuperSource:
		return "All sources"
	case SatSource:
		return "Satellite"
	}
	if name, ok := h.names[id]; ok && name != "" {
		return name
	}
	return id
}

// SourceInfo describes one receiver known to the store.
type SourceInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Cells int    `json:"cells"`
}

// Sources lists the recorded sources, the merged supersource included.
func (h *Handler) Sources(ctx context.Context) ([]SourceInfo, error) {
	ids, err := h.store.Sources(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SourceInfo, 0, len(ids))
	for _, id := range ids {
		cells, err := h.store.Cells(ctx, id)
		if err != nil && !errors.Is(err, ErrUnknownSource) {
			return nil, err
		}
		out = append(out, SourceInfo{ID: id, Name: h.SourceName(id), Cells: len(cells)})
	}
	return out, nil
}

// Cells returns the recorded cells of source.
func (h *Handler) Cells(ctx context.Context, source string) (map[int]CellStats, error) {
	return h.store.Cells(ctx, source)
}

// Summary returns coverage statistics of source.
func (h *Handler) Summary(ctx context.Context, source string) (Summary, error) {
	cells, err := h.store.Cells(ctx, source)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(cells), nil
}

// JSONCell is one cell of the exported coverage map.
type JSONCell struct {
	ID            int     `json:"id"`
	Source        string  `json:"source"`
	South         float64 `json:"south"`
	North         float64 `json:"north"`
	West          float64 `json:"west"`
	East          float64 `json:"east"`
	Received      int64   `json:"received"`
	Missing       int64   `json:"missing"`
	Coverage      float64 `json:"coverage"`
	SuperCoverage float64 `json:"super_coverage"`
}

// Map is the exported coverage of a bounding box, keyed by cell id.
type Map struct {
	CellHeightM float64             `json:"cell_height_m"`
	Cells       map[string]JSONCell `json:"cells"`
}

func intersects(cb geogrid.CellBounds, b geogrid.Bounds) bool {
	return cb.North >= b.LatMin && cb.South <= b.LatMax && cb.East >= b.LonMin && cb.West <= b.LonMax
}

// mapGrid returns the grid whose cells are factor times as high as the
// handler's, over the same bounds.
func (h *Handler) mapGrid(factor int) (*geogrid.Grid, error) {
	if factor == 0 || factor == 1 {
		return h.grid, nil
	}
	if factor < 1 || factor > MaxMapFactor {
		return nil, fmt.Errorf("%w: factor %d outside [1, %d]", ErrInvalidFactor, factor, MaxMapFactor)
	}
	if g, ok := h.coarse.Load(factor); ok {
		return g.(*geogrid.Grid), nil
	}
	b := h.grid.Bounds()
	g, err := geogrid.New(b.LonMin, b.LatMin, b.LonMax, b.LatMax, h.grid.CellHeightMeters()*float64(factor))
	if err != nil {
		return nil, err
	}
	actual, _ := h.coarse.LoadOrStore(factor, g)
	return actual.(*geogrid.Grid), nil
}

// mergeCells sums the counters of every cell into the cell of coarse that
// holds its centre.
func (h *Handler) mergeCells(cells map[int]CellStats, coarse *geogrid.Grid) map[int]CellStats {
	if coarse == h.grid {
		return cells
	}
	out := make(map[int]CellStats)
	for id, c := range cells {
		cb, ok := h.grid.CellBounds(id)
		if !ok {
			continue
		}
		to, ok := coarse.CellID((cb.West+cb.East)/2, (cb.South+cb.North)/2)
		if !ok {
			continue
		}
		out[to] = out[to].Add(c)
	}
	return out
}

// Map exports the cells of the selected sources that intersect bbox. When
// several sources cover a cell the one with the best coverage wins; cells the
// supersource never saw are left out. An empty selection means every
// receiver. A factor above 1 first merges cells into a grid with cells
// factor times as high.
func (h *Handler) Map(ctx context.Context, bbox geogrid.Bounds, sources []string, factor int) (Map, error) {
	g, err := h.mapGrid(factor)
	if err != nil {
		return Map{}, err
	}
	m := Map{CellHeightM: g.CellHeightMeters(), Cells: make(map[string]JSONCell)}

	if len(sources) == 0 {
		all, err := h.store.Sources(ctx)
		if err != nil {
			return m, err
		}
		for _, s := range all {
			if s != SuperSource && s != SatSource {
				sources = append(sources, s)
			}
		}
	}

	superCells, err := h.store.Cells(ctx, SuperSource)
	if err != nil && !errors.Is(err, ErrUnknownSource) {
		return m, err
	}
	superCells = h.mergeCells(superCells, g)

	for _, source := range sources {
		cells, err := h.store.Cells(ctx, source)
		if errors.Is(err, ErrUnknownSource) {
			monitoring.Logger().Debug("map: source has no cells", "source", source)
			continue
		}
		if err != nil {
			return m, err
		}
		for id, stats := range h.mergeCells(cells, g) {
			super, ok := superCells[id]
			if !ok {
				continue
			}
			cb, ok := g.CellBounds(id)
			if !ok || !intersects(cb, bbox) {
				continue
			}
			key := strconv.Itoa(id)
			jc := JSONCell{
				ID:            id,
				Source:        source,
				South:         cb.South,
				North:         cb.North,
				West:          cb.West,
				East:          cb.East,
				Received:      stats.Received,
				Missing:       stats.Missing,
				Coverage:      stats.Coverage(),
				SuperCoverage: super.Coverage(),
			}
			if existing, ok := m.Cells[key]; ok && existing.Coverage >= jc.Coverage {
				continue
			}
			m.Cells[key] = jc
		}
	}
	return m, nil
}
