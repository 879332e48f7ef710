package coverage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/coverage.report/internal/ais"
	"github.com/banshee-data/coverage.report/internal/geogrid"
)

// Options are the reporting expectations used to count missing signals.
type Options struct {
	ClassAInterval time.Duration
	ClassBInterval time.Duration
	// MaxGap is the silence after which a ship is treated as having left
	// coverage rather than as missing reports.
	MaxGap time.Duration
	// SatelliteSources are the tag-block source ids of satellite feeds.
	SatelliteSources []string
}

// DefaultOptions returns the class A and B intervals of moving vessels.
func DefaultOptions() Options {
	return Options{
		ClassAInterval: 10 * time.Second,
		ClassBInterval: 30 * time.Second,
		MaxGap:         10 * time.Minute,
	}
}

func (o Options) interval(c ais.Class) time.Duration {
	if c == ais.ClassB {
		return o.ClassBInterval
	}
	return o.ClassAInterval
}

// expectedMissing returns how many reports should have arrived inside gap.
func expectedMissing(gap, interval, maxGap time.Duration) int64 {
	if interval <= 0 || gap <= interval || gap >= maxGap {
		return 0
	}
	n := int64(math.Round(float64(gap)/float64(interval))) - 1
	if n < 0 {
		return 0
	}
	return n
}

type shipKey struct {
	source string
	mmsi   uint32
}

type sighting struct {
	cell int
	at   time.Time
}

// CalculatorStats are the running counters of a Calculator.
type CalculatorStats struct {
	Processed int64 `json:"processed"`
	Dropped   int64 `json:"dropped"`
	Missing   int64 `json:"missing"`
	Ships     int   `json:"ships"`
}

// Calculator attributes received and missing signals to grid cells for the
// source chosen by its key function.
type Calculator struct {
	grid     *geogrid.Grid
	store    Store
	opts     Options
	sourceOf func(ais.Report) string

	mu    sync.Mutex
	ships map[shipKey]sighting
	stats CalculatorStats
}

// NewCalculator returns a Calculator writing to store under sourceOf(report).
func NewCalculator(grid *geogrid.Grid, store Store, opts Options, sourceOf func(ais.Report) string) *Calculator {
	return &Calculator{
		grid:     grid,
		store:    store,
		opts:     opts,
		sourceOf: sourceOf,
		ships:    make(map[shipKey]sighting),
	}
}

// Process counts r as received in its cell and charges any reports the ship
// missed since its previous sighting to the cell of that sighting. Reports
// outside the grid are dropped and counted.
func (c *Calculator) Process(ctx context.Context, r ais.Report) error {
	id, ok := c.grid.CellID(r.Lon, r.Lat)
	if !ok {
		c.mu.Lock()
		c.stats.Dropped++
		c.mu.Unlock()
		return nil
	}
	source := c.sourceOf(r)
	key := shipKey{source: source, mmsi: r.MMSI}

	var missing int64
	var missingCell int
	c.mu.Lock()
	prev, seen := c.ships[key]
	switch {
	case !seen:
		c.ships[key] = sighting{cell: id, at: r.Timestamp}
	case r.Timestamp.After(prev.at):
		missing = expectedMissing(r.Timestamp.Sub(prev.at), c.opts.interval(r.Class), c.opts.MaxGap)
		missingCell = prev.cell
		c.ships[key] = sighting{cell: id, at: r.Timestamp}
	}
	c.stats.Processed++
	c.stats.Missing += missing
	c.mu.Unlock()

	if err := c.store.Add(ctx, source, id, 1, 0); err != nil {
		return err
	}
	if missing > 0 {
		return c.store.Add(ctx, source, missingCell, 0, missing)
	}
	return nil
}

// Prune forgets ships not heard from within MaxGap of now and returns how
// many were removed.
func (c *Calculator) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, s := range c.ships {
		if now.Sub(s.at) >= c.opts.MaxGap {
			delete(c.ships, k)
			n++
		}
	}
	return n
}

// Stats returns a snapshot of the calculator counters.
func (c *Calculator) Stats() CalculatorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Ships = len(c.ships)
	return s
}
