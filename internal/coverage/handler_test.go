package coverage

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/coverage.report/internal/ais"
	"github.com/banshee-data/coverage.report/internal/geogrid"
	"github.com/banshee-data/coverage.report/internal/timeutil"
)

// feedTwoReceivers lets one class A ship be heard alternately by rx1 and rx2.
func feedTwoReceivers(t *testing.T, h *Handler) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.Receive(ctx, report("rx1", 1, ais.ClassA, 0.1, 0.1, 0)))
	require.NoError(t, h.Receive(ctx, report("rx2", 1, ais.ClassA, 0.1, 0.1, 30*time.Second)))
	require.NoError(t, h.Receive(ctx, report("rx1", 1, ais.ClassA, 0.1, 0.1, 40*time.Second)))
}

func TestHandler_SuperAndPerSource(t *testing.T) {
	ctx := context.Background()
	g := testGrid(t)
	h := NewHandler(g, NewMemoryStore(), DefaultOptions(), map[string]string{"rx1": "North pier"})
	feedTwoReceivers(t, h)
	id := cellOf(t, g, 0.1, 0.1)

	super, err := h.Cells(ctx, SuperSource)
	require.NoError(t, err)
	assert.Equal(t, CellStats{Received: 3, Missing: 2}, super[id])

	rx1, err := h.Cells(ctx, "rx1")
	require.NoError(t, err)
	assert.Equal(t, CellStats{Received: 2, Missing: 3}, rx1[id])

	rx2, err := h.Cells(ctx, "rx2")
	require.NoError(t, err)
	assert.Equal(t, CellStats{Received: 1}, rx2[id])

	sources, err := h.Sources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []SourceInfo{
		{ID: "rx1", Name: "North pier", Cells: 1},
		{ID: "rx2", Name: "rx2", Cells: 1},
		{ID: SuperSource, Name: "All sources", Cells: 1},
	}, sources)

	sum, err := h.Summary(ctx, "rx1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Cells)
	assert.InDelta(t, 0.4, sum.MeanCoverage, 1e-12)

	_, err = h.Summary(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestHandler_UnsourcedReportsOnlyCountForSuper(t *testing.T) {
	ctx := context.Background()
	h := NewHandler(testGrid(t), NewMemoryStore(), DefaultOptions(), nil)

	require.NoError(t, h.Receive(ctx, report("", 5, ais.ClassA, 1, 1, 0)))
	sources, err := h.Sources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, SuperSource, sources[0].ID)

	require.NoError(t, h.Receive(ctx, report("rx", 5, ais.ClassA, 50, 1, 0)))
	stats := h.Stats()
	assert.Equal(t, int64(1), stats.Super.Dropped)
	assert.Equal(t, int64(1), stats.PerSource.Dropped)
}

func TestHandler_MapBestCoverageWins(t *testing.T) {
	ctx := context.Background()
	g := testGrid(t)
	h := NewHandler(g, NewMemoryStore(), DefaultOptions(), nil)
	feedTwoReceivers(t, h)
	id := cellOf(t, g, 0.1, 0.1)
	key := strconv.Itoa(id)

	bbox := geogrid.Bounds{LonMin: -1, LatMin: -1, LonMax: 1, LatMax: 1}
	m, err := h.Map(ctx, bbox, []string{"rx1", "rx2", "missing"}, 1)
	require.NoError(t, err)
	assert.Equal(t, 50000.0, m.CellHeightM)
	require.Len(t, m.Cells, 1)

	cell := m.Cells[key]
	assert.Equal(t, "rx2", cell.Source)
	assert.Equal(t, 1.0, cell.Coverage)
	assert.InDelta(t, 0.6, cell.SuperCoverage, 1e-12)
	assert.LessOrEqual(t, cell.South, 0.1)
	assert.GreaterOrEqual(t, cell.North, 0.1)
	assert.LessOrEqual(t, cell.West, 0.1)
	assert.GreaterOrEqual(t, cell.East, 0.1)

	m, err = h.Map(ctx, bbox, []string{"rx1"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "rx1", m.Cells[key].Source)
	assert.Equal(t, int64(3), m.Cells[key].Missing)

	// Empty selection means every receiver, never the merged supersource.
	m, err = h.Map(ctx, bbox, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, "rx2", m.Cells[key].Source)

	m, err = h.Map(ctx, geogrid.Bounds{LonMin: 5, LatMin: 5, LonMax: 9, LatMax: 9}, nil, 1)
	require.NoError(t, err)
	assert.Empty(t, m.Cells)
}

func TestHandler_SatelliteSources(t *testing.T) {
	ctx := context.Background()
	g := testGrid(t)
	opts := DefaultOptions()
	opts.SatelliteSources = []string{"orbcomm"}
	h := NewHandler(g, NewMemoryStore(), opts, nil)
	id := cellOf(t, g, 0.1, 0.1)

	require.NoError(t, h.Receive(ctx, report("rx1", 1, ais.ClassA, 0.1, 0.1, 0)))
	require.NoError(t, h.Receive(ctx, report("orbcomm", 1, ais.ClassA, 0.1, 0.1, 30*time.Second)))
	require.NoError(t, h.Receive(ctx, report("orbcomm", 1, ais.ClassA, 0.1, 0.1, 60*time.Second)))

	assert.True(t, h.IsSatellite("orbcomm"))
	assert.False(t, h.IsSatellite("rx1"))

	sat, err := h.Cells(ctx, SatSource)
	require.NoError(t, err)
	assert.Equal(t, map[int]CellStats{id: {Received: 2, Missing: 2}}, sat)

	super, err := h.Cells(ctx, SuperSource)
	require.NoError(t, err)
	assert.Equal(t, CellStats{Received: 3, Missing: 4}, super[id])

	stats := h.Stats()
	assert.Equal(t, int64(2), stats.Satellite.Processed)
	assert.Equal(t, int64(3), stats.Super.Processed)
	assert.Equal(t, "Satellite", h.SourceName(SatSource))

	// the satellite aggregate is only exported when asked for
	m, err := h.Map(ctx, g.Bounds(), nil, 1)
	require.NoError(t, err)
	assert.Equal(t, "rx1", m.Cells[strconv.Itoa(id)].Source)

	m, err = h.Map(ctx, g.Bounds(), []string{SatSource}, 1)
	require.NoError(t, err)
	assert.Equal(t, SatSource, m.Cells[strconv.Itoa(id)].Source)

	assert.Equal(t, 4, h.Prune(t0.Add(60*time.Second+10*time.Minute)))
}

func TestHandler_MapMergeFactor(t *testing.T) {
	ctx := context.Background()
	g := testGrid(t)
	h := NewHandler(g, NewMemoryStore(), DefaultOptions(), nil)

	n := 0
	for lat := -9.5; lat < 10; lat += 1.5 {
		for lon := -9.5; lon < 10; lon += 3.5 {
			n++
			require.NoError(t, h.Receive(ctx, report("rx1", uint32(n), ais.ClassA, lon, lat, 0)))
		}
	}

	fine, err := h.Map(ctx, g.Bounds(), []string{"rx1"}, 1)
	require.NoError(t, err)
	merged, err := h.Map(ctx, g.Bounds(), []string{"rx1"}, 2)
	require.NoError(t, err)

	assert.Equal(t, 100000.0, merged.CellHeightM)
	assert.LessOrEqual(t, len(merged.Cells), len(fine.Cells))
	var received int64
	for _, c := range merged.Cells {
		received += c.Received
		assert.Equal(t, c.Coverage, c.SuperCoverage)
	}
	assert.Equal(t, int64(n), received)

	// one cell covers the whole box
	whole, err := h.Map(ctx, g.Bounds(), []string{"rx1"}, MaxMapFactor)
	require.NoError(t, err)
	require.Len(t, whole.Cells, 1)
	for _, c := range whole.Cells {
		assert.Equal(t, int64(n), c.Received)
	}

	for _, bad := range []int{-1, MaxMapFactor + 1} {
		_, err := h.Map(ctx, g.Bounds(), nil, bad)
		assert.ErrorIs(t, err, ErrInvalidFactor, "factor %d", bad)
	}
}

func TestHandler_MapSkipsCellsUnknownToSupersource(t *testing.T) {
	ctx := context.Background()
	g := testGrid(t)
	store := NewMemoryStore()
	h := NewHandler(g, store, DefaultOptions(), nil)
	require.NoError(t, store.Add(ctx, "rx9", cellOf(t, g, 1, 1), 4, 0))

	m, err := h.Map(ctx, g.Bounds(), []string{"rx9"}, 1)
	require.NoError(t, err)
	assert.Empty(t, m.Cells)
}

func TestHandler_Prune(t *testing.T) {
	h := NewHandler(testGrid(t), NewMemoryStore(), DefaultOptions(), nil)
	feedTwoReceivers(t, h)
	assert.Equal(t, 3, h.Prune(t0.Add(40*time.Second+10*time.Minute)))
}

func TestLineSink(t *testing.T) {
	ctx := context.Background()
	g := testGrid(t)
	h := NewHandler(g, NewMemoryStore(), DefaultOptions(), nil)
	dec := &ais.Decoder{DefaultSource: "serial", Clock: timeutil.NewMockClock(t0)}
	sink := NewLineSink(dec, h)

	good, err := ais.EncodePosition(ais.Report{MMSI: 219000123, Lon: 1.5, Lat: 2.5})
	require.NoError(t, err)
	noPos, err := ais.EncodePosition(ais.Report{MMSI: 219000124, Lon: 181, Lat: 91})
	require.NoError(t, err)

	for _, line := range []string{good, noPos, "", "garbage"} {
		require.NoError(t, sink.HandleLine(ctx, line))
	}

	assert.Equal(t, SinkStats{Lines: 4, Reports: 1, Skipped: 2, Invalid: 1}, sink.Stats())

	cells, err := h.Cells(ctx, "serial")
	require.NoError(t, err)
	assert.Equal(t, CellStats{Received: 1}, cells[cellOf(t, g, 1.5, 2.5)])
}

func TestLineSink_StoreFailure(t *testing.T) {
	h := NewHandler(testGrid(t), failingStore{NewMemoryStore()}, DefaultOptions(), nil)
	sink := NewLineSink(ais.NewDecoder("serial"), h)

	line, err := ais.EncodePosition(ais.Report{MMSI: 1, Lon: 1, Lat: 1})
	require.NoError(t, err)
	assert.Error(t, sink.HandleLine(context.Background(), line))
}
