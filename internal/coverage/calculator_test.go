package coverage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/coverage.report/internal/ais"
	"github.com/banshee-data/coverage.report/internal/geogrid"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testGrid(t *testing.T) *geogrid.Grid {
	t.Helper()
	g, err := geogrid.New(-10, -10, 10, 10, 50000)
	require.NoError(t, err)
	return g
}

func cellOf(t *testing.T, g *geogrid.Grid, lon, lat float64) int {
	t.Helper()
	id, ok := g.CellID(lon, lat)
	require.True(t, ok)
	return id
}

func report(source string, mmsi uint32, class ais.Class, lon, lat float64, at time.Duration) ais.Report {
	return ais.Report{Source: source, MMSI: mmsi, Class: class, Lon: lon, Lat: lat, Timestamp: t0.Add(at)}
}

func TestExpectedMissing(t *testing.T) {
	tests := []struct {
		gap, interval time.Duration
		want          int64
	}{
		{5 * time.Second, 10 * time.Second, 0},
		{10 * time.Second, 10 * time.Second, 0},
		{12 * time.Second, 10 * time.Second, 0},
		{20 * time.Second, 10 * time.Second, 1},
		{35 * time.Second, 10 * time.Second, 3},
		{90 * time.Second, 30 * time.Second, 2},
		{10 * time.Minute, 10 * time.Second, 0},
		{time.Minute, 0, 0},
	}
	for _, tc := range tests {
		got := expectedMissing(tc.gap, tc.interval, 10*time.Minute)
		assert.Equal(t, tc.want, got, "gap %s interval %s", tc.gap, tc.interval)
	}
}

func TestCalculator_AttributesMissingToPreviousCell(t *testing.T) {
	ctx := context.Background()
	g := testGrid(t)
	store := NewMemoryStore()
	calc := NewCalculator(g, store, DefaultOptions(), func(r ais.Report) string { return r.Source })

	require.NoError(t, calc.Process(ctx, report("rx", 1, ais.ClassA, 0.1, 0.1, 0)))
	require.NoError(t, calc.Process(ctx, report("rx", 1, ais.ClassA, 5.1, 5.1, 35*time.Second)))

	cells, err := store.Cells(ctx, "rx")
	require.NoError(t, err)
	want := map[int]CellStats{
		cellOf(t, g, 0.1, 0.1): {Received: 1, Missing: 3},
		cellOf(t, g, 5.1, 5.1): {Received: 1},
	}
	if diff := cmp.Diff(want, cells); diff != "" {
		t.Errorf("cells mismatch (-want +got):\n%s", diff)
	}

	stats := calc.Stats()
	assert.Equal(t, int64(2), stats.Processed)
	assert.Equal(t, int64(3), stats.Missing)
	assert.Equal(t, 1, stats.Ships)
}

func TestCalculator_ClassBInterval(t *testing.T) {
	ctx := context.Background()
	g := testGrid(t)
	store := NewMemoryStore()
	calc := NewCalculator(g, store, DefaultOptions(), func(ais.Report) string { return "all" })

	require.NoError(t, calc.Process(ctx, report("", 7, ais.ClassB, 1, 1, 0)))
	require.NoError(t, calc.Process(ctx, report("", 7, ais.ClassB, 1, 1, 90*time.Second)))

	cells, err := store.Cells(ctx, "all")
	require.NoError(t, err)
	assert.Equal(t, CellStats{Received: 2, Missing: 2}, cells[cellOf(t, g, 1, 1)])
}

func TestCalculator_OutOfOrderAndLongGaps(t *testing.T) {
	ctx := context.Background()
	g := testGrid(t)
	store := NewMemoryStore()
	calc := NewCalculator(g, store, DefaultOptions(), func(r ais.Report) string { return r.Source })
	id := cellOf(t, g, 2, 2)

	require.NoError(t, calc.Process(ctx, report("rx", 9, ais.ClassA, 2, 2, time.Minute)))
	// Older report: received, but no gap is computed and state stays put.
	require.NoError(t, calc.Process(ctx, report("rx", 9, ais.ClassA, 2, 2, 0)))
	// Beyond max gap: the ship left coverage, nothing is missing.
	require.NoError(t, calc.Process(ctx, report("rx", 9, ais.ClassA, 2, 2, time.Hour)))

	cells, err := store.Cells(ctx, "rx")
	require.NoError(t, err)
	assert.Equal(t, CellStats{Received: 3}, cells[id])
}

func TestCalculator_DropsReportsOutsideGrid(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	calc := NewCalculator(testGrid(t), store, DefaultOptions(), func(r ais.Report) string { return r.Source })

	require.NoError(t, calc.Process(ctx, report("rx", 1, ais.ClassA, 40, 40, 0)))
	assert.Equal(t, int64(1), calc.Stats().Dropped)
	assert.Equal(t, int64(0), calc.Stats().Processed)

	_, err := store.Cells(ctx, "rx")
	assert.True(t, errors.Is(err, ErrUnknownSource))
}

func TestCalculator_Prune(t *testing.T) {
	ctx := context.Background()
	calc := NewCalculator(testGrid(t), NewMemoryStore(), DefaultOptions(), func(r ais.Report) string { return r.Source })

	require.NoError(t, calc.Process(ctx, report("rx", 1, ais.ClassA, 1, 1, 0)))
	require.NoError(t, calc.Process(ctx, report("rx", 2, ais.ClassA, 1, 1, 5*time.Minute)))

	assert.Equal(t, 1, calc.Prune(t0.Add(11*time.Minute)))
	assert.Equal(t, 1, calc.Stats().Ships)
}

type failingStore struct{ *MemoryStore }

func (failingStore) Add(context.Context, string, int, int64, int64) error {
	return errors.New("disk full")
}

func TestCalculator_StoreError(t *testing.T) {
	calc := NewCalculator(testGrid(t), failingStore{NewMemoryStore()}, DefaultOptions(), func(r ais.Report) string { return r.Source })
	err := calc.Process(context.Background(), report("rx", 1, ais.ClassA, 1, 1, 0))
	assert.EqualError(t, err, "disk full")
}
