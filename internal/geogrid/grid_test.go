package geogrid

import (
	"errors"
	"math"
	"slices"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func equatorialGrid(t *testing.T) *Grid {
	t.Helper()
	g, err := New(-10, -10, 10, 10, 50000)
	require.NoError(t, err)
	return g
}

func globalGrid(t *testing.T) *Grid {
	t.Helper()
	g, err := New(-180, -90, 180, 90, 500000)
	require.NoError(t, err)
	return g
}

func TestApproximators(t *testing.T) {
	assert.InDelta(t, 1.0/(1842.98959689*60.0), LatDegreesPerMeter(0), 1e-15)
	assert.InDelta(t, 1.0/(1854.974604345*60.0), LonDegreesPerMeter(0), 1e-15)

	// Both polynomials are even in latitude.
	for _, lat := range []float64{1, 12.5, 45, 60, 89.8} {
		assert.Equal(t, LatDegreesPerMeter(lat), LatDegreesPerMeter(-lat), "lat %v", lat)
		assert.Equal(t, LonDegreesPerMeter(lat), LonDegreesPerMeter(-lat), "lat %v", lat)
	}

	// A degree of longitude shrinks toward the poles, so a meter covers more of it.
	assert.Greater(t, LonDegreesPerMeter(60), LonDegreesPerMeter(0))

	assert.InDelta(t, 2*math.Pi*EarthRadiusMeters, Circumference(0), 1e-6)
	assert.InDelta(t, math.Pi*EarthRadiusMeters, Circumference(60), 1e-6)
	assert.InDelta(t, 0, Circumference(90), 1e-6)
}

func TestColumns(t *testing.T) {
	tests := []struct {
		name    string
		lat     float64
		span    float64
		height  float64
		want    int
		wantCap bool
	}{
		{name: "partial span rounds up", lat: 0, span: 20, height: 50000, want: 45},
		{name: "full wraparound adds a column", lat: 0, span: 360, height: 50000, want: 801},
		{name: "band narrower than a cell", lat: 89.7, span: 10, height: 50000, want: 1},
		{name: "full wraparound near the pole", lat: 89.79, span: 360, height: 500000, want: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			n, w := columns(tc.lat, tc.span, tc.height)
			assert.Equal(t, tc.want, n)
			assert.Greater(t, w, 0.0)
		})
	}
}

func TestNew_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name                           string
		lonMin, latMin, lonMax, latMax float64
		height                         float64
	}{
		{"zero cell height", -10, -10, 10, 10, 0},
		{"negative cell height", -10, -10, 10, 10, -5},
		{"latmin equals latmax", -10, 5, 10, 5, 1000},
		{"latmin above latmax", -10, 6, 10, 5, 1000},
		{"lonmin equals lonmax", 3, -10, 3, 10, 1000},
		{"lonmin above lonmax", 4, -10, 3, 10, 1000},
		{"latitude beyond pole", -10, -91, 10, 10, 1000},
		{"longitude span beyond 360", -190, -10, 180, 10, 1000},
		{"NaN bound", math.NaN(), -10, 10, 10, 1000},
		{"infinite cell height", -10, -10, 10, 10, math.Inf(1)},
		{"cell height below float resolution", -10, -10, 10, 10, 1e-300},
		{"too many strips", -180, -90, 180, 90, 1},
		{"too many cells", -180, -80, 180, 80, 20},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g, err := New(tc.lonMin, tc.latMin, tc.lonMax, tc.latMax, tc.height)
			require.Error(t, err)
			assert.Nil(t, g)
			assert.True(t, errors.Is(err, ErrInvalidGrid), "want ErrInvalidGrid, got %v", err)
		})
	}
}

func TestGrid_Invariants(t *testing.T) {
	for name, g := range map[string]*Grid{
		"equatorial": equatorialGrid(t),
		"global":     globalGrid(t),
	} {
		t.Run(name, func(t *testing.T) {
			strips := g.Strips()
			require.NotEmpty(t, strips)

			sum := 0
			for i, s := range strips {
				assert.GreaterOrEqual(t, s.Columns, 1, "strip %d", i)
				sum += s.Columns
				if i > 0 {
					assert.GreaterOrEqual(t, s.LatMin, strips[i-1].LatMin, "strip %d out of order", i)
				}
			}
			assert.Equal(t, g.TotalCells(), sum)

			b := g.Bounds()
			assert.Equal(t, countStrips(layout(b.LatMin, b.LatMax, g.CellHeightMeters())), g.NumStrips())

			id, ok := g.CellID(b.LonMin, b.LatMin)
			assert.True(t, ok)
			assert.Equal(t, 0, id)

			_, ok = g.CellID(b.LonMin, b.LatMax+1)
			assert.False(t, ok)
		})
	}
}

func TestGrid_Equatorial(t *testing.T) {
	g := equatorialGrid(t)

	assert.GreaterOrEqual(t, g.NumStrips(), 40)
	assert.LessOrEqual(t, g.NumStrips(), 50)
	assert.Greater(t, g.TotalCells(), g.NumStrips())

	for _, s := range g.Strips() {
		assert.False(t, s.IsPoleCap())
		assert.Contains(t, []int{44, 45}, s.Columns)
	}

	cols, ok := g.ColumnsAt(0)
	require.True(t, ok)
	assert.Equal(t, 45, cols)

	// The last regular strip reaches the northern bound.
	strips := g.Strips()
	assert.GreaterOrEqual(t, strips[len(strips)-1].LatMax(), 10.0)
}

func TestGrid_GlobalPoleCaps(t *testing.T) {
	g := globalGrid(t)
	strips := g.Strips()

	south, north := strips[0], strips[len(strips)-1]
	assert.True(t, south.IsPoleCap())
	assert.Equal(t, 1, south.Columns)
	assert.Equal(t, -90.0, south.LatMin)
	assert.InDelta(t, 0.2, south.Height, 1e-9)

	assert.True(t, north.IsPoleCap())
	assert.Equal(t, 1, north.Columns)
	assert.Equal(t, PoleLatitude, north.LatMin)
	assert.InDelta(t, 0.2, north.Height, 1e-9)

	caps := 0
	for _, s := range strips {
		if s.IsPoleCap() {
			caps++
		}
	}
	assert.Equal(t, 2, caps)

	id, ok := g.CellID(12, -89.9)
	require.True(t, ok)
	assert.Equal(t, 0, id)

	id, ok = g.CellID(-170, 89.95)
	require.True(t, ok)
	assert.Equal(t, g.TotalCells()-1, id)

	// Full wraparound strips carry floor(d/h)+1 columns.
	cols, ok := g.ColumnsAt(0.1)
	require.True(t, ok)
	_, s, _ := g.StripAt(0.1)
	want := int(math.Floor(Circumference(s.LatMin)/500000)) + 1
	assert.Equal(t, want, cols)
}

func TestCellID_EdgesStayInRow(t *testing.T) {
	g := equatorialGrid(t)

	for _, lat := range []float64{-9.5, -0.2, 3.3, 9.99} {
		west, ok := g.CellID(-10, lat)
		require.True(t, ok)
		east, ok := g.CellID(10, lat)
		require.True(t, ok)
		cols, _ := g.ColumnsAt(lat)
		assert.Equal(t, cols-1, east-west, "lat %v", lat)
	}

	id, ok := g.CellID(10, 10)
	require.True(t, ok)
	assert.Equal(t, g.TotalCells()-1, id)
}

func TestCellID_NotFound(t *testing.T) {
	g := equatorialGrid(t)
	inputs := [][2]float64{
		{-10.0001, 0},
		{10.0001, 0},
		{0, -10.5},
		{0, 11},
		{math.NaN(), 0},
		{0, math.NaN()},
		{math.Inf(1), 0},
		{0, math.Inf(-1)},
		{math.MaxFloat64, -math.MaxFloat64},
	}
	for _, in := range inputs {
		_, ok := g.CellID(in[0], in[1])
		assert.False(t, ok, "lon=%v lat=%v", in[0], in[1])
	}
}

func TestCellPosition(t *testing.T) {
	g := equatorialGrid(t)

	p, ok := g.CellPosition(0)
	require.True(t, ok)
	assert.Equal(t, Position{Lat: -10, Lon: -10}, p)

	p, ok = g.CellPosition(g.TotalCells() - 1)
	require.True(t, ok)
	assert.Equal(t, Position{Lat: 10, Lon: -10}, p)

	for _, id := range []int{-1, g.TotalCells(), g.TotalCells() + 100, math.MinInt, math.MaxInt} {
		_, ok := g.CellPosition(id)
		assert.False(t, ok, "id %d", id)
	}

	// The first cell of every strip sits on its southern edge at lonmin.
	strips := g.Strips()
	offset := 0
	for i, s := range strips {
		if i > 0 && i < len(strips)-1 {
			p, ok := g.CellPosition(offset)
			require.True(t, ok)
			assert.Equal(t, Position{Lat: s.LatMin, Lon: -10}, p, "strip %d", i)
		}
		offset += s.Columns
	}
}

func TestRoundTrip_InteriorPoints(t *testing.T) {
	g := equatorialGrid(t)

	for lat := -9.9; lat < 9.9; lat += 0.37 {
		for lon := -9.9; lon < 9.9; lon += 0.53 {
			id, ok := g.CellID(lon, lat)
			require.True(t, ok)
			p, ok := g.CellPosition(id)
			require.True(t, ok)

			if id == 0 || id == g.TotalCells()-1 {
				continue
			}
			_, s, _ := g.StripAt(lat)
			assert.InDelta(t, lat, p.Lat, s.Height, "lat for (%v,%v)", lon, lat)
			assert.InDelta(t, lon, p.Lon, s.ColumnWidth*1.1, "lon for (%v,%v)", lon, lat)

			cb, ok := g.CellBounds(id)
			require.True(t, ok)
			assert.LessOrEqual(t, cb.South, lat)
			assert.GreaterOrEqual(t, cb.North, lat)
		}
	}
}

func TestCellBounds_PoleCapsSpanAllLongitudes(t *testing.T) {
	g := globalGrid(t)

	cb, ok := g.CellBounds(0)
	require.True(t, ok)
	assert.Equal(t, -90.0, cb.South)
	assert.InDelta(t, -PoleLatitude, cb.North, 1e-9)
	assert.Equal(t, -180.0, cb.West)
	assert.Equal(t, 180.0, cb.East)

	cb, ok = g.CellBounds(g.TotalCells() - 1)
	require.True(t, ok)
	assert.Equal(t, CellBounds{South: PoleLatitude, North: 90, West: -180, East: 180}, cb)

	_, ok = g.CellBounds(g.TotalCells())
	assert.False(t, ok)
}

func TestLayout_Restartable(t *testing.T) {
	steps := layout(-90, 90, 250000)
	first := slices.Collect(steps)
	second := slices.Collect(steps)

	if diff := cmp.Diff(first, second, cmp.AllowUnexported(stripStep{})); diff != "" {
		t.Errorf("layout walk not restartable (-first +second):\n%s", diff)
	}
	assert.Equal(t, len(first), countStrips(steps))
	assert.Equal(t, southCap, first[0].kind)
	assert.Equal(t, northCap, first[len(first)-1].kind)
}

func TestLayout_EarlyStop(t *testing.T) {
	n := 0
	for range layout(-90, 90, 100000) {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestGrid_OnlyNorthCap(t *testing.T) {
	g, err := New(-180, 89.85, 180, 90, 10000)
	require.NoError(t, err)
	require.Equal(t, 1, g.NumStrips())
	assert.Equal(t, 1, g.TotalCells())

	id, ok := g.CellID(0, 89.9)
	require.True(t, ok)
	assert.Equal(t, 0, id)
}

func TestStrips_ReturnsCopy(t *testing.T) {
	g := equatorialGrid(t)
	s := g.Strips()
	s[0].Columns = 9999
	assert.NotEqual(t, 9999, g.Strips()[0].Columns)
}

func TestGrid_ConcurrentLookups(t *testing.T) {
	g := globalGrid(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				lon := -180 + float64((i*37+w)%360)
				lat := -90 + float64((i*13+w)%180)
				id, ok := g.CellID(lon, lat)
				if !ok {
					t.Errorf("CellID(%v, %v) not found", lon, lat)
					return
				}
				if _, ok := g.CellPosition(id); !ok {
					t.Errorf("CellPosition(%d) out of range", id)
					return
				}
			}
		}(w)
	}
	wg.Wait()
}

func TestNew_SmallestCellsStayConsistent(t *testing.T) {
	// fine cells over a narrow band
	g, err := New(0, 0, 0.01, 0.5, 50)
	require.NoError(t, err)

	strips := g.Strips()
	last := strips[len(strips)-1]
	assert.GreaterOrEqual(t, last.LatMax(), 0.5)
	total := 0
	for _, s := range strips {
		require.GreaterOrEqual(t, s.Columns, 1)
		total += s.Columns
	}
	assert.Equal(t, g.TotalCells(), total)

	id, ok := g.CellID(0.01, 0.5)
	require.True(t, ok)
	assert.Less(t, id, g.TotalCells())
}

func TestFingerprint(t *testing.T) {
	a := equatorialGrid(t)
	same, err := New(-10, -10, 10, 10, 50000)
	require.NoError(t, err)
	finer, err := New(-10, -10, 10, 10, 25000)
	require.NoError(t, err)
	shifted, err := New(-10, -10, 11, 10, 50000)
	require.NoError(t, err)

	assert.Len(t, a.Fingerprint(), 16)
	assert.Equal(t, a.Fingerprint(), same.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), finer.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), shifted.Fingerprint())
}
