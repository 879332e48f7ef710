package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/coverage.report/internal/ais"
	"github.com/banshee-data/coverage.report/internal/coverage"
	"github.com/banshee-data/coverage.report/internal/geogrid"
	"github.com/banshee-data/coverage.report/internal/monitoring"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *coverage.Handler) {
	t.Helper()
	monitoring.SetLogger(nil)
	g, err := geogrid.New(-10, -10, 10, 10, 50000)
	require.NoError(t, err)
	h := coverage.NewHandler(g, coverage.NewMemoryStore(), coverage.DefaultOptions(), map[string]string{"rx1": "North pier"})

	ctx := context.Background()
	for _, r := range []ais.Report{
		{Source: "rx1", MMSI: 1, Class: ais.ClassA, Lon: 0.1, Lat: 0.1, Timestamp: t0},
		{Source: "rx1", MMSI: 1, Class: ais.ClassA, Lon: 0.1, Lat: 0.1, Timestamp: t0.Add(30 * time.Second)},
		{Source: "rx2", MMSI: 2, Class: ais.ClassB, Lon: 5, Lat: 5, Timestamp: t0},
	} {
		require.NoError(t, h.Receive(ctx, r))
	}
	return NewServer(h), h
}

func get(t *testing.T, mux http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestShowGrid(t *testing.T) {
	s, h := newTestServer(t)
	mux := s.ServeMux()

	rec := get(t, mux, "/grid")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[GridResponse](t, rec)
	assert.Equal(t, h.Grid().TotalCells(), resp.TotalCells)
	assert.Equal(t, h.Grid().Strips(), resp.Strips)
	assert.Equal(t, 50000.0, resp.CellHeightM)

	rec = get(t, mux, "/grid?strips=false")
	assert.Empty(t, decode[GridResponse](t, rec).Strips)
}

func TestLookupCell(t *testing.T) {
	s, h := newTestServer(t)
	mux := s.ServeMux()

	rec := get(t, mux, "/cell?lon=0.1&lat=0.1")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[CellResponse](t, rec)
	id, ok := h.Grid().CellID(0.1, 0.1)
	require.True(t, ok)
	assert.Equal(t, id, resp.ID)
	assert.LessOrEqual(t, resp.Bounds.South, 0.1)
	assert.GreaterOrEqual(t, resp.Bounds.North, 0.1)
	assert.Positive(t, resp.Columns)

	assert.Equal(t, http.StatusNotFound, get(t, mux, "/cell?lon=50&lat=0").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/cell?lon=x&lat=0").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/cell?lon=1").Code)
}

func TestShowCell(t *testing.T) {
	s, h := newTestServer(t)
	mux := s.ServeMux()

	rec := get(t, mux, "/cell/0")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[CellResponse](t, rec)
	assert.Equal(t, geogrid.Position{Lat: -10, Lon: -10}, resp.Position)

	last := h.Grid().TotalCells() - 1
	rec = get(t, mux, "/cell/"+strconv.Itoa(last))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, geogrid.Position{Lat: 10, Lon: -10}, decode[CellResponse](t, rec).Position)

	assert.Equal(t, http.StatusNotFound, get(t, mux, "/cell/"+strconv.Itoa(last+1)).Code)
	assert.Equal(t, http.StatusNotFound, get(t, mux, "/cell/-1").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/cell/abc").Code)
}

func TestShowCoverage(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.ServeMux()

	rec := get(t, mux, "/coverage")
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode[coverage.Map](t, rec)
	assert.Len(t, m.Cells, 2)

	// corners given north-east first are normalized
	rec = get(t, mux, "/coverage?lat_start=1&lon_start=1&lat_end=-1&lon_end=-1")
	require.Equal(t, http.StatusOK, rec.Code)
	m = decode[coverage.Map](t, rec)
	require.Len(t, m.Cells, 1)
	for _, c := range m.Cells {
		assert.Equal(t, "rx1", c.Source)
		assert.Equal(t, int64(2), c.Received)
		assert.Equal(t, int64(2), c.Missing)
	}

	rec = get(t, mux, "/coverage?sources=rx2")
	m = decode[coverage.Map](t, rec)
	require.Len(t, m.Cells, 1)

	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/coverage?lat_start=north").Code)

	// both receivers fall into the single merged cell; rx2 has the better coverage
	rec = get(t, mux, "/coverage?factor=64")
	require.Equal(t, http.StatusOK, rec.Code)
	m = decode[coverage.Map](t, rec)
	assert.Equal(t, 3.2e6, m.CellHeightM)
	require.Len(t, m.Cells, 1)
	for _, c := range m.Cells {
		assert.Equal(t, "rx2", c.Source)
	}

	for _, bad := range []string{"x", "-2", "65"} {
		assert.Equal(t, http.StatusBadRequest, get(t, mux, "/coverage?factor="+bad).Code, bad)
	}
}

func TestListSourcesAndSummary(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.ServeMux()

	rec := get(t, mux, "/sources")
	require.Equal(t, http.StatusOK, rec.Code)
	sources := decode[[]coverage.SourceInfo](t, rec)
	require.Len(t, sources, 3)
	assert.Equal(t, coverage.SourceInfo{ID: "rx1", Name: "North pier", Cells: 1}, sources[0])

	rec = get(t, mux, "/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Source  string           `json:"source"`
		Name    string           `json:"name"`
		Summary coverage.Summary `json:"summary"`
	}](t, rec)
	assert.Equal(t, coverage.SuperSource, body.Source)
	assert.Equal(t, "All sources", body.Name)
	assert.Equal(t, 2, body.Summary.Cells)

	assert.Equal(t, http.StatusNotFound, get(t, mux, "/summary?source=nobody").Code)
}

func TestShowStats(t *testing.T) {
	s, _ := newTestServer(t)
	s.AddStats("sink", func() any { return map[string]int{"lines": 7} })
	rec := get(t, s.ServeMux(), "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]json.RawMessage](t, rec)
	assert.JSONEq(t, `{"lines":7}`, string(body["sink"]))
	assert.Contains(t, string(body["coverage"]), `"processed":3`)
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/grid", nil)
	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCoverageChart(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.ServeMux()

	rec := get(t, mux, "/debug/coverage-chart?source=rx1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Coverage of North pier")

	assert.Equal(t, http.StatusNotFound, get(t, mux, "/debug/coverage-chart?source=nobody").Code)
}

func TestLoggingMiddleware(t *testing.T) {
	s, _ := newTestServer(t)

	var buf bytes.Buffer
	monitoring.SetLogger(func(format string, v ...interface{}) { fmt.Fprintf(&buf, format, v...) })
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	rec := get(t, LoggingMiddleware(s.ServeMux()), "/cell/abc")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, buf.String(), "/cell/abc")
	assert.Contains(t, buf.String(), "400")
}
