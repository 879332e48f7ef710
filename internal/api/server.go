// Package api serves the grid lookups and the coverage maps over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/coverage.report/internal/coverage"
	"github.com/banshee-data/coverage.report/internal/geogrid"
	"github.com/banshee-data/coverage.report/internal/httputil"
	"github.com/banshee-data/coverage.report/internal/monitoring"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// StatsFunc reports ingestion counters for the /stats endpoint.
type StatsFunc func() any

type Server struct {
	handler *coverage.Handler
	grid    *geogrid.Grid
	stats   map[string]StatsFunc
}

// NewServer serves h. Extra named counters can be exposed with AddStats.
func NewServer(h *coverage.Handler) *Server {
	return &Server{handler: h, grid: h.Grid(), stats: make(map[string]StatsFunc)}
}

// AddStats registers fn under name in the /stats response. It must be called
// before ServeMux.
func (s *Server) AddStats(name string, fn StatsFunc) {
	s.stats[name] = fn
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /grid", s.showGrid)
	mux.HandleFunc("GET /cell", s.lookupCell)
	mux.HandleFunc("GET /cell/{id}", s.showCell)
	mux.HandleFunc("GET /coverage", s.showCoverage)
	mux.HandleFunc("GET /sources", s.listSources)
	mux.HandleFunc("GET /summary", s.showSummary)
	mux.HandleFunc("GET /stats", s.showStats)
	mux.HandleFunc("GET /debug/coverage-chart", s.coverageChart)
	return mux
}

// GridResponse describes the strip layout of the served grid.
type GridResponse struct {
	Bounds      geogrid.Bounds  `json:"bounds"`
	CellHeightM float64         `json:"cell_height_m"`
	TotalCells  int             `json:"total_cells"`
	Strips      []geogrid.Strip `json:"strips,omitempty"`
}

func (s *Server) showGrid(w http.ResponseWriter, r *http.Request) {
	resp := GridResponse{
		Bounds:      s.grid.Bounds(),
		CellHeightM: s.grid.CellHeightMeters(),
		TotalCells:  s.grid.TotalCells(),
	}
	if r.URL.Query().Get("strips") != "false" {
		resp.Strips = s.grid.Strips()
	}
	httputil.WriteJSONOK(w, resp)
}

// CellResponse is a single cell with its approximate position and box.
type CellResponse struct {
	ID       int                `json:"id"`
	Position geogrid.Position   `json:"position"`
	Bounds   geogrid.CellBounds `json:"bounds"`
	Columns  int                `json:"columns,omitempty"`
}

func (s *Server) cell(id int) (CellResponse, bool) {
	pos, ok := s.grid.CellPosition(id)
	if !ok {
		return CellResponse{}, false
	}
	cb, _ := s.grid.CellBounds(id)
	return CellResponse{ID: id, Position: pos, Bounds: cb}, true
}

func (s *Server) lookupCell(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lon, err := httputil.FloatParam(q, "lon")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	lat, err := httputil.FloatParam(q, "lat")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	id, ok := s.grid.CellID(lon, lat)
	if !ok {
		httputil.NotFound(w, "point outside grid")
		return
	}
	resp, _ := s.cell(id)
	resp.Columns, _ = s.grid.ColumnsAt(lat)
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showCell(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		httputil.BadRequest(w, "invalid cell id")
		return
	}
	resp, ok := s.cell(id)
	if !ok {
		httputil.NotFound(w, "cell id out of range")
		return
	}
	httputil.WriteJSONOK(w, resp)
}

// bboxParam reads lat_start/lon_start/lat_end/lon_end in either corner order.
// Missing parameters default to the grid bounds.
func (s *Server) bboxParam(r *http.Request) (geogrid.Bounds, error) {
	q := r.URL.Query()
	b := s.grid.Bounds()
	corner := [4]*float64{&b.LatMin, &b.LonMin, &b.LatMax, &b.LonMax}
	for i, name := range []string{"lat_start", "lon_start", "lat_end", "lon_end"} {
		if q.Get(name) == "" {
			continue
		}
		v, err := httputil.FloatParam(q, name)
		if err != nil {
			return b, err
		}
		*corner[i] = v
	}
	if b.LatMin > b.LatMax {
		b.LatMin, b.LatMax = b.LatMax, b.LatMin
	}
	if b.LonMin > b.LonMax {
		b.LonMin, b.LonMax = b.LonMax, b.LonMin
	}
	return b, nil
}

func (s *Server) showCoverage(w http.ResponseWriter, r *http.Request) {
	bbox, err := s.bboxParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	factor, err := httputil.IntParam(r.URL.Query(), "factor", 1)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	m, err := s.handler.Map(r.Context(), bbox, httputil.ListParam(r.URL.Query(), "sources"), factor)
	if errors.Is(err, coverage.ErrInvalidFactor) {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err != nil {
		monitoring.Logf("Error building coverage map: %v", err)
		httputil.InternalServerError(w, "failed to build coverage map")
		return
	}
	httputil.WriteJSONOK(w, m)
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.handler.Sources(r.Context())
	if err != nil {
		monitoring.Logf("Error listing sources: %v", err)
		httputil.InternalServerError(w, "failed to list sources")
		return
	}
	httputil.WriteJSONOK(w, sources)
}

func sourceParam(r *http.Request) string {
	if s := r.URL.Query().Get("source"); s != "" {
		return s
	}
	return coverage.SuperSource
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	source := sourceParam(r)
	summary, err := s.handler.Summary(r.Context(), source)
	if errors.Is(err, coverage.ErrUnknownSource) {
		httputil.NotFound(w, "unknown source")
		return
	}
	if err != nil {
		monitoring.Logf("Error summarizing %s: %v", source, err)
		httputil.InternalServerError(w, "failed to summarize coverage")
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"source":  source,
		"name":    s.handler.SourceName(source),
		"summary": summary,
	})
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"coverage": s.handler.Stats()}
	for name, fn := range s.stats {
		out[name] = fn()
	}
	httputil.WriteJSONOK(w, out)
}
