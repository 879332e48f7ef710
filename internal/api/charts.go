package api

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/coverage.report/internal/coverage"
	"github.com/banshee-data/coverage.report/internal/httputil"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// coverageChart renders the recorded cells of one source as a scatter of
// cell centres coloured by coverage. Debugging only.
// Query params:
//   - source (optional; defaults to the supersource)
//   - max_points (optional; default 20000) to reduce payload size
func (s *Server) coverageChart(w http.ResponseWriter, r *http.Request) {
	source := sourceParam(r)
	cells, err := s.handler.Cells(r.Context(), source)
	if errors.Is(err, coverage.ErrUnknownSource) {
		httputil.NotFound(w, "unknown source")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load cells: %v", err))
		return
	}

	maxPoints := 20000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 200000 {
			maxPoints = v
		}
	}

	ids := make([]int, 0, len(cells))
	for id := range cells {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	// Downsample by stride to stay within maxPoints
	stride := 1
	if len(ids) > maxPoints {
		stride = int(math.Ceil(float64(len(ids)) / float64(maxPoints)))
	}

	data := make([]opts.ScatterData, 0, len(ids)/stride+1)
	for i := 0; i < len(ids); i += stride {
		cb, ok := s.grid.CellBounds(ids[i])
		if !ok {
			continue
		}
		lon := (cb.West + cb.East) / 2
		lat := (cb.South + cb.North) / 2
		data = append(data, opts.ScatterData{Value: []interface{}{lon, lat, cells[ids[i]].Coverage()}})
	}

	b := s.grid.Bounds()
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "AIS Coverage", Theme: "dark", Width: "1200px", Height: "800px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Coverage of " + s.handler.SourceName(source), Subtitle: fmt.Sprintf("cells=%d stride=%d", len(data), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: b.LonMin, Max: b.LonMax, Name: "Longitude", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: b.LatMin, Max: b.LatMax, Name: "Latitude", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        1,
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#d73027", "#fc8d59", "#fee08b", "#d9ef8b", "#91cf60", "#1a9850"}},
		}),
	)
	scatter.AddSeries(source, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
