// Package monitor serves debugging visualisations of the store floor:
// an ECharts scatter of anchors and the recent tag track, and PNG track
// plots for offline inspection. These endpoints carry no auth and are
// meant for operators on the local network.
package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/halcyon-data/inventory.report/internal/db"
	"github.com/halcyon-data/inventory.report/internal/httputil"
	"github.com/halcyon-data/inventory.report/internal/pipeline"
	"github.com/halcyon-data/inventory.report/internal/presence"
)

// Monitor renders the floor visualisations.
type Monitor struct {
	anchors pipeline.AnchorDirectory
	tracker *presence.Tracker
	db      *db.DB // nil in dev mode; track endpoints degrade
	plotDir string
	lastFix func() *pipeline.PositionEstimate
}

// New creates a monitor. lastFix supplies the current position (the
// pipeline's LastFix method); db may be nil.
func New(anchors pipeline.AnchorDirectory, tracker *presence.Tracker, database *db.DB, plotDir string, lastFix func() *pipeline.PositionEstimate) *Monitor {
	return &Monitor{
		anchors: anchors,
		tracker: tracker,
		db:      database,
		plotDir: plotDir,
		lastFix: lastFix,
	}
}

// AttachRoutes registers the monitor endpoints on mux.
func (m *Monitor) AttachRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/monitor/floor", m.handleFloorMap)
	mux.HandleFunc("/monitor/export", m.handleExportPlots)
}

// handleFloorMap renders a scatter of the store floor: anchor positions,
// the recent tag track and the latest fix.
// Query params:
//   - trail (optional; default 200) number of recent positions to draw
func (m *Monitor) handleFloorMap(w http.ResponseWriter, r *http.Request) {
	anchors, err := m.anchors.ActiveAnchors()
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load anchors: %v", err))
		return
	}

	trail := 200
	if t := r.URL.Query().Get("trail"); t != "" {
		if v, err := strconv.Atoi(t); err == nil && v > 0 && v <= 5000 {
			trail = v
		}
	}

	anchorData := make([]opts.ScatterData, 0, len(anchors))
	maxX, maxY := 100.0, 100.0
	for _, a := range anchors {
		anchorData = append(anchorData, opts.ScatterData{Name: a.ID, Value: []interface{}{a.X, a.Y}})
		if a.X > maxX {
			maxX = a.X
		}
		if a.Y > maxY {
			maxY = a.Y
		}
	}

	var trailData []opts.ScatterData
	if m.db != nil {
		positions, err := m.db.RecentPositions(r.Context(), trail)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load positions: %v", err))
			return
		}
		trailData = make([]opts.ScatterData, 0, len(positions))
		for _, p := range positions {
			trailData = append(trailData, opts.ScatterData{Value: []interface{}{p.X, p.Y, p.Confidence}})
		}
	}

	stats := m.tracker.Stats()

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Store Floor", Theme: "dark", Width: "900px", Height: "760px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Store Floor",
			Subtitle: fmt.Sprintf("anchors=%d trail=%d present=%d missing=%d", len(anchors), len(trailData), stats.Present, stats.Missing),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -50, Max: maxX * 1.05, Name: "X (cm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -50, Max: maxY * 1.05, Name: "Y (cm)", NameLocation: "middle", NameGap: 30}),
	)

	scatter.AddSeries("anchors", anchorData, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 14, Symbol: "diamond"}))
	if len(trailData) > 0 {
		scatter.AddSeries("track", trailData, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	}
	if fix := m.lastFix(); fix != nil {
		scatter.AddSeries("current", []opts.ScatterData{
			{Name: fix.SubjectID, Value: []interface{}{fix.X, fix.Y}},
		}, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 18}))
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleExportPlots writes PNG track plots for the recent position
// history into the configured plot directory.
func (m *Monitor) handleExportPlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if m.db == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "plot export requires persistence")
		return
	}

	limit := 1000
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 50000 {
			limit = v
		}
	}

	positions, err := m.db.RecentPositions(r.Context(), limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load positions: %v", err))
		return
	}
	if len(positions) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no positions recorded yet")
		return
	}

	files, err := WriteTrackPlots(m.plotDir, positions)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to write plots: %v", err))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"files": files})
}
