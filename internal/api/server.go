// Package api serves the HTTP surface: packet ingest for bridged
// readers, JSON queries over the tracked inventory, and a live SSE feed
// of position and presence updates.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/halcyon-data/inventory.report/internal/broadcast"
	"github.com/halcyon-data/inventory.report/internal/db"
	"github.com/halcyon-data/inventory.report/internal/httputil"
	"github.com/halcyon-data/inventory.report/internal/monitoring"
	"github.com/halcyon-data/inventory.report/internal/pipeline"
	"github.com/halcyon-data/inventory.report/internal/presence"
	"github.com/halcyon-data/inventory.report/internal/units"
	"github.com/halcyon-data/inventory.report/internal/version"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Processor consumes decoded scan packets, satisfied by the pipeline.
type Processor interface {
	Process(ctx context.Context, pkt pipeline.ScanPacket) pipeline.Result
	LastFix() *pipeline.PositionEstimate
	DroppedCounts() (unknownAnchors, unknownItems uint64)
}

type Server struct {
	processor   Processor
	tracker     *presence.Tracker
	broadcaster *broadcast.Broadcaster
	anchors     pipeline.AnchorDirectory
	db          *db.DB // nil in dev mode
	units       string
}

// NewServer wires the HTTP surface over the running core. db may be nil
// when persistence is disabled; history endpoints then report 404.
func NewServer(processor Processor, tracker *presence.Tracker, broadcaster *broadcast.Broadcaster, anchors pipeline.AnchorDirectory, database *db.DB, distanceUnits string) *Server {
	if !units.IsValid(distanceUnits) {
		distanceUnits = units.CM
	}
	return &Server{
		processor:   processor,
		tracker:     tracker,
		broadcaster: broadcaster,
		anchors:     anchors,
		db:          database,
		units:       distanceUnits,
	}
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
	mux.HandleFunc("/api/data", s.ingestPacket)
	mux.HandleFunc("/api/live", s.liveStream)
	mux.HandleFunc("/api/items", s.listItems)
	mux.HandleFunc("/api/anchors", s.listAnchors)
	mux.HandleFunc("/api/positions", s.listPositions)
	mux.HandleFunc("/api/transitions", s.listTransitions)
	mux.HandleFunc("/api/stats", s.showStats)
	return mux
}

// ingestPacket accepts one scan packet over HTTP, the transport used by
// readers bridged through the gateway rather than serial or MQTT.
func (s *Server) ingestPacket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	pkt, err := pipeline.DecodeScanPacket(payload)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid scan packet: %v", err))
		return
	}

	result := s.processor.Process(r.Context(), pkt)

	response := map[string]interface{}{
		"packet_id":       pkt.ID,
		"reliable":        result.Reliable,
		"newly_missing":   len(result.NewlyMissing),
		"restored":        len(result.Restored),
		"dropped_ranges":  result.DroppedRanges,
		"dropped_detects": result.DroppedDetects,
	}
	if result.Position != nil {
		response["position"] = result.Position
	}
	httputil.WriteJSON(w, http.StatusOK, response)
}

// liveStream serves the broadcaster feed as Server-Sent Events.
func (s *Server) liveStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	// Initial ping establishes the stream before the first event.
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	// The send capability only hands events to this handler; every
	// ResponseWriter access stays on the handler goroutine, which owns
	// the connection until the client goes away.
	ctx := r.Context()
	events := make(chan broadcast.Event, 16)
	id := s.broadcaster.Subscribe(func(ev broadcast.Event) error {
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	defer s.broadcaster.Unsubscribe(id)

	for {
		select {
		case ev := <-events:
			payload, err := json.Marshal(ev)
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

type itemResponse struct {
	ItemID            string     `json:"item_id"`
	Name              string     `json:"name,omitempty"`
	Status            string     `json:"status"`
	ConsecutiveMisses int        `json:"consecutive_misses"`
	FirstMissAt       *time.Time `json:"first_miss_at,omitempty"`
	LastDetectedAt    *time.Time `json:"last_detected_at,omitempty"`
	LastRSSI          float64    `json:"last_rssi"`
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	names := map[string]string{}
	if s.db != nil {
		items, err := s.db.Items(r.Context())
		if err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve items: %v", err))
			return
		}
		for _, item := range items {
			names[item.ItemID] = item.Name
		}
	}

	states := s.tracker.States()
	response := make([]itemResponse, 0, len(states))
	for _, state := range states {
		response = append(response, itemResponse{
			ItemID:            state.ItemID,
			Name:              names[state.ItemID],
			Status:            string(state.Status),
			ConsecutiveMisses: state.ConsecutiveMisses,
			FirstMissAt:       state.FirstMissAt,
			LastDetectedAt:    state.LastDetectedAt,
			LastRSSI:          state.LastRSSI,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, response)
}

func (s *Server) listAnchors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	anchors, err := s.anchors.ActiveAnchors()
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve anchors: %v", err))
		return
	}
	if anchors == nil {
		anchors = []pipeline.Anchor{}
	}
	httputil.WriteJSON(w, http.StatusOK, anchors)
}

func (s *Server) listPositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "Position history requires persistence")
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.WriteJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	positions, err := s.db.RecentPositions(r.Context(), limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve positions: %v", err))
		return
	}

	// Positions are stored in cm; convert on the way out if asked.
	if s.units != units.CM {
		for i := range positions {
			positions[i].X = units.ConvertDistance(positions[i].X, s.units)
			positions[i].Y = units.ConvertDistance(positions[i].Y, s.units)
		}
	}
	if positions == nil {
		positions = []pipeline.PositionEstimate{}
	}
	httputil.WriteJSON(w, http.StatusOK, positions)
}

func (s *Server) listTransitions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "Transition history requires persistence")
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.WriteJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	transitions, err := s.db.RecentTransitions(r.Context(), limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve transitions: %v", err))
		return
	}
	if transitions == nil {
		transitions = []pipeline.Transition{}
	}
	httputil.WriteJSON(w, http.StatusOK, transitions)
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	trackerStats := s.tracker.Stats()
	broadcastStats := s.broadcaster.Stats()
	unknownAnchors, unknownItems := s.processor.DroppedCounts()

	stats := map[string]interface{}{
		"items": map[string]int{
			"present": trackerStats.Present,
			"missing": trackerStats.Missing,
			"pending": trackerStats.Pending,
		},
		"broadcast": map[string]interface{}{
			"subscribers": s.broadcaster.SubscriberCount(),
			"published":   broadcastStats.Published,
			"dropped":     broadcastStats.Dropped,
			"removed":     broadcastStats.Removed,
		},
		"dropped": map[string]uint64{
			"unknown_anchors": unknownAnchors,
			"unknown_items":   unknownItems,
		},
		"units":   s.units,
		"version": version.String(),
	}
	if fix := s.processor.LastFix(); fix != nil {
		stats["last_fix"] = fix
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}
