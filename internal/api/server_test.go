package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-data/inventory.report/internal/broadcast"
	"github.com/halcyon-data/inventory.report/internal/db"
	"github.com/halcyon-data/inventory.report/internal/monitoring"
	"github.com/halcyon-data/inventory.report/internal/pipeline"
	"github.com/halcyon-data/inventory.report/internal/presence"
	"github.com/halcyon-data/inventory.report/internal/units"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

type fixture struct {
	server      *Server
	tracker     *presence.Tracker
	broadcaster *broadcast.Broadcaster
	db          *db.DB
}

func newFixture(t *testing.T, withDB bool) *fixture {
	t.Helper()

	var database *db.DB
	if withDB {
		var err error
		database, err = db.Open(filepath.Join(t.TempDir(), "api_test.db"))
		require.NoError(t, err)
		t.Cleanup(func() { database.Close() })
		require.NoError(t, database.MigrateUp())
	}

	tracker := presence.NewTracker(presence.TrackerConfig{
		MinDetectedThreshold: 1,
		MinConsecutiveMisses: 2,
		MaxMissingPerCycle:   1,
	})
	broadcaster := broadcast.New(broadcast.DefaultConfig())
	t.Cleanup(func() { broadcaster.Close() })

	anchors := pipeline.NewStaticDirectory([]pipeline.Anchor{
		{ID: "0x0001", X: 0, Y: 0, Active: true},
		{ID: "0x0002", X: 1000, Y: 0, Active: true},
		{ID: "0x0003", X: 1000, Y: 800, Active: true},
	})

	var store pipeline.Store
	if database != nil {
		store = database
	}
	pipe := pipeline.New(anchors, tracker, broadcaster, store)

	return &fixture{
		server:      NewServer(pipe, tracker, broadcaster, anchors, database, units.CM),
		tracker:     tracker,
		broadcaster: broadcaster,
		db:          database,
	}
}

func TestIngestPacket(t *testing.T) {
	f := newFixture(t, false)
	mux := f.server.ServeMux()

	body := `{
		"timestamp": "2026-03-01T10:00:00Z",
		"detections": [{"product_id": "RFID_001", "rssi": -44}],
		"uwb_measurements": [
			{"mac_address": "0x0001", "distance_cm": 500, "status": "SUCCESS"},
			{"mac_address": "0x0002", "distance_cm": 670.8, "status": "SUCCESS"},
			{"mac_address": "0x0003", "distance_cm": 781.0, "status": "SUCCESS"}
		]
	}`

	f.tracker.Register("RFID_001")

	req := httptest.NewRequest(http.MethodPost, "/api/data", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, true, response["reliable"])
	assert.NotEmpty(t, response["packet_id"])
	require.Contains(t, response, "position")
}

func TestIngestPacketRejectsBadInput(t *testing.T) {
	f := newFixture(t, false)
	mux := f.server.ServeMux()

	t.Run("wrong method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/data", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("malformed json", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/data", strings.NewReader("{")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing timestamp", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/data", strings.NewReader("{}")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListItems(t *testing.T) {
	f := newFixture(t, true)
	mux := f.server.ServeMux()

	require.NoError(t, f.db.UpsertItem(context.Background(), "RFID_001", "Blue Jacket"))
	f.tracker.Register("RFID_001")
	f.tracker.Register("RFID_002")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/items", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var items []itemResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2)
	assert.Equal(t, "Blue Jacket", items[0].Name)
	assert.Equal(t, string(presence.StatusPresent), items[0].Status)
	assert.Empty(t, items[1].Name)
}

func TestListAnchors(t *testing.T) {
	f := newFixture(t, false)
	mux := f.server.ServeMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/anchors", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var anchors []pipeline.Anchor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &anchors))
	assert.Len(t, anchors, 3)
}

func TestListPositions(t *testing.T) {
	f := newFixture(t, true)
	mux := f.server.ServeMux()

	est := pipeline.PositionEstimate{
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		SubjectID: "TAG_001",
		X:         400, Y: 300, Confidence: 0.9, AnchorsUsed: 3,
	}
	require.NoError(t, f.db.RecordPosition(context.Background(), est))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions?limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var positions []pipeline.PositionEstimate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &positions))
	require.Len(t, positions, 1)
	assert.Equal(t, 400.0, positions[0].X)

	t.Run("invalid limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions?limit=zero", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListPositionsUnitConversion(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.db.RecordPosition(context.Background(), pipeline.PositionEstimate{
		Timestamp: time.Now().UTC(), SubjectID: "TAG_001", X: 400, Y: 300,
	}))

	server := NewServer(f.server.processor, f.tracker, f.broadcaster, f.server.anchors, f.db, units.M)
	rec := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var positions []pipeline.PositionEstimate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &positions))
	require.Len(t, positions, 1)
	assert.InDelta(t, 4.0, positions[0].X, 1e-9)
	assert.InDelta(t, 3.0, positions[0].Y, 1e-9)
}

func TestHistoryEndpointsWithoutDB(t *testing.T) {
	f := newFixture(t, false)
	mux := f.server.ServeMux()

	for _, path := range []string{"/api/positions", "/api/transitions"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestShowStats(t *testing.T) {
	f := newFixture(t, false)
	mux := f.server.ServeMux()

	f.tracker.Register("RFID_001")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))

	items := stats["items"].(map[string]interface{})
	assert.Equal(t, 1.0, items["present"])
	assert.Equal(t, "cm", stats["units"])
	assert.Contains(t, stats, "broadcast")
	assert.Contains(t, stats, "version")
	assert.NotContains(t, stats, "last_fix")
}

func TestLiveStream(t *testing.T) {
	f := newFixture(t, false)
	server := httptest.NewServer(f.server.ServeMux())
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL+"/api/live", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	// Initial ping.
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping\n", line)

	// Wait for the subscription to land, then publish.
	deadline := time.Now().Add(2 * time.Second)
	for f.broadcaster.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.NotZero(t, f.broadcaster.SubscriberCount())

	f.broadcaster.Publish(broadcast.Event{
		Type:     broadcast.EventPosition,
		Position: &broadcast.PositionUpdate{SubjectID: "TAG_001", X: 1, Y: 2},
	})

	var eventLine, dataLine string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: ") {
			eventLine = strings.TrimSpace(line)
			continue
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			break
		}
	}

	assert.Equal(t, "event: position_update", eventLine)
	var event broadcast.Event
	require.NoError(t, json.Unmarshal([]byte(dataLine), &event))
	assert.Equal(t, broadcast.EventPosition, event.Type)
	require.NotNil(t, event.Position)
	assert.Equal(t, "TAG_001", event.Position.SubjectID)
}

// TestLiveStreamClientChurn hammers the live feed with clients that
// disconnect mid-publish. Writes to a connection whose handler has
// returned must never happen, and surviving clients keep receiving.
func TestLiveStreamClientChurn(t *testing.T) {
	f := newFixture(t, false)
	server := httptest.NewServer(f.server.ServeMux())
	defer server.Close()

	stop := make(chan struct{})
	var pubWG sync.WaitGroup
	pubWG.Add(1)
	go func() {
		defer pubWG.Done()
		for {
			select {
			case <-stop:
				return
			default:
				f.broadcaster.Publish(broadcast.Event{
					Type:     broadcast.EventPosition,
					Position: &broadcast.PositionUpdate{SubjectID: "TAG_001", X: 1, Y: 2},
				})
				time.Sleep(time.Millisecond)
			}
		}
	}()

	var churnWG sync.WaitGroup
	for i := 0; i < 8; i++ {
		churnWG.Add(1)
		go func() {
			defer churnWG.Done()
			for j := 0; j < 10; j++ {
				ctx, cancel := context.WithCancel(context.Background())
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/live", nil)
				if err != nil {
					cancel()
					continue
				}
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					cancel()
					continue
				}
				reader := bufio.NewReader(resp.Body)
				reader.ReadString('\n') // ping, then drop mid-stream
				cancel()
				resp.Body.Close()
			}
		}()
	}
	churnWG.Wait()

	// A fresh client on the churned-over broadcaster still gets events.
	resp, err := http.Get(server.URL + "/api/live")
	require.NoError(t, err)
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)
	sawEvent := false
	for i := 0; i < 20 && !sawEvent; i++ {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		sawEvent = strings.HasPrefix(line, "event: ")
	}
	assert.True(t, sawEvent, "surviving client received no events")

	close(stop)
	pubWG.Wait()
}

func TestStatusCodeColor(t *testing.T) {
	assert.Contains(t, statusCodeColor(200), "200")
	assert.Contains(t, statusCodeColor(301), colorYellow)
	assert.Contains(t, statusCodeColor(404), colorBoldRed)
	assert.Contains(t, statusCodeColor(500), colorBoldRed)
	assert.Equal(t, "100", statusCodeColor(100))
}
