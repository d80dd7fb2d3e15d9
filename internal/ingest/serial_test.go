package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-data/inventory.report/internal/monitoring"
	"github.com/halcyon-data/inventory.report/internal/pipeline"
	"github.com/halcyon-data/inventory.report/internal/readermux"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

type recordingProcessor struct {
	mu      sync.Mutex
	packets []pipeline.ScanPacket
}

func (p *recordingProcessor) Process(_ context.Context, pkt pipeline.ScanPacket) pipeline.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.packets = append(p.packets, pkt)
	return pipeline.Result{}
}

func (p *recordingProcessor) snapshot() []pipeline.ScanPacket {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pipeline.ScanPacket(nil), p.packets...)
}

func TestSerialSourceProcessesPackets(t *testing.T) {
	script := `{"timestamp": "2026-03-01T10:00:00Z", "detections": [{"product_id": "RFID_001"}]}` + "\n" +
		`not json` + "\n" +
		`{"timestamp": "2026-03-01T10:00:01Z", "uwb_measurements": [{"mac_address": "0x0001", "distance_cm": 120, "status": "SUCCESS"}]}` + "\n"

	mux := readermux.NewReaderMux(readermux.NewScriptedPort(script))
	processor := &recordingProcessor{}
	source := NewSerialSource(mux, processor)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx) }()

	// Let Run subscribe before the script starts draining.
	time.Sleep(20 * time.Millisecond)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		mux.Monitor(context.Background())
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(processor.snapshot()) >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	packets := processor.snapshot()
	require.Len(t, packets, 2)
	assert.Equal(t, "RFID_001", packets[0].Detections[0].ItemID)
	assert.Equal(t, "0x0001", packets[1].Ranges[0].AnchorID)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	wg.Wait()
}

func TestSerialSourceStopsWhenMuxCloses(t *testing.T) {
	mux := readermux.NewReaderMux(readermux.NewScriptedPort(""))
	source := NewSerialSource(mux, &recordingProcessor{})

	done := make(chan error, 1)
	go func() { done <- source.Run(context.Background()) }()

	// Give Run a moment to subscribe before tearing the mux down.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, mux.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not observe mux close")
	}
}

func TestNewMQTTSourceDefaults(t *testing.T) {
	source := NewMQTTSource(MQTTConfig{Broker: "tcp://localhost:1883"}, &recordingProcessor{})
	assert.Equal(t, []string{TopicProduction}, source.config.Topics)
	assert.Equal(t, "inventory-report", source.config.ClientID)
}
