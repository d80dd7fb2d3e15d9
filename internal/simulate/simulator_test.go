package simulate

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-data/inventory.report/internal/pipeline"
)

func TestStepProducesDecodablePackets(t *testing.T) {
	sim := New(Config{Seed: 7})
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 20; i++ {
		payload := sim.Step(now.Add(time.Duration(i) * time.Second))
		pkt, err := pipeline.DecodeScanPacket(payload)
		require.NoError(t, err)
		assert.Len(t, pkt.Ranges, 4)
		for _, r := range pkt.Ranges {
			if !r.Faulty {
				assert.GreaterOrEqual(t, r.DistanceCM, float64(minRangeCM))
			}
		}
	}
}

func TestWalkStaysOnFloor(t *testing.T) {
	sim := New(Config{Seed: 3, Interval: 2 * time.Second})
	for i := 0; i < 500; i++ {
		sim.Step(time.Now())
		x, y := sim.Position()
		assert.GreaterOrEqual(t, x, 0.0)
		assert.LessOrEqual(t, x, float64(FloorWidth))
		assert.GreaterOrEqual(t, y, 0.0)
		assert.LessOrEqual(t, y, float64(FloorHeight))
	}
}

func TestSameSeedSamePackets(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := New(Config{Seed: 42})
	b := New(Config{Seed: 42})

	for i := 0; i < 10; i++ {
		ts := now.Add(time.Duration(i) * time.Second)
		pa, err := pipeline.DecodeScanPacket(a.Step(ts))
		require.NoError(t, err)
		pb, err := pipeline.DecodeScanPacket(b.Step(ts))
		require.NoError(t, err)
		if diff := cmp.Diff(pa, pb, cmpopts.IgnoreFields(pipeline.ScanPacket{}, "ID")); diff != "" {
			t.Errorf("packet %d mismatch (-a +b):\n%s", i, diff)
		}
	}
}

func TestMarkMissingStopsDetections(t *testing.T) {
	// Park the tag on top of an item so it is always in reader range.
	items := []Item{{ProductID: "RFID_001", ProductName: "Jacket", X: FloorWidth / 2, Y: 100}}
	sim := New(Config{Seed: 9, Items: items, Interval: time.Millisecond})

	sim.MarkMissing("RFID_001")

	payload := sim.Step(time.Now())
	pkt, err := pipeline.DecodeScanPacket(payload)
	require.NoError(t, err)
	assert.Empty(t, pkt.Detections)
}
