package pipeline

import (
	"context"
	"time"

	"github.com/halcyon-data/inventory.report/internal/presence"
)

// Anchor is a fixed UWB reference point with a known position in cm.
// Anchors are externally managed and read-only to the pipeline.
type Anchor struct {
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Active bool    `json:"active"`
}

// AnchorDirectory supplies the current active anchor set. The pipeline
// re-reads it per packet rather than caching indefinitely, so directory
// changes take effect on the next scan cycle.
type AnchorDirectory interface {
	ActiveAnchors() ([]Anchor, error)
}

// StaticDirectory is an AnchorDirectory over a fixed in-memory anchor
// list. Used in dev mode and tests; production wires the sqlite-backed
// directory instead.
type StaticDirectory struct {
	anchors []Anchor
}

// NewStaticDirectory creates a directory over the given anchors.
func NewStaticDirectory(anchors []Anchor) *StaticDirectory {
	return &StaticDirectory{anchors: anchors}
}

// ActiveAnchors returns the active subset of the configured anchors.
func (d *StaticDirectory) ActiveAnchors() ([]Anchor, error) {
	active := make([]Anchor, 0, len(d.anchors))
	for _, a := range d.anchors {
		if a.Active {
			active = append(active, a)
		}
	}
	return active, nil
}

// Detection is one RFID tag read in a scan cycle.
type Detection struct {
	ItemID  string  `json:"item_id"`
	RSSIdBm float64 `json:"rssi_dbm"`
}

// RangeReading is one anchor distance sample in a scan cycle. Faulty
// readings (reader-reported ranging errors) are excluded from
// multilateration.
type RangeReading struct {
	AnchorID   string  `json:"anchor_id"`
	DistanceCM float64 `json:"distance_cm"`
	Faulty     bool    `json:"faulty,omitempty"`
}

// ScanPacket is one discrete batch of detection and ranging samples
// processed as a unit.
type ScanPacket struct {
	ID         string         `json:"id"`
	SubjectID  string         `json:"subject_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Detections []Detection    `json:"detections"`
	Ranges     []RangeReading `json:"ranges"`
}

// PositionEstimate is a resolved subject position for one scan cycle.
// It is never produced from fewer than two distinct-anchor measurements.
type PositionEstimate struct {
	Timestamp   time.Time `json:"timestamp"`
	SubjectID   string    `json:"subject_id"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Confidence  float64   `json:"confidence"`
	AnchorsUsed int       `json:"anchors_used"`
}

// Transition records one item presence change for external persistence.
// The pipeline emits these but never re-queries them except at the
// startup recovery point.
type Transition struct {
	ItemID string              `json:"item_id"`
	Status presence.ItemStatus `json:"status"`
	At     time.Time           `json:"at"`
}

// Store is the external persistence collaborator. All methods are
// best-effort from the pipeline's point of view: storage errors are
// logged, never allowed to stall the scan path.
type Store interface {
	RecordPosition(ctx context.Context, est PositionEstimate) error
	RecordTransition(ctx context.Context, tr Transition) error
	UpsertItemState(ctx context.Context, state presence.ItemState) error
}

// Result summarises one processed scan packet.
type Result struct {
	Position       *PositionEstimate
	NewlyMissing   []string
	Restored       []string
	Reliable       bool
	DroppedRanges  int // unknown-anchor or faulty range samples
	DroppedDetects int // detections for untracked items
}
