// Package simulate generates synthetic reader scan packets: a tag
// walking a fixed-size store floor, noisy UWB ranges to the configured
// anchors and RFID detections for items within reader range. It backs
// the mock serial port in dev mode and the standalone traffic generator.
package simulate

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Store floor dimensions in cm.
const (
	FloorWidth  = 1000
	FloorHeight = 800
)

const (
	walkingSpeedCmPerSec = 80
	detectionRangeCM     = 100
	rangeNoiseStdCM      = 15
	minRangeCM           = 10
	faultyRangeChance    = 0.05
	goneMissingChance    = 0.02
)

// Anchor is a simulated UWB anchor at a fixed floor position.
type Anchor struct {
	ID string
	X  float64
	Y  float64
}

// DefaultAnchors places one anchor in each floor corner.
func DefaultAnchors() []Anchor {
	return []Anchor{
		{ID: "0x0001", X: 0, Y: 0},
		{ID: "0x0002", X: FloorWidth, Y: 0},
		{ID: "0x0003", X: FloorWidth, Y: FloorHeight},
		{ID: "0x0004", X: 0, Y: FloorHeight},
	}
}

// Item is a simulated shelf item with a fixed position.
type Item struct {
	ProductID   string
	ProductName string
	X           float64
	Y           float64
	Missing     bool
}

// DefaultItems scatters a small catalogue along the aisles.
func DefaultItems() []Item {
	names := []string{
		"Running Shoes", "Basketball", "Water Bottle", "Yoga Mat",
		"Resistance Bands", "Tennis Racket", "Gym Bag", "Dumbbells",
		"Jump Rope", "Sports Jersey", "Soccer Ball", "Protein Powder",
	}
	aisleX := []float64{200, 400, 600, 800}
	items := make([]Item, 0, len(names))
	for i, name := range names {
		items = append(items, Item{
			ProductID:   productID(i + 1),
			ProductName: name,
			X:           aisleX[i%len(aisleX)],
			Y:           150 + float64(i/len(aisleX))*180,
		})
	}
	return items
}

func productID(n int) string {
	return fmt.Sprintf("RFID_%03d", n)
}

// Simulator walks a tag around the floor and produces one scan packet per
// Step call. It is not safe for concurrent use.
type Simulator struct {
	anchors []Anchor
	items   []Item
	rng     *rand.Rand

	x, y     float64
	targetX  float64
	targetY  float64
	interval time.Duration
}

// Config controls packet generation.
type Config struct {
	Anchors  []Anchor
	Items    []Item
	Interval time.Duration // simulated time between scan cycles
	Seed     uint64
}

// New creates a simulator. Zero-value config fields fall back to the
// default floor layout, a one second interval and a fixed seed.
func New(cfg Config) *Simulator {
	if len(cfg.Anchors) == 0 {
		cfg.Anchors = DefaultAnchors()
	}
	if len(cfg.Items) == 0 {
		cfg.Items = DefaultItems()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Seed == 0 {
		cfg.Seed = 0x5eed
	}

	s := &Simulator{
		anchors:  cfg.Anchors,
		items:    cfg.Items,
		rng:      rand.New(rand.NewSource(int64(cfg.Seed))),
		x:        FloorWidth / 2,
		y:        100,
		interval: cfg.Interval,
	}
	s.pickTarget()
	return s
}

// Position returns the tag's current floor position.
func (s *Simulator) Position() (x, y float64) {
	return s.x, s.y
}

// Step advances the walk by one interval and returns the scan packet the
// reader would emit at the new position.
func (s *Simulator) Step(now time.Time) []byte {
	s.advance()

	packet := map[string]interface{}{
		"timestamp":        now.UTC().Format(time.RFC3339),
		"detections":       s.detections(),
		"uwb_measurements": s.measurements(),
	}
	payload, _ := json.Marshal(packet)
	return payload
}

// MarkMissing flags an item so subsequent packets stop detecting it.
func (s *Simulator) MarkMissing(productID string) {
	for i := range s.items {
		if s.items[i].ProductID == productID {
			s.items[i].Missing = true
			return
		}
	}
}

func (s *Simulator) pickTarget() {
	margin := 100.0
	s.targetX = margin + s.rng.Float64()*(FloorWidth-2*margin)
	s.targetY = margin + s.rng.Float64()*(FloorHeight-2*margin)
}

func (s *Simulator) advance() {
	dx, dy := s.targetX-s.x, s.targetY-s.y
	dist := math.Hypot(dx, dy)
	step := walkingSpeedCmPerSec * s.interval.Seconds()
	if dist <= step {
		s.x, s.y = s.targetX, s.targetY
		s.pickTarget()
		return
	}
	s.x += dx / dist * step
	s.y += dy / dist * step
}

func (s *Simulator) measurements() []map[string]interface{} {
	measurements := make([]map[string]interface{}, 0, len(s.anchors))
	for _, a := range s.anchors {
		trueDistance := math.Hypot(s.x-a.X, s.y-a.Y)
		measured := trueDistance + s.rng.NormFloat64()*rangeNoiseStdCM
		if measured < minRangeCM {
			measured = minRangeCM
		}

		status := "SUCCESS"
		if s.rng.Float64() < faultyRangeChance {
			// Multipath or NLOS: wildly off and flagged by the firmware.
			measured += s.rng.Float64()*200 - 100
			status = "ERROR"
		}

		measurements = append(measurements, map[string]interface{}{
			"mac_address": a.ID,
			"distance_cm": math.Round(measured*10) / 10,
			"status":      status,
		})
	}
	return measurements
}

func (s *Simulator) detections() []map[string]interface{} {
	detections := make([]map[string]interface{}, 0)
	for i := range s.items {
		item := &s.items[i]
		if math.Hypot(s.x-item.X, s.y-item.Y) > detectionRangeCM {
			continue
		}
		if !item.Missing && s.rng.Float64() < goneMissingChance {
			item.Missing = true
		}
		if item.Missing {
			continue
		}
		detections = append(detections, map[string]interface{}{
			"product_id":   item.ProductID,
			"product_name": item.ProductName,
			"rssi":         -40 - s.rng.Float64()*20,
		})
	}
	return detections
}
