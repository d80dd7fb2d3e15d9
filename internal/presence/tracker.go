// Package presence turns per-cycle RFID detection snapshots into
// Present/Missing item transitions using consecutive-miss counting with
// noise-safety gates.
package presence

import (
	"sync"
	"time"
)

// ItemStatus represents the presence state of a tracked inventory item.
type ItemStatus string

const (
	StatusPresent ItemStatus = "present"
	StatusMissing ItemStatus = "missing"
)

// TrackerConfig holds configuration parameters for the presence tracker.
type TrackerConfig struct {
	// MinDetectedThreshold is the minimum number of detections in a scan
	// cycle for the cycle to be considered reliable. Below this, the
	// reader is assumed to be idle or badly placed and non-detection
	// carries no evidence.
	MinDetectedThreshold int

	// MinConsecutiveMisses is the number of consecutive reliable-cycle
	// misses before an item becomes a Missing candidate.
	MinConsecutiveMisses int

	// MaxMissingPerCycle caps how many items may transition to Missing in
	// a single cycle. Excess candidates stay pending for the next cycle.
	MaxMissingPerCycle int
}

// DefaultTrackerConfig returns default presence tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MinDetectedThreshold: 2,
		MinConsecutiveMisses: 3,
		MaxMissingPerCycle:   1,
	}
}

// ItemState is the tracked presence state of a single inventory item.
type ItemState struct {
	ItemID            string
	Status            ItemStatus
	ConsecutiveMisses int
	FirstMissAt       *time.Time
	LastDetectedAt    *time.Time
	LastRSSI          float64 // dBm of the most recent detection, 0 if never detected
}

// CycleResult reports the outcome of one Process call.
type CycleResult struct {
	// NewlyMissing lists items that transitioned Present -> Missing this
	// cycle, in registration order.
	NewlyMissing []string

	// Restored lists Missing items re-detected this cycle, in
	// registration order.
	Restored []string

	// Reliable reports whether the cycle cleared the detection gate and
	// missing-inference ran.
	Reliable bool
}

// Tracker owns per-item miss counters and presence state. All mutation
// happens under a single mutex: scan cycles are serialized so interleaved
// counter updates cannot corrupt a streak.
type Tracker struct {
	mu     sync.Mutex
	config TrackerConfig
	items  map[string]*ItemState
	order  []string // registration order, drives deterministic cap selection
}

// NewTracker creates a presence tracker with the given configuration.
func NewTracker(config TrackerConfig) *Tracker {
	return &Tracker{
		config: config,
		items:  make(map[string]*ItemState),
	}
}

// Register adds an item to the registry as Present. Registering an
// existing item is a no-op, preserving its state and original position in
// the selection order.
func (t *Tracker) Register(itemID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.register(itemID)
}

func (t *Tracker) register(itemID string) *ItemState {
	if state, ok := t.items[itemID]; ok {
		return state
	}
	state := &ItemState{
		ItemID: itemID,
		Status: StatusPresent,
	}
	t.items[itemID] = state
	t.order = append(t.order, itemID)
	return state
}

// Load seeds the registry from persisted states, preserving the order
// given. Used once at startup recovery; the tracker never re-queries the
// store afterwards.
func (t *Tracker) Load(states []ItemState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range states {
		if _, ok := t.items[s.ItemID]; ok {
			continue
		}
		loaded := s
		if loaded.Status == "" {
			loaded.Status = StatusPresent
		}
		t.items[s.ItemID] = &loaded
		t.order = append(t.order, s.ItemID)
	}
}

// Process consumes one scan cycle's detection snapshot and returns the
// resulting transitions.
//
// An unreliable cycle (fewer detections than MinDetectedThreshold) only
// resets miss counters for items actually detected; it never changes any
// item's status and never manufactures Missing transitions.
func (t *Tracker) Process(detected map[string]float64, now time.Time) CycleResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := CycleResult{
		Reliable: len(detected) >= t.config.MinDetectedThreshold,
	}

	if !result.Reliable {
		// Positive evidence still counts; negative evidence does not.
		for _, itemID := range t.order {
			state := t.items[itemID]
			if rssi, ok := detected[itemID]; ok {
				t.markDetected(state, rssi, now)
			}
		}
		return result
	}

	// Pass 1: update counters and collect Missing candidates in
	// registration order.
	var candidates []*ItemState
	for _, itemID := range t.order {
		state := t.items[itemID]

		if rssi, ok := detected[itemID]; ok {
			if state.Status == StatusMissing {
				state.Status = StatusPresent
				result.Restored = append(result.Restored, itemID)
			}
			t.markDetected(state, rssi, now)
			continue
		}

		if state.Status != StatusPresent {
			continue // already missing, nothing to infer
		}

		state.ConsecutiveMisses++
		if state.FirstMissAt == nil {
			at := now
			state.FirstMissAt = &at
		}
		if state.ConsecutiveMisses >= t.config.MinConsecutiveMisses {
			candidates = append(candidates, state)
		}
	}

	// Pass 2: transition at most MaxMissingPerCycle candidates,
	// first-registered first. The rest stay pending with their counters
	// above threshold and are re-evaluated next cycle.
	for _, state := range candidates {
		if len(result.NewlyMissing) >= t.config.MaxMissingPerCycle {
			break
		}
		state.Status = StatusMissing
		state.ConsecutiveMisses = 0
		state.FirstMissAt = nil
		result.NewlyMissing = append(result.NewlyMissing, state.ItemID)
	}

	return result
}

// markDetected resets miss tracking after a positive detection.
func (t *Tracker) markDetected(state *ItemState, rssi float64, now time.Time) {
	state.ConsecutiveMisses = 0
	state.FirstMissAt = nil
	at := now
	state.LastDetectedAt = &at
	state.LastRSSI = rssi
}

// State returns a copy of one item's state.
func (t *Tracker) State(itemID string) (ItemState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.items[itemID]
	if !ok {
		return ItemState{}, false
	}
	return *state, true
}

// States returns copies of all item states in registration order.
func (t *Tracker) States() []ItemState {
	t.mu.Lock()
	defer t.mu.Unlock()

	states := make([]ItemState, 0, len(t.order))
	for _, itemID := range t.order {
		states = append(states, *t.items[itemID])
	}
	return states
}

// Tracked reports whether an item is in the registry.
func (t *Tracker) Tracked(itemID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.items[itemID]
	return ok
}

// Stats summarises the registry for the monitor surface.
type Stats struct {
	Present int `json:"present"`
	Missing int `json:"missing"`
	Pending int `json:"pending"` // present items with a miss streak in progress
}

// Stats returns aggregate presence counts.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Stats
	for _, state := range t.items {
		switch state.Status {
		case StatusPresent:
			s.Present++
			if state.ConsecutiveMisses > 0 {
				s.Pending++
			}
		case StatusMissing:
			s.Missing++
		}
	}
	return s
}
