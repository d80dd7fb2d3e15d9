package broadcast

import "time"

// EventType discriminates the update union sent to subscribers.
type EventType string

const (
	EventPosition EventType = "position_update"
	EventItem     EventType = "item_update"
	EventCombined EventType = "combined_update"
)

// PositionUpdate carries a resolved subject position.
type PositionUpdate struct {
	SubjectID   string    `json:"subject_id"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Confidence  float64   `json:"confidence"`
	AnchorsUsed int       `json:"anchors_used"`
	Timestamp   time.Time `json:"timestamp"`
}

// Counts aggregates the presence registry at the moment an item update
// was emitted.
type Counts struct {
	Present int `json:"present"`
	Missing int `json:"missing"`
}

// ItemUpdate carries one item's presence change plus registry aggregates.
type ItemUpdate struct {
	ItemID    string    `json:"item_id"`
	Status    string    `json:"status"`
	X         *float64  `json:"x,omitempty"` // last known subject position, if any
	Y         *float64  `json:"y,omitempty"`
	Counts    Counts    `json:"counts"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is the discriminated union delivered to subscribers. Position is
// set for position_update, Items for item_update, and both for
// combined_update.
type Event struct {
	Type     EventType       `json:"type"`
	Position *PositionUpdate `json:"position,omitempty"`
	Items    []ItemUpdate    `json:"items,omitempty"`
}
