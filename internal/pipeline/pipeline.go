// Package pipeline glues the scan ingest path together: ranges to the
// resolver, detections to the presence tracker, both outputs to the
// broadcaster and the store.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/halcyon-data/inventory.report/internal/broadcast"
	"github.com/halcyon-data/inventory.report/internal/monitoring"
	"github.com/halcyon-data/inventory.report/internal/presence"
	"github.com/halcyon-data/inventory.report/internal/uwb"
)

// Pipeline processes scan packets. It holds no ambient globals: the
// directory, tracker, broadcaster and store are explicit owned
// collaborators passed in at construction.
//
// Process is safe for concurrent callers (multiple ingest sources): the
// tracker serializes its own counter updates and the rest of the path is
// either pure or independently synchronized.
type Pipeline struct {
	anchors     AnchorDirectory
	tracker     *presence.Tracker
	broadcaster *broadcast.Broadcaster
	store       Store // may be nil when persistence is disabled

	mu      sync.Mutex
	lastFix *PositionEstimate

	unknownAnchors atomic.Uint64
	unknownItems   atomic.Uint64
}

// New creates a pipeline. store may be nil to disable persistence (dev
// mode); everything else is required.
func New(anchors AnchorDirectory, tracker *presence.Tracker, broadcaster *broadcast.Broadcaster, store Store) *Pipeline {
	return &Pipeline{
		anchors:     anchors,
		tracker:     tracker,
		broadcaster: broadcaster,
		store:       store,
	}
}

// Process runs one scan packet through the resolver, the tracker and the
// broadcaster. It never returns an error: every input shape, however
// degenerate, yields a defined result, and collaborator failures degrade
// to logged diagnostics.
func (p *Pipeline) Process(ctx context.Context, pkt ScanPacket) Result {
	var result Result

	// Position path.
	samples, droppedRanges := p.joinRanges(pkt)
	result.DroppedRanges = droppedRanges
	if fix, ok := uwb.Resolve(samples); ok {
		est := &PositionEstimate{
			Timestamp:   pkt.Timestamp,
			SubjectID:   pkt.SubjectID,
			X:           fix.X,
			Y:           fix.Y,
			Confidence:  fix.Confidence,
			AnchorsUsed: fix.AnchorsUsed,
		}
		result.Position = est

		p.mu.Lock()
		p.lastFix = est
		p.mu.Unlock()

		if p.store != nil {
			if err := p.store.RecordPosition(ctx, *est); err != nil {
				monitoring.Logf("[Pipeline] failed to record position: %v", err)
			}
		}
	}

	// Presence path. The reliability gate counts raw detections, tracked
	// or not: an untracked tag still proves the reader was scanning.
	detected := make(map[string]float64, len(pkt.Detections))
	for _, d := range pkt.Detections {
		detected[d.ItemID] = d.RSSIdBm
		if !p.tracker.Tracked(d.ItemID) {
			result.DroppedDetects++
		}
	}
	if result.DroppedDetects > 0 {
		total := p.unknownItems.Add(uint64(result.DroppedDetects))
		monitoring.Logf("[Pipeline] dropped %d detections for untracked items (total: %d)", result.DroppedDetects, total)
	}

	cycle := p.tracker.Process(detected, pkt.Timestamp)
	result.NewlyMissing = cycle.NewlyMissing
	result.Restored = cycle.Restored
	result.Reliable = cycle.Reliable

	p.persistTransitions(ctx, pkt, cycle)
	p.publish(pkt, result)

	return result
}

// LastFix returns the most recent position estimate, if any.
func (p *Pipeline) LastFix() *PositionEstimate {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastFix == nil {
		return nil
	}
	fix := *p.lastFix
	return &fix
}

// DroppedCounts returns totals of silently dropped unknown identifiers,
// surfaced as a data-quality signal on the stats endpoint.
func (p *Pipeline) DroppedCounts() (unknownAnchors, unknownItems uint64) {
	return p.unknownAnchors.Load(), p.unknownItems.Load()
}

// joinRanges matches range readings against the current active anchor
// set. Unknown anchors and faulty or negative readings are dropped.
func (p *Pipeline) joinRanges(pkt ScanPacket) ([]uwb.RangeSample, int) {
	anchors, err := p.anchors.ActiveAnchors()
	if err != nil {
		// Degrade to no ranging this cycle rather than failing the packet.
		monitoring.Logf("[Pipeline] anchor directory unavailable: %v", err)
		return nil, len(pkt.Ranges)
	}

	byID := make(map[string]Anchor, len(anchors))
	for _, a := range anchors {
		byID[a.ID] = a
	}

	var dropped int
	samples := make([]uwb.RangeSample, 0, len(pkt.Ranges))
	seen := make(map[string]bool, len(pkt.Ranges))
	for _, r := range pkt.Ranges {
		if r.Faulty || r.DistanceCM < 0 {
			dropped++
			continue
		}
		a, ok := byID[r.AnchorID]
		if !ok {
			dropped++
			total := p.unknownAnchors.Add(1)
			monitoring.Logf("[Pipeline] dropped range for unknown anchor %q (total: %d)", r.AnchorID, total)
			continue
		}
		if seen[r.AnchorID] {
			// Duplicate sample for the same anchor in one packet; keep the
			// first so AnchorsUsed counts distinct anchors.
			dropped++
			continue
		}
		seen[r.AnchorID] = true
		samples = append(samples, uwb.RangeSample{
			AnchorX:    a.X,
			AnchorY:    a.Y,
			DistanceCM: r.DistanceCM,
		})
	}
	return samples, dropped
}

// persistTransitions writes transition records and updated item states.
func (p *Pipeline) persistTransitions(ctx context.Context, pkt ScanPacket, cycle presence.CycleResult) {
	if p.store == nil {
		return
	}

	record := func(itemID string, status presence.ItemStatus) {
		if err := p.store.RecordTransition(ctx, Transition{ItemID: itemID, Status: status, At: pkt.Timestamp}); err != nil {
			monitoring.Logf("[Pipeline] failed to record transition for %s: %v", itemID, err)
		}
		if state, ok := p.tracker.State(itemID); ok {
			if err := p.store.UpsertItemState(ctx, state); err != nil {
				monitoring.Logf("[Pipeline] failed to persist state for %s: %v", itemID, err)
			}
		}
	}

	for _, itemID := range cycle.NewlyMissing {
		record(itemID, presence.StatusMissing)
	}
	for _, itemID := range cycle.Restored {
		record(itemID, presence.StatusPresent)
	}
}

// publish pushes this cycle's outputs to subscribers. A cycle with both
// a fix and item changes goes out as one combined update; otherwise each
// output travels alone.
func (p *Pipeline) publish(pkt ScanPacket, result Result) {
	var pos *broadcast.PositionUpdate
	if result.Position != nil {
		pos = &broadcast.PositionUpdate{
			SubjectID:   result.Position.SubjectID,
			X:           result.Position.X,
			Y:           result.Position.Y,
			Confidence:  result.Position.Confidence,
			AnchorsUsed: result.Position.AnchorsUsed,
			Timestamp:   result.Position.Timestamp,
		}
	}

	items := p.itemUpdates(pkt, result)

	switch {
	case pos != nil && len(items) > 0:
		p.broadcaster.Publish(broadcast.Event{Type: broadcast.EventCombined, Position: pos, Items: items})
	case pos != nil:
		p.broadcaster.Publish(broadcast.Event{Type: broadcast.EventPosition, Position: pos})
	case len(items) > 0:
		p.broadcaster.Publish(broadcast.Event{Type: broadcast.EventItem, Items: items})
	}
}

func (p *Pipeline) itemUpdates(pkt ScanPacket, result Result) []broadcast.ItemUpdate {
	changed := len(result.NewlyMissing) + len(result.Restored)
	if changed == 0 {
		return nil
	}

	stats := p.tracker.Stats()
	counts := broadcast.Counts{Present: stats.Present, Missing: stats.Missing}

	var x, y *float64
	if fix := p.LastFix(); fix != nil {
		x, y = &fix.X, &fix.Y
	}

	updates := make([]broadcast.ItemUpdate, 0, changed)
	for _, itemID := range result.NewlyMissing {
		updates = append(updates, broadcast.ItemUpdate{
			ItemID:    itemID,
			Status:    string(presence.StatusMissing),
			X:         x,
			Y:         y,
			Counts:    counts,
			Timestamp: pkt.Timestamp,
		})
	}
	for _, itemID := range result.Restored {
		updates = append(updates, broadcast.ItemUpdate{
			ItemID:    itemID,
			Status:    string(presence.StatusPresent),
			X:         x,
			Y:         y,
			Counts:    counts,
			Timestamp: pkt.Timestamp,
		})
	}
	return updates
}
