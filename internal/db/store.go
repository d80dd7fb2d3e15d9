package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/halcyon-data/inventory.report/internal/pipeline"
	"github.com/halcyon-data/inventory.report/internal/presence"
)

// Item is a tracked inventory item row.
type Item struct {
	ItemID    string    `json:"item_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordPosition appends one resolved position to the history table.
func (db *DB) RecordPosition(ctx context.Context, est pipeline.PositionEstimate) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO positions (subject_id, x, y, confidence, anchors_used, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		est.SubjectID, est.X, est.Y, est.Confidence, est.AnchorsUsed, est.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}
	return nil
}

// RecordTransition appends one presence transition to the audit table.
func (db *DB) RecordTransition(ctx context.Context, tr pipeline.Transition) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO transitions (item_id, status, at) VALUES (?, ?, ?)`,
		tr.ItemID, string(tr.Status), tr.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transition: %w", err)
	}
	return nil
}

// UpsertItemState writes the current presence state for one item,
// replacing any previous row.
func (db *DB) UpsertItemState(ctx context.Context, state presence.ItemState) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO item_states (item_id, status, consecutive_misses, first_miss_at, last_detected_at, last_rssi, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(item_id) DO UPDATE SET
			status = excluded.status,
			consecutive_misses = excluded.consecutive_misses,
			first_miss_at = excluded.first_miss_at,
			last_detected_at = excluded.last_detected_at,
			last_rssi = excluded.last_rssi,
			updated_at = CURRENT_TIMESTAMP`,
		state.ItemID, string(state.Status), state.ConsecutiveMisses,
		nullableTime(state.FirstMissAt), nullableTime(state.LastDetectedAt), state.LastRSSI,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert item state for %s: %w", state.ItemID, err)
	}
	return nil
}

// LoadItemStates returns all persisted item states, used to seed the
// tracker after a restart so presence streaks survive process death.
func (db *DB) LoadItemStates(ctx context.Context) ([]presence.ItemState, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.item_id, s.status, s.consecutive_misses, s.first_miss_at, s.last_detected_at, s.last_rssi
		FROM item_states s
		JOIN items i ON i.item_id = s.item_id
		ORDER BY i.created_at, i.item_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query item states: %w", err)
	}
	defer rows.Close()

	var states []presence.ItemState
	for rows.Next() {
		var state presence.ItemState
		var status string
		var firstMiss, lastDetected sql.NullTime
		if err := rows.Scan(&state.ItemID, &status, &state.ConsecutiveMisses, &firstMiss, &lastDetected, &state.LastRSSI); err != nil {
			return nil, fmt.Errorf("failed to scan item state: %w", err)
		}
		state.Status = presence.ItemStatus(status)
		if firstMiss.Valid {
			t := firstMiss.Time.UTC()
			state.FirstMissAt = &t
		}
		if lastDetected.Valid {
			t := lastDetected.Time.UTC()
			state.LastDetectedAt = &t
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// UpsertItem registers an inventory item.
func (db *DB) UpsertItem(ctx context.Context, itemID, name string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO items (item_id, name) VALUES (?, ?)
		ON CONFLICT(item_id) DO UPDATE SET name = excluded.name`,
		itemID, name,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", itemID, err)
	}
	return nil
}

// Items returns all registered inventory items in creation order.
func (db *DB) Items(ctx context.Context) ([]Item, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT item_id, name, created_at FROM items ORDER BY created_at, item_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ItemID, &item.Name, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpsertAnchor registers or moves a UWB anchor.
func (db *DB) UpsertAnchor(ctx context.Context, anchor pipeline.Anchor) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO anchors (id, x, y, active, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			x = excluded.x,
			y = excluded.y,
			active = excluded.active,
			updated_at = CURRENT_TIMESTAMP`,
		anchor.ID, anchor.X, anchor.Y, anchor.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert anchor %s: %w", anchor.ID, err)
	}
	return nil
}

// Anchors returns every anchor row, active or not.
func (db *DB) Anchors(ctx context.Context) ([]pipeline.Anchor, error) {
	return db.queryAnchors(ctx, `SELECT id, x, y, active FROM anchors ORDER BY id`)
}

// ActiveAnchors returns the active anchor set. This satisfies the
// pipeline's anchor directory, so anchor edits take effect on the next
// scan cycle without a restart.
func (db *DB) ActiveAnchors() ([]pipeline.Anchor, error) {
	return db.queryAnchors(context.Background(), `SELECT id, x, y, active FROM anchors WHERE active = 1 ORDER BY id`)
}

func (db *DB) queryAnchors(ctx context.Context, query string) ([]pipeline.Anchor, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query anchors: %w", err)
	}
	defer rows.Close()

	var anchors []pipeline.Anchor
	for rows.Next() {
		var a pipeline.Anchor
		if err := rows.Scan(&a.ID, &a.X, &a.Y, &a.Active); err != nil {
			return nil, fmt.Errorf("failed to scan anchor: %w", err)
		}
		anchors = append(anchors, a)
	}
	return anchors, rows.Err()
}

// RecentPositions returns up to limit position estimates, newest first.
func (db *DB) RecentPositions(ctx context.Context, limit int) ([]pipeline.PositionEstimate, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT subject_id, x, y, confidence, anchors_used, timestamp
		FROM positions ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var estimates []pipeline.PositionEstimate
	for rows.Next() {
		var est pipeline.PositionEstimate
		if err := rows.Scan(&est.SubjectID, &est.X, &est.Y, &est.Confidence, &est.AnchorsUsed, &est.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		est.Timestamp = est.Timestamp.UTC()
		estimates = append(estimates, est)
	}
	return estimates, rows.Err()
}

// RecentTransitions returns up to limit presence transitions, newest first.
func (db *DB) RecentTransitions(ctx context.Context, limit int) ([]pipeline.Transition, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT item_id, status, at FROM transitions ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var transitions []pipeline.Transition
	for rows.Next() {
		var tr pipeline.Transition
		var status string
		if err := rows.Scan(&tr.ItemID, &status, &tr.At); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		tr.Status = presence.ItemStatus(status)
		tr.At = tr.At.UTC()
		transitions = append(transitions, tr)
	}
	return transitions, rows.Err()
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
