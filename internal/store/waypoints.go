package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/engramdev/engram/internal/waypoint"
)

// ErrInvalidWaypoint marks an edge rejected by validation rather than by
// the database.
var ErrInvalidWaypoint = errors.New("invalid waypoint")

// UpsertWaypoint writes a directed edge, replacing weight and updated_at if
// the (source, target) pair already exists. Weight is clamped to (0,1].
func (db *DB) UpsertWaypoint(sourceID, targetID string, weight float64) error {
	if sourceID == "" || targetID == "" || sourceID == targetID {
		return fmt.Errorf("upsert waypoint: %w: %q -> %q", ErrInvalidWaypoint, sourceID, targetID)
	}
	if weight <= 0 {
		return fmt.Errorf("upsert waypoint: %w: weight %f not in (0,1]", ErrInvalidWaypoint, weight)
	}
	if weight > 1 {
		weight = 1
	}

	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO waypoints (source_id, target_id, weight, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id) DO UPDATE SET weight = ?, updated_at = ?
	`, sourceID, targetID, weight, now, now, weight, now)
	if err != nil {
		return fmt.Errorf("upsert waypoint: %w", err)
	}
	return nil
}

// BumpWaypoint strengthens an edge by delta, creating it at delta if
// absent. The add-and-clamp happens inside the UPDATE, so concurrent bumps
// never lose updates.
func (db *DB) BumpWaypoint(sourceID, targetID string, delta float64) error {
	if sourceID == "" || targetID == "" || sourceID == targetID || delta <= 0 {
		return fmt.Errorf("bump waypoint: %w: %q -> %q (+%f)", ErrInvalidWaypoint, sourceID, targetID, delta)
	}

	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO waypoints (source_id, target_id, weight, created_at, updated_at)
		VALUES (?, ?, MIN(1.0, ?), ?, ?)
		ON CONFLICT(source_id, target_id) DO UPDATE SET weight = MIN(1.0, weight + ?), updated_at = ?
	`, sourceID, targetID, delta, now, now, delta, now)
	if err != nil {
		return fmt.Errorf("bump waypoint: %w", err)
	}
	return nil
}

// WaypointsFrom returns all outgoing edges of a memory.
func (db *DB) WaypointsFrom(sourceID string) ([]waypoint.Edge, error) {
	return db.queryWaypoints(`
		SELECT source_id, target_id, weight, created_at, updated_at
		FROM waypoints WHERE source_id = ?
		ORDER BY weight DESC
	`, sourceID)
}

// AllWaypoints returns every edge in the graph.
func (db *DB) AllWaypoints() ([]waypoint.Edge, error) {
	return db.queryWaypoints(`
		SELECT source_id, target_id, weight, created_at, updated_at
		FROM waypoints
	`)
}

// CountWaypoints returns the number of edges in the graph.
func (db *DB) CountWaypoints() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM waypoints`).Scan(&n)
	return n, err
}

func (db *DB) queryWaypoints(query string, args ...any) ([]waypoint.Edge, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query waypoints: %w", err)
	}
	defer rows.Close()

	var edges []waypoint.Edge
	for rows.Next() {
		var e waypoint.Edge
		var created, updated int64
		if err := rows.Scan(&e.Source, &e.Target, &e.Weight, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan waypoint: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created)
		e.UpdatedAt = time.UnixMilli(updated)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
