package store

import (
	"fmt"
)

// Stats summarizes the state of the memory store.
type Stats struct {
	ActiveMemories  int            `json:"active_memories"`
	TotalMemories   int            `json:"total_memories"`
	Waypoints       int            `json:"waypoints"`
	BySector        map[string]int `json:"by_sector"`
	SalienceBuckets map[string]int `json:"salience_buckets"` // low <0.3, mid, high >0.7
}

// CollectStats gathers per-sector counts and a coarse salience histogram.
func (db *DB) CollectStats() (*Stats, error) {
	s := &Stats{
		BySector:        make(map[string]int),
		SalienceBuckets: map[string]int{"low": 0, "mid": 0, "high": 0},
	}

	if err := db.QueryRow(`SELECT COUNT(*) FROM memories`).Scan(&s.TotalMemories); err != nil {
		return nil, fmt.Errorf("count memories: %w", err)
	}
	var err error
	s.ActiveMemories, err = db.CountActive()
	if err != nil {
		return nil, fmt.Errorf("count active: %w", err)
	}
	s.Waypoints, err = db.CountWaypoints()
	if err != nil {
		return nil, fmt.Errorf("count waypoints: %w", err)
	}

	rows, err := db.Query(`SELECT sector, COUNT(*) FROM memories WHERE is_active = 1 GROUP BY sector`)
	if err != nil {
		return nil, fmt.Errorf("sector counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sec string
		var n int
		if err := rows.Scan(&sec, &n); err != nil {
			return nil, fmt.Errorf("scan sector count: %w", err)
		}
		s.BySector[sec] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	buckets, err := db.Query(`
		SELECT CASE WHEN salience < 0.3 THEN 'low' WHEN salience > 0.7 THEN 'high' ELSE 'mid' END, COUNT(*)
		FROM memories WHERE is_active = 1 GROUP BY 1
	`)
	if err != nil {
		return nil, fmt.Errorf("salience buckets: %w", err)
	}
	defer buckets.Close()
	for buckets.Next() {
		var bucket string
		var n int
		if err := buckets.Scan(&bucket, &n); err != nil {
			return nil, fmt.Errorf("scan salience bucket: %w", err)
		}
		s.SalienceBuckets[bucket] = n
	}
	return s, buckets.Err()
}
