package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

// Retrieval columns (salience, sector, simhash, decay) were added after the
// initial schema shipped, so they live in a separate additive migration:
// pre-existing rows pick up the column defaults and old readers keep
// working.
var migrations = []migration{
	{
		Version:     1,
		Description: "memories: consolidated extracted memories",
		SQL: `
CREATE TABLE memories (
    id               TEXT PRIMARY KEY,
    content          TEXT NOT NULL,
    type             TEXT NOT NULL,
    tags             TEXT NOT NULL DEFAULT '[]',
    confidence       REAL NOT NULL DEFAULT 0.5 CHECK (confidence >= 0 AND confidence <= 1),

    -- Provenance
    source_memory_id TEXT,
    source_app       TEXT,

    -- Lifecycle
    is_active        INTEGER NOT NULL DEFAULT 1,
    expires_at       INTEGER,

    -- Explicit links (distinct from waypoint edges)
    related_ids      TEXT NOT NULL DEFAULT '[]',

    -- Embedding: both columns set or both empty
    embedding        BLOB,
    embedding_model  TEXT,

    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL
);

CREATE INDEX idx_memories_type   ON memories(type);
CREATE INDEX idx_memories_active ON memories(is_active);
CREATE INDEX idx_memories_source ON memories(source_memory_id);
`,
	},
	{
		Version:     2,
		Description: "waypoints: weighted directed edges between memories",
		SQL: `
CREATE TABLE waypoints (
    source_id  TEXT NOT NULL,
    target_id  TEXT NOT NULL,
    weight     REAL NOT NULL CHECK (weight > 0 AND weight <= 1),
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (source_id, target_id)
);

CREATE INDEX idx_waypoints_source ON waypoints(source_id);
`,
	},
	{
		Version:     3,
		Description: "memories: additive retrieval columns (salience, sector, simhash, decay)",
		SQL: `
ALTER TABLE memories ADD COLUMN salience     REAL NOT NULL DEFAULT 0.5;
ALTER TABLE memories ADD COLUMN sector       TEXT NOT NULL DEFAULT 'semantic';
ALTER TABLE memories ADD COLUMN simhash      TEXT;
ALTER TABLE memories ADD COLUMN decay_lambda REAL NOT NULL DEFAULT 0.02;
ALTER TABLE memories ADD COLUMN last_seen_at INTEGER;
ALTER TABLE memories ADD COLUMN segment      INTEGER NOT NULL DEFAULT 0;

CREATE INDEX idx_memories_sector   ON memories(sector);
CREATE INDEX idx_memories_salience ON memories(salience DESC);
CREATE INDEX idx_memories_simhash  ON memories(simhash);
`,
	},
	{
		Version:     4,
		Description: "memories: anchor salience so decay recomputes absolutely",
		SQL: `
ALTER TABLE memories ADD COLUMN anchor_salience REAL NOT NULL DEFAULT 0;

UPDATE memories SET anchor_salience = salience;
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
