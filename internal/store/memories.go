package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/engramdev/engram/internal/sector"
	"github.com/engramdev/engram/internal/simhash"
)

// Memory is a consolidated, retrievable fact distilled from captured text.
type Memory struct {
	ID         string
	Content    string
	Type       string
	Tags       []string
	Confidence float64

	// Provenance; SourceMemoryID is never reassigned after creation.
	SourceMemoryID string
	SourceApp      string

	IsActive  bool
	ExpiresAt *time.Time

	// Explicit links to other memories, distinct from waypoint edges.
	RelatedIDs []string

	// Embedding and EmbeddingModel are both set or both empty.
	Embedding      []float64
	EmbeddingModel string

	SimHash string
	Sector  sector.Sector

	// Salience is the current (possibly decayed) value used for ranking
	// and pruning. AnchorSalience is the value as of LastSeenAt; the decay
	// sweep always recomputes Salience from the anchor, so re-running it
	// at the same instant is a no-op rather than compounding.
	Salience       float64
	AnchorSalience float64
	LastSeenAt     time.Time
	DecayLambda    float64
	Segment        int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScoredMemory pairs a memory with its embedding similarity to a query.
type ScoredMemory struct {
	Memory     Memory
	Similarity float64
}

// NewID returns a fresh memory ID. ULIDs sort by creation time, which keeps
// scans over recently created memories cheap. Safe for concurrent use.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// The monotonic reader mutates shared rand state on every read, so it must
// be locked: SaveMemory is reached from concurrent ingest handlers.
var entropy = &ulid.LockedMonotonicReader{
	MonotonicReader: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
}

const memoryColumns = `id, content, type, tags, confidence, source_memory_id, source_app,
	is_active, expires_at, related_ids, embedding, embedding_model,
	salience, anchor_salience, sector, simhash, decay_lambda, last_seen_at, segment, created_at, updated_at`

// SaveMemory upserts a memory by id: a single atomic replace, so a
// consolidation decision never has a window where the old row is gone and
// the new one not yet written. Fills in ID, SimHash, timestamps, sector and
// decay defaults when absent. Salience is clamped to [0,1].
func (db *DB) SaveMemory(m *Memory) error {
	if m.Embedding != nil && m.EmbeddingModel == "" || m.Embedding == nil && m.EmbeddingModel != "" {
		return fmt.Errorf("save memory: embedding and model must be set together")
	}

	now := time.Now()
	if m.ID == "" {
		m.ID = NewID()
		m.CreatedAt = now
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.LastSeenAt.IsZero() {
		m.LastSeenAt = now
	}
	if m.SimHash == "" && m.Content != "" {
		m.SimHash = simhash.Fingerprint(m.Content)
	}
	if m.Sector == "" {
		m.Sector = sector.Default
	}
	if m.DecayLambda == 0 {
		m.DecayLambda = sector.DefaultLambda(m.Sector)
	}
	if m.Salience < 0 {
		m.Salience = 0
	}
	if m.Salience > 1 {
		m.Salience = 1
	}
	if m.AnchorSalience == 0 {
		m.AnchorSalience = m.Salience
	}
	m.UpdatedAt = now

	tags, err := json.Marshal(emptyIfNil(m.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	related, err := json.Marshal(emptyIfNil(m.RelatedIDs))
	if err != nil {
		return fmt.Errorf("marshal related ids: %w", err)
	}

	var blob []byte
	if m.Embedding != nil {
		blob = encodeEmbedding(m.Embedding)
	}

	active := 0
	if m.IsActive {
		active = 1
	}

	_, err = db.Exec(`
		INSERT INTO memories (id, content, type, tags, confidence, source_memory_id, source_app,
			is_active, expires_at, related_ids, embedding, embedding_model,
			salience, anchor_salience, sector, simhash, decay_lambda, last_seen_at, segment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content, type = excluded.type, tags = excluded.tags,
			confidence = excluded.confidence, is_active = excluded.is_active,
			expires_at = excluded.expires_at, related_ids = excluded.related_ids,
			embedding = excluded.embedding, embedding_model = excluded.embedding_model,
			salience = excluded.salience, anchor_salience = excluded.anchor_salience,
			sector = excluded.sector, simhash = excluded.simhash,
			decay_lambda = excluded.decay_lambda, last_seen_at = excluded.last_seen_at,
			segment = excluded.segment, updated_at = excluded.updated_at
	`, m.ID, m.Content, m.Type, string(tags), m.Confidence, m.SourceMemoryID, m.SourceApp,
		active, nullableMillis(m.ExpiresAt), string(related), blob, m.EmbeddingModel,
		m.Salience, m.AnchorSalience, string(m.Sector), m.SimHash, m.DecayLambda,
		m.LastSeenAt.UnixMilli(), m.Segment, m.CreatedAt.UnixMilli(), m.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	return nil
}

// GetMemory returns a memory by id, or nil if not found.
func (db *DB) GetMemory(id string) (*Memory, error) {
	row := db.QueryRow(`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// ActiveMemories returns all active, unexpired memories.
func (db *DB) ActiveMemories() ([]Memory, error) {
	return db.queryMemories(`
		SELECT `+memoryColumns+` FROM memories
		WHERE is_active = 1 AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY salience DESC
	`, time.Now().UnixMilli())
}

// MemoriesByType returns active memories with the given type tag.
func (db *DB) MemoriesByType(memType string) ([]Memory, error) {
	return db.queryMemories(`
		SELECT `+memoryColumns+` FROM memories
		WHERE is_active = 1 AND type = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY salience DESC
	`, memType, time.Now().UnixMilli())
}

// MemoriesBySector returns active memories in the given sector.
func (db *DB) MemoriesBySector(s sector.Sector) ([]Memory, error) {
	return db.queryMemories(`
		SELECT `+memoryColumns+` FROM memories
		WHERE is_active = 1 AND sector = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY salience DESC
	`, string(s), time.Now().UnixMilli())
}

// SearchContent finds active memories whose content contains the substring,
// case-insensitively.
func (db *DB) SearchContent(substr string, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.ToLower(substr) + "%"
	return db.queryMemories(`
		SELECT `+memoryColumns+` FROM memories
		WHERE is_active = 1 AND LOWER(content) LIKE ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY salience DESC LIMIT ?
	`, pattern, time.Now().UnixMilli(), limit)
}

// SearchByEmbedding scores all active embedded memories against the query
// vector and returns those at or above minScore, ranked descending, capped
// at topK. A plain in-memory cosine scan; the corpus is personal-scale.
func (db *DB) SearchByEmbedding(query []float64, minScore float64, topK int) ([]ScoredMemory, error) {
	if len(query) == 0 || topK <= 0 {
		return nil, nil
	}
	memories, err := db.queryMemories(`
		SELECT `+memoryColumns+` FROM memories
		WHERE is_active = 1 AND embedding IS NOT NULL AND (expires_at IS NULL OR expires_at > ?)
	`, time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}

	var scored []ScoredMemory
	for _, m := range memories {
		sim := Cosine(query, m.Embedding)
		if sim >= minScore {
			scored = append(scored, ScoredMemory{Memory: m, Similarity: sim})
		}
	}
	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// FindBySimHash returns active memories whose fingerprint matches exactly.
func (db *DB) FindBySimHash(hash string) ([]Memory, error) {
	if hash == "" {
		return nil, nil
	}
	return db.queryMemories(`
		SELECT `+memoryColumns+` FROM memories
		WHERE is_active = 1 AND simhash = ?
	`, hash)
}

// FindNearDuplicates scans active fingerprinted memories for those within
// maxDistance Hamming bits of the given fingerprint.
func (db *DB) FindNearDuplicates(hash string, maxDistance int) ([]Memory, error) {
	if hash == "" {
		return nil, nil
	}
	memories, err := db.queryMemories(`
		SELECT ` + memoryColumns + ` FROM memories
		WHERE is_active = 1 AND simhash IS NOT NULL
	`)
	if err != nil {
		return nil, err
	}
	var dupes []Memory
	for _, m := range memories {
		if simhash.HammingDistance(hash, m.SimHash) <= maxDistance {
			dupes = append(dupes, m)
		}
	}
	return dupes, nil
}

// BoostSalience atomically adds boost to a memory's salience, clamped to 1,
// touching last_seen_at and re-anchoring decay at the boosted value. The
// read-modify-write happens inside the UPDATE so concurrent boosts to the
// same id never lose updates.
func (db *DB) BoostSalience(id string, boost float64) error {
	_, err := db.Exec(`
		UPDATE memories SET salience = MIN(1.0, salience + ?),
			anchor_salience = MIN(1.0, salience + ?),
			last_seen_at = ?, updated_at = ?
		WHERE id = ?
	`, boost, boost, time.Now().UnixMilli(), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("boost salience: %w", err)
	}
	return nil
}

// RaiseSalience lifts a memory's salience to the given value if it is
// currently lower. Used by waypoint propagation; never decreases. The anchor
// is lifted alongside, but last_seen_at is not touched, so a propagated bump
// still fades from the memory's own last sighting.
func (db *DB) RaiseSalience(id string, value float64) error {
	_, err := db.Exec(`
		UPDATE memories SET salience = MAX(salience, MIN(1.0, ?)),
			anchor_salience = MAX(anchor_salience, MIN(1.0, ?)),
			updated_at = ?
		WHERE id = ?
	`, value, value, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("raise salience: %w", err)
	}
	return nil
}

// LowerSalience drops a memory's salience to the given value if it is
// currently higher. Used by the decay sweep; never increases, and never
// moves the anchor the sweep decays from.
func (db *DB) LowerSalience(id string, value float64) error {
	_, err := db.Exec(`
		UPDATE memories SET salience = MIN(salience, MAX(0.0, ?)), updated_at = ?
		WHERE id = ?
	`, value, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("lower salience: %w", err)
	}
	return nil
}

// Forget soft-deletes a memory: excluded from retrieval and duplicate
// detection, retained for audit.
func (db *DB) Forget(id string) error {
	_, err := db.Exec(`UPDATE memories SET is_active = 0, updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("forget memory: %w", err)
	}
	return nil
}

// DeleteMemory hard-deletes a memory and its waypoint edges.
func (db *DB) DeleteMemory(id string) error {
	if _, err := db.Exec(`DELETE FROM waypoints WHERE source_id = ? OR target_id = ?`, id, id); err != nil {
		return fmt.Errorf("delete waypoints for %s: %w", id, err)
	}
	if _, err := db.Exec(`DELETE FROM memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	return nil
}

// Clear removes all memories and waypoints.
func (db *DB) Clear() error {
	if _, err := db.Exec(`DELETE FROM waypoints`); err != nil {
		return fmt.Errorf("clear waypoints: %w", err)
	}
	if _, err := db.Exec(`DELETE FROM memories`); err != nil {
		return fmt.Errorf("clear memories: %w", err)
	}
	return nil
}

// CountActive returns the number of active memories.
func (db *DB) CountActive() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM memories WHERE is_active = 1`).Scan(&n)
	return n, err
}

func (db *DB) queryMemories(query string, args ...any) ([]Memory, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var memories []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		memories = append(memories, *m)
	}
	return memories, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var m Memory
	var tags, related string
	var sourceID, sourceApp, embModel, simHash sql.NullString
	var active int
	var expiresAt, lastSeen sql.NullInt64
	var blob []byte
	var sec string
	var createdAt, updatedAt int64

	err := row.Scan(&m.ID, &m.Content, &m.Type, &tags, &m.Confidence, &sourceID, &sourceApp,
		&active, &expiresAt, &related, &blob, &embModel,
		&m.Salience, &m.AnchorSalience, &sec, &simHash, &m.DecayLambda, &lastSeen, &m.Segment,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	m.SourceMemoryID = sourceID.String
	m.SourceApp = sourceApp.String
	m.EmbeddingModel = embModel.String
	m.SimHash = simHash.String
	m.IsActive = active != 0
	m.Sector = sector.Sector(sec)
	m.CreatedAt = time.UnixMilli(createdAt)
	m.UpdatedAt = time.UnixMilli(updatedAt)
	if expiresAt.Valid {
		t := time.UnixMilli(expiresAt.Int64)
		m.ExpiresAt = &t
	}
	if lastSeen.Valid {
		m.LastSeenAt = time.UnixMilli(lastSeen.Int64)
	} else {
		// Rows from before the retrieval columns existed: treat creation
		// as the last sighting.
		m.LastSeenAt = m.CreatedAt
	}
	if m.AnchorSalience == 0 && m.Salience > 0 {
		// Rows from before the anchor column: decay from the stored value.
		m.AnchorSalience = m.Salience
	}
	if len(blob) > 0 {
		m.Embedding = decodeEmbedding(blob)
	}
	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(related), &m.RelatedIDs); err != nil {
		return nil, fmt.Errorf("unmarshal related ids: %w", err)
	}
	return &m, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
