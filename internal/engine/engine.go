package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/internal/salience"
	"github.com/engramdev/engram/internal/sector"
	"github.com/engramdev/engram/internal/store"
)

// Engine wires the store, LLM, embedder and classifier into the two flows
// of the system: ingestion (candidate -> consolidation -> store) and
// retrieval (query -> hybrid search). The flows share salience and graph
// state through the store but never call each other.
type Engine struct {
	DB           *store.DB
	LLM          llm.Client
	Embedder     Embedder
	Classifier   Classifier
	Search       *HybridSearch
	Consolidator *Consolidator

	scheduler *cron.Cron
}

// New creates an Engine. The LLM client may be nil; consolidation then
// degrades to fingerprint-duplicate detection only.
func New(db *store.DB, client llm.Client, emb Embedder, cls Classifier, cacheTTL time.Duration) *Engine {
	return &Engine{
		DB:           db,
		LLM:          client,
		Embedder:     emb,
		Classifier:   cls,
		Search:       NewHybridSearch(db, emb, cls, cacheTTL),
		Consolidator: &Consolidator{DB: db, LLM: client},
	}
}

// waypointNeighborFloor and waypointNeighborCap define the edge-creation
// policy: a newly persisted memory links to its nearest active neighbors
// by embedding proximity, weight = similarity, both directions.
const (
	waypointNeighborFloor = 0.7
	waypointNeighborCap   = 3
)

// Ingest runs the full ingestion flow for one candidate: embed, classify,
// consolidate, and (when the consolidator reports unhandled) persist as a
// new memory plus its waypoint edges. Returns the stored memory when one
// was created, and whether consolidation absorbed the candidate.
func (e *Engine) Ingest(ctx context.Context, cand Candidate) (*store.Memory, bool, error) {
	if cand.Content == "" {
		return nil, false, fmt.Errorf("ingest: empty content")
	}

	if len(cand.Embedding) == 0 && e.Embedder != nil {
		vec, err := e.Embedder.Embed(ctx, cand.Content)
		if err != nil {
			// Ingestion proceeds without a vector; the memory stays
			// reachable through keyword and fingerprint paths.
			log.Printf("ingest: embedding unavailable: %v", err)
		} else {
			cand.Embedding = vec
			cand.EmbeddingModel = e.Embedder.Model()
		}
	}

	classification := sector.Classification{Primary: sector.Default}
	if cand.Sector != "" {
		classification.Primary = cand.Sector
	} else if e.Classifier != nil {
		c, err := e.Classifier.Classify(ctx, cand.Content)
		if err != nil {
			log.Printf("ingest: classification unavailable, using default sector: %v", err)
		} else {
			classification = c
		}
		cand.Sector = classification.Primary
	}
	if cand.Salience == 0 {
		cand.Salience = salience.Initial(classification)
	}

	handled, err := e.Consolidator.Consolidate(ctx, cand)
	if err != nil {
		return nil, false, fmt.Errorf("ingest: %w", err)
	}
	if handled {
		e.Search.InvalidateCache()
		return nil, true, nil
	}
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}

	m := &store.Memory{
		Content:        cand.Content,
		Type:           cand.Type,
		Tags:           cand.Tags,
		Confidence:     cand.Confidence,
		SourceMemoryID: cand.SourceMemoryID,
		SourceApp:      cand.SourceApp,
		IsActive:       true,
		ExpiresAt:      cand.ExpiresAt,
		Embedding:      cand.Embedding,
		EmbeddingModel: cand.EmbeddingModel,
		Sector:         cand.Sector,
		Salience:       cand.Salience,
		Segment:        cand.Segment,
	}
	if err := e.DB.SaveMemory(m); err != nil {
		return nil, false, fmt.Errorf("ingest: %w", err)
	}

	e.linkNeighbors(m)
	e.Search.InvalidateCache()
	return m, false, nil
}

// linkNeighbors writes waypoint edges between a new memory and its nearest
// embedded neighbors. Best-effort: a failed edge write is logged, not fatal.
func (e *Engine) linkNeighbors(m *store.Memory) {
	if len(m.Embedding) == 0 {
		return
	}
	neighbors, err := e.DB.SearchByEmbedding(m.Embedding, waypointNeighborFloor, waypointNeighborCap+1)
	if err != nil {
		log.Printf("ingest: neighbor lookup for %s: %v", m.ID, err)
		return
	}
	linked := 0
	for _, n := range neighbors {
		if n.Memory.ID == m.ID || linked >= waypointNeighborCap {
			continue
		}
		if err := e.DB.UpsertWaypoint(m.ID, n.Memory.ID, n.Similarity); err != nil {
			log.Printf("ingest: waypoint %s->%s: %v", m.ID, n.Memory.ID, err)
			continue
		}
		if err := e.DB.UpsertWaypoint(n.Memory.ID, m.ID, n.Similarity); err != nil {
			log.Printf("ingest: waypoint %s->%s: %v", n.Memory.ID, m.ID, err)
		}
		linked++
	}
}

// StartMaintenance runs the decay sweep immediately and then daily.
func (e *Engine) StartMaintenance() error {
	if err := e.MaintenanceSweep(); err != nil {
		log.Printf("maintenance: %v", err)
	}

	e.scheduler = cron.New()
	if _, err := e.scheduler.AddFunc("@daily", func() {
		if err := e.MaintenanceSweep(); err != nil {
			log.Printf("maintenance: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	e.scheduler.Start()
	return nil
}

// Stop shuts down the maintenance scheduler.
func (e *Engine) Stop() {
	if e.scheduler != nil {
		ctx := e.scheduler.Stop()
		<-ctx.Done()
	}
}

// MaintenanceSweep applies time decay to every active memory's stored
// salience and logs how many have faded into prune candidates. Decay is
// recomputed from each memory's anchor (its salience as of last_seen_at),
// never from the stored value, so repeated sweeps converge instead of
// compounding. Decay only ever lowers salience; a concurrent retrieval
// boost wins.
func (e *Engine) MaintenanceSweep() error {
	memories, err := e.DB.ActiveMemories()
	if err != nil {
		return fmt.Errorf("decay sweep: %w", err)
	}

	// Segment position scales each memory's decay rate; find each
	// capture's segment span first.
	maxSegment := make(map[string]int)
	for _, m := range memories {
		if m.SourceMemoryID != "" && m.Segment > maxSegment[m.SourceMemoryID] {
			maxSegment[m.SourceMemoryID] = m.Segment
		}
	}

	now := time.Now()
	decayed, pruneReady := 0, 0
	for _, m := range memories {
		next := salience.Decayed(m.DecayLambda, m.AnchorSalience, m.LastSeenAt, now, m.Segment, maxSegment[m.SourceMemoryID])
		if next < m.Salience {
			if err := e.DB.LowerSalience(m.ID, next); err != nil {
				return fmt.Errorf("decay %s: %w", m.ID, err)
			}
			decayed++
		}
		if salience.ShouldPrune(next, m.LastSeenAt, now) {
			pruneReady++
		}
	}
	if decayed > 0 || pruneReady > 0 {
		log.Printf("maintenance: decayed %d memories, %d prune candidates", decayed, pruneReady)
	}
	return nil
}

// Prune soft-deletes every active memory the salience model advises
// pruning. Returns the number forgotten. Advisory-only callers can pass
// dryRun to count without mutating.
func (e *Engine) Prune(dryRun bool) (int, error) {
	memories, err := e.DB.ActiveMemories()
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}

	now := time.Now()
	pruned := 0
	for _, m := range memories {
		if !salience.ShouldPrune(m.Salience, m.LastSeenAt, now) {
			continue
		}
		if !dryRun {
			if err := e.DB.Forget(m.ID); err != nil {
				return pruned, fmt.Errorf("prune %s: %w", m.ID, err)
			}
		}
		pruned++
	}
	if pruned > 0 && !dryRun {
		e.Search.InvalidateCache()
	}
	return pruned, nil
}
