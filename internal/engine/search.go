package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/engramdev/engram/internal/salience"
	"github.com/engramdev/engram/internal/sector"
	"github.com/engramdev/engram/internal/simhash"
	"github.com/engramdev/engram/internal/store"
	"github.com/engramdev/engram/internal/waypoint"
)

// Result is a scored search hit. Path is the waypoint chain that led to the
// memory, or just [memory id] for direct vector hits. Signals carries the
// per-signal breakdown when the debug filter flag is set.
type Result struct {
	Memory  store.Memory `json:"memory"`
	Score   float64      `json:"score"`
	Path    []string     `json:"path"`
	Signals *Signals     `json:"signals,omitempty"`
}

// Signals is the per-signal score breakdown for a result.
type Signals struct {
	Similarity     float64 `json:"similarity"`
	SectorAffinity float64 `json:"sector_affinity"`
	TokenOverlap   float64 `json:"token_overlap"`
	Keyword        float64 `json:"keyword"`
	Recency        float64 `json:"recency"`
	TagMatch       float64 `json:"tag_match"`
	Waypoint       float64 `json:"waypoint"`
}

// Filters optionally restricts a search.
type Filters struct {
	Sectors     []sector.Sector // allow-list; empty means all
	MinSalience float64
	After       *time.Time // created-at window
	Before      *time.Time
	Debug       bool
}

const (
	// vectorFloor is the low similarity floor for the wide-net candidate
	// gather; final ranking narrows it.
	vectorFloor = 0.3

	// lowConfidence is the mean-similarity threshold below which the
	// candidate set is widened via waypoint expansion.
	lowConfidence = 0.55

	// keywordWeight caps the raw word-set bonus at 15% of a full signal.
	keywordWeight = 0.15

	// neutralScore is assigned to keyword-fallback results so they share
	// the shape of scored results without pretending to be ranked.
	neutralScore = 0.5

	// coRetrievalBump strengthens the edge between the top two results of
	// a search; co-retrieved memories are associatively linked.
	coRetrievalBump = 0.05
)

// HybridSearch orchestrates classification, embedding, vector search,
// sector-aware scoring, waypoint expansion, ranking, caching, and
// post-retrieval reinforcement.
//
// Search mutates persisted salience as a side effect: every returned result
// is reinforced, so search is not idempotent with respect to stored state.
// It is idempotent with respect to its own return value within the cache
// TTL.
type HybridSearch struct {
	DB         *store.DB
	Embedder   Embedder
	Classifier Classifier
	Weights    salience.Weights

	cache *resultCache
	now   func() time.Time
}

// NewHybridSearch wires a search orchestrator with the given collaborators.
func NewHybridSearch(db *store.DB, emb Embedder, cls Classifier, cacheTTL time.Duration) *HybridSearch {
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}
	return &HybridSearch{
		DB:         db,
		Embedder:   emb,
		Classifier: cls,
		Weights:    salience.DefaultWeights(),
		cache:      newResultCache(cacheTTL, 128),
		now:        time.Now,
	}
}

// Search returns up to limit results ranked by hybrid score descending.
// An empty query returns an empty result with no side effects. Embedding
// failure degrades to keyword search; classifier failure degrades to the
// default sector. A cancelled context skips reinforcement entirely.
func (h *HybridSearch) Search(ctx context.Context, query string, limit int, filters Filters) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	key := cacheKey(query, limit, filters.Sectors)
	if cached := h.cache.get(key); cached != nil {
		return cached, nil
	}

	classification := h.classifyQuery(ctx, query)

	queryVec, err := h.Embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("search: embedding unavailable, keyword fallback: %v", err)
		results, kwErr := h.keywordFallback(query, limit, filters)
		if kwErr != nil {
			return nil, kwErr
		}
		h.cache.put(key, results)
		return results, nil
	}

	type candidate struct {
		mem            store.Memory
		similarity     float64
		waypointWeight float64
		path           []string
	}

	scored, err := h.DB.SearchByEmbedding(queryVec, vectorFloor, 3*limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	candidates := make(map[string]candidate, len(scored))
	var seedIDs []string
	var simSum float64
	for _, s := range scored {
		candidates[s.Memory.ID] = candidate{
			mem:        s.Memory,
			similarity: s.Similarity,
			path:       []string{s.Memory.ID},
		}
		seedIDs = append(seedIDs, s.Memory.ID)
		simSum += s.Similarity
	}

	// Low-confidence vector results widen the net through the waypoint
	// graph, seeded from the direct hits.
	if len(scored) > 0 && simSum/float64(len(scored)) < lowConfidence {
		edges, err := h.DB.AllWaypoints()
		if err != nil {
			return nil, fmt.Errorf("load waypoints: %w", err)
		}
		for _, exp := range waypoint.Expand(seedIDs, edges, 2*limit) {
			if _, ok := candidates[exp.ID]; ok {
				continue
			}
			mem, err := h.DB.GetMemory(exp.ID)
			if err != nil {
				return nil, fmt.Errorf("expand candidate: %w", err)
			}
			if mem == nil || !mem.IsActive {
				continue
			}
			sim := 0.0
			if mem.Embedding != nil {
				sim = store.Cosine(queryVec, mem.Embedding)
			}
			candidates[exp.ID] = candidate{
				mem:            *mem,
				similarity:     sim,
				waypointWeight: exp.Weight,
				path:           exp.Path,
			}
		}
	}

	now := h.now()
	var results []Result
	for _, c := range candidates {
		if !passesFilters(c.mem, filters, now) {
			continue
		}

		affinity := sector.Affinity(classification.Primary, c.mem.Sector)
		adjustedSim := c.similarity * affinity
		overlap := simhash.TokenOverlap(query, c.mem.Content)
		keyword := keywordWeight * wordSetOverlap(query, c.mem.Content)
		recency := salience.Recency(c.mem.LastSeenAt, now)
		tags := tagMatch(query, c.mem.Tags)

		score := salience.HybridScore(h.Weights, adjustedSim, overlap, c.waypointWeight, recency, tags, keyword)

		r := Result{Memory: c.mem, Score: score, Path: c.path}
		if filters.Debug {
			r.Signals = &Signals{
				Similarity:     c.similarity,
				SectorAffinity: affinity,
				TokenOverlap:   overlap,
				Keyword:        keyword,
				Recency:        recency,
				TagMatch:       tags,
				Waypoint:       c.waypointWeight,
			}
		}
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}

	// A cancelled search must not apply partial reinforcement.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err := h.reinforce(results); err != nil {
		return nil, err
	}

	h.cache.put(key, results)
	return results, nil
}

// QuickSearch is a map-only convenience wrapper over Search.
func (h *HybridSearch) QuickSearch(ctx context.Context, query string, limit int) ([]map[string]any, error) {
	results, err := h.Search(ctx, query, limit, Filters{})
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{
			"id":      r.Memory.ID,
			"content": r.Memory.Content,
			"sector":  string(r.Memory.Sector),
			"score":   r.Score,
		})
	}
	return out, nil
}

// ContextForPrompt formats the top-N results as bullet lines for prompt
// injection, or returns "" when nothing matches.
func (h *HybridSearch) ContextForPrompt(ctx context.Context, query string, n int) (string, error) {
	results, err := h.Search(ctx, query, n, Filters{})
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString("Relevant memories:\n")
	for _, r := range results {
		fmt.Fprintf(&b, "- %s\n", r.Memory.Content)
	}
	return b.String(), nil
}

// InvalidateCache drops all cached search results.
func (h *HybridSearch) InvalidateCache() {
	h.cache.purge()
}

func (h *HybridSearch) classifyQuery(ctx context.Context, query string) sector.Classification {
	if h.Classifier == nil {
		return sector.Classification{Primary: sector.Default}
	}
	c, err := h.Classifier.Classify(ctx, query)
	if err != nil {
		log.Printf("search: classification unavailable, using default sector: %v", err)
		return sector.Classification{Primary: sector.Default}
	}
	return c
}

// keywordFallback serves results from substring content search when the
// embedding service is down. Results share the normal shape with a neutral
// fixed score, so callers never branch on which path ran.
func (h *HybridSearch) keywordFallback(query string, limit int, filters Filters) ([]Result, error) {
	memories, err := h.DB.SearchContent(query, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword fallback: %w", err)
	}
	// A multi-word query rarely matches as one substring; retry on the
	// longest token before giving up.
	if len(memories) == 0 {
		if tok := longestToken(query); tok != "" && tok != query {
			memories, err = h.DB.SearchContent(tok, limit)
			if err != nil {
				return nil, fmt.Errorf("keyword fallback: %w", err)
			}
		}
	}

	now := h.now()
	var results []Result
	for _, m := range memories {
		if !passesFilters(m, filters, now) {
			continue
		}
		results = append(results, Result{
			Memory: m,
			Score:  neutralScore,
			Path:   []string{m.ID},
		})
	}
	return results, nil
}

// reinforce boosts every returned result's stored salience, and for
// results reached through a waypoint chain, propagates a smaller
// single-hop reinforcement to their neighbors.
func (h *HybridSearch) reinforce(results []Result) error {
	for _, r := range results {
		if err := h.DB.BoostSalience(r.Memory.ID, salience.RetrievalBoost); err != nil {
			return fmt.Errorf("reinforce %s: %w", r.Memory.ID, err)
		}

		if len(r.Path) <= 1 {
			continue
		}
		outgoing, err := h.DB.WaypointsFrom(r.Memory.ID)
		if err != nil {
			return fmt.Errorf("reinforce neighbors of %s: %w", r.Memory.ID, err)
		}
		if len(outgoing) == 0 {
			continue
		}

		current := make(map[string]float64, len(outgoing))
		for _, e := range outgoing {
			neighbor, err := h.DB.GetMemory(e.Target)
			if err != nil {
				return fmt.Errorf("load neighbor %s: %w", e.Target, err)
			}
			if neighbor != nil && neighbor.IsActive {
				current[e.Target] = neighbor.Salience
			}
		}

		boosted := salience.ReinforceOnRetrieval(r.Memory.Salience)
		for _, u := range waypoint.PropagateReinforcement(r.Memory.ID, boosted, outgoing, current) {
			if err := h.DB.RaiseSalience(u.MemoryID, u.NewSalience); err != nil {
				return fmt.Errorf("propagate to %s: %w", u.MemoryID, err)
			}
		}
	}

	// Co-retrieval links the top two results a little tighter.
	if len(results) >= 2 {
		a, b := results[0].Memory.ID, results[1].Memory.ID
		if err := h.DB.BumpWaypoint(a, b, coRetrievalBump); err != nil {
			log.Printf("search: co-retrieval bump %s->%s: %v", a, b, err)
		}
		if err := h.DB.BumpWaypoint(b, a, coRetrievalBump); err != nil {
			log.Printf("search: co-retrieval bump %s->%s: %v", b, a, err)
		}
	}
	return nil
}

func passesFilters(m store.Memory, f Filters, now time.Time) bool {
	if len(f.Sectors) > 0 {
		ok := false
		for _, s := range f.Sectors {
			if m.Sector == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if m.Salience < f.MinSalience {
		return false
	}
	if f.After != nil && m.CreatedAt.Before(*f.After) {
		return false
	}
	if f.Before != nil && m.CreatedAt.After(*f.Before) {
		return false
	}
	return true
}

// wordSetOverlap is the raw word-set intersection ratio, without the
// tokenizer's stopword filtering: |words(q) ∩ words(c)| / |words(q)|.
func wordSetOverlap(query, content string) float64 {
	qWords := fieldSet(query)
	if len(qWords) == 0 {
		return 0
	}
	cWords := fieldSet(content)
	shared := 0
	for w := range qWords {
		if cWords[w] {
			shared++
		}
	}
	return float64(shared) / float64(len(qWords))
}

func fieldSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[strings.Trim(w, ".,;:!?\"'()")] = true
	}
	delete(set, "")
	return set
}

// tagMatch scores tag hits against the query: an exact token hit counts
// double a substring hit, normalized by tag count.
func tagMatch(query string, tags []string) float64 {
	if len(tags) == 0 {
		return 0
	}
	q := strings.ToLower(query)
	qTokens := fieldSet(query)

	points := 0.0
	for _, tag := range tags {
		t := strings.ToLower(tag)
		switch {
		case qTokens[t]:
			points += 2
		case strings.Contains(q, t):
			points += 1
		}
	}
	return points / (2 * float64(len(tags)))
}

func cacheKey(query string, limit int, sectors []sector.Sector) string {
	names := make([]string, 0, len(sectors))
	for _, s := range sectors {
		names = append(names, string(s))
	}
	sort.Strings(names)
	return fmt.Sprintf("%s|%d|%s", query, limit, strings.Join(names, ","))
}

func longestToken(s string) string {
	best := ""
	for _, w := range strings.Fields(s) {
		if len(w) > len(best) {
			best = w
		}
	}
	return best
}
