package store

import (
	"sync"
	"testing"
	"time"

	"github.com/engramdev/engram/internal/sector"
	"github.com/engramdev/engram/internal/simhash"
)

func seedMemory(t *testing.T, db *DB, content string, sec sector.Sector) *Memory {
	t.Helper()
	m := &Memory{
		Content:  content,
		Type:     "fact",
		IsActive: true,
		Sector:   sec,
		Salience: 0.5,
	}
	if err := db.SaveMemory(m); err != nil {
		t.Fatalf("SaveMemory(%q): %v", content, err)
	}
	return m
}

func TestSaveMemoryDefaults(t *testing.T) {
	db := testDB(t)
	m := seedMemory(t, db, "User prefers dark mode in the editor", sector.Semantic)

	if m.ID == "" {
		t.Error("ID not assigned")
	}
	if m.SimHash != simhash.Fingerprint(m.Content) {
		t.Errorf("SimHash = %q, want fingerprint of content", m.SimHash)
	}
	if m.DecayLambda != sector.DefaultLambda(sector.Semantic) {
		t.Errorf("DecayLambda = %f, want sector default", m.DecayLambda)
	}
	if m.CreatedAt.IsZero() || m.LastSeenAt.IsZero() {
		t.Error("timestamps not set")
	}

	got, err := db.GetMemory(m.ID)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got == nil || got.Content != m.Content {
		t.Fatalf("round trip failed: %+v", got)
	}
	if len(got.Tags) != 0 {
		t.Errorf("Tags = %v, want empty", got.Tags)
	}
}

func TestSaveMemoryUpsertReplacesInPlace(t *testing.T) {
	db := testDB(t)
	m := seedMemory(t, db, "original content", sector.Semantic)
	created := m.CreatedAt

	m.Content = "merged richer content"
	m.Tags = []string{"ui", "preference"}
	m.Confidence = 0.95
	if err := db.SaveMemory(m); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := db.GetMemory(m.ID)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.Content != "merged richer content" {
		t.Errorf("content = %q, not replaced", got.Content)
	}
	if !got.CreatedAt.Equal(created.Truncate(time.Millisecond)) {
		t.Errorf("created at changed: %v -> %v", created, got.CreatedAt)
	}

	n, _ := db.CountActive()
	if n != 1 {
		t.Errorf("active count = %d after upsert, want 1", n)
	}
}

func TestSaveMemoryEmbeddingInvariant(t *testing.T) {
	db := testDB(t)
	m := &Memory{Content: "x", Type: "fact", IsActive: true, Embedding: []float64{1, 0}}
	if err := db.SaveMemory(m); err == nil {
		t.Error("expected error for embedding without model")
	}

	m.EmbeddingModel = "test-model"
	if err := db.SaveMemory(m); err != nil {
		t.Fatalf("SaveMemory with model: %v", err)
	}
	got, _ := db.GetMemory(m.ID)
	if len(got.Embedding) != 2 || got.EmbeddingModel != "test-model" {
		t.Errorf("embedding round trip failed: %v %q", got.Embedding, got.EmbeddingModel)
	}
}

func TestGetMemoryMissing(t *testing.T) {
	db := testDB(t)
	got, err := db.GetMemory("nope")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing id, got %+v", got)
	}
}

func TestForgetExcludesFromRetrieval(t *testing.T) {
	db := testDB(t)
	m := seedMemory(t, db, "User prefers dark mode", sector.Semantic)
	seedMemory(t, db, "User works in the evenings", sector.Episodic)

	if err := db.Forget(m.ID); err != nil {
		t.Fatalf("Forget: %v", err)
	}

	active, err := db.ActiveMemories()
	if err != nil {
		t.Fatalf("ActiveMemories: %v", err)
	}
	for _, a := range active {
		if a.ID == m.ID {
			t.Error("forgotten memory still active")
		}
	}

	// Excluded from substring search and duplicate detection too.
	found, _ := db.SearchContent("dark mode", 10)
	if len(found) != 0 {
		t.Errorf("forgotten memory surfaced in content search: %v", found)
	}
	dupes, _ := db.FindBySimHash(m.SimHash)
	if len(dupes) != 0 {
		t.Errorf("forgotten memory surfaced in simhash lookup: %v", dupes)
	}

	// But still fetchable by id for audit.
	got, _ := db.GetMemory(m.ID)
	if got == nil || got.IsActive {
		t.Error("forgotten memory should remain readable with is_active=false")
	}
}

func TestExpiredExcluded(t *testing.T) {
	db := testDB(t)
	past := time.Now().Add(-time.Hour)
	m := &Memory{Content: "ephemeral note", Type: "fact", IsActive: true, ExpiresAt: &past}
	if err := db.SaveMemory(m); err != nil {
		t.Fatalf("SaveMemory: %v", err)
	}

	active, _ := db.ActiveMemories()
	if len(active) != 0 {
		t.Errorf("expired memory still retrievable: %v", active)
	}
}

func TestSearchContentCaseInsensitive(t *testing.T) {
	db := testDB(t)
	seedMemory(t, db, "Deploys with GitHub Actions on merge", sector.Procedural)

	found, err := db.SearchContent("github actions", 10)
	if err != nil {
		t.Fatalf("SearchContent: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("found %d results, want 1", len(found))
	}
}

func TestSearchByEmbedding(t *testing.T) {
	db := testDB(t)

	vecs := map[string][]float64{
		"close":     {1, 0.1, 0},
		"closer":    {1, 0, 0},
		"unrelated": {0, 0, 1},
	}
	for name, v := range vecs {
		m := &Memory{Content: name, Type: "fact", IsActive: true,
			Embedding: v, EmbeddingModel: "test"}
		if err := db.SaveMemory(m); err != nil {
			t.Fatalf("SaveMemory(%s): %v", name, err)
		}
	}

	query := []float64{1, 0, 0}
	scored, err := db.SearchByEmbedding(query, 0.5, 10)
	if err != nil {
		t.Fatalf("SearchByEmbedding: %v", err)
	}
	if len(scored) != 2 {
		t.Fatalf("got %d results, want 2 above floor", len(scored))
	}
	if scored[0].Memory.Content != "closer" {
		t.Errorf("top result = %q, want closer", scored[0].Memory.Content)
	}
	for i := 1; i < len(scored); i++ {
		if scored[i].Similarity > scored[i-1].Similarity {
			t.Error("results not ranked by similarity descending")
		}
	}

	// topK cap
	capped, _ := db.SearchByEmbedding(query, 0.0, 1)
	if len(capped) != 1 {
		t.Errorf("topK cap ignored: got %d", len(capped))
	}
}

func TestFindNearDuplicates(t *testing.T) {
	db := testDB(t)
	a := seedMemory(t, db, "User prefers dark mode and compact layouts in the editor window", sector.Semantic)
	seedMemory(t, db, "Deployed the billing service to the production cluster yesterday", sector.Episodic)

	nearHash := simhash.Fingerprint("User prefers dark mode and compact layouts in the editor region")
	dupes, err := db.FindNearDuplicates(nearHash, simhash.NearDuplicateThreshold)
	if err != nil {
		t.Fatalf("FindNearDuplicates: %v", err)
	}
	if len(dupes) != 1 || dupes[0].ID != a.ID {
		t.Errorf("near duplicates = %v, want just %s", dupes, a.ID)
	}
}

func TestBoostSalienceClamped(t *testing.T) {
	db := testDB(t)
	m := seedMemory(t, db, "important fact", sector.Semantic)
	before := m.LastSeenAt

	for i := 0; i < 20; i++ {
		if err := db.BoostSalience(m.ID, 0.08); err != nil {
			t.Fatalf("BoostSalience: %v", err)
		}
	}

	got, _ := db.GetMemory(m.ID)
	if got.Salience != 1.0 {
		t.Errorf("salience = %f after repeated boosts, want clamped 1.0", got.Salience)
	}
	// Stored at millisecond resolution; compare at that granularity.
	if got.LastSeenAt.Before(before.Truncate(time.Millisecond)) {
		t.Error("last_seen_at not touched by boost")
	}
}

func TestNewIDConcurrent(t *testing.T) {
	const workers, perWorker = 8, 200
	ids := make(chan string, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				ids <- NewID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, workers*perWorker)
	for id := range ids {
		if len(id) != 26 {
			t.Fatalf("id %q, want 26 chars", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestSalienceAnchorFollowsReinforcement(t *testing.T) {
	db := testDB(t)
	m := seedMemory(t, db, "fact", sector.Semantic) // salience 0.5

	if m.AnchorSalience != 0.5 {
		t.Fatalf("anchor = %f on save, want salience 0.5", m.AnchorSalience)
	}

	// A boost moves the anchor with the salience; decay restarts there.
	if err := db.BoostSalience(m.ID, 0.08); err != nil {
		t.Fatalf("BoostSalience: %v", err)
	}
	got, _ := db.GetMemory(m.ID)
	if got.Salience != 0.58 || got.AnchorSalience != 0.58 {
		t.Errorf("after boost salience/anchor = %f/%f, want 0.58/0.58",
			got.Salience, got.AnchorSalience)
	}

	// The decay sweep's lowering leaves the anchor where the last
	// reinforcement put it.
	if err := db.LowerSalience(m.ID, 0.3); err != nil {
		t.Fatalf("LowerSalience: %v", err)
	}
	got, _ = db.GetMemory(m.ID)
	if got.Salience != 0.3 || got.AnchorSalience != 0.58 {
		t.Errorf("after lower salience/anchor = %f/%f, want 0.3/0.58",
			got.Salience, got.AnchorSalience)
	}

	// Propagation lifts the anchor too, but only upward.
	if err := db.RaiseSalience(m.ID, 0.7); err != nil {
		t.Fatalf("RaiseSalience: %v", err)
	}
	got, _ = db.GetMemory(m.ID)
	if got.Salience != 0.7 || got.AnchorSalience != 0.7 {
		t.Errorf("after raise salience/anchor = %f/%f, want 0.7/0.7",
			got.Salience, got.AnchorSalience)
	}
}

func TestRaiseAndLowerSalience(t *testing.T) {
	db := testDB(t)
	m := seedMemory(t, db, "fact", sector.Semantic) // salience 0.5

	// Raise never decreases.
	if err := db.RaiseSalience(m.ID, 0.3); err != nil {
		t.Fatalf("RaiseSalience: %v", err)
	}
	got, _ := db.GetMemory(m.ID)
	if got.Salience != 0.5 {
		t.Errorf("raise lowered salience to %f", got.Salience)
	}
	db.RaiseSalience(m.ID, 0.8)
	got, _ = db.GetMemory(m.ID)
	if got.Salience != 0.8 {
		t.Errorf("salience = %f, want 0.8", got.Salience)
	}

	// Lower never increases.
	db.LowerSalience(m.ID, 0.9)
	got, _ = db.GetMemory(m.ID)
	if got.Salience != 0.8 {
		t.Errorf("lower raised salience to %f", got.Salience)
	}
	db.LowerSalience(m.ID, 0.2)
	got, _ = db.GetMemory(m.ID)
	if got.Salience != 0.2 {
		t.Errorf("salience = %f, want 0.2", got.Salience)
	}
}

func TestDeleteMemoryRemovesEdges(t *testing.T) {
	db := testDB(t)
	a := seedMemory(t, db, "a", sector.Semantic)
	b := seedMemory(t, db, "b", sector.Semantic)
	if err := db.UpsertWaypoint(a.ID, b.ID, 0.5); err != nil {
		t.Fatalf("UpsertWaypoint: %v", err)
	}

	if err := db.DeleteMemory(a.ID); err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	edges, _ := db.AllWaypoints()
	if len(edges) != 0 {
		t.Errorf("edges survived hard delete: %v", edges)
	}
	got, _ := db.GetMemory(a.ID)
	if got != nil {
		t.Error("memory survived hard delete")
	}
}

func TestMemoriesBySector(t *testing.T) {
	db := testDB(t)
	seedMemory(t, db, "a semantic fact", sector.Semantic)
	seedMemory(t, db, "a procedural step", sector.Procedural)

	got, err := db.MemoriesBySector(sector.Procedural)
	if err != nil {
		t.Fatalf("MemoriesBySector: %v", err)
	}
	if len(got) != 1 || got[0].Sector != sector.Procedural {
		t.Errorf("got %v, want one procedural memory", got)
	}
}

func TestCollectStats(t *testing.T) {
	db := testDB(t)
	a := seedMemory(t, db, "a", sector.Semantic)
	b := seedMemory(t, db, "b", sector.Episodic)
	db.UpsertWaypoint(a.ID, b.ID, 0.4)
	db.Forget(b.ID)

	s, err := db.CollectStats()
	if err != nil {
		t.Fatalf("CollectStats: %v", err)
	}
	if s.TotalMemories != 2 || s.ActiveMemories != 1 {
		t.Errorf("counts = %d/%d, want 2 total 1 active", s.TotalMemories, s.ActiveMemories)
	}
	if s.Waypoints != 1 {
		t.Errorf("waypoints = %d, want 1", s.Waypoints)
	}
	if s.BySector["semantic"] != 1 {
		t.Errorf("sector counts = %v", s.BySector)
	}
	if s.SalienceBuckets["mid"] != 1 {
		t.Errorf("salience buckets = %v", s.SalienceBuckets)
	}
}
