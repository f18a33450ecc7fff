package salience

import (
	"math"
	"testing"
	"time"

	"github.com/engramdev/engram/internal/sector"
)

func TestDecayedMonotonic(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := math.Inf(1)
	for days := 0; days <= 365; days += 7 {
		now := start.Add(time.Duration(days) * 24 * time.Hour)
		got := Decayed(0.05, 0.9, start, now, 0, 0)
		if got > prev {
			t.Errorf("decay not monotonic at day %d: %f > %f", days, got, prev)
		}
		if got < 0 || got > 1 {
			t.Errorf("decay out of range at day %d: %f", days, got)
		}
		prev = got
	}
}

func TestDecayedFloor(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	farFuture := start.Add(10 * 365 * 24 * time.Hour)
	got := Decayed(0.1, 0.9, start, farFuture, 0, 0)
	if got < Floor-1e-6 {
		t.Errorf("decay fell below floor: %f < %f", got, Floor)
	}
}

func TestDecayedSegmentSlowsDecay(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * 24 * time.Hour)

	plain := Decayed(0.08, 0.9, start, now, 0, 0)
	deep := Decayed(0.08, 0.9, start, now, 3, 4)
	if deep <= plain {
		t.Errorf("segment 3 of 4 should decay slower: %f <= %f", deep, plain)
	}

	// Segment 0 gets no lambda scaling at all.
	first := Decayed(0.08, 0.9, start, now, 0, 4)
	if first != plain {
		t.Errorf("segment 0 salience = %f, want unscaled %f", first, plain)
	}
}

func TestDecayedFinalSegmentDecaysAtBaseRate(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * 24 * time.Hour)

	// The scaling formula would zero lambda at segment == maxSegment and
	// freeze the final segment forever; it is exempt and uses the base rate.
	last := Decayed(0.08, 0.9, start, now, 4, 4)
	plain := Decayed(0.08, 0.9, start, now, 0, 0)
	if last != plain {
		t.Errorf("final segment salience = %f, want base-rate %f", last, plain)
	}
	if last >= 0.9 {
		t.Errorf("final segment did not decay: %f", last)
	}
}

func TestDecayedForSectorUsesBaseLambda(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(60 * 24 * time.Hour)

	episodic := DecayedForSector(sector.Episodic, 0.9, start, now, 0, 0)
	semantic := DecayedForSector(sector.Semantic, 0.9, start, now, 0, 0)
	if episodic >= semantic {
		t.Errorf("episodic should decay faster: %f >= %f", episodic, semantic)
	}
}

func TestRecency(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	fresh := Recency(now, now)
	if fresh < 0.99 {
		t.Errorf("recency of just-seen memory = %f, want ~1", fresh)
	}

	week := Recency(now.Add(-7*24*time.Hour), now)
	if week >= fresh || week <= 0 {
		t.Errorf("week-old recency = %f, want in (0, %f)", week, fresh)
	}

	old := Recency(now.Add(-31*24*time.Hour), now)
	if old != 0 {
		t.Errorf("recency beyond max window = %f, want 0", old)
	}
}

func TestReinforceBounds(t *testing.T) {
	for _, x := range []float64{0, 0.25, 0.5, 0.9, 0.97, 1.0} {
		r := ReinforceOnRetrieval(x)
		if r < x {
			t.Errorf("ReinforceOnRetrieval(%f) = %f, decreased", x, r)
		}
		if r > 1 {
			t.Errorf("ReinforceOnRetrieval(%f) = %f, exceeds 1", x, r)
		}

		d := ReinforceOnDuplicate(x)
		if d < x || d > 1 {
			t.Errorf("ReinforceOnDuplicate(%f) = %f, out of bounds", x, d)
		}
	}
	if ReinforceOnDuplicate(0.5) <= ReinforceOnRetrieval(0.5) {
		t.Error("duplicate boost should exceed retrieval boost")
	}
}

func TestInitial(t *testing.T) {
	base := Initial(sector.Classification{Primary: sector.Semantic})
	if base != 0.5 {
		t.Errorf("Initial with no extra sectors = %f, want 0.5", base)
	}

	multi := Initial(sector.Classification{
		Primary:    sector.Semantic,
		Additional: []sector.Sector{sector.Reflective, sector.Emotional},
	})
	if multi <= base {
		t.Errorf("multi-sector initial %f should exceed base %f", multi, base)
	}
	if multi > 1 {
		t.Errorf("initial %f exceeds 1", multi)
	}
}

func TestShouldPrune(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	// Young memories are never pruned, regardless of salience.
	if ShouldPrune(0.01, now.Add(-2*24*time.Hour), now) {
		t.Error("pruned a memory younger than the grace period")
	}

	// Low salience + old: prune.
	if !ShouldPrune(0.05, now.Add(-60*24*time.Hour), now) {
		t.Error("did not prune an old, faded memory")
	}

	// Old but still salient: keep.
	if ShouldPrune(0.8, now.Add(-60*24*time.Hour), now) {
		t.Error("pruned a salient memory")
	}
}

func TestHybridScoreRange(t *testing.T) {
	w := DefaultWeights()
	inputs := [][6]float64{
		{0, 0, 0, 0, 0, 0},
		{1, 1, 1, 1, 1, 0.15},
		{0.5, 0.2, 0, 0.9, 0, 0.05},
		{-1, 0, 0, 0, 0, 0}, // out-of-range inputs still produce (0,1)
		{5, 2, 2, 2, 2, 2},
	}
	for _, in := range inputs {
		got := HybridScore(w, in[0], in[1], in[2], in[3], in[4], in[5])
		if got <= 0 || got >= 1 {
			t.Errorf("HybridScore(%v) = %f, want in (0,1)", in, got)
		}
	}
}

func TestHybridScorePositiveSignals(t *testing.T) {
	w := DefaultWeights()
	// Any genuinely matching memory scores above the logistic midpoint.
	got := HybridScore(w, 0.8, 0.5, 0, 0.5, 0, 0.1)
	if got <= 0.5 {
		t.Errorf("positive signals scored %f, want > 0.5", got)
	}

	// More similarity means a higher score.
	lo := HybridScore(w, 0.2, 0, 0, 0, 0, 0)
	hi := HybridScore(w, 0.9, 0, 0, 0, 0, 0)
	if hi <= lo {
		t.Errorf("score not increasing in similarity: %f <= %f", hi, lo)
	}
}
