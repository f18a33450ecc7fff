// Package salience holds the pure scoring math of the memory engine:
// time decay, recency, reinforcement boosts, and the hybrid score blend.
// Every function is total over its numeric domain and stateless; callers
// pass the clock in so results are reproducible.
package salience

import (
	"math"
	"time"

	"github.com/engramdev/engram/internal/sector"
)

const (
	// Floor is the irreducible salience a memory asymptotically decays
	// toward. Decay never drives a memory all the way to zero.
	Floor = 0.15

	// RetrievalBoost is the saturating-add applied when a memory is
	// returned by search.
	RetrievalBoost = 0.08

	// DuplicateBoost is the saturating-add applied when a candidate is
	// confirmed as a duplicate of an existing memory. An explicit
	// duplicate is stronger evidence of importance than a retrieval hit.
	DuplicateBoost = 0.18

	initialBase        = 0.5
	initialSectorBonus = 0.1

	recencyHalfDays = 7.0
	recencyMaxDays  = 30.0

	pruneLowWater = 0.15
	pruneMinAge   = 30 * 24 * time.Hour
	pruneGrace    = 7 * 24 * time.Hour

	// similarityTau compresses raw cosine similarity before blending;
	// untransformed cosine is overweighted at the low end.
	similarityTau = 3.0
)

// Weights holds the relative contribution of each signal to the hybrid
// score. Sums need not equal 1; the blend passes through a logistic.
type Weights struct {
	Similarity   float64
	TokenOverlap float64
	Waypoint     float64
	Recency      float64
	TagMatch     float64
}

// DefaultWeights returns the standard scoring weights.
func DefaultWeights() Weights {
	return Weights{
		Similarity:   1.6,
		TokenOverlap: 0.8,
		Waypoint:     0.6,
		Recency:      0.5,
		TagMatch:     0.4,
	}
}

// Decayed computes current salience from exponential decay plus the
// reinforcement floor: initial*e^(-λd) + Floor*(1-e^(-λd)). Lambda is the
// per-memory decay rate, scaled down by segment position within a
// multi-segment capture (λ *= 1 - sqrt(segment/maxSegment)), so segments
// deeper into a capture fade slower. The final segment (segment ==
// maxSegment) is exempt from the scaling: the formula would zero its
// lambda and make it immortal, so it decays at the base rate instead.
// Result is clamped to [0,1].
func Decayed(lambda, initial float64, lastSeen, now time.Time, segment, maxSegment int) float64 {
	days := now.Sub(lastSeen).Hours() / 24
	if days < 0 {
		days = 0
	}
	if maxSegment > 0 && segment >= 0 && segment < maxSegment {
		lambda *= 1 - math.Sqrt(float64(segment)/float64(maxSegment))
	}
	if lambda < 0 {
		lambda = 0
	}
	e := math.Exp(-lambda * days)
	return Clamp(initial*e + Floor*(1-e))
}

// DecayedForSector is Decayed with the sector's base decay rate.
func DecayedForSector(s sector.Sector, initial float64, lastSeen, now time.Time, segment, maxSegment int) float64 {
	return Decayed(sector.DefaultLambda(s), initial, lastSeen, now, segment, maxSegment)
}

// Recency returns a bounded recency multiplier in [0,1] used purely for
// ranking, never for mutating stored salience. Zero beyond the max window.
func Recency(lastSeen, now time.Time) float64 {
	days := now.Sub(lastSeen).Hours() / 24
	if days < 0 {
		days = 0
	}
	frac := days / recencyMaxDays
	if frac > 1 {
		frac = 1
	}
	return math.Exp(-days/recencyHalfDays) * (1 - frac)
}

// ReinforceOnRetrieval bumps salience for a retrieval hit, saturating at 1.
func ReinforceOnRetrieval(current float64) float64 {
	return math.Min(1, current+RetrievalBoost)
}

// ReinforceOnDuplicate bumps salience for a confirmed duplicate, saturating at 1.
func ReinforceOnDuplicate(current float64) float64 {
	return math.Min(1, current+DuplicateBoost)
}

// Initial computes starting salience from a classification. Memories
// relevant to multiple sectors start more salient.
func Initial(c sector.Classification) float64 {
	return Clamp(initialBase + initialSectorBonus*float64(len(c.Additional)))
}

// ShouldPrune advises whether a memory is a prune candidate: never within
// the first week of life, otherwise only when salience has sunk below the
// low-water mark and the memory hasn't been seen in over a month. Callers
// decide whether to act.
func ShouldPrune(salience float64, lastSeen, now time.Time) bool {
	age := now.Sub(lastSeen)
	if age < pruneGrace {
		return false
	}
	return salience < pruneLowWater && age > pruneMinAge
}

// HybridScore blends the retrieval signals into a single score in (0,1).
// Similarity is first saturated (1 - e^(-τ·sim)) to compress its range,
// the weighted signals are summed along with the raw keyword bonus, and
// the sum passes through a logistic so partial-signal results remain
// comparable across queries.
func HybridScore(w Weights, similarity, tokenOverlap, waypointWeight, recency, tagMatch, keywordScore float64) float64 {
	saturated := 1 - math.Exp(-similarityTau*similarity)
	x := w.Similarity*saturated +
		w.TokenOverlap*tokenOverlap +
		w.Waypoint*waypointWeight +
		w.Recency*recency +
		w.TagMatch*tagMatch +
		keywordScore
	return 1 / (1 + math.Exp(-x))
}

// Clamp bounds v to [0,1].
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
