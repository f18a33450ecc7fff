package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/internal/salience"
	"github.com/engramdev/engram/internal/sector"
	"github.com/engramdev/engram/internal/simhash"
	"github.com/engramdev/engram/internal/store"
)

// Candidate is an incoming memory awaiting the consolidation decision.
type Candidate struct {
	Content    string
	Type       string
	Tags       []string
	Confidence float64
	ExpiresAt  *time.Time

	SourceMemoryID string
	SourceApp      string

	Embedding      []float64
	EmbeddingModel string

	Sector   sector.Sector
	Salience float64
	Segment  int
}

// Consolidator reconciles an incoming candidate against semantically
// similar existing memories. Callers serialize consolidation per source
// memory; two decisions for the same candidate must never run concurrently.
type Consolidator struct {
	DB  *store.DB
	LLM llm.Client
}

// decision is the strictly decoded consolidation verdict.
type decision struct {
	Decision      string  `json:"decision"`
	Reason        string  `json:"reason"`
	MergedContent string  `json:"merged_content"`
	Confidence    float64 `json:"confidence"`
}

const (
	similarityFloor = 0.8
	maxSimilar      = 5
)

// Consolidate decides whether the candidate duplicates, updates, enriches,
// strengthens, or coexists with an existing memory, and applies the first
// non-separate decision. Returns handled=true when the candidate needs no
// further persistence; handled=false means the caller should save it (as a
// brand-new memory, or as the replacement after an update).
//
// An LLM failure for any candidate propagates to the caller, which decides
// the fallback policy (typically: treat as separate and persist as new).
func (c *Consolidator) Consolidate(ctx context.Context, cand Candidate) (bool, error) {
	if cand.Content == "" {
		return false, fmt.Errorf("consolidate: empty candidate content")
	}

	// Fast path: a fingerprint near-duplicate is redundant without asking
	// the model. The duplicate confirmation still strengthens the
	// original.
	fingerprint := simhash.Fingerprint(cand.Content)
	dupes, err := c.DB.FindNearDuplicates(fingerprint, simhash.NearDuplicateThreshold)
	if err != nil {
		return false, fmt.Errorf("near-duplicate lookup: %w", err)
	}
	if len(dupes) > 0 {
		if err := c.DB.BoostSalience(dupes[0].ID, salience.DuplicateBoost); err != nil {
			return false, err
		}
		log.Printf("consolidate: candidate is a fingerprint duplicate of %s", dupes[0].ID)
		return true, nil
	}

	if len(cand.Embedding) == 0 {
		// No embedding, no semantic neighbors to compare against.
		return false, nil
	}

	similar, err := c.DB.SearchByEmbedding(cand.Embedding, similarityFloor, maxSimilar)
	if err != nil {
		return false, fmt.Errorf("similar lookup: %w", err)
	}
	if len(similar) == 0 || c.LLM == nil {
		return false, nil
	}

	for _, s := range similar {
		existing := s.Memory

		var d decision
		prompt := llm.ConsolidationPrompt(cand.Content, existing.Content, existing.Confidence)
		if err := llm.CompleteJSON(ctx, c.LLM, prompt, &d); err != nil {
			return false, fmt.Errorf("consolidation decision for %s: %w", existing.ID, err)
		}

		switch d.Decision {
		case "separate":
			continue
		case "duplicate":
			if err := c.DB.BoostSalience(existing.ID, salience.DuplicateBoost); err != nil {
				return false, err
			}
			log.Printf("consolidate: duplicate of %s (%s)", existing.ID, d.Reason)
			return true, nil
		case "update":
			// The candidate supersedes this memory; the caller persists
			// it as the replacement.
			if err := c.DB.Forget(existing.ID); err != nil {
				return false, err
			}
			log.Printf("consolidate: %s superseded (%s)", existing.ID, d.Reason)
			return false, nil
		case "enrich":
			if d.MergedContent == "" {
				return false, fmt.Errorf("enrich decision for %s: %w: empty merged_content", existing.ID, llm.ErrParse)
			}
			merged := existing
			merged.Content = d.MergedContent
			merged.SimHash = simhash.Fingerprint(d.MergedContent)
			merged.Tags = unionTags(existing.Tags, cand.Tags)
			merged.Confidence = salience.Clamp(d.Confidence)
			merged.RelatedIDs = appendUnique(existing.RelatedIDs, existing.ID)
			merged.Embedding = cand.Embedding
			merged.EmbeddingModel = cand.EmbeddingModel
			// One atomic replace under the existing id: the original row
			// is never gone before its successor lands.
			if err := c.DB.SaveMemory(&merged); err != nil {
				return false, err
			}
			if err := c.DB.BoostSalience(merged.ID, salience.DuplicateBoost); err != nil {
				return false, err
			}
			log.Printf("consolidate: enriched %s (%s)", existing.ID, d.Reason)
			return true, nil
		case "strengthen":
			stronger := existing
			stronger.Confidence = salience.Clamp(d.Confidence)
			if err := c.DB.SaveMemory(&stronger); err != nil {
				return false, err
			}
			if err := c.DB.BoostSalience(stronger.ID, salience.DuplicateBoost); err != nil {
				return false, err
			}
			log.Printf("consolidate: strengthened %s (%s)", existing.ID, d.Reason)
			return true, nil
		default:
			return false, fmt.Errorf("consolidation decision for %s: %w: unknown decision %q", existing.ID, llm.ErrParse, d.Decision)
		}
	}

	// Every neighbor came back separate; the candidate stands on its own.
	return false, nil
}

func unionTags(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, t := range append(append([]string{}, a...), b...) {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(append([]string{}, ids...), id)
}
