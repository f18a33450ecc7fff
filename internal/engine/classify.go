package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/internal/sector"
	"github.com/engramdev/engram/internal/simhash"
)

// Classifier assigns text to a primary sector plus optional secondaries.
type Classifier interface {
	Classify(ctx context.Context, text string) (sector.Classification, error)
}

// LLMClassifier classifies via a language model, decoding the response
// strictly.
type LLMClassifier struct {
	Client llm.Client
}

func (c *LLMClassifier) Classify(ctx context.Context, text string) (sector.Classification, error) {
	if c.Client == nil {
		return sector.Classification{}, ErrClassifierUnavailable
	}

	var raw struct {
		Primary    string   `json:"primary"`
		Additional []string `json:"additional"`
	}
	if err := llm.CompleteJSON(ctx, c.Client, llm.ClassifyPrompt(text), &raw); err != nil {
		return sector.Classification{}, fmt.Errorf("classify: %w", err)
	}

	primary := sector.Sector(raw.Primary)
	if !sector.Valid(primary) {
		return sector.Classification{}, fmt.Errorf("classify: %w: unknown sector %q", llm.ErrParse, raw.Primary)
	}

	out := sector.Classification{Primary: primary}
	for _, a := range raw.Additional {
		s := sector.Sector(a)
		if sector.Valid(s) && s != primary {
			out.Additional = append(out.Additional, s)
		}
	}
	return out, nil
}

// KeywordClassifier is a deterministic cue-based classifier used when no
// LLM is configured, and as the degrade path when classification fails.
type KeywordClassifier struct{}

var sectorCues = map[sector.Sector][]string{
	sector.Procedural: {"how", "install", "deploy", "configure", "build", "run", "steps", "workflow", "setup", "using"},
	sector.Episodic:   {"yesterday", "today", "last", "happened", "shipped", "met", "during", "week", "ago", "morning"},
	sector.Reflective: {"goal", "want", "plan", "should", "learn", "improve", "next", "hope", "intend"},
	sector.Emotional:  {"feel", "felt", "frustrated", "happy", "annoyed", "love", "hate", "excited", "worried", "stressed"},
}

func (KeywordClassifier) Classify(_ context.Context, text string) (sector.Classification, error) {
	tokens := simhash.Tokenize(strings.ToLower(text))

	// Score every sector before picking, so a sector outscored later in
	// the scan still lands in Additional.
	hits := make(map[sector.Sector]int, len(sector.All))
	for _, s := range sector.All {
		for _, cue := range sectorCues[s] {
			if tokens[cue] {
				hits[s]++
			}
		}
	}

	best := sector.Default
	bestHits := 0
	for _, s := range sector.All {
		if hits[s] > bestHits {
			best, bestHits = s, hits[s]
		}
	}

	out := sector.Classification{Primary: best}
	for _, s := range sector.All {
		if s != best && hits[s] > 0 {
			out.Additional = append(out.Additional, s)
		}
	}
	return out, nil
}
