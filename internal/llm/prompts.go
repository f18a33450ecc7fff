package llm

import (
	"fmt"
	"strings"
)

// ConsolidationPrompt asks the model to classify the relationship between a
// candidate memory and an existing one.
func ConsolidationPrompt(candidate, existing string, existingConfidence float64) string {
	return fmt.Sprintf(`You are a memory consolidation system. A new candidate memory is semantically
similar to an existing stored memory. Decide their relationship.

EXISTING MEMORY (confidence %.2f):
%s

CANDIDATE MEMORY:
%s

Classify the relationship as exactly one of:
- "duplicate": the candidate says nothing the existing memory doesn't already say
- "update": the candidate supersedes the existing memory (facts changed)
- "enrich": the candidate adds detail; the two should merge into one richer memory
- "strengthen": the candidate independently confirms the existing memory
- "separate": they are genuinely different memories

Rules:
- For "enrich", write merged_content combining both without losing information
- For all decisions, set confidence to your assessment of the surviving memory's reliability, in [0,1]
- Return ONLY a JSON object, no other text

Return:
{
  "decision": "duplicate|update|enrich|strengthen|separate",
  "reason": "one sentence",
  "merged_content": "only for enrich, else empty",
  "confidence": 0.0
}`, existingConfidence, existing, candidate)
}

// ClassifyPrompt asks the model to assign a memory or query to a primary
// sector plus optional additional sectors.
func ClassifyPrompt(text string) string {
	return fmt.Sprintf(`Classify this text into one primary memory sector, plus any additional
sectors it also touches.

Sectors:
- semantic: facts, preferences, knowledge ("prefers dark mode")
- procedural: how-to, workflows, techniques ("deploys via GitHub Actions")
- episodic: events, things that happened ("shipped v2 on Tuesday")
- reflective: goals, plans, self-assessment ("wants to learn Rust this year")
- emotional: sentiment, mood, reactions ("frustrated with flaky tests")

TEXT:
%s

Return ONLY a JSON object:
{
  "primary": "semantic|procedural|episodic|reflective|emotional",
  "additional": []
}`, strings.TrimSpace(text))
}
