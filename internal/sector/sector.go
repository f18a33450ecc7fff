// Package sector defines the fixed set of semantic sectors a memory can
// belong to, and the cross-sector affinity table used to bias relevance
// scoring across topics.
package sector

// Sector is one of the five fixed semantic categories.
type Sector string

const (
	Semantic   Sector = "semantic"   // facts, preferences, knowledge
	Procedural Sector = "procedural" // how-to, workflows, techniques
	Episodic   Sector = "episodic"   // events, things that happened
	Reflective Sector = "reflective" // goals, self-assessment, plans
	Emotional  Sector = "emotional"  // sentiment, mood, reactions
)

// All lists every sector in a stable order.
var All = []Sector{Semantic, Procedural, Episodic, Reflective, Emotional}

// Valid reports whether s is one of the five known sectors.
func Valid(s Sector) bool {
	switch s {
	case Semantic, Procedural, Episodic, Reflective, Emotional:
		return true
	}
	return false
}

// Default is the sector assigned when classification is unavailable.
const Default = Semantic

// Classification is the result of classifying a piece of text.
type Classification struct {
	Primary    Sector
	Additional []Sector
}

// DefaultLambda returns the base decay rate (per day) for a sector.
// Episodic memories fade fastest; semantic knowledge is the most durable.
func DefaultLambda(s Sector) float64 {
	switch s {
	case Episodic:
		return 0.08
	case Emotional:
		return 0.06
	case Reflective:
		return 0.04
	case Procedural:
		return 0.03
	default: // Semantic
		return 0.02
	}
}

// defaultAffinity is the weight applied between any sector pair not listed
// in the affinity table.
const defaultAffinity = 0.3

// affinity holds cross-sector relevance weights for ordered (query, memory)
// sector pairs. Same sector is always 1.0; unlisted pairs fall back to the
// default. The table is symmetric by construction.
var affinity = map[[2]Sector]float64{
	{Semantic, Procedural}:   0.6,
	{Semantic, Reflective}:   0.5,
	{Semantic, Episodic}:     0.4,
	{Procedural, Episodic}:   0.5,
	{Reflective, Emotional}:  0.8,
	{Reflective, Episodic}:   0.6,
	{Emotional, Episodic}:    0.7,
	{Semantic, Emotional}:    0.3,
	{Procedural, Reflective}: 0.4,
}

// Affinity returns the cross-sector relevance weight for a (query sector,
// memory sector) pair: 1.0 for the same sector, a listed weight for related
// pairs, and a constant low weight otherwise.
func Affinity(a, b Sector) float64 {
	if a == b {
		return 1.0
	}
	if w, ok := affinity[[2]Sector{a, b}]; ok {
		return w
	}
	if w, ok := affinity[[2]Sector{b, a}]; ok {
		return w
	}
	return defaultAffinity
}
