// Package waypoint implements associative expansion and reinforcement
// propagation over a weighted directed graph of memory IDs. It operates
// purely on data passed in — no store access — so the traversal logic is
// independently testable.
package waypoint

import (
	"sort"
	"time"

	"github.com/engramdev/engram/internal/salience"
)

// Edge is a directed, weighted link between two memories: retrieving the
// source makes the target relevant too. Weight is in (0,1].
type Edge struct {
	Source    string
	Target    string
	Weight    float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expansion is a memory surfaced by graph traversal, with the product of
// edge weights along the discovered path and the path itself (seed first).
type Expansion struct {
	ID     string
	Weight float64
	Path   []string
}

// SalienceUpdate is a proposed new salience for a neighbor memory.
type SalienceUpdate struct {
	MemoryID    string
	NewSalience float64
}

// propagationFactor damps how much of a reinforcement event spills over to
// neighbors; a hop should always be weaker than the event itself.
const propagationFactor = 0.5

// Expand surfaces memories reachable from the seed set by following
// outgoing edges best-first. The weight of an expanded node is the product
// of edge weights along its path, so confidence decays with distance. At
// most maxExpansion new nodes are returned, ordered by weight descending
// with ties broken by shorter path. Seed nodes are never re-added.
func Expand(seedIDs []string, edges []Edge, maxExpansion int) []Expansion {
	if len(seedIDs) == 0 || len(edges) == 0 || maxExpansion <= 0 {
		return nil
	}

	adj := make(map[string][]Edge)
	for _, e := range edges {
		if e.Weight <= 0 || e.Source == e.Target {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e)
	}

	seeds := make(map[string]bool, len(seedIDs))
	for _, id := range seedIDs {
		seeds[id] = true
	}

	type candidate struct {
		id     string
		weight float64
		path   []string
	}

	var frontier []candidate
	for _, id := range seedIDs {
		frontier = append(frontier, candidate{id: id, weight: 1.0, path: []string{id}})
	}

	// Edge weights never exceed 1, so cumulative weights only shrink along
	// a path. Popping the heaviest candidate first therefore settles each
	// node at its best achievable weight, Dijkstra-style.
	best := make(map[string]candidate)
	settled := make(map[string]bool)

	for len(frontier) > 0 {
		sort.Slice(frontier, func(i, j int) bool {
			if frontier[i].weight != frontier[j].weight {
				return frontier[i].weight > frontier[j].weight
			}
			return len(frontier[i].path) < len(frontier[j].path)
		})
		cur := frontier[0]
		frontier = frontier[1:]

		if settled[cur.id] {
			continue
		}
		settled[cur.id] = true

		for _, e := range adj[cur.id] {
			if seeds[e.Target] || settled[e.Target] {
				continue
			}
			w := cur.weight * e.Weight
			prev, seen := best[e.Target]
			if seen && (prev.weight > w || (prev.weight == w && len(prev.path) <= len(cur.path)+1)) {
				continue
			}
			path := make([]string, len(cur.path)+1)
			copy(path, cur.path)
			path[len(cur.path)] = e.Target
			next := candidate{id: e.Target, weight: w, path: path}
			best[e.Target] = next
			frontier = append(frontier, next)
		}
	}

	results := make([]Expansion, 0, len(best))
	for _, c := range best {
		results = append(results, Expansion{ID: c.id, Weight: c.weight, Path: c.path})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Weight != results[j].Weight {
			return results[i].Weight > results[j].Weight
		}
		if len(results[i].Path) != len(results[j].Path) {
			return len(results[i].Path) < len(results[j].Path)
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > maxExpansion {
		results = results[:maxExpansion]
	}
	return results
}

// PropagateReinforcement nudges each direct neighbor's salience toward the
// reinforced source's salience, scaled by edge weight and damped. Strictly
// single-hop: one reinforcement event never cascades further, which bounds
// the work done on a densely connected graph. Neighbors absent from
// currentSaliences are skipped; only increases are returned.
func PropagateReinforcement(sourceID string, sourceSalience float64, outgoing []Edge, currentSaliences map[string]float64) []SalienceUpdate {
	var updates []SalienceUpdate
	seen := make(map[string]bool)
	for _, e := range outgoing {
		if e.Source != sourceID || e.Target == sourceID || seen[e.Target] {
			continue
		}
		seen[e.Target] = true

		cur, ok := currentSaliences[e.Target]
		if !ok {
			continue
		}
		delta := sourceSalience - cur
		if delta <= 0 {
			continue
		}
		next := salience.Clamp(cur + e.Weight*delta*propagationFactor)
		if next > cur {
			updates = append(updates, SalienceUpdate{MemoryID: e.Target, NewSalience: next})
		}
	}
	return updates
}
