/*
graph.go - First-class dependency graph for derived indicators

PURPOSE:
  Maintains, for every derived indicator, the set of base indicators its
  formula reads, plus the reverse index ("who depends on X"). This is
  explicit state rather than something re-derived by scanning formulas:
  propagation needs a consistent topological view, permission checks
  need transitive base sets, and formula edits need a cycle check that
  runs before any state is mutated.

LOCKING DISCIPLINE:
  A formula edit (SetEdges/Remove) takes the write lock. Propagation
  computes its affected set under the read lock, so it always observes a
  consistent snapshot of the edge sets and never a definition mid-edit.

TRAVERSAL:
  TransitiveDependents returns the affected subgraph in dependency
  order: a base is recomputed before anything depending on it, and each
  node appears exactly once even when reachable via multiple paths
  (diamond dependencies).

SEE ALSO:
  - engine.go: Propagation walks TransitiveDependents
  - access.go: Transitive permission checks walk TransitiveBases
*/
package core

import (
	"sort"
	"sync"
)

// =============================================================================
// GRAPH
// =============================================================================

type Graph struct {
	mu         sync.RWMutex
	bases      map[IndicatorID]map[IndicatorID]struct{} // derived -> its bases
	dependents map[IndicatorID]map[IndicatorID]struct{} // base -> deriveds reading it
}

func NewGraph() *Graph {
	return &Graph{
		bases:      make(map[IndicatorID]map[IndicatorID]struct{}),
		dependents: make(map[IndicatorID]map[IndicatorID]struct{}),
	}
}

// SetEdges atomically replaces the base set of a derived indicator.
// If the new set would make derived transitively depend on itself, the
// call fails with a CycleError and no state is mutated.
func (g *Graph) SetEdges(derived IndicatorID, baseIDs []IndicatorID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, b := range baseIDs {
		if b == derived {
			return &CycleError{IndicatorID: derived, Through: b}
		}
		// A cycle exists iff some new base already (transitively)
		// depends on derived. Walk base edges upward from b.
		if g.reachesLocked(b, derived) {
			return &CycleError{IndicatorID: derived, Through: b}
		}
	}

	g.removeEdgesLocked(derived)
	if len(baseIDs) > 0 {
		set := make(map[IndicatorID]struct{}, len(baseIDs))
		for _, b := range baseIDs {
			set[b] = struct{}{}
			if g.dependents[b] == nil {
				g.dependents[b] = make(map[IndicatorID]struct{})
			}
			g.dependents[b][derived] = struct{}{}
		}
		g.bases[derived] = set
	}
	return nil
}

// Remove drops an indicator from the graph entirely: its own base edges
// and its appearances as a base of others.
func (g *Graph) Remove(id IndicatorID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.removeEdgesLocked(id)
	for d := range g.dependents[id] {
		delete(g.bases[d], id)
	}
	delete(g.dependents, id)
}

// Rebuild resets the graph from stored definitions, e.g. at startup.
func (g *Graph) Rebuild(defs []*DerivedDefinition) error {
	g.mu.Lock()
	g.bases = make(map[IndicatorID]map[IndicatorID]struct{})
	g.dependents = make(map[IndicatorID]map[IndicatorID]struct{})
	g.mu.Unlock()

	for _, def := range defs {
		if err := g.SetEdges(def.IndicatorID, def.BaseIDs); err != nil {
			return err
		}
	}
	return nil
}

// Bases returns the direct base set of a derived indicator.
func (g *Graph) Bases(id IndicatorID) []IndicatorID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.bases[id])
}

// TransitiveBases returns every indicator the given one reads, directly
// or through other derived indicators.
func (g *Graph) TransitiveBases(id IndicatorID) []IndicatorID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := map[IndicatorID]struct{}{}
	var walk func(IndicatorID)
	walk = func(n IndicatorID) {
		for b := range g.bases[n] {
			if _, ok := seen[b]; ok {
				continue
			}
			seen[b] = struct{}{}
			walk(b)
		}
	}
	walk(id)
	return sortedKeys(seen)
}

// Dependents returns the derived indicators directly reading base.
func (g *Graph) Dependents(base IndicatorID) []IndicatorID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.dependents[base])
}

// HasDependents reports whether any derived indicator reads id. Used to
// reject deletion of an indicator that is still a dependency.
func (g *Graph) HasDependents(id IndicatorID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.dependents[id]) > 0
}

// TransitiveDependents returns every derived indicator affected by a
// change to root, in dependency order. Each node appears once; ties
// between independent branches resolve by ID for determinism. The
// entire computation runs under the read lock, so the result is a
// consistent snapshot of the edge sets.
func (g *Graph) TransitiveDependents(root IndicatorID) []IndicatorID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// Collect the affected subgraph.
	reach := map[IndicatorID]struct{}{}
	stack := []IndicatorID{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for d := range g.dependents[n] {
			if _, ok := reach[d]; ok {
				continue
			}
			reach[d] = struct{}{}
			stack = append(stack, d)
		}
	}
	if len(reach) == 0 {
		return nil
	}

	// Kahn's algorithm restricted to {root} + reach.
	indeg := make(map[IndicatorID]int, len(reach))
	for n := range reach {
		for b := range g.bases[n] {
			if b == root {
				indeg[n]++
				continue
			}
			if _, ok := reach[b]; ok {
				indeg[n]++
			}
		}
	}

	var ready []IndicatorID
	release := func(n IndicatorID) {
		for d := range g.dependents[n] {
			if _, ok := reach[d]; !ok {
				continue
			}
			indeg[d]--
			if indeg[d] == 0 {
				ready = append(ready, d)
			}
		}
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
	}

	release(root)
	order := make([]IndicatorID, 0, len(reach))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		release(n)
	}
	return order
}

// =============================================================================
// INTERNAL
// =============================================================================

// reachesLocked reports whether target is reachable from start by
// following base edges (start depends on ... depends on target).
func (g *Graph) reachesLocked(start, target IndicatorID) bool {
	stack := []IndicatorID{start}
	seen := map[IndicatorID]struct{}{start: {}}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for b := range g.bases[n] {
			if b == target {
				return true
			}
			if _, ok := seen[b]; ok {
				continue
			}
			seen[b] = struct{}{}
			stack = append(stack, b)
		}
	}
	return false
}

func (g *Graph) removeEdgesLocked(derived IndicatorID) {
	for b := range g.bases[derived] {
		delete(g.dependents[b], derived)
		if len(g.dependents[b]) == 0 {
			delete(g.dependents, b)
		}
	}
	delete(g.bases, derived)
}

func sortedKeys(set map[IndicatorID]struct{}) []IndicatorID {
	if len(set) == 0 {
		return nil
	}
	out := make([]IndicatorID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
