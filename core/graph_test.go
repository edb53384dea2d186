package core_test

import (
	"errors"
	"testing"

	"github.com/warp/indicator-engine/core"
)

func edges(t *testing.T, g *core.Graph, derived string, bases ...string) {
	t.Helper()
	ids := make([]core.IndicatorID, len(bases))
	for i, b := range bases {
		ids[i] = core.IndicatorID(b)
	}
	if err := g.SetEdges(core.IndicatorID(derived), ids); err != nil {
		t.Fatalf("SetEdges(%s): %v", derived, err)
	}
}

func assertOrder(t *testing.T, got []core.IndicatorID, want ...core.IndicatorID) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

// =============================================================================
// CYCLE REJECTION
// =============================================================================

func TestGraph_SelfReference_Rejected(t *testing.T) {
	g := core.NewGraph()
	err := g.SetEdges("a", []core.IndicatorID{"a"})
	if err == nil {
		t.Fatal("self reference should be rejected")
	}
	if !errors.Is(err, core.ErrCycleDetected) {
		t.Errorf("want ErrCycleDetected, got %v", err)
	}
	var cycleErr *core.CycleError
	if !errors.As(err, &cycleErr) || cycleErr.Through != "a" {
		t.Errorf("want CycleError through a, got %v", err)
	}
}

func TestGraph_IndirectCycle_Rejected_NoMutation(t *testing.T) {
	// GIVEN: b reads a, c reads b
	// WHEN: Redefining a to read c (closing the loop)
	// THEN: The call fails and a's edges are untouched

	g := core.NewGraph()
	edges(t, g, "b", "a")
	edges(t, g, "c", "b")

	if err := g.SetEdges("a", []core.IndicatorID{"c"}); err == nil {
		t.Fatal("indirect cycle should be rejected")
	}
	if got := g.Bases("a"); len(got) != 0 {
		t.Errorf("rejected edit must not mutate edges, got bases %v", got)
	}
	// The rest of the graph is also intact.
	assertOrder(t, g.Bases("c"), "b")
}

func TestGraph_ReplacingEdges_AllowsFormerCycleDirection(t *testing.T) {
	// Replacing b's base set atomically drops the old edges, so a
	// definition that would have cycled against the old set is fine.
	g := core.NewGraph()
	edges(t, g, "b", "a")
	edges(t, g, "b", "c") // b no longer reads a
	edges(t, g, "a", "b") // would cycle against the old edges
	assertOrder(t, g.Bases("a"), "b")
}

// =============================================================================
// TRAVERSAL
// =============================================================================

func TestGraph_TransitiveDependents_Chain(t *testing.T) {
	g := core.NewGraph()
	edges(t, g, "b", "a")
	edges(t, g, "c", "b")
	edges(t, g, "d", "c")

	assertOrder(t, g.TransitiveDependents("a"), "b", "c", "d")
	assertOrder(t, g.TransitiveDependents("c"), "d")
	if got := g.TransitiveDependents("d"); got != nil {
		t.Errorf("leaf should have no dependents, got %v", got)
	}
}

func TestGraph_TransitiveDependents_Diamond(t *testing.T) {
	// GIVEN: b and c both read a; d reads both b and c
	// THEN: d appears exactly once, after both b and c

	g := core.NewGraph()
	edges(t, g, "b", "a")
	edges(t, g, "c", "a")
	edges(t, g, "d", "b", "c")

	assertOrder(t, g.TransitiveDependents("a"), "b", "c", "d")
}

func TestGraph_TransitiveBases(t *testing.T) {
	g := core.NewGraph()
	edges(t, g, "b", "a")
	edges(t, g, "d", "b", "c")

	assertOrder(t, g.TransitiveBases("d"), "a", "b", "c")
	if got := g.TransitiveBases("a"); got != nil {
		t.Errorf("raw indicator has no bases, got %v", got)
	}
}

func TestGraph_RemoveAndHasDependents(t *testing.T) {
	g := core.NewGraph()
	edges(t, g, "b", "a")

	if !g.HasDependents("a") {
		t.Error("a should have dependents")
	}
	g.Remove("b")
	if g.HasDependents("a") {
		t.Error("removing b should free a")
	}
}

func TestGraph_Rebuild(t *testing.T) {
	g := core.NewGraph()
	edges(t, g, "stale", "a")

	defs := []*core.DerivedDefinition{
		{IndicatorID: "b", BaseIDs: []core.IndicatorID{"a"}},
		{IndicatorID: "c", BaseIDs: []core.IndicatorID{"b"}},
	}
	if err := g.Rebuild(defs); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if g.HasDependents("stale") || len(g.Bases("stale")) != 0 {
		t.Error("rebuild should drop stale edges")
	}
	assertOrder(t, g.TransitiveDependents("a"), "b", "c")
}
