package symphra

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphAddEdgeIdempotent(t *testing.T) {
	g := NewDependencyGraph()
	g.AddEdge("b", "a")
	g.AddEdge("b", "a")

	assert.Equal(t, []string{"a"}, g.DependenciesOf("b"))
	assert.Equal(t, []string{"b"}, g.DependentsOf("a"))

	order, err := g.TopologicalOrder(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestGraphAddEdgeCreatesNodes(t *testing.T) {
	g := NewDependencyGraph()
	g.AddEdge("x", "y")

	assert.True(t, g.HasNode("x"))
	assert.True(t, g.HasNode("y"))
}

func TestGraphRemoveNode(t *testing.T) {
	g := NewDependencyGraph()
	g.AddEdge("b", "a")
	g.AddEdge("c", "b")

	g.RemoveNode("b")

	assert.False(t, g.HasNode("b"))
	assert.Empty(t, g.DependentsOf("a"))
	assert.Empty(t, g.DependenciesOf("c"))

	// Removing again is a no-op.
	g.RemoveNode("b")
	assert.Equal(t, []string{"a", "c"}, g.Nodes())
}

func TestGraphTransitiveClosures(t *testing.T) {
	g := NewDependencyGraph()
	g.AddEdge("b", "a")
	g.AddEdge("c", "b")
	g.AddEdge("d", "b")

	assert.Equal(t, []string{"a", "b"}, g.TransitiveDependenciesOf("c"))
	assert.Equal(t, []string{"b", "c", "d"}, g.TransitiveDependentsOf("a"))
	assert.Empty(t, g.TransitiveDependenciesOf("a"))
}

func TestGraphTopologicalOrderDependenciesFirst(t *testing.T) {
	g := NewDependencyGraph()
	g.AddEdge("web", "db")
	g.AddEdge("web", "cache")
	g.AddEdge("worker", "db")

	order, err := g.TopologicalOrder(nil)
	require.NoError(t, err)

	index := make(map[string]int, len(order))
	for i, name := range order {
		index[name] = i
	}
	assert.Less(t, index["db"], index["web"])
	assert.Less(t, index["cache"], index["web"])
	assert.Less(t, index["db"], index["worker"])
}

func TestGraphTopologicalOrderDeterministic(t *testing.T) {
	g := NewDependencyGraph()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		g.AddNode(name)
	}
	g.AddEdge("mid", "alpha")

	first, err := g.TopologicalOrder(nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := g.TopologicalOrder(nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	// Independent nodes come out lexicographically.
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, first)
}

func TestGraphTopologicalOrderSubset(t *testing.T) {
	g := NewDependencyGraph()
	g.AddEdge("b", "a")
	g.AddEdge("c", "b")

	order, err := g.TopologicalOrder([]string{"c", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, order)
}

func TestGraphCycleFailsTopologicalOrder(t *testing.T) {
	g := NewDependencyGraph()
	g.AddEdge("x", "y")
	g.AddEdge("y", "z")
	g.AddEdge("z", "x")

	_, err := g.TopologicalOrder(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCyclicDependency))
}

func TestGraphDetectCycles(t *testing.T) {
	g := NewDependencyGraph()
	g.AddEdge("x", "y")
	g.AddEdge("y", "z")
	g.AddEdge("z", "x")
	g.AddEdge("standalone", "x")

	cycles := g.DetectCycles()
	require.Len(t, cycles, 1)

	cycle := cycles[0]
	require.GreaterOrEqual(t, len(cycle), 4)
	assert.Equal(t, cycle[0], cycle[len(cycle)-1], "cycle repeats its start at the end")
	assert.ElementsMatch(t, []string{"x", "y", "z"}, cycle[:len(cycle)-1])
}

func TestGraphDetectCyclesEmptyOnDAG(t *testing.T) {
	g := NewDependencyGraph()
	g.AddEdge("b", "a")
	g.AddEdge("c", "b")

	assert.Empty(t, g.DetectCycles())
}

func TestGraphRemoveEdgesKeepsNode(t *testing.T) {
	g := NewDependencyGraph()
	g.AddEdge("b", "a")
	g.AddEdge("c", "b")

	g.RemoveEdges("b")

	assert.True(t, g.HasNode("b"))
	assert.Empty(t, g.DependenciesOf("b"))
	assert.Equal(t, []string{"c"}, g.DependentsOf("b"))
}
