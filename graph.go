package symphra

import (
	"fmt"
	"sort"
	"sync"
)

// DependencyGraph stores directed edges from dependent modules to their
// dependencies and answers ordering queries over them. Topological order
// is computed with Kahn's algorithm using a lexicographic tie-breaker, so
// the output is deterministic for a given edge set.
//
// The graph is safe for concurrent use: queries take a read lock, edge and
// node mutations take the write lock.
type DependencyGraph struct {
	mu sync.RWMutex

	// deps maps dependent -> set of dependencies.
	deps map[string]map[string]bool
	// dependents maps dependency -> set of dependents (reverse edges).
	dependents map[string]map[string]bool
}

// NewDependencyGraph creates an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		deps:       make(map[string]map[string]bool),
		dependents: make(map[string]map[string]bool),
	}
}

// AddNode ensures a node exists. Adding an existing node is a no-op.
func (g *DependencyGraph) AddNode(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addNodeLocked(name)
}

func (g *DependencyGraph) addNodeLocked(name string) {
	if g.deps[name] == nil {
		g.deps[name] = make(map[string]bool)
	}
	if g.dependents[name] == nil {
		g.dependents[name] = make(map[string]bool)
	}
}

// AddEdge records that dependent requires dependency, creating either node
// as needed. Adding an existing edge is a no-op.
func (g *DependencyGraph) AddEdge(dependent, dependency string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addNodeLocked(dependent)
	g.addNodeLocked(dependency)
	g.deps[dependent][dependency] = true
	g.dependents[dependency][dependent] = true
}

// RemoveNode deletes a node together with all incident edges. Removing an
// unknown node is a no-op.
func (g *DependencyGraph) RemoveNode(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for dep := range g.deps[name] {
		delete(g.dependents[dep], name)
	}
	for dependent := range g.dependents[name] {
		delete(g.deps[dependent], name)
	}
	delete(g.deps, name)
	delete(g.dependents, name)
}

// RemoveEdges drops every outgoing edge of dependent while keeping the
// node. Used when a module's metadata changes on reload.
func (g *DependencyGraph) RemoveEdges(dependent string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for dep := range g.deps[dependent] {
		delete(g.dependents[dep], dependent)
	}
	if g.deps[dependent] != nil {
		g.deps[dependent] = make(map[string]bool)
	}
}

// HasNode reports whether the node exists.
func (g *DependencyGraph) HasNode(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.deps[name]
	return ok
}

// Nodes returns every node name in lexicographic order.
func (g *DependencyGraph) Nodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.deps))
	for name := range g.deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DependenciesOf returns the direct dependencies of a node, sorted.
func (g *DependencyGraph) DependenciesOf(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.deps[name])
}

// DependentsOf returns the direct dependents of a node, sorted.
func (g *DependencyGraph) DependentsOf(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.dependents[name])
}

// TransitiveDependenciesOf returns everything a node depends on, directly
// or indirectly, sorted.
func (g *DependencyGraph) TransitiveDependenciesOf(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closure(name, g.deps)
}

// TransitiveDependentsOf returns everything that depends on a node,
// directly or indirectly, sorted.
func (g *DependencyGraph) TransitiveDependentsOf(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closure(name, g.dependents)
}

// closure walks edges breadth-first from name, excluding name itself.
func (g *DependencyGraph) closure(name string, edges map[string]map[string]bool) []string {
	seen := map[string]bool{name: true}
	queue := []string{name}
	var result []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for next := range edges[current] {
			if !seen[next] {
				seen[next] = true
				result = append(result, next)
				queue = append(queue, next)
			}
		}
	}
	sort.Strings(result)
	return result
}

// TopologicalOrder returns the nodes of subset (or the whole graph when
// subset is nil) ordered so that every dependency precedes its dependents.
// Edges with an endpoint outside the subset are ignored. Ties are broken
// lexicographically, making the output deterministic.
//
// Returns ErrCyclicDependency when the considered subgraph contains a
// cycle.
func (g *DependencyGraph) TopologicalOrder(subset []string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	include := make(map[string]bool)
	if subset == nil {
		for name := range g.deps {
			include[name] = true
		}
	} else {
		for _, name := range subset {
			if _, ok := g.deps[name]; ok {
				include[name] = true
			}
		}
	}

	// indegree counts the in-subset dependencies of each node.
	indegree := make(map[string]int, len(include))
	for name := range include {
		count := 0
		for dep := range g.deps[name] {
			if include[dep] {
				count++
			}
		}
		indegree[name] = count
	}

	var ready []string
	for name, count := range indegree {
		if count == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	result := make([]string, 0, len(include))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		result = append(result, current)

		unlocked := false
		for dependent := range g.dependents[current] {
			if !include[dependent] {
				continue
			}
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
				unlocked = true
			}
		}
		if unlocked {
			sort.Strings(ready)
		}
	}

	if len(result) != len(include) {
		remaining := make([]string, 0, len(include)-len(result))
		for name, count := range indegree {
			if count > 0 {
				remaining = append(remaining, name)
			}
		}
		sort.Strings(remaining)
		return nil, fmt.Errorf("%w: unresolved nodes %v", ErrCyclicDependency, remaining)
	}
	return result, nil
}

// DetectCycles enumerates the cycles of the graph. Each cycle is an
// ordered name sequence with the starting node repeated at the end, e.g.
// [x y z x]. The result is empty exactly when TopologicalOrder succeeds.
func (g *DependencyGraph) DetectCycles() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// Kahn pass: peel off every node that can be ordered; what remains
	// participates in (or depends into) a cycle.
	indegree := make(map[string]int, len(g.deps))
	for name, deps := range g.deps {
		indegree[name] = len(deps)
	}
	var ready []string
	for name, count := range indegree {
		if count == 0 {
			ready = append(ready, name)
		}
	}
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		for dependent := range g.dependents[current] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	residual := make(map[string]bool)
	for name, count := range indegree {
		if count > 0 {
			residual[name] = true
		}
	}
	if len(residual) == 0 {
		return nil
	}

	// DFS over the residual subgraph, extracting one cycle per strongly
	// connected walk. Nodes already claimed by a reported cycle are
	// skipped so each cycle is reported once.
	var cycles [][]string
	claimed := make(map[string]bool)
	starts := sortedKeys(residual)
	for _, start := range starts {
		if claimed[start] {
			continue
		}
		if cycle := g.findCycleFrom(start, residual, claimed); cycle != nil {
			for _, name := range cycle {
				claimed[name] = true
			}
			cycles = append(cycles, append(cycle, cycle[0]))
		}
	}
	return cycles
}

// findCycleFrom walks dependency edges inside the residual set until it
// revisits a node on the current path, then returns that cycle.
func (g *DependencyGraph) findCycleFrom(start string, residual, claimed map[string]bool) []string {
	var path []string
	onPath := make(map[string]int)
	visited := make(map[string]bool)

	var dfs func(node string) []string
	dfs = func(node string) []string {
		if idx, ok := onPath[node]; ok {
			return append([]string(nil), path[idx:]...)
		}
		if visited[node] {
			return nil
		}
		visited[node] = true
		onPath[node] = len(path)
		path = append(path, node)
		for _, dep := range sortedKeys(g.deps[node]) {
			if !residual[dep] || claimed[dep] {
				continue
			}
			if cycle := dfs(dep); cycle != nil {
				return cycle
			}
		}
		delete(onPath, node)
		path = path[:len(path)-1]
		return nil
	}
	return dfs(start)
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
