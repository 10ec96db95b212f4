package symphra

import (
	"sort"
)

// MissingDependency identifies a required dependency name that no registry
// entry provides.
type MissingDependency struct {
	Dependent  string `json:"dependent"`
	Dependency string `json:"dependency"`
}

// Resolver computes start and stop orderings from the dependency graph and
// the registry's current states. Resolution is pure: the resolver never
// mutates either collaborator and may be called repeatedly.
type Resolver struct {
	registry *Registry
	graph    *DependencyGraph
}

// NewResolver creates a resolver over the given registry and graph.
func NewResolver(registry *Registry, graph *DependencyGraph) *Resolver {
	return &Resolver{registry: registry, graph: graph}
}

// ResolveStartOrder orders subset (or every registered module when subset
// is nil) so that each dependency appears before its dependents. Modules
// tied at the same level come out lexicographically.
func (r *Resolver) ResolveStartOrder(subset []string) ([]string, error) {
	if subset == nil {
		subset = r.registry.List()
	}
	return r.graph.TopologicalOrder(subset)
}

// ResolveStopOrder is the reverse of ResolveStartOrder: dependents first.
func (r *Resolver) ResolveStopOrder(subset []string) ([]string, error) {
	order, err := r.ResolveStartOrder(subset)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

// ValidateDependencies reports every required dependency of subset (or of
// all registered modules) that the registry does not know. Optional
// dependencies are never reported.
func (r *Resolver) ValidateDependencies(subset []string) []MissingDependency {
	if subset == nil {
		subset = r.registry.List()
	}
	var missing []MissingDependency
	for _, name := range subset {
		meta, err := r.registry.Metadata(name)
		if err != nil {
			continue
		}
		for _, dep := range meta.Dependencies {
			if !r.registry.Has(dep) {
				missing = append(missing, MissingDependency{Dependent: name, Dependency: dep})
			}
		}
	}
	sort.Slice(missing, func(i, j int) bool {
		if missing[i].Dependent != missing[j].Dependent {
			return missing[i].Dependent < missing[j].Dependent
		}
		return missing[i].Dependency < missing[j].Dependency
	})
	return missing
}

// CheckCycles returns the cycles currently present in the graph, empty
// when the graph is a DAG.
func (r *Resolver) CheckCycles() [][]string {
	return r.graph.DetectCycles()
}

// StartLevels groups a start order into topological levels: modules in the
// same level share no dependency path and may be started concurrently.
// Level N contains modules whose longest dependency chain within subset
// has length N.
func (r *Resolver) StartLevels(subset []string) ([][]string, error) {
	order, err := r.ResolveStartOrder(subset)
	if err != nil {
		return nil, err
	}
	include := make(map[string]bool, len(order))
	for _, name := range order {
		include[name] = true
	}

	depth := make(map[string]int, len(order))
	maxDepth := 0
	for _, name := range order {
		d := 0
		for _, dep := range r.graph.DependenciesOf(name) {
			if include[dep] && depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[name] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([][]string, maxDepth+1)
	for _, name := range order {
		levels[depth[name]] = append(levels[depth[name]], name)
	}
	return levels, nil
}
