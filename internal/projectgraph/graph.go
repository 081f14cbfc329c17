// Package projectgraph builds and validates the static dependency graph
// among a workspace's projects.
package projectgraph

import (
	"fmt"
	"sort"

	"github.com/pyr-sh/dag"

	"omni/internal/project"
)

// ErrUnknownProject is returned when a project declares a dependency on
// a project name that does not exist in the workspace.
type ErrUnknownProject struct {
	From string
	Ref  string
}

func (e *ErrUnknownProject) Error() string {
	return fmt.Sprintf("project %q depends on unknown project %q", e.From, e.Ref)
}

// ErrDuplicateProjectName is returned when two projects in the workspace
// share a name.
type ErrDuplicateProjectName struct {
	Name string
}

func (e *ErrDuplicateProjectName) Error() string {
	return fmt.Sprintf("duplicate project name %q", e.Name)
}

// ErrCycleDetected is returned when the project dependency graph
// contains a cycle. Path lists the members of the cycle's strongly
// connected component in lexicographic order with the first repeated at
// the end, e.g. [a b c a]; it is not ordered along the dependency edges.
type ErrCycleDetected struct {
	Path []string
}

func (e *ErrCycleDetected) Error() string {
	return fmt.Sprintf("cycle detected in project graph: %v", e.Path)
}

// Graph is the DAG over project names, plus the Project objects it was
// built from.
type Graph struct {
	projects map[string]*project.Project
	g        dag.AcyclicGraph
}

// Build constructs the project graph from a flat list of projects,
// validating name uniqueness, dependency resolution, and acyclicity.
func Build(projects []*project.Project) (*Graph, error) {
	byName := make(map[string]*project.Project, len(projects))
	for _, p := range projects {
		if _, exists := byName[p.Name]; exists {
			return nil, &ErrDuplicateProjectName{Name: p.Name}
		}
		byName[p.Name] = p
	}

	g := &Graph{projects: byName}
	for _, p := range projects {
		g.g.Add(p.Name)
	}
	// Sort dependency edges per-project for deterministic Connect order,
	// matching the lexicographic tie-breaking the task graph builder uses.
	names := make([]string, 0, len(projects))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := byName[name]
		deps := append([]string{}, p.Dependencies...)
		sort.Strings(deps)
		for _, dep := range deps {
			if _, ok := byName[dep]; !ok {
				return nil, &ErrUnknownProject{From: name, Ref: dep}
			}
			// Self-loops form a single-vertex SCC that Tarjan's pass
			// below would not report as a cycle.
			if dep == name {
				return nil, &ErrCycleDetected{Path: []string{name, name}}
			}
			g.g.Connect(dag.BasicEdge(name, dep))
		}
	}

	if cyclePath := findCycle(&g.g); cyclePath != nil {
		return nil, &ErrCycleDetected{Path: cyclePath}
	}

	return g, nil
}

// findCycle runs Tarjan's SCC algorithm (via the dag library) and
// returns the sorted members of the first nontrivial strongly connected
// component it finds, first member repeated at the end, or nil if the
// graph is acyclic.
func findCycle(g *dag.AcyclicGraph) []string {
	sccs := dag.StronglyConnected(&g.Graph)
	for _, scc := range sccs {
		if len(scc) < 2 {
			continue
		}
		path := make([]string, 0, len(scc)+1)
		for _, v := range scc {
			path = append(path, dag.VertexName(v))
		}
		sort.Strings(path)
		path = append(path, path[0])
		return path
	}
	return nil
}

// Project looks up a project by name.
func (g *Graph) Project(name string) (*project.Project, bool) {
	p, ok := g.projects[name]
	return p, ok
}

// Projects returns all projects, in lexicographic order by name.
func (g *Graph) Projects() []*project.Project {
	out := make([]*project.Project, 0, len(g.projects))
	for _, p := range g.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DirectDependencies returns the direct project-dependency names of a
// project, in lexicographic order.
func (g *Graph) DirectDependencies(name string) []string {
	p, ok := g.projects[name]
	if !ok {
		return nil
	}
	deps := append([]string{}, p.Dependencies...)
	sort.Strings(deps)
	return deps
}

// Dependents returns the set of project names that directly depend on
// name.
func (g *Graph) Dependents(name string) []string {
	var out []string
	for _, p := range g.Projects() {
		for _, dep := range p.Dependencies {
			if dep == name {
				out = append(out, p.Name)
				break
			}
		}
	}
	return out
}

// TransitiveDependents returns the upward closure of name under the
// project graph: every project that depends on name, directly or
// transitively. Used by the with-dependents filter semantics.
func (g *Graph) TransitiveDependents(name string) []string {
	seen := map[string]bool{}
	var walk func(string)
	walk = func(n string) {
		for _, dependent := range g.Dependents(n) {
			if !seen[dependent] {
				seen[dependent] = true
				walk(dependent)
			}
		}
	}
	walk(name)
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
