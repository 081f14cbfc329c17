// Package plan topologically partitions an expanded task graph into
// parallel-safe batches.
package plan

import (
	"sort"

	"omni/internal/taskgraph"
)

// ExecutionPlan is an ordered sequence of batches. Each batch is a set
// of full_names whose dependencies all lie in earlier batches; no two
// full_names in the same batch depend on each other.
type ExecutionPlan struct {
	Batches [][]string
}

// Build computes an ExecutionPlan from an expanded task graph via
// Kahn's algorithm: each batch is the current frontier of nodes with no
// unsatisfied dependency, computed layer by layer so that every node in
// batch k+1 depends on nothing outside batches 0..k. Disabled nodes are
// retained in the plan (the batch executor turns them into Skipped results)
// so dependents still see a terminal predecessor.
func Build(g *taskgraph.Graph) *ExecutionPlan {
	remaining := make(map[string]int, len(g.Nodes))
	dependents := make(map[string][]string, len(g.Nodes))

	for _, fullName := range g.AllFullNames() {
		deps := g.Dependencies(fullName)
		remaining[fullName] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], fullName)
		}
	}

	var batches [][]string
	for len(remaining) > 0 {
		var frontier []string
		for fullName, count := range remaining {
			if count == 0 {
				frontier = append(frontier, fullName)
			}
		}
		sort.Strings(frontier)

		for _, fullName := range frontier {
			delete(remaining, fullName)
		}
		for _, fullName := range frontier {
			deps := dependents[fullName]
			sort.Strings(deps)
			for _, dependent := range deps {
				if _, ok := remaining[dependent]; ok {
					remaining[dependent]--
				}
			}
		}

		batches = append(batches, frontier)
	}

	return &ExecutionPlan{Batches: batches}
}

// Nodes returns every full_name across all batches, in plan order.
func (p *ExecutionPlan) Nodes() []string {
	var out []string
	for _, batch := range p.Batches {
		out = append(out, batch...)
	}
	return out
}
