package plan

import (
	"testing"

	"omni/internal/project"
	"omni/internal/projectgraph"
	"omni/internal/taskgraph"
)

func buildGraph(t *testing.T, projects []*project.Project, seeds []string, taskNames []string) *taskgraph.Graph {
	t.Helper()
	pg, err := projectgraph.Build(projects)
	if err != nil {
		t.Fatal(err)
	}
	g, err := taskgraph.Build(pg, seeds, taskgraph.Call{Tasks: taskNames}, taskgraph.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func batchIndexOf(p *ExecutionPlan, fullName string) int {
	for i, batch := range p.Batches {
		for _, n := range batch {
			if n == fullName {
				return i
			}
		}
	}
	return -1
}

// TestBuildLinearPipelineOrdering checks that app#build must
// land strictly before app#test, each alone in its own batch.
func TestBuildLinearPipelineOrdering(t *testing.T) {
	app := &project.Project{
		Name: "app",
		Dir:  "/workspace/app",
		Tasks: map[string]*project.Task{
			"build": {Project: "app", Name: "build", Command: "go build"},
			"test": {
				Project:      "app",
				Name:         "test",
				Command:      "go test",
				Dependencies: []project.TaskDependency{{Kind: project.Own, Task: "build"}},
			},
		},
	}

	g := buildGraph(t, []*project.Project{app}, []string{"app"}, []string{"test"})
	p := Build(g)

	if len(p.Batches) != 2 {
		t.Fatalf("expected 2 batches, got %d: %v", len(p.Batches), p.Batches)
	}
	buildIdx := batchIndexOf(p, "app#build")
	testIdx := batchIndexOf(p, "app#test")
	if buildIdx < 0 || testIdx < 0 {
		t.Fatalf("expected both nodes present in plan, got %v", p.Batches)
	}
	if buildIdx >= testIdx {
		t.Errorf("expected app#build's batch (%d) to precede app#test's batch (%d)", buildIdx, testIdx)
	}
	if len(p.Batches[buildIdx]) != 1 || len(p.Batches[testIdx]) != 1 {
		t.Errorf("expected each batch to contain exactly one node, got %v", p.Batches)
	}
}

// TestBuildFanOutSharesBatch verifies that two independent leaf tasks
// (no dependency relationship between them) land in the same batch.
func TestBuildFanOutSharesBatch(t *testing.T) {
	a := &project.Project{
		Name: "a",
		Dir:  "/workspace/a",
		Tasks: map[string]*project.Task{
			"build": {Project: "a", Name: "build", Command: "go build"},
		},
	}
	b := &project.Project{
		Name: "b",
		Dir:  "/workspace/b",
		Tasks: map[string]*project.Task{
			"build": {Project: "b", Name: "build", Command: "go build"},
		},
	}

	g := buildGraph(t, []*project.Project{a, b}, []string{"a", "b"}, []string{"build"})
	p := Build(g)

	if len(p.Batches) != 1 {
		t.Fatalf("expected a single shared batch for two independent tasks, got %d: %v", len(p.Batches), p.Batches)
	}
	if len(p.Batches[0]) != 2 {
		t.Errorf("expected both nodes in the one batch, got %v", p.Batches[0])
	}
}

// TestBuildUpstreamFanInBatching exercises a diamond: app depends on
// lib-a and lib-b (both via upstream build), so lib-a#build/lib-b#build
// share batch 0 and app#build lands in batch 1.
func TestBuildUpstreamFanInBatching(t *testing.T) {
	libA := &project.Project{
		Name:  "lib-a",
		Dir:   "/workspace/lib-a",
		Tasks: map[string]*project.Task{"build": {Project: "lib-a", Name: "build", Command: "go build"}},
	}
	libB := &project.Project{
		Name:  "lib-b",
		Dir:   "/workspace/lib-b",
		Tasks: map[string]*project.Task{"build": {Project: "lib-b", Name: "build", Command: "go build"}},
	}
	app := &project.Project{
		Name:         "app",
		Dir:          "/workspace/app",
		Dependencies: []string{"lib-a", "lib-b"},
		Tasks: map[string]*project.Task{
			"build": {
				Project:      "app",
				Name:         "build",
				Command:      "go build",
				Dependencies: []project.TaskDependency{{Kind: project.Upstream, Task: "build"}},
			},
		},
	}

	g := buildGraph(t, []*project.Project{libA, libB, app}, []string{"app"}, []string{"build"})
	p := Build(g)

	if len(p.Batches) != 2 {
		t.Fatalf("expected 2 batches, got %d: %v", len(p.Batches), p.Batches)
	}
	if len(p.Batches[0]) != 2 {
		t.Errorf("expected both upstream builds to share batch 0, got %v", p.Batches[0])
	}
	appIdx := batchIndexOf(p, "app#build")
	if appIdx != 1 {
		t.Errorf("expected app#build in batch 1, got batch %d", appIdx)
	}
}

func TestNodesReturnsEveryBatchInOrder(t *testing.T) {
	app := &project.Project{
		Name: "app",
		Dir:  "/workspace/app",
		Tasks: map[string]*project.Task{
			"build": {Project: "app", Name: "build", Command: "go build"},
			"test": {
				Project:      "app",
				Name:         "test",
				Command:      "go test",
				Dependencies: []project.TaskDependency{{Kind: project.Own, Task: "build"}},
			},
		},
	}
	g := buildGraph(t, []*project.Project{app}, []string{"app"}, []string{"test"})
	p := Build(g)

	nodes := p.Nodes()
	if len(nodes) != 2 || nodes[0] != "app#build" || nodes[1] != "app#test" {
		t.Errorf("expected [app#build app#test], got %v", nodes)
	}
}
