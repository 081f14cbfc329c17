package projectgraph

import (
	"testing"

	"omni/internal/project"
)

func proj(name string, deps ...string) *project.Project {
	return &project.Project{
		Name:         name,
		Dir:          "/workspace/" + name,
		Dependencies: deps,
		Tasks:        map[string]*project.Task{},
	}
}

func TestBuildLinearDependencyChain(t *testing.T) {
	projects := []*project.Project{
		proj("a"),
		proj("b", "a"),
		proj("c", "b"),
	}

	g, err := Build(projects)
	if err != nil {
		t.Fatal(err)
	}

	if deps := g.DirectDependencies("b"); len(deps) != 1 || deps[0] != "a" {
		t.Errorf("expected b to directly depend on [a], got %v", deps)
	}
	if deps := g.DirectDependencies("c"); len(deps) != 1 || deps[0] != "b" {
		t.Errorf("expected c to directly depend on [b], got %v", deps)
	}

	dependents := g.Dependents("a")
	if len(dependents) != 1 || dependents[0] != "b" {
		t.Errorf("expected a's direct dependents to be [b], got %v", dependents)
	}

	transitive := g.TransitiveDependents("a")
	if len(transitive) != 2 || transitive[0] != "b" || transitive[1] != "c" {
		t.Errorf("expected a's transitive dependents to be [b c], got %v", transitive)
	}
}

func TestBuildRejectsCycle(t *testing.T) {
	projects := []*project.Project{
		proj("a", "c"),
		proj("b", "a"),
		proj("c", "b"),
	}

	_, err := Build(projects)
	if err == nil {
		t.Fatal("expected a cycle among a -> c -> b -> a to be rejected")
	}
	if _, ok := err.(*ErrCycleDetected); !ok {
		t.Errorf("expected *ErrCycleDetected, got %T: %v", err, err)
	}
}

func TestBuildRejectsSelfDependency(t *testing.T) {
	_, err := Build([]*project.Project{proj("a", "a")})
	if err == nil {
		t.Fatal("expected a project depending on itself to be rejected")
	}
	if _, ok := err.(*ErrCycleDetected); !ok {
		t.Errorf("expected *ErrCycleDetected, got %T: %v", err, err)
	}
}

func TestBuildRejectsDuplicateName(t *testing.T) {
	projects := []*project.Project{
		proj("a"),
		proj("a"),
	}

	_, err := Build(projects)
	if err == nil {
		t.Fatal("expected duplicate project name to be rejected")
	}
	if _, ok := err.(*ErrDuplicateProjectName); !ok {
		t.Errorf("expected *ErrDuplicateProjectName, got %T: %v", err, err)
	}
}

func TestBuildRejectsUnknownDependency(t *testing.T) {
	projects := []*project.Project{
		proj("a", "does-not-exist"),
	}

	_, err := Build(projects)
	if err == nil {
		t.Fatal("expected a reference to an unknown project to be rejected")
	}
	if _, ok := err.(*ErrUnknownProject); !ok {
		t.Errorf("expected *ErrUnknownProject, got %T: %v", err, err)
	}
}

func TestProjectsAreLexicographicallyOrdered(t *testing.T) {
	projects := []*project.Project{
		proj("c"),
		proj("a"),
		proj("b"),
	}

	g, err := Build(projects)
	if err != nil {
		t.Fatal(err)
	}

	names := make([]string, 0, 3)
	for _, p := range g.Projects() {
		names = append(names, p.Name)
	}
	want := []string{"a", "b", "c"}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("expected %v, got %v", want, names)
			break
		}
	}
}

func TestProjectLookup(t *testing.T) {
	projects := []*project.Project{proj("a")}
	g, err := Build(projects)
	if err != nil {
		t.Fatal(err)
	}

	if p, ok := g.Project("a"); !ok || p.Name != "a" {
		t.Errorf("expected to find project a, got %v, %v", p, ok)
	}
	if _, ok := g.Project("missing"); ok {
		t.Error("expected lookup of an unknown project to report not-found")
	}
}
