package project

import "testing"

func TestParseTaskDependencyOwn(t *testing.T) {
	dep, err := ParseTaskDependency("build")
	if err != nil {
		t.Fatal(err)
	}
	if dep.Kind != Own || dep.Task != "build" {
		t.Errorf("expected Own{build}, got %+v", dep)
	}
	if dep.String() != "build" {
		t.Errorf("expected round-trip string %q, got %q", "build", dep.String())
	}
}

func TestParseTaskDependencyExplicitProject(t *testing.T) {
	dep, err := ParseTaskDependency("lib#build")
	if err != nil {
		t.Fatal(err)
	}
	if dep.Kind != ExplicitProject || dep.Project != "lib" || dep.Task != "build" {
		t.Errorf("expected ExplicitProject{lib, build}, got %+v", dep)
	}
	if dep.String() != "lib#build" {
		t.Errorf("expected round-trip string %q, got %q", "lib#build", dep.String())
	}
}

func TestParseTaskDependencyUpstream(t *testing.T) {
	dep, err := ParseTaskDependency("^build")
	if err != nil {
		t.Fatal(err)
	}
	if dep.Kind != Upstream || dep.Task != "build" {
		t.Errorf("expected Upstream{build}, got %+v", dep)
	}
	if dep.String() != "^build" {
		t.Errorf("expected round-trip string %q, got %q", "^build", dep.String())
	}
}

func TestParseTaskDependencies(t *testing.T) {
	deps, err := ParseTaskDependencies([]string{"build", "lib#build", "^compile"})
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 3 {
		t.Fatalf("expected 3 dependencies, got %d", len(deps))
	}
	if deps[0].Kind != Own || deps[1].Kind != ExplicitProject || deps[2].Kind != Upstream {
		t.Errorf("expected kinds [Own ExplicitProject Upstream], got %+v", deps)
	}
}

func TestParseTaskDependencyRejectsMalformedReference(t *testing.T) {
	_, err := ParseTaskDependency("a#b#c")
	if err == nil {
		t.Fatal("expected a doubly-qualified reference to be rejected")
	}
	if _, ok := err.(*ErrAmbiguousReference); !ok {
		t.Errorf("expected *ErrAmbiguousReference, got %T: %v", err, err)
	}
}
