package project

import "testing"

func TestProjectValidateRejectsBadName(t *testing.T) {
	p := &Project{Name: "has a space"}
	if err := p.Validate(); err == nil {
		t.Error("expected a name containing a space to be rejected")
	}
}

func TestProjectValidateRejectsMismatchedTaskKey(t *testing.T) {
	p := &Project{
		Name: "app",
		Tasks: map[string]*Task{
			"build": {Name: "not-build"},
		},
	}
	if err := p.Validate(); err == nil {
		t.Error("expected a task map key that disagrees with Task.Name to be rejected")
	}
}

func TestProjectValidateAcceptsWellFormedProject(t *testing.T) {
	p := &Project{
		Name: "app",
		Tasks: map[string]*Task{
			"build": {Name: "build"},
		},
	}
	if err := p.Validate(); err != nil {
		t.Errorf("expected a well-formed project to validate, got %v", err)
	}
}

func TestTaskDependencyStringForms(t *testing.T) {
	cases := []struct {
		dep  TaskDependency
		want string
	}{
		{TaskDependency{Kind: Own, Task: "build"}, "build"},
		{TaskDependency{Kind: ExplicitProject, Project: "lib", Task: "build"}, "lib#build"},
		{TaskDependency{Kind: Upstream, Task: "build"}, "^build"},
	}
	for _, c := range cases {
		if got := c.dep.String(); got != c.want {
			t.Errorf("expected %q, got %q", c.want, got)
		}
	}
}
