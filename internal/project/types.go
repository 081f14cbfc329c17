// Package project defines the workspace data model (projects and their
// tasks) and the loader that turns per-project configuration into that
// model, applying the extends-chain merge rules.
package project

import (
	"fmt"
	"regexp"
)

// NamePattern is the validation pattern for a project or workspace name.
var NamePattern = regexp.MustCompile(`^[/.@:\w\-]+$`)

// DependencyKind tags the variant of a TaskDependency.
type DependencyKind int

const (
	// Own references a task on the same project.
	Own DependencyKind = iota
	// ExplicitProject references a task on a named, different project.
	ExplicitProject
	// Upstream fans out to the same-named task on every direct
	// project-dependency of the owning project.
	Upstream
)

// TaskDependency is a single dependency edge declared on a task, in one
// of three shapes: Own{task}, ExplicitProject{project, task}, or
// Upstream{task} (the "^task" fan-out form).
type TaskDependency struct {
	Kind    DependencyKind
	Project string // only set for ExplicitProject
	Task    string
}

func (d TaskDependency) String() string {
	switch d.Kind {
	case ExplicitProject:
		return fmt.Sprintf("%s#%s", d.Project, d.Task)
	case Upstream:
		return "^" + d.Task
	default:
		return d.Task
	}
}

// CacheKeyConfig controls what the fingerprinter feeds into a task's
// digest.
type CacheKeyConfig struct {
	// Defaults, when true, feeds the task's command, args and
	// workspace-root-relative project directory into the fingerprint
	// even if they are not otherwise listed.
	Defaults bool
	// EnvKeys are the env var names (key_env_keys) whose values are
	// folded into the fingerprint.
	EnvKeys []string
	// InputFiles are glob patterns, relative to the project dir, that
	// make up the task's declared inputs.
	InputFiles []string
}

// TaskOutputConfig declares the globs that make up a task's cacheable
// outputs, split into inclusion and exclusion sets.
type TaskOutputConfig struct {
	Inclusions []string
	Exclusions []string
}

// Task is a named runnable within a project.
type Task struct {
	Project       string // owning project name, filled in by the loader
	Name          string
	Command       string
	Dependencies  []TaskDependency
	Cache         CacheKeyConfig
	Outputs       TaskOutputConfig
	CacheEnabled  bool
	Meta          map[string]interface{}
}

// Project is a unit of dependency in the workspace: a directory with a
// name, a list of project dependencies, and a set of named tasks.
type Project struct {
	Name         string
	Dir          string // absolute
	Dependencies []string
	Tasks        map[string]*Task
	Meta         map[string]interface{}
	// Env holds the project's env block, decoded as a flat map with no
	// nested vars level:
	// plain key/value pairs merged into every one of the project's
	// tasks' resolved environments, distinct from Meta (the filter-only
	// key/value map consulted by --meta and never passed to a child
	// process).
	Env map[string]string
}

// Validate checks invariants that must hold for a single project in
// isolation (name shape, task ownership). Cross-project invariants
// (uniqueness, dependency resolution) are checked by projectgraph.
func (p *Project) Validate() error {
	if !NamePattern.MatchString(p.Name) {
		return fmt.Errorf("project name %q does not match %s", p.Name, NamePattern.String())
	}
	for taskName, task := range p.Tasks {
		if task.Name != taskName {
			return fmt.Errorf("project %s: task map key %q does not match task name %q", p.Name, taskName, task.Name)
		}
	}
	return nil
}
