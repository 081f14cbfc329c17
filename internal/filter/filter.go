// Package filter implements the three composable seed-set predicates: a
// project glob filter, a meta expression filter, and an SCM-affected
// filter, plus their AND composition and the with-dependents upward
// closure.
package filter

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set"
	"github.com/gobwas/glob"

	"omni/internal/projectgraph"
)

// ProjectFilter matches a project's name against a set of glob
// patterns. A project is retained iff it matches at
// least one pattern; an empty pattern set accepts everything.
type ProjectFilter struct {
	patterns []glob.Glob
}

// NewProjectFilter compiles patterns once so Accepts is cheap across
// the whole workspace.
func NewProjectFilter(patterns []string) (*ProjectFilter, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("compiling project filter pattern %q: %w", p, err)
		}
		compiled = append(compiled, g)
	}
	return &ProjectFilter{patterns: compiled}, nil
}

// Accepts reports whether projectName matches any compiled pattern.
// With zero patterns, every project is accepted.
func (f *ProjectFilter) Accepts(projectName string) bool {
	if len(f.patterns) == 0 {
		return true
	}
	for _, g := range f.patterns {
		if g.Match(projectName) {
			return true
		}
	}
	return false
}

// MetaFilter evaluates a small boolean expression against a project's
// (or task's) user-defined meta map. A nil MetaFilter
// accepts everything.
type MetaFilter struct {
	expr Expr
}

// NewMetaFilter parses raw into a MetaFilter. An empty raw string is
// treated as "true" (accept everything).
func NewMetaFilter(raw string) (*MetaFilter, error) {
	if raw == "" {
		return &MetaFilter{expr: boolLit(true)}, nil
	}
	expr, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing meta expression %q: %w", raw, err)
	}
	return &MetaFilter{expr: expr}, nil
}

// Accepts evaluates the parsed expression against meta. A nil meta map
// behaves as an empty one (every lookup is absent/false).
func (f *MetaFilter) Accepts(meta map[string]interface{}) bool {
	if f == nil {
		return true
	}
	return f.expr.Eval(meta)
}

// ChangedFiles is the SCM external collaborator's result: the set of
// workspace-relative paths that changed between base and target.
// Actually computing the diff is the SCM collaborator's job;
// AffectedFilter only consumes the result.
type ChangedFiles = mapset.Set

// SCM is the external collaborator the affected filter consults.
type SCM interface {
	ChangedFiles(base, target string) (ChangedFiles, error)
}

// AffectedFilter retains a project iff its directory contains at least
// one changed file, or any of its transitive project-dependencies is
// itself affected.
type AffectedFilter struct {
	graph    *projectgraph.Graph
	affected mapset.Set // project names
}

// NewAffectedFilter resolves the affected set once, up front, against
// every project in graph, given the base/target changed-file set.
// containsFn receives a project's absolute dir and the full changed
// file set and reports whether any changed path falls under that dir;
// it is injected so this package does not need to know the changed
// paths' path representation (relative to workspace root vs absolute).
func NewAffectedFilter(g *projectgraph.Graph, changed ChangedFiles, containsFn func(projectDir string, changed ChangedFiles) bool) *AffectedFilter {
	directlyAffected := mapset.NewSet()
	for _, p := range g.Projects() {
		if containsFn(p.Dir, changed) {
			directlyAffected.Add(p.Name)
		}
	}

	affected := mapset.NewSet()
	var markAffected func(name string)
	markAffected = func(name string) {
		if affected.Contains(name) {
			return
		}
		affected.Add(name)
		for _, dependent := range g.Dependents(name) {
			markAffected(dependent)
		}
	}
	for name := range directlyAffectedNames(directlyAffected) {
		markAffected(name)
	}

	return &AffectedFilter{graph: g, affected: affected}
}

func directlyAffectedNames(s mapset.Set) map[string]struct{} {
	out := make(map[string]struct{}, s.Cardinality())
	for v := range s.Iter() {
		out[v.(string)] = struct{}{}
	}
	return out
}

// Accepts reports whether projectName is affected, directly or
// transitively through a dependency.
func (f *AffectedFilter) Accepts(projectName string) bool {
	if f == nil {
		return true
	}
	return f.affected.Contains(projectName)
}

// Seeds applies a ProjectFilter, MetaFilter and AffectedFilter to every
// project in g, returning the names that pass all three in
// lexicographic order, then optionally extends the result with the
// upward closure under the project graph (with-dependents semantics).
func Seeds(g *projectgraph.Graph, projectFilter *ProjectFilter, metaFilter *MetaFilter, affectedFilter *AffectedFilter, withDependents bool) []string {
	seedSet := mapset.NewSet()
	for _, p := range g.Projects() {
		if projectFilter != nil && !projectFilter.Accepts(p.Name) {
			continue
		}
		if metaFilter != nil && !metaFilter.Accepts(p.Meta) {
			continue
		}
		if affectedFilter != nil && !affectedFilter.Accepts(p.Name) {
			continue
		}
		seedSet.Add(p.Name)
	}

	if withDependents {
		for name := range namesOf(seedSet) {
			for _, dependent := range g.TransitiveDependents(name) {
				seedSet.Add(dependent)
			}
		}
	}

	out := make([]string, 0, seedSet.Cardinality())
	for v := range seedSet.Iter() {
		out = append(out, v.(string))
	}
	sort.Strings(out)
	return out
}

func namesOf(s mapset.Set) map[string]struct{} {
	out := make(map[string]struct{}, s.Cardinality())
	for v := range s.Iter() {
		out[v.(string)] = struct{}{}
	}
	return out
}
