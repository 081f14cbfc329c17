package filter

import (
	"strings"
	"testing"

	mapset "github.com/deckarep/golang-set"
	"gotest.tools/v3/assert"

	"omni/internal/project"
	"omni/internal/projectgraph"
)

func proj(name string, deps []string, meta map[string]interface{}) *project.Project {
	return &project.Project{
		Name:         name,
		Dir:          "/ws/" + name,
		Dependencies: deps,
		Tasks:        map[string]*project.Task{},
		Meta:         meta,
	}
}

func mustGraph(t *testing.T, projects []*project.Project) *projectgraph.Graph {
	t.Helper()
	g, err := projectgraph.Build(projects)
	assert.NilError(t, err)
	return g
}

func TestProjectFilterAcceptsEverythingWhenEmpty(t *testing.T) {
	f, err := NewProjectFilter(nil)
	assert.NilError(t, err)
	assert.Assert(t, f.Accepts("anything"))
}

func TestProjectFilterMatchesGlob(t *testing.T) {
	f, err := NewProjectFilter([]string{"apps/*"})
	assert.NilError(t, err)
	assert.Assert(t, f.Accepts("apps/web"))
	assert.Assert(t, !f.Accepts("libs/shared"))
}

func TestProjectFilterInvalidPattern(t *testing.T) {
	_, err := NewProjectFilter([]string{"["})
	assert.ErrorContains(t, err, "compiling project filter pattern")
}

func TestMetaFilterEmptyAcceptsEverything(t *testing.T) {
	f, err := NewMetaFilter("")
	assert.NilError(t, err)
	assert.Assert(t, f.Accepts(nil))
}

func TestMetaFilterNilAcceptsEverything(t *testing.T) {
	var f *MetaFilter
	assert.Assert(t, f.Accepts(map[string]interface{}{"team": "x"}))
}

func TestMetaFilterEvaluatesExpression(t *testing.T) {
	f, err := NewMetaFilter(`team == "platform"`)
	assert.NilError(t, err)
	assert.Assert(t, f.Accepts(map[string]interface{}{"team": "platform"}))
	assert.Assert(t, !f.Accepts(map[string]interface{}{"team": "web"}))
}

func TestAffectedFilterMarksTransitiveDependents(t *testing.T) {
	projects := []*project.Project{
		proj("base", nil, nil),
		proj("mid", []string{"base"}, nil),
		proj("top", []string{"mid"}, nil),
		proj("unrelated", nil, nil),
	}
	g := mustGraph(t, projects)

	changed := mapset.NewSet()
	changed.Add("base/src/x.go")

	containsFn := func(dir string, c ChangedFiles) bool {
		for v := range c.Iter() {
			if strings.HasPrefix(v.(string), "base/") && strings.HasSuffix(dir, "/base") {
				return true
			}
		}
		return false
	}

	af := NewAffectedFilter(g, changed, containsFn)
	assert.Assert(t, af.Accepts("base"))
	assert.Assert(t, af.Accepts("mid"))
	assert.Assert(t, af.Accepts("top"))
	assert.Assert(t, !af.Accepts("unrelated"))
}

func TestAffectedFilterNilAcceptsEverything(t *testing.T) {
	var af *AffectedFilter
	assert.Assert(t, af.Accepts("anything"))
}

func TestSeedsComposesProjectAndMetaFilters(t *testing.T) {
	projects := []*project.Project{
		proj("apps/web", nil, map[string]interface{}{"team": "web"}),
		proj("apps/admin", nil, map[string]interface{}{"team": "platform"}),
		proj("libs/shared", nil, map[string]interface{}{"team": "platform"}),
	}
	g := mustGraph(t, projects)

	pf, err := NewProjectFilter([]string{"apps/*"})
	assert.NilError(t, err)
	mf, err := NewMetaFilter(`team == "platform"`)
	assert.NilError(t, err)

	seeds := Seeds(g, pf, mf, nil, false)
	assert.Equal(t, len(seeds), 1)
	assert.Equal(t, seeds[0], "apps/admin")
}

func TestSeedsWithDependentsExpandsUpward(t *testing.T) {
	projects := []*project.Project{
		proj("base", nil, nil),
		proj("mid", []string{"base"}, nil),
		proj("top", []string{"mid"}, nil),
	}
	g := mustGraph(t, projects)

	pf, err := NewProjectFilter([]string{"base"})
	assert.NilError(t, err)

	withoutDependents := Seeds(g, pf, nil, nil, false)
	assert.Equal(t, len(withoutDependents), 1)

	withDependents := Seeds(g, pf, nil, nil, true)
	assert.Equal(t, len(withDependents), 3)
}
