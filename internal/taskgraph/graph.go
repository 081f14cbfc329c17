// Package taskgraph expands an invocation (a call plus the already
// filtered seed projects) into the per-invocation task DAG.
package taskgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pyr-sh/dag"

	"omni/internal/project"
	"omni/internal/projectgraph"
	"omni/internal/util"
)

// CommandCall is the synthesized, transient "exec" task: a caller-supplied
// command line run on every seed project with no dependencies.
type CommandCall struct {
	Exe  string
	Args []string
}

func (c CommandCall) commandLine() string {
	return strings.TrimSpace(strings.Join(append([]string{c.Exe}, c.Args...), " "))
}

// execTaskName is the synthetic task name given to a CommandCall node.
const execTaskName = "exec"

// Call is the invocation driving graph construction: either a set of
// named tasks to resolve on each seed project, or a CommandCall.
// Exactly one of Tasks or Command should be set.
type Call struct {
	Tasks   []string
	Command *CommandCall
}

// Options tunes builder behavior beyond what Call and the seed set carry.
type Options struct {
	// ImplicitTasks, when true, suppresses ErrUnknownTask for a requested
	// task that no seed project defines. Either way, a seed project that
	// does not itself define a requested task is skipped for that task.
	ImplicitTasks bool
	// IgnoreDependencies disables every node that was included only as
	// a dependency filler rather than a seed entry point.
	IgnoreDependencies bool
}

// TaskExecutionNode is a concrete instantiation of one task under one
// project for one invocation.
type TaskExecutionNode struct {
	ProjectName string
	ProjectDir  string
	TaskName    string
	TaskCommand string
	FullName    string
	Enabled     bool
}

// ErrUnknownTask is returned when a Tasks call names a task that no seed
// project defines, or a dependency reference names a task absent from
// its target project.
type ErrUnknownTask struct {
	Project string
	Task    string
}

func (e *ErrUnknownTask) Error() string {
	if e.Project == "" {
		return fmt.Sprintf("task %q is not defined on any selected project", e.Task)
	}
	return fmt.Sprintf("task %q is not defined on project %q", e.Task, e.Project)
}

// ErrUnknownProject is returned when a dependency reference names a
// project absent from the workspace.
type ErrUnknownProject struct {
	Project string
}

func (e *ErrUnknownProject) Error() string {
	return fmt.Sprintf("reference to unknown project %q", e.Project)
}

// ErrCycleDetected is returned when the expanded task graph contains a
// cycle. Path lists the full_names of the cycle's strongly connected
// component in lexicographic order with the first repeated at the end;
// it is not ordered along the dependency edges.
type ErrCycleDetected struct {
	Path []string
}

func (e *ErrCycleDetected) Error() string {
	return fmt.Sprintf("cycle detected in task graph: %v", e.Path)
}

// ErrAmbiguousReference wraps project.ErrAmbiguousReference for callers
// that only import taskgraph.
type ErrAmbiguousReference = project.ErrAmbiguousReference

// Graph is the expanded, per-invocation task DAG.
type Graph struct {
	Nodes map[string]*TaskExecutionNode
	g     dag.AcyclicGraph
}

// Node looks up a node by full_name.
func (g *Graph) Node(fullName string) (*TaskExecutionNode, bool) {
	n, ok := g.Nodes[fullName]
	return n, ok
}

// Dependencies returns the full_names a node directly depends on.
func (g *Graph) Dependencies(fullName string) []string {
	edges := g.g.DownEdges(fullName)
	out := make([]string, 0, edges.Len())
	for _, v := range edges.List() {
		out = append(out, dag.VertexName(v))
	}
	sort.Strings(out)
	return out
}

// AllFullNames returns every node's full_name in lexicographic order,
// matching the builder's determinism tie-break.
func (g *Graph) AllFullNames() []string {
	out := make([]string, 0, len(g.Nodes))
	for name := range g.Nodes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// builder accumulates graph state while expanding a call.
type builder struct {
	pg    *projectgraph.Graph
	opts  Options
	graph *Graph
	seeds util.Set
}

// Build expands call over the given seed project names (already passed
// through the project/meta/affected filters) into the task graph.
func Build(pg *projectgraph.Graph, seedProjects []string, call Call, opts Options) (*Graph, error) {
	b := &builder{
		pg:   pg,
		opts: opts,
		graph: &Graph{
			Nodes: map[string]*TaskExecutionNode{},
		},
		seeds: make(util.Set),
	}

	seeds := append([]string{}, seedProjects...)
	sort.Strings(seeds)

	var queue []string
	if call.Command != nil {
		for _, projectName := range seeds {
			p, ok := pg.Project(projectName)
			if !ok {
				return nil, &ErrUnknownProject{Project: projectName}
			}
			node := b.addSyntheticNode(p, *call.Command)
			b.seeds.Add(node.FullName)
			queue = append(queue, node.FullName)
		}
	} else {
		taskNames := append([]string{}, call.Tasks...)
		sort.Strings(taskNames)

		found := make(map[string]bool, len(taskNames))
		for _, projectName := range seeds {
			p, ok := pg.Project(projectName)
			if !ok {
				return nil, &ErrUnknownProject{Project: projectName}
			}
			for _, taskName := range taskNames {
				task, ok := p.Tasks[taskName]
				if !ok {
					continue
				}
				found[taskName] = true
				node := b.addNode(p, task)
				b.seeds.Add(node.FullName)
				queue = append(queue, node.FullName)
			}
		}
		if !opts.ImplicitTasks {
			for _, taskName := range taskNames {
				if !found[taskName] {
					return nil, &ErrUnknownTask{Task: taskName}
				}
			}
		}
	}

	if err := b.expand(queue); err != nil {
		return nil, err
	}

	if opts.IgnoreDependencies {
		for fullName, node := range b.graph.Nodes {
			if !b.seeds.Includes(fullName) {
				node.Enabled = false
			}
		}
	}

	if cyclePath := findCycle(&b.graph.g); cyclePath != nil {
		return nil, &ErrCycleDetected{Path: cyclePath}
	}

	return b.graph, nil
}

// expand runs the dependency-expansion fixed point
// starting from an initial queue of seed full_names.
func (b *builder) expand(queue []string) error {
	visited := make(util.Set)
	for len(queue) > 0 {
		fullName := queue[0]
		queue = queue[1:]
		if visited.Includes(fullName) {
			continue
		}
		visited.Add(fullName)

		node := b.graph.Nodes[fullName]
		p, ok := b.pg.Project(node.ProjectName)
		if !ok {
			return &ErrUnknownProject{Project: node.ProjectName}
		}
		task, ok := p.Tasks[node.TaskName]
		if !ok {
			// synthetic (exec) nodes have no declared dependencies.
			continue
		}

		deps := append([]project.TaskDependency{}, task.Dependencies...)
		sort.Slice(deps, func(i, j int) bool { return deps[i].String() < deps[j].String() })

		for _, dep := range deps {
			switch dep.Kind {
			case project.Own:
				depNode, err := b.requireNode(node.ProjectName, dep.Task)
				if err != nil {
					return err
				}
				// A task depending on itself is a single-vertex SCC
				// the cycle pass below would miss.
				if depNode.FullName == node.FullName {
					return &ErrCycleDetected{Path: []string{node.FullName, node.FullName}}
				}
				b.connect(node.FullName, depNode.FullName)
				queue = append(queue, depNode.FullName)
			case project.ExplicitProject:
				depNode, err := b.requireNode(dep.Project, dep.Task)
				if err != nil {
					return err
				}
				if depNode.FullName == node.FullName {
					return &ErrCycleDetected{Path: []string{node.FullName, node.FullName}}
				}
				b.connect(node.FullName, depNode.FullName)
				queue = append(queue, depNode.FullName)
			case project.Upstream:
				upstream := append([]string{}, b.pg.DirectDependencies(node.ProjectName)...)
				sort.Strings(upstream)
				for _, depProjectName := range upstream {
					depProject, ok := b.pg.Project(depProjectName)
					if !ok {
						continue
					}
					depTask, ok := depProject.Tasks[dep.Task]
					if !ok {
						// Missing upstream targets are silently skipped:
						// upstream fan-out is best-effort, not a hard
						// reference.
						continue
					}
					depNode := b.addNode(depProject, depTask)
					b.connect(node.FullName, depNode.FullName)
					queue = append(queue, depNode.FullName)
				}
			}
		}
	}
	return nil
}

// requireNode returns the node for projectName#taskName, creating it if
// this is the first time it has been reached, or an ErrUnknownProject /
// ErrUnknownTask if the reference does not resolve.
func (b *builder) requireNode(projectName, taskName string) (*TaskExecutionNode, error) {
	p, ok := b.pg.Project(projectName)
	if !ok {
		return nil, &ErrUnknownProject{Project: projectName}
	}
	task, ok := p.Tasks[taskName]
	if !ok {
		return nil, &ErrUnknownTask{Project: projectName, Task: taskName}
	}
	return b.addNode(p, task), nil
}

func (b *builder) addNode(p *project.Project, task *project.Task) *TaskExecutionNode {
	fullName := util.FullName(p.Name, task.Name)
	if existing, ok := b.graph.Nodes[fullName]; ok {
		return existing
	}
	node := &TaskExecutionNode{
		ProjectName: p.Name,
		ProjectDir:  p.Dir,
		TaskName:    task.Name,
		TaskCommand: task.Command,
		FullName:    fullName,
		Enabled:     true,
	}
	b.graph.Nodes[fullName] = node
	b.graph.g.Add(fullName)
	return node
}

func (b *builder) addSyntheticNode(p *project.Project, cmd CommandCall) *TaskExecutionNode {
	fullName := util.FullName(p.Name, execTaskName)
	node := &TaskExecutionNode{
		ProjectName: p.Name,
		ProjectDir:  p.Dir,
		TaskName:    execTaskName,
		TaskCommand: cmd.commandLine(),
		FullName:    fullName,
		Enabled:     true,
	}
	b.graph.Nodes[fullName] = node
	b.graph.g.Add(fullName)
	return node
}

// connect adds a dependent -> dependency edge, matching the convention
// used by internal/projectgraph.
func (b *builder) connect(dependent, dependency string) {
	b.graph.g.Connect(dag.BasicEdge(dependent, dependency))
}

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
