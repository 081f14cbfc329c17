package project

import (
	"fmt"
	"regexp"
)

// depRefPattern implements the dependency reference grammar:
//
//	((?<project>…)#(?<task>…))|(\^(?<up>…))|(?<own>…)
var depRefPattern = regexp.MustCompile(`^(?:(?P<project>[^#^]+)#(?P<task>[^#^]+)|\^(?P<up>[^#^]+)|(?P<own>[^#^]+))$`)

// ErrAmbiguousReference is returned when a dependency reference string
// cannot be unambiguously classified into one of the three shapes.
type ErrAmbiguousReference struct {
	Raw string
}

func (e *ErrAmbiguousReference) Error() string {
	return fmt.Sprintf("ambiguous dependency reference %q", e.Raw)
}

// ParseTaskDependency parses a single dependency reference string into a
// TaskDependency.
func ParseTaskDependency(raw string) (TaskDependency, error) {
	m := depRefPattern.FindStringSubmatch(raw)
	if m == nil {
		return TaskDependency{}, &ErrAmbiguousReference{Raw: raw}
	}
	names := depRefPattern.SubexpNames()
	values := make(map[string]string, len(names))
	for i, name := range names {
		if name != "" && i < len(m) {
			values[name] = m[i]
		}
	}
	switch {
	case values["project"] != "" && values["task"] != "":
		return TaskDependency{Kind: ExplicitProject, Project: values["project"], Task: values["task"]}, nil
	case values["up"] != "":
		return TaskDependency{Kind: Upstream, Task: values["up"]}, nil
	case values["own"] != "":
		return TaskDependency{Kind: Own, Task: values["own"]}, nil
	default:
		return TaskDependency{}, &ErrAmbiguousReference{Raw: raw}
	}
}

// ParseTaskDependencies parses an ordered list of dependency references,
// preserving order (determinism is imposed later by the task graph
// builder's lexicographic tie-breaking, not here).
func ParseTaskDependencies(raw []string) ([]TaskDependency, error) {
	out := make([]TaskDependency, 0, len(raw))
	for _, r := range raw {
		dep, err := ParseTaskDependency(r)
		if err != nil {
			return nil, err
		}
		out = append(out, dep)
	}
	return out, nil
}
