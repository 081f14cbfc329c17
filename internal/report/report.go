// Package report turns a batch run's []*executor.Result into the
// structured summary: grouped by project, counted by
// outcome, serializable to JSON/YAML/TOML, with an exit code derived from
// the active failure policy.
package report

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"omni/internal/executor"
	"omni/internal/util"
)

// Format selects the --result-format serialization.
type Format int

const (
	JSON Format = iota
	YAML
	TOML
)

// ParseFormat parses the --result-format flag value.
func ParseFormat(raw string) (Format, bool) {
	switch raw {
	case "", "json":
		return JSON, true
	case "yaml", "yml":
		return YAML, true
	case "toml":
		return TOML, true
	default:
		return 0, false
	}
}

// TaskResult is one node's result, flattened for serialization.
type TaskResult struct {
	Project     string `json:"project" yaml:"project" toml:"project"`
	Task        string `json:"task" yaml:"task" toml:"task"`
	FullName    string `json:"full_name" yaml:"full_name" toml:"full_name"`
	Outcome     string `json:"outcome" yaml:"outcome" toml:"outcome"`
	SkipReason  string `json:"skip_reason,omitempty" yaml:"skip_reason,omitempty" toml:"skip_reason,omitempty"`
	FailureKind string `json:"failure_kind,omitempty" yaml:"failure_kind,omitempty" toml:"failure_kind,omitempty"`
	ExitCode    int    `json:"exit_code,omitempty" yaml:"exit_code,omitempty" toml:"exit_code,omitempty"`
	DurationMs  int64  `json:"duration_ms" yaml:"duration_ms" toml:"duration_ms"`
	Digest      string `json:"digest,omitempty" yaml:"digest,omitempty" toml:"digest,omitempty"`
}

// ProjectReport groups a project's task results together.
type ProjectReport struct {
	Project string       `json:"project" yaml:"project" toml:"project"`
	Tasks   []TaskResult `json:"tasks" yaml:"tasks" toml:"tasks"`
}

// Counts tallies outcomes across the whole run.
type Counts struct {
	Success   int `json:"success" yaml:"success" toml:"success"`
	CacheHit  int `json:"cache_hit" yaml:"cache_hit" toml:"cache_hit"`
	Failure   int `json:"failure" yaml:"failure" toml:"failure"`
	Skipped   int `json:"skipped" yaml:"skipped" toml:"skipped"`
	TaskCount int `json:"task_count" yaml:"task_count" toml:"task_count"`
}

// Report is the full structured result of a run.
type Report struct {
	Projects []ProjectReport `json:"projects" yaml:"projects" toml:"projects"`
	Counts   Counts          `json:"counts" yaml:"counts" toml:"counts"`
	ExitCode int             `json:"exit_code" yaml:"exit_code" toml:"exit_code"`
}

func skipReasonString(r executor.SkipReason) string {
	switch r {
	case executor.DependencyFailed:
		return "dependency_failed"
	case executor.Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}

func failureKindString(k executor.FailureKind) string {
	switch k {
	case executor.ExitNonZero:
		return "exit_non_zero"
	case executor.ExecSpawn:
		return "exec_spawn"
	case executor.Cancelled:
		return "cancelled"
	case executor.HashInputMissing:
		return "hash_input_missing"
	default:
		return "unknown"
	}
}

// Build groups results by project and computes the exit code. onFailure
// is the policy the run was driven with: under Continue, only explicit
// Failure outcomes count toward FAILURE.
func Build(results []*executor.Result, onFailure executor.FailurePolicy) *Report {
	byProject := map[string][]TaskResult{}
	counts := Counts{}
	failed := false

	for _, r := range results {
		project, task := util.SplitFullName(r.FullName)
		tr := TaskResult{
			Project:    project,
			Task:       task,
			FullName:   r.FullName,
			Outcome:    r.Outcome.String(),
			DurationMs: r.Duration.Milliseconds(),
		}
		if r.HasDigest {
			tr.Digest = r.Digest.String()
		}

		switch r.Outcome {
		case executor.Success:
			counts.Success++
		case executor.CacheHit:
			counts.CacheHit++
		case executor.Failure:
			counts.Failure++
			tr.FailureKind = failureKindString(r.FailureKind)
			tr.ExitCode = r.ExitCode
			failed = true
		case executor.Skipped:
			counts.Skipped++
			tr.SkipReason = skipReasonString(r.SkipReason)
			if r.SkipReason == executor.DependencyFailed && onFailure != executor.Continue {
				failed = true
			}
		}
		counts.TaskCount++
		byProject[project] = append(byProject[project], tr)
	}

	names := make([]string, 0, len(byProject))
	for name := range byProject {
		names = append(names, name)
	}
	sort.Strings(names)

	projects := make([]ProjectReport, 0, len(names))
	for _, name := range names {
		tasks := byProject[name]
		sort.Slice(tasks, func(i, j int) bool { return tasks[i].Task < tasks[j].Task })
		projects = append(projects, ProjectReport{Project: name, Tasks: tasks})
	}

	exitCode := 0
	if failed {
		exitCode = 1
	}

	return &Report{Projects: projects, Counts: counts, ExitCode: exitCode}
}

// Marshal serializes the report in the requested format.
func (r *Report) Marshal(format Format) ([]byte, error) {
	switch format {
	case JSON:
		return json.MarshalIndent(r, "", "  ")
	case YAML:
		return yaml.Marshal(r)
	case TOML:
		return toml.Marshal(r)
	default:
		return nil, fmt.Errorf("unknown report format %d", format)
	}
}
