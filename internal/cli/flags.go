package cli

import (
	"github.com/spf13/pflag"
)

// commonFlags holds the filters and output options shared by run
// and exec.
type commonFlags struct {
	meta           string
	project        string
	maxConcurrency int
	dryRun         bool
	result         string
	resultFormat   string
}

func (f *commonFlags) addFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&f.meta, "meta", "m", "", "Filter projects based on their meta configuration, CEL-style boolean expression (task meta is not consulted)")
	flags.StringVarP(&f.project, "project", "p", "", "Filter projects by name glob")
	flags.IntVarP(&f.maxConcurrency, "max-concurrency", "c", 0, "How many concurrent tasks to run (0 = unbounded)")
	flags.BoolVarP(&f.dryRun, "dry-run", "d", false, "Don't execute tasks, just print the commands that would run")
	flags.StringVar(&f.result, "result", "", "Write the execution results to the specified file")
	flags.StringVar(&f.resultFormat, "result-format", "", "Result file format: json, yaml, or toml (inferred from --result's extension if omitted)")
}

// runFlags adds the run-only flags.
type runFlags struct {
	common             commonFlags
	ignoreDependencies bool
	onFailure          string
	noCache            bool
	noReplayLogs       bool
	force              bool
}

func (f *runFlags) addFlags(flags *pflag.FlagSet) {
	f.common.addFlags(flags)
	flags.BoolVarP(&f.ignoreDependencies, "ignore-dependencies", "i", false, "Run the requested tasks without their dependencies")
	flags.StringVarP(&f.onFailure, "on-failure", "o", "skip-dependents", "How to handle failures: continue, skip-next-batches, or skip-dependents")
	flags.BoolVar(&f.noCache, "no-cache", false, "Don't write execution results to the cache")
	flags.BoolVarP(&f.noReplayLogs, "no-replay-logs", "L", false, "Don't replay the logs of cached task executions")
	flags.BoolVarP(&f.force, "force", "f", false, "Force execution even if a task is already cached")
}
