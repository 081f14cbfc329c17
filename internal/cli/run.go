package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"omni/internal/executor"
	"omni/internal/plan"
	"omni/internal/process"
	"omni/internal/report"
	"omni/internal/taskgraph"
)

func newRunCommand() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run <task> [-- args...]",
		Short: "Run a task across the filtered project set",
		Long: `Run executes a named task across every project that matches the
--project and --meta filters (and their dependencies, expanded per the
task dependency graph), in topological batches, restoring cached results
where possible.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks(cmd, flags, args[0], args[1:])
		},
	}
	flags.addFlags(cmd.Flags())
	return cmd
}

func runTasks(cmd *cobra.Command, flags *runFlags, task string, taskArgs []string) error {
	logger := hclog.New(&hclog.LoggerOptions{Name: "omni", Level: hclog.Warn})

	rc, err := loadContext(logger)
	if err != nil {
		return err
	}

	onFailure, ok := executor.ParseFailurePolicy(flags.onFailure)
	if !ok {
		return fmt.Errorf("unknown --on-failure value %q", flags.onFailure)
	}

	seedNames, err := rc.seeds(&flags.common)
	if err != nil {
		return err
	}

	call := taskgraph.Call{Tasks: []string{task}}

	g, err := taskgraph.Build(rc.graph, seedNames, call, taskgraph.Options{
		ImplicitTasks:      true,
		IgnoreDependencies: flags.ignoreDependencies,
	})
	if err != nil {
		return err
	}
	applyPassThroughArgs(g, task, taskArgs)

	built := plan.Build(g)

	mgr := process.NewManager(logger)
	opts, err := rc.newProcessorOptions(logger, mgr, flags.common.dryRun, flags.force, flags.noCache, !flags.noReplayLogs)
	if err != nil {
		return err
	}
	processor := executor.New(opts)

	nodeTasks := nodeTasksFor(rc, g)

	exec := &executor.BatchExecutor{
		Graph:          g,
		Plan:           built,
		Processor:      processor,
		NodeTasks:      nodeTasks,
		MaxConcurrency: flags.common.maxConcurrency,
		FailurePolicy:  onFailure,
		Presenter:      newPresenterFactory(cmd.OutOrStdout()),
	}

	ctx, stop := signalContext(mgr)
	defer stop()
	results, runErr := exec.Run(ctx)

	rep := report.Build(results, onFailure)
	rep.WriteSummary(cmd.OutOrStdout(), report.IsTTY)

	if flags.common.result != "" {
		if err := writeResults(rep, flags.common.result, flags.common.resultFormat); err != nil {
			return err
		}
	}

	if rep.ExitCode != 0 {
		if runErr != nil {
			logger.Debug("run completed with failures", "error", runErr)
		}
		return &ExitError{Code: rep.ExitCode}
	}
	return nil
}

// applyPassThroughArgs appends the trailing CLI arguments to every node
// running taskName's command, including ones reached only as
// dependencies of another project's same-named task, an approximation
// the single-task `run` command accepts.
func applyPassThroughArgs(g *taskgraph.Graph, taskName string, args []string) {
	if len(args) == 0 {
		return
	}
	suffix := " " + strings.Join(args, " ")
	for _, node := range g.Nodes {
		if node.TaskName == taskName {
			node.TaskCommand += suffix
		}
	}
}

func nodeTasksFor(rc *runContext, g *taskgraph.Graph) map[string]executor.NodeTask {
	projectsByName := make(map[string]int, len(rc.projects))
	for i, p := range rc.projects {
		projectsByName[p.Name] = i
	}

	out := make(map[string]executor.NodeTask, len(g.Nodes))
	for fullName, node := range g.Nodes {
		nt := executor.NodeTask{Node: node}
		if idx, ok := projectsByName[node.ProjectName]; ok {
			nt.Project = rc.projects[idx]
			nt.Task = rc.projects[idx].Tasks[node.TaskName]
		}
		out[fullName] = nt
	}
	return out
}

func writeResults(rep *report.Report, path, formatFlag string) error {
	format, ok := report.ParseFormat(formatFlag)
	if !ok || formatFlag == "" {
		format = formatFromExt(path)
	}
	raw, err := rep.Marshal(format)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0644)
}

func formatFromExt(path string) report.Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return report.YAML
	case ".toml":
		return report.TOML
	default:
		return report.JSON
	}
}
