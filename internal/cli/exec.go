package cli

import (
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"omni/internal/executor"
	"omni/internal/plan"
	"omni/internal/process"
	"omni/internal/report"
	"omni/internal/taskgraph"
)

func newExecCommand() *cobra.Command {
	flags := &commonFlags{}

	cmd := &cobra.Command{
		Use:   "exec <command> [-- args...]",
		Short: "Run an ad-hoc command across the filtered project set",
		Long: `Exec runs an arbitrary command line on every project in the filtered
seed set. Unlike run, the command is not declared in any project's task
map and never carries dependency edges.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execCommand(cmd, flags, args[0], args[1:])
		},
	}
	flags.addFlags(cmd.Flags())
	return cmd
}

func execCommand(cmd *cobra.Command, flags *commonFlags, exe string, args []string) error {
	logger := hclog.New(&hclog.LoggerOptions{Name: "omni", Level: hclog.Warn})

	rc, err := loadContext(logger)
	if err != nil {
		return err
	}

	seedNames, err := rc.seeds(flags)
	if err != nil {
		return err
	}

	call := taskgraph.Call{Command: &taskgraph.CommandCall{Exe: exe, Args: args}}
	g, err := taskgraph.Build(rc.graph, seedNames, call, taskgraph.Options{})
	if err != nil {
		return err
	}

	built := plan.Build(g)

	mgr := process.NewManager(logger)
	opts, err := rc.newProcessorOptions(logger, mgr, flags.dryRun, false, true, true)
	if err != nil {
		return err
	}
	processor := executor.New(opts)

	exec := &executor.BatchExecutor{
		Graph:          g,
		Plan:           built,
		Processor:      processor,
		NodeTasks:      nodeTasksFor(rc, g),
		MaxConcurrency: flags.maxConcurrency,
		FailurePolicy:  executor.SkipDependents,
		Presenter:      newPresenterFactory(cmd.OutOrStdout()),
	}

	ctx, stop := signalContext(mgr)
	defer stop()
	results, _ := exec.Run(ctx)

	rep := report.Build(results, executor.SkipDependents)
	rep.WriteSummary(cmd.OutOrStdout(), report.IsTTY)

	if flags.result != "" {
		if err := writeResults(rep, flags.result, flags.resultFormat); err != nil {
			return err
		}
	}
	if rep.ExitCode != 0 {
		return &ExitError{Code: rep.ExitCode}
	}
	return nil
}
