package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the omni CLI's cobra command tree.
func NewRootCommand(version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "omni",
		Short:         "A fast, content-addressed workspace task orchestrator",
		Version:       version,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.AddCommand(newRunCommand())
	root.AddCommand(newExecCommand())
	root.AddCommand(newEnvCommand())
	return root
}

// Execute runs the CLI with os.Args and returns the process exit code.
func Execute(version string) int {
	root := NewRootCommand(version)
	err := root.Execute()
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	root.PrintErrln("error:", err)
	return 1
}
