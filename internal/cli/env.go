package cli

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"omni/internal/env"
)

// newEnvCommand is an introspection entry point into the env resolver,
// independent of running any task.
func newEnvCommand() *cobra.Command {
	var projectName string

	cmd := &cobra.Command{
		Use:   "env",
		Short: "Inspect a project's effective environment",
	}
	cmd.PersistentFlags().StringVarP(&projectName, "project", "p", "", "Project to resolve the environment for (defaults to the workspace root)")

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print the value of a single environment variable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, err := resolveEnvForProject(projectName)
			if err != nil {
				return err
			}
			if v, ok := vars[args[0]]; ok {
				fmt.Fprint(cmd.OutOrStdout(), v)
			} else {
				cmd.PrintErrf("environment variable does not exist: %s\n", args[0])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Print every resolved environment variable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, err := resolveEnvForProject(projectName)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(vars))
			for k := range vars {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, vars[k])
			}
			return nil
		},
	})

	return cmd
}

func resolveEnvForProject(projectName string) (env.EnvironmentVariableMap, error) {
	logger := hclog.New(&hclog.LoggerOptions{Name: "omni", Level: hclog.Warn})
	rc, err := loadContext(logger)
	if err != nil {
		return nil, err
	}

	dir := rc.root
	var projectVars env.EnvironmentVariableMap
	if projectName != "" {
		found := false
		for _, p := range rc.projects {
			if p.Name == projectName {
				dir = p.Dir
				projectVars = env.EnvironmentVariableMap(p.Env)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown project %q", projectName)
		}
	}

	return rc.newEnvResolver().Resolve(env.ResolveNode{ProjectDir: dir, ProjectVars: projectVars})
}
