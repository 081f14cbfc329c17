// Package cli wires the core packages into the cobra-based command line
// surface of the omni binary.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hashicorp/go-hclog"
	homedir "github.com/mitchellh/go-homedir"

	"omni/internal/cache"
	"omni/internal/env"
	"omni/internal/executor"
	"omni/internal/filter"
	"omni/internal/fingerprint"
	"omni/internal/process"
	"omni/internal/project"
	"omni/internal/projectgraph"
	"omni/internal/workspace"
)

// runContext bundles the workspace state shared by run/exec/env.
type runContext struct {
	root     string
	cfg      *workspace.Config
	projects []*project.Project
	graph    *projectgraph.Graph
	logger   hclog.Logger
}

func loadContext(logger hclog.Logger) (*runContext, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	root, err := workspace.DiscoverRoot(cwd)
	if err != nil {
		return nil, err
	}
	cfg, err := workspace.LoadConfig(root)
	if err != nil {
		return nil, err
	}
	projects, err := workspace.Load(root, cfg, logger)
	if err != nil {
		return nil, err
	}
	graph, err := projectgraph.Build(projects)
	if err != nil {
		return nil, err
	}
	return &runContext{root: root, cfg: cfg, projects: projects, graph: graph, logger: logger}, nil
}

// seeds resolves the project/meta filters named by commonFlags into a
// seed project name list. The affected/SCM selector is left unwired:
// computing a changed-file diff needs an SCM collaborator this binary
// does not ship, so filter.Seeds receives a nil AffectedFilter.
func (rc *runContext) seeds(flags *commonFlags) ([]string, error) {
	var projectFilter *filter.ProjectFilter
	if flags.project != "" {
		pf, err := filter.NewProjectFilter([]string{flags.project})
		if err != nil {
			return nil, err
		}
		projectFilter = pf
	}

	var metaFilter *filter.MetaFilter
	if flags.meta != "" {
		mf, err := filter.NewMetaFilter(flags.meta)
		if err != nil {
			return nil, err
		}
		metaFilter = mf
	}

	names := filter.Seeds(rc.graph, projectFilter, metaFilter, nil, false)
	if len(names) == 0 {
		return nil, fmt.Errorf("no projects matched the given filters")
	}
	return names, nil
}

func (rc *runContext) newEnvResolver() *env.Resolver {
	workspaceVars := env.EnvironmentVariableMap{}
	for k, v := range rc.cfg.Env {
		workspaceVars[k] = v
	}
	return env.NewResolver(rc.root, "", true, workspaceVars, env.NewOSEnvLoader())
}

// cacheRoot resolves the store root from the workspace config: the
// workspace-relative .omni/cache default, an explicit cache_dir
// (absolute, ~-expanded, or workspace-relative), or the shared
// machine-level location when cache_dir is "global".
func (rc *runContext) cacheRoot() (string, error) {
	switch dir := rc.cfg.CacheDir; {
	case dir == "":
		return filepath.Join(rc.root, ".omni", "cache"), nil
	case dir == "global":
		return cache.DefaultRoot()
	default:
		expanded, err := homedir.Expand(dir)
		if err != nil {
			return "", err
		}
		if filepath.IsAbs(expanded) {
			return expanded, nil
		}
		return filepath.Join(rc.root, expanded), nil
	}
}

func (rc *runContext) newProcessorOptions(logger hclog.Logger, mgr *process.Manager, dryRun, force, noCache, replayLogs bool) (executor.Options, error) {
	cacheRoot, err := rc.cacheRoot()
	if err != nil {
		return executor.Options{}, err
	}
	store, err := cache.NewStore(cacheRoot, logger)
	if err != nil {
		return executor.Options{}, err
	}

	return executor.Options{
		Store:            store,
		FileTree:         &fingerprint.Walker{},
		EnvResolver:      rc.newEnvResolver(),
		ProcessManager:   mgr,
		Logger:           logger,
		WorkspaceDir:     rc.root,
		DryRun:           dryRun,
		Force:            force,
		NoCache:          noCache,
		ReplayCachedLogs: replayLogs,
	}, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM. On the
// first signal it also closes mgr, which sends the graceful kill signal
// to every in-flight child and hard-kills stragglers after the kill
// timeout.
func signalContext(mgr *process.Manager) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
			mgr.Close()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
