package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"

	"omni/internal/cache"
	"omni/internal/env"
	"omni/internal/fingerprint"
	"omni/internal/process"
	"omni/internal/project"
	"omni/internal/taskgraph"
)

// maxBufferedLogBytes bounds the in-memory capture buffer before a
// node's combined stdout+stderr spills to a temp file.
const maxBufferedLogBytes = 4 << 20 // 4 MiB

// Options configures a Processor's collaborators: the cache store, the
// file-tree hasher, the env resolver, and the process manager that
// actually spawns children.
type Options struct {
	Store            *cache.Store
	FileTree         fingerprint.FileTreeRoot
	EnvResolver      *env.Resolver
	ProcessManager   *process.Manager
	Logger           hclog.Logger
	WorkspaceDir     string
	DryRun           bool
	Force            bool
	NoCache          bool
	ReplayCachedLogs bool
}

// Processor runs the per-node state machine:
//
//	Pending -> Evaluating -> (CacheHit | Running -> (Success | Failure))
//
// The Pending -> Skipped transitions (dependency failure, disabled
// node) are the Batch Executor's responsibility, since they depend on
// cross-node state the processor does not own.
type Processor struct {
	opts Options
}

// New creates a Processor.
func New(opts Options) *Processor {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	return &Processor{opts: opts}
}

// NodeTask bundles a task graph node with the project.Task that
// declares its cache/inputs/outputs configuration. Task is nil for
// synthetic "exec" nodes, which are never cache-eligible.
type NodeTask struct {
	Node    *taskgraph.TaskExecutionNode
	Task    *project.Task
	Project *project.Project
}

// Run executes N's Evaluating state onward: compute its fingerprint,
// consult the cache, and either restore a hit or spawn the command and
// capture its result. depDigests supplies N's already-computed
// dependency digests, keyed by full_name, which must already be known
// (fingerprinting is only possible once predecessors are hashed). presenter receives forwarded stdout/stderr lines as the
// node runs, or replayed cached log bytes on a hit when
// ReplayCachedLogs is set. ctx cancellation triggers graceful
// termination of a Running child.
func (p *Processor) Run(ctx context.Context, nt NodeTask, depDigests map[string]fingerprint.Digest, presenter io.Writer) *Result {
	node := nt.Node
	envMap, err := p.opts.EnvResolver.Resolve(env.ResolveNode{
		ProjectDir:  node.ProjectDir,
		ProjectVars: projectEnv(nt.Project),
	})
	if err != nil {
		return &Result{FullName: node.FullName, Outcome: Failure, FailureKind: HashInputMissing, Err: err}
	}

	digest, cacheEligible, err := p.computeDigest(nt, envMap, depDigests)
	if err != nil {
		var missing *fingerprint.ErrHashInputMissing
		kind := HashInputMissing
		if !isHashInputMissing(err, &missing) {
			kind = ExecSpawn
		}
		return &Result{FullName: node.FullName, Outcome: Failure, FailureKind: kind, Err: err}
	}

	if cacheEligible && !p.opts.Force {
		if entry, ok, err := p.opts.Store.Get(cache.TaskExecutionInfo{
			ProjectName: node.ProjectName,
			TaskName:    node.TaskName,
			Digest:      digest,
		}); err == nil && ok {
			if err := p.opts.Store.Restore(entry, node.ProjectDir, replayTarget(p.opts.ReplayCachedLogs, presenter)); err != nil {
				p.opts.Logger.Warn("failed restoring cache entry, falling back to run", "node", node.FullName, "error", err)
			} else {
				return &Result{
					FullName:     node.FullName,
					Outcome:      CacheHit,
					Duration:     time.Duration(entry.Meta.ExecutionDurationMs) * time.Millisecond,
					Digest:       digest,
					HasDigest:    true,
					CapturedLogs: entry.Logs,
				}
			}
		}
	}

	if p.opts.DryRun {
		fmt.Fprintf(presenter, "(dry run) %s$ %s\n", node.ProjectDir, node.TaskCommand)
		return &Result{FullName: node.FullName, Outcome: Success, Digest: digest, HasDigest: cacheEligible}
	}

	return p.run(ctx, nt, digest, cacheEligible, envMap, presenter)
}

func isHashInputMissing(err error, out **fingerprint.ErrHashInputMissing) bool {
	missing, ok := err.(*fingerprint.ErrHashInputMissing)
	if ok {
		*out = missing
	}
	return ok
}

func replayTarget(replay bool, presenter io.Writer) io.Writer {
	if replay {
		return presenter
	}
	return nil
}

// projectEnv returns p's declared env block (a flat key/value map),
// or nil if p has none. This is the project's real environment
// configuration, distinct from a task's Meta (a filter-only key/value
// map, never passed to a child process).
func projectEnv(p *project.Project) map[string]string {
	if p == nil {
		return nil
	}
	return p.Env
}

// workspaceRelative rewrites an absolute project dir relative to the
// workspace root so the digest stays stable when the workspace moves.
func (p *Processor) workspaceRelative(projectDir string) string {
	if p.opts.WorkspaceDir == "" {
		return projectDir
	}
	rel, err := filepath.Rel(p.opts.WorkspaceDir, projectDir)
	if err != nil {
		return projectDir
	}
	return filepath.ToSlash(rel)
}

func (p *Processor) computeDigest(nt NodeTask, envMap map[string]string, depDigests map[string]fingerprint.Digest) (fingerprint.Digest, bool, error) {
	node := nt.Node
	if nt.Task == nil {
		// Synthetic exec nodes are never cache-eligible:
		// there is no declared cache config to key them by.
		return fingerprint.Digest{}, false, nil
	}

	cacheEligible := nt.Task.CacheEnabled && !p.opts.NoCache
	envValues := map[string]string{}
	for _, k := range nt.Task.Cache.EnvKeys {
		envValues[k] = envMap[k]
	}

	digest, err := fingerprint.Compute(fingerprint.Input{
		TaskName:                    node.TaskName,
		TaskCommand:                 node.TaskCommand,
		ProjectDir:                  node.ProjectDir,
		WorkspaceRelativeProjectDir: p.workspaceRelative(node.ProjectDir),
		InputGlobs:                  nt.Task.Cache.InputFiles,
		EnvKeys:                     nt.Task.Cache.EnvKeys,
		Env:                         envValues,
		Defaults:                    nt.Task.Cache.Defaults,
		DependencyDigests:           depDigests,
	}, p.opts.FileTree)
	if err != nil {
		return fingerprint.Digest{}, false, err
	}
	return digest, cacheEligible, nil
}

func (p *Processor) run(ctx context.Context, nt NodeTask, digest fingerprint.Digest, cacheEligible bool, envMap map[string]string, presenter io.Writer) *Result {
	node := nt.Node

	var captured capturingWriter
	var out io.Writer = &captured
	if presenter != nil {
		out = io.MultiWriter(&captured, presenter)
	}

	// Built without exec.CommandContext: the stdlib's context watcher
	// SIGKILLs the child the instant ctx fires, racing ahead of the
	// manager's graceful-signal-then-hard-kill teardown. Cancellation is
	// routed through the manager below instead.
	cmd := exec.Command("sh", "-c", node.TaskCommand)
	cmd.Dir = node.ProjectDir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Env = pairs(envMap)

	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.opts.ProcessManager.Close()
		case <-watchDone:
		}
	}()

	start := time.Now()
	err := p.opts.ProcessManager.Exec(cmd)
	duration := time.Since(start)
	close(watchDone)

	logs, _ := captured.Bytes()

	if ctx.Err() == context.Canceled {
		return &Result{FullName: node.FullName, Outcome: Failure, FailureKind: Cancelled, Duration: duration, CapturedLogs: logs, Digest: digest, HasDigest: cacheEligible}
	}

	if err != nil {
		exitErr, ok := err.(*process.ChildExit)
		if !ok {
			return &Result{FullName: node.FullName, Outcome: Failure, FailureKind: ExecSpawn, Duration: duration, CapturedLogs: logs, Err: err}
		}
		return &Result{
			FullName:     node.FullName,
			Outcome:      Failure,
			FailureKind:  ExitNonZero,
			ExitCode:     exitErr.ExitCode,
			Duration:     duration,
			CapturedLogs: logs,
			Digest:       digest,
			HasDigest:    cacheEligible,
		}
	}

	result := &Result{
		FullName:     node.FullName,
		Outcome:      Success,
		Duration:     duration,
		Digest:       digest,
		HasDigest:    cacheEligible,
		CapturedLogs: logs,
	}

	if cacheEligible {
		files, ferr := collectOutputs(node.ProjectDir, nt.Task.Outputs)
		if ferr != nil {
			p.opts.Logger.Warn("failed collecting declared outputs, skipping cache write", "node", node.FullName, "error", ferr)
			return result
		}
		putErr := p.opts.Store.Put(cache.NewCacheInfo{
			ProjectName: node.ProjectName,
			TaskName:    node.TaskName,
			Digest:      digest,
			ExitCode:    0,
			Duration:    duration,
			Tries:       1,
			Logs:        logs,
			Files:       files,
		})
		if putErr != nil {
			p.opts.Logger.Warn("failed writing cache entry", "node", node.FullName, "error", putErr)
		}
	}

	return result
}

func pairs(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}

func collectOutputs(projectDir string, outputs project.TaskOutputConfig) (map[string]string, error) {
	matched, err := matchOutputGlobs(projectDir, outputs.Inclusions, outputs.Exclusions)
	if err != nil {
		return nil, err
	}
	files := make(map[string]string, len(matched))
	for _, rel := range matched {
		files[rel] = projectDir + string(os.PathSeparator) + rel
	}
	return files, nil
}

// capturingWriter accumulates a node's combined stdout+stderr, bounded
// in memory with spill-to-temp-file on overflow.
type capturingWriter struct {
	buf      bytes.Buffer
	spill    *os.File
	spilling bool
}

func (w *capturingWriter) Write(p []byte) (int, error) {
	if w.spilling {
		return w.spill.Write(p)
	}
	if w.buf.Len()+len(p) > maxBufferedLogBytes {
		f, err := os.CreateTemp("", "omni-captured-log-*")
		if err != nil {
			return 0, err
		}
		if _, err := f.Write(w.buf.Bytes()); err != nil {
			return 0, err
		}
		w.spill = f
		w.spilling = true
		return w.spill.Write(p)
	}
	return w.buf.Write(p)
}

// Bytes returns the captured content. For spilled output it reads the
// temp file back and removes it.
func (w *capturingWriter) Bytes() ([]byte, error) {
	if !w.spilling {
		return w.buf.Bytes(), nil
	}
	defer func() {
		name := w.spill.Name()
		_ = w.spill.Close()
		_ = os.Remove(name)
	}()
	if _, err := w.spill.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if _, err := io.Copy(&out, w.spill); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
