package executor

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"

	"omni/internal/fingerprint"
	"omni/internal/plan"
	"omni/internal/taskgraph"
	"omni/internal/util"
)

// FailurePolicy selects how a node's predecessor failures propagate
// (the --on-failure flag).
type FailurePolicy int

const (
	// SkipDependents skips only the direct-and-transitive dependents of
	// a failed node; this is the default.
	SkipDependents FailurePolicy = iota
	// SkipNextBatches abandons every node in every batch after the one
	// containing a failure.
	SkipNextBatches
	// Continue never propagates a failure into a Skipped result; every
	// enabled node still attempts to run.
	Continue
)

// ParseFailurePolicy parses the --on-failure flag value.
func ParseFailurePolicy(raw string) (FailurePolicy, bool) {
	switch raw {
	case "", "skip-dependents":
		return SkipDependents, true
	case "skip-next-batches":
		return SkipNextBatches, true
	case "continue":
		return Continue, true
	default:
		return 0, false
	}
}

// PresenterFactory returns the writer a node's forwarded/replayed
// output should be written to, or nil to discard it.
type PresenterFactory func(fullName string) io.Writer

// nodeRunner is the subset of *Processor the batch executor depends
// on, narrowed to a behavior-only contract so tests can substitute a
// fake without spawning real processes.
type nodeRunner interface {
	Run(ctx context.Context, nt NodeTask, depDigests map[string]fingerprint.Digest, presenter io.Writer) *Result
}

// BatchExecutor drives an ExecutionPlan with bounded concurrency:
// batches run strictly in sequence, nodes within a batch run
// concurrently up to MaxConcurrency.
type BatchExecutor struct {
	Graph          *taskgraph.Graph
	Plan           *plan.ExecutionPlan
	Processor      nodeRunner
	NodeTasks      map[string]NodeTask
	MaxConcurrency int
	FailurePolicy  FailurePolicy
	Presenter      PresenterFactory
}

// Run executes the plan to completion (or until ctx is cancelled) and
// returns every node's TaskExecutionResult in plan order.
func (e *BatchExecutor) Run(ctx context.Context) ([]*Result, error) {
	results := make(map[string]*Result, len(e.NodeTasks))
	var mu sync.Mutex
	sem := util.NewSemaphore(e.MaxConcurrency)

	skipAllRemaining := false
	var runErrs *multierror.Error

	for _, batch := range e.Plan.Batches {
		if skipAllRemaining {
			for _, fullName := range batch {
				mu.Lock()
				results[fullName] = &Result{FullName: fullName, Outcome: Skipped, SkipReason: DependencyFailed}
				mu.Unlock()
			}
			continue
		}

		var wg sync.WaitGroup
		for _, fullName := range batch {
			fullName := fullName
			wg.Add(1)
			sem.Acquire()
			go func() {
				defer wg.Done()
				defer sem.Release()

				result := e.runNode(ctx, fullName, results, &mu)

				mu.Lock()
				results[fullName] = result
				mu.Unlock()
			}()
		}
		wg.Wait()

		if e.FailurePolicy == SkipNextBatches && batchHasFailure(results, batch) {
			skipAllRemaining = true
		}
	}

	out := make([]*Result, 0, len(e.Plan.Nodes()))
	for _, fullName := range e.Plan.Nodes() {
		r := results[fullName]
		if r == nil {
			r = &Result{FullName: fullName, Outcome: Skipped, SkipReason: DependencyFailed}
		}
		out = append(out, r)
		if r.Outcome == Failure {
			err := r.Err
			if err == nil {
				err = fmt.Errorf("%s failed", fullName)
			}
			runErrs = multierror.Append(runErrs, err)
		}
	}
	return out, runErrs.ErrorOrNil()
}

func batchHasFailure(results map[string]*Result, batch []string) bool {
	for _, fullName := range batch {
		if r := results[fullName]; r != nil && r.Outcome == Failure {
			return true
		}
	}
	return false
}

func (e *BatchExecutor) runNode(ctx context.Context, fullName string, results map[string]*Result, mu *sync.Mutex) *Result {
	nt, ok := e.NodeTasks[fullName]
	if !ok {
		return &Result{FullName: fullName, Outcome: Failure, FailureKind: ExecSpawn}
	}

	if ctx.Err() != nil {
		return &Result{FullName: fullName, Outcome: Failure, FailureKind: Cancelled}
	}

	if !nt.Node.Enabled {
		return &Result{FullName: fullName, Outcome: Skipped, SkipReason: Disabled}
	}

	deps := e.Graph.Dependencies(fullName)

	mu.Lock()
	depFailed := false
	digests := make(map[string]fingerprint.Digest, len(deps))
	for _, dep := range deps {
		if r := results[dep]; r != nil {
			if r.Outcome == Failure || r.Outcome == Skipped {
				depFailed = true
			}
			if r.HasDigest {
				digests[dep] = r.Digest
			}
		}
	}
	mu.Unlock()

	if depFailed && e.FailurePolicy != Continue {
		return &Result{FullName: fullName, Outcome: Skipped, SkipReason: DependencyFailed}
	}

	var presenter io.Writer
	if e.Presenter != nil {
		presenter = e.Presenter(fullName)
	}

	return e.Processor.Run(ctx, nt, digests, presenter)
}
