package report

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// IsTTY reports whether stdout is a real terminal,
// not a pipe or a CI log collector.
var IsTTY = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

var (
	successColor = color.New(color.FgGreen)
	failureColor = color.New(color.FgRed, color.Bold)
	skipColor    = color.New(color.FgYellow)
	cacheColor   = color.New(color.FgCyan)
)

// WriteSummary prints a one-line-per-task, colorized-when-TTY summary
// followed by the aggregate counts.
func (r *Report) WriteSummary(w io.Writer, useColor bool) {
	for _, p := range r.Projects {
		for _, t := range p.Tasks {
			fmt.Fprintf(w, "%s %s\n", outcomeBadge(t.Outcome, useColor), t.FullName)
		}
	}
	fmt.Fprintf(w, "\n%d successful, %d cached, %d failed, %d skipped (%d total)\n",
		r.Counts.Success, r.Counts.CacheHit, r.Counts.Failure, r.Counts.Skipped, r.Counts.TaskCount)
}

func outcomeBadge(outcome string, useColor bool) string {
	label := badgeLabel(outcome)
	if !useColor {
		return label
	}
	switch outcome {
	case "success":
		return successColor.Sprint(label)
	case "cache_hit":
		return cacheColor.Sprint(label)
	case "failure":
		return failureColor.Sprint(label)
	case "skipped":
		return skipColor.Sprint(label)
	default:
		return label
	}
}

func badgeLabel(outcome string) string {
	switch outcome {
	case "success":
		return "done"
	case "cache_hit":
		return "cache hit"
	case "failure":
		return "failed "
	case "skipped":
		return "skipped"
	default:
		return outcome
	}
}
