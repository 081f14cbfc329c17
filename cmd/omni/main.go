// Command omni is the workspace task orchestrator's CLI entry point.
package main

import (
	"os"

	"omni/internal/cli"
)

var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
