package cli

import "fmt"

// ExitError carries a specific process exit code out of a command's
// RunE so the root command can unwrap it with errors.As and exit
// accordingly.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}
