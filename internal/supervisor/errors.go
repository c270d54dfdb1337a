package supervisor

import (
	"errors"
	"fmt"
	"strings"
)

// CommandError reports a supervisor invocation that exited non-zero, could
// not be started, or produced output that could not be parsed.
type CommandError struct {
	Command string
	Args    []string
	Stderr  string
	Err     error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("supervisor command failed: %s %s: %v", e.Command, strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *CommandError) Unwrap() error {
	return e.Err
}

// IsCommandError reports whether err comes from a failed supervisor invocation
func IsCommandError(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr)
}
