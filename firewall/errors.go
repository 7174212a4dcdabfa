package firewall

import (
	"fmt"
	"strings"
)

type constError string

func (e constError) Error() string { return string(e) }

const (
	// ErrNoRule indicates a delete targeted a rule that isn't in the chain.
	ErrNoRule = constError("no matching rule in chain")
	// ErrNoChain indicates an operation named a chain that doesn't exist.
	ErrNoChain = constError("no chain by that name")
)

// ToolError is returned when an invocation of the firewall tool fails to run
// or exits non-zero.  It keeps whatever the tool printed so the cause can be
// logged.
type ToolError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %v: stderr=%q stdout=%q",
		strings.Join(e.Args, " "), e.Err,
		strings.TrimSpace(e.Stderr), strings.TrimSpace(e.Stdout))
}

// Unwrap returns the underlying exec or exit error.
func (e *ToolError) Unwrap() error { return e.Err }
