// Package runner executes the external scanning tools as child processes
// with argument validation and bounded lifetimes.
package runner

import (
	"context"
	"io"
)

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// LineFunc is invoked for every line a streamed command writes to stdout.
// Returning an error aborts the stream and kills the process.
type LineFunc func(line string) error

// CommandRunner abstracts child-process execution so stages can be tested
// against canned tool output.
type CommandRunner interface {
	// Run executes the command and captures stdout/stderr in full.
	Run(ctx context.Context, command string, args []string) (*Result, error)

	// RunWithInput executes the command with the given reader piped to stdin.
	// Used for tools that accept a pipelined list of targets.
	RunWithInput(ctx context.Context, command string, args []string, stdin io.Reader) (*Result, error)

	// Stream executes the command and delivers stdout line-by-line to fn
	// while the process runs, keeping memory bounded for large outputs.
	Stream(ctx context.Context, command string, args []string, fn LineFunc) (*Result, error)
}
