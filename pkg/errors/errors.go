package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("record not found")
	ErrQueueClosed          = errors.New("task queue closed")
	ErrFallbackUnavailable  = errors.New("fallback fetch service not configured")
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrDiscordNotConfigured = errors.New("discord client not configured")
)

// ToolExecutionError reports a non-zero exit or timeout of an external
// scanning tool. The scan record is marked FAILED with the captured stderr.
type ToolExecutionError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolExecutionError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("tool %s failed (exit %d): %s", e.Tool, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("tool %s failed (exit %d): %v", e.Tool, e.ExitCode, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

func NewToolExecutionError(tool string, exitCode int, stderr string, err error) *ToolExecutionError {
	return &ToolExecutionError{
		Tool:     tool,
		ExitCode: exitCode,
		Stderr:   stderr,
		Err:      err,
	}
}

// ParseError reports a single malformed line in a streaming tool output.
// Callers log it and continue with the next line.
type ParseError struct {
	Tool string
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error from %s on line %q: %v", e.Tool, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func NewParseError(tool, line string, err error) *ParseError {
	return &ParseError{
		Tool: tool,
		Line: line,
		Err:  err,
	}
}

// NetworkError reports a transport-level failure during a fetch or service
// call after the given number of attempts.
type NetworkError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func NewNetworkError(url string, attempts int, err error) *NetworkError {
	return &NetworkError{
		URL:      url,
		Attempts: attempts,
		Err:      err,
	}
}

// ChallengeDetectedError signals that a direct fetch hit an anti-bot
// challenge or empty shell page. It is an escalation signal, not a failure.
type ChallengeDetectedError struct {
	URL    string
	Marker string
}

func (e *ChallengeDetectedError) Error() string {
	return fmt.Sprintf("challenge detected on %s (marker: %s)", e.URL, e.Marker)
}

func NewChallengeDetectedError(url, marker string) *ChallengeDetectedError {
	return &ChallengeDetectedError{
		URL:    url,
		Marker: marker,
	}
}

// DuplicateActiveScanError is returned when a stage dispatch is refused
// because a PENDING or RUNNING scan already exists for the same target+tool.
type DuplicateActiveScanError struct {
	Tool       string
	TargetKind string
	TargetID   string
}

func (e *DuplicateActiveScanError) Error() string {
	return fmt.Sprintf("an active %s scan already exists for %s %s", e.Tool, e.TargetKind, e.TargetID)
}

func NewDuplicateActiveScanError(tool, targetKind, targetID string) *DuplicateActiveScanError {
	return &DuplicateActiveScanError{
		Tool:       tool,
		TargetKind: targetKind,
		TargetID:   targetID,
	}
}
