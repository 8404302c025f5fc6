// Package testutil provides testing utilities for the reconpipe application
package testutil

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"reconpipe/pkg/runner"
)

// MockCommandRunner implements runner.CommandRunner for testing
type MockCommandRunner struct {
	mu        sync.RWMutex
	commands  []ExecutedCommand
	responses map[string]CommandResponse
}

type ExecutedCommand struct {
	Command string
	Args    []string
	Stdin   string
}

type CommandResponse struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Error    error
	Delay    time.Duration
}

func NewMockCommandRunner() *MockCommandRunner {
	return &MockCommandRunner{
		responses: make(map[string]CommandResponse),
	}
}

// SetResponse registers canned output for a command. An empty args slice
// matches any invocation of that command.
func (m *MockCommandRunner) SetResponse(command string, args []string, response CommandResponse) {
	m.mu.Lock()
	m.responses[key(command, args)] = response
	m.mu.Unlock()
}

func (m *MockCommandRunner) Run(ctx context.Context, command string, args []string) (*runner.Result, error) {
	return m.RunWithInput(ctx, command, args, nil)
}

func (m *MockCommandRunner) RunWithInput(ctx context.Context, command string, args []string, stdin io.Reader) (*runner.Result, error) {
	var input string
	if stdin != nil {
		data, _ := io.ReadAll(stdin)
		input = string(data)
	}

	m.mu.Lock()
	m.commands = append(m.commands, ExecutedCommand{
		Command: command,
		Args:    args,
		Stdin:   input,
	})
	m.mu.Unlock()

	response := m.lookup(command, args)
	if response.Delay > 0 {
		select {
		case <-time.After(response.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	result := &runner.Result{
		Stdout:   response.Stdout,
		Stderr:   response.Stderr,
		ExitCode: response.ExitCode,
	}
	return result, response.Error
}

func (m *MockCommandRunner) Stream(ctx context.Context, command string, args []string, fn runner.LineFunc) (*runner.Result, error) {
	m.mu.Lock()
	m.commands = append(m.commands, ExecutedCommand{
		Command: command,
		Args:    args,
	})
	m.mu.Unlock()

	response := m.lookup(command, args)
	for _, line := range strings.Split(response.Stdout, "\n") {
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			return &runner.Result{Stderr: response.Stderr, ExitCode: response.ExitCode}, err
		}
	}

	result := &runner.Result{
		Stderr:   response.Stderr,
		ExitCode: response.ExitCode,
	}
	return result, response.Error
}

func (m *MockCommandRunner) lookup(command string, args []string) CommandResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if response, ok := m.responses[key(command, args)]; ok {
		return response
	}
	// Fall back to a command-wide response
	if response, ok := m.responses[key(command, nil)]; ok {
		return response
	}
	return CommandResponse{}
}

func (m *MockCommandRunner) GetExecutedCommands() []ExecutedCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()

	commands := make([]ExecutedCommand, len(m.commands))
	copy(commands, m.commands)
	return commands
}

func (m *MockCommandRunner) Reset() {
	m.mu.Lock()
	m.commands = nil
	m.responses = make(map[string]CommandResponse)
	m.mu.Unlock()
}

func key(command string, args []string) string {
	if len(args) == 0 {
		return command
	}
	return command + " " + strings.Join(args, " ")
}

// WithTimeout creates a context with timeout for tests
func WithTimeout(t *testing.T, timeout time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), timeout)
}
