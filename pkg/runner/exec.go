package runner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"

	"reconpipe/pkg/logger"

	"github.com/sirupsen/logrus"
)

// maxLineSize bounds a single streamed output line (vulnerability engine
// lines can carry full request/response dumps).
const maxLineSize = 4 * 1024 * 1024

// ExecRunner runs commands via os/exec with argument validation.
type ExecRunner struct {
	logger *logger.Logger
}

// NewExecRunner creates a new ExecRunner instance
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		logger: logger.NewLogger(logrus.InfoLevel),
	}
}

func (r *ExecRunner) Run(ctx context.Context, command string, args []string) (*Result, error) {
	return r.RunWithInput(ctx, command, args, nil)
}

func (r *ExecRunner) RunWithInput(ctx context.Context, command string, args []string, stdin io.Reader) (*Result, error) {
	if err := r.validate(command, args); err != nil {
		return nil, err
	}

	r.logger.WithFields(logger.Fields{
		"command": command,
		"args":    args,
	}).Info("Executing command")

	cmd := exec.CommandContext(ctx, command, args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}

	if err != nil {
		if stderr.Len() > 0 {
			r.logger.WithFields(logger.Fields{
				"command": command,
				"stderr":  stderr.String(),
			}).Error("Command stderr output")
		}
		return result, fmt.Errorf("execution of %s failed: %w", command, err)
	}

	return result, nil
}

func (r *ExecRunner) Stream(ctx context.Context, command string, args []string, fn LineFunc) (*Result, error) {
	if err := r.validate(command, args); err != nil {
		return nil, err
	}

	r.logger.WithFields(logger.Fields{
		"command": command,
		"args":    args,
	}).Info("Executing command (streaming)")

	cmd := exec.CommandContext(ctx, command, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe for %s: %w", command, err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", command, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var scanErr error
	for scanner.Scan() {
		if err := fn(scanner.Text()); err != nil {
			scanErr = err
			break
		}
	}
	if scanErr == nil {
		scanErr = scanner.Err()
	}
	if scanErr != nil {
		// Consumer aborted or the pipe broke; make sure the child dies.
		_ = cmd.Process.Kill()
	}

	waitErr := cmd.Wait()
	result := &Result{
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}

	if scanErr != nil {
		return result, scanErr
	}
	if waitErr != nil {
		if stderr.Len() > 0 {
			r.logger.WithFields(logger.Fields{
				"command": command,
				"stderr":  stderr.String(),
			}).Error("Command stderr output")
		}
		return result, fmt.Errorf("execution of %s failed: %w", command, waitErr)
	}

	return result, nil
}

func (r *ExecRunner) validate(command string, args []string) error {
	if err := validateCommand(command); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}
	for i, arg := range args {
		if err := validateArgument(arg); err != nil {
			return fmt.Errorf("invalid argument at index %d (%s): %w", i, arg, err)
		}
	}
	return nil
}
