package runner

import (
	"fmt"
	"regexp"
	"strings"
)

var safeCommand = regexp.MustCompile(`^[a-zA-Z0-9_\-./]+$`)

// validateCommand validates that a command is safe to execute
func validateCommand(command string) error {
	if command == "" {
		return fmt.Errorf("command is empty")
	}

	if !safeCommand.MatchString(command) {
		return fmt.Errorf("unsafe characters in command: %s", command)
	}

	if strings.Contains(command, "..") {
		return fmt.Errorf("path traversal detected in command")
	}

	return nil
}

// validateArgument validates that a command argument is safe
func validateArgument(arg string) error {
	if arg == "" {
		return nil // Empty arguments are allowed
	}

	// Check for shell metacharacters that could enable command injection
	dangerous := []string{";", "&", "|", "`", "$", "(", ")", "\n", "\r", "<", ">"}
	for _, char := range dangerous {
		if strings.Contains(arg, char) {
			return fmt.Errorf("argument contains dangerous character: %s", char)
		}
	}

	// Check for path traversal
	if strings.Contains(arg, "..") {
		// Allow .. in URLs but not in file paths
		if !strings.Contains(arg, "://") {
			return fmt.Errorf("path traversal detected in argument")
		}
	}

	return nil
}
