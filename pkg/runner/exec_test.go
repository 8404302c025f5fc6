package runner

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateArgument(t *testing.T) {
	testCases := []struct {
		name    string
		arg     string
		wantErr bool
	}{
		{name: "plain flag", arg: "-json", wantErr: false},
		{name: "hostname", arg: "api.example.com", wantErr: false},
		{name: "url with dotdot in path", arg: "https://example.com/../admin", wantErr: false},
		{name: "empty argument", arg: "", wantErr: false},
		{name: "command substitution", arg: "$(whoami)", wantErr: true},
		{name: "semicolon chain", arg: "example.com;rm -rf /", wantErr: true},
		{name: "pipe", arg: "foo|bar", wantErr: true},
		{name: "backtick", arg: "`id`", wantErr: true},
		{name: "redirect", arg: "> /etc/passwd", wantErr: true},
		{name: "newline injection", arg: "foo\nbar", wantErr: true},
		{name: "file path traversal", arg: "../../etc/passwd", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateArgument(tc.arg)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCommand(t *testing.T) {
	assert.NoError(t, validateCommand("subfinder"))
	assert.NoError(t, validateCommand("/usr/local/bin/nuclei"))
	assert.Error(t, validateCommand(""))
	assert.Error(t, validateCommand("nmap; reboot"))
	assert.Error(t, validateCommand("../bin/nmap"))
}

func TestExecRunner_Run(t *testing.T) {
	r := NewExecRunner()

	result, err := r.Run(context.Background(), "echo", []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Equal(t, 0, result.ExitCode)
}

func TestExecRunner_RunWithInput(t *testing.T) {
	r := NewExecRunner()

	result, err := r.RunWithInput(context.Background(), "cat", nil, strings.NewReader("a.example.com\nb.example.com\n"))
	require.NoError(t, err)
	assert.Equal(t, "a.example.com\nb.example.com\n", result.Stdout)
}

func TestExecRunner_Stream(t *testing.T) {
	r := NewExecRunner()

	var lines []string
	result, err := r.Stream(context.Background(), "printf", []string{`one\ntwo\n`}, func(line string) error {
		lines = append(lines, line)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, lines)
	assert.Equal(t, 0, result.ExitCode)
}

func TestExecRunner_RejectsInjection(t *testing.T) {
	r := NewExecRunner()

	_, err := r.Run(context.Background(), "echo", []string{"$(rm -rf /)"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dangerous character")
}
