package vault

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes password-manager CLIs.
type Runner interface {
	// Run executes name with args and returns its stdout. A non-zero exit
	// is reported as *ExitError carrying stderr.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	// LookPath reports where name is installed.
	LookPath(name string) (string, error)
}

// ExitError is a command that ran and exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, msg)
}

// ExecRunner runs commands on the local machine.
type ExecRunner struct {
	// Env, when non-nil, is appended to the inherited environment.
	Env []string
}

// Run executes the command without a shell so item names are passed
// through verbatim.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	command := exec.CommandContext(ctx, name, args...)
	if r.Env != nil {
		command.Env = append(command.Environ(), r.Env...)
	}

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	runErr := command.Run()
	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			return stdout.Bytes(), &ExitError{
				Command:  name,
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
			}
		}
		return nil, fmt.Errorf("couldn't run %s: %w", name, runErr)
	}

	return stdout.Bytes(), nil
}

// LookPath searches PATH for name.
func (r ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
