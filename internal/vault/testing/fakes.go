// Package testing provides in-memory doubles for the vault package.
package testing

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cscs-keygen/cscs-keygen/internal/vault"
)

// FakeSource returns fixed credentials or a fixed error.
type FakeSource struct {
	mu    sync.Mutex
	Creds vault.Credentials
	Err   error
	calls int
}

// NewFakeSource returns a source that yields creds.
func NewFakeSource(creds vault.Credentials) *FakeSource {
	return &FakeSource{Creds: creds}
}

// NewFailingSource returns a source that always fails with err.
func NewFailingSource(err error) *FakeSource {
	return &FakeSource{Err: err}
}

// Name implements vault.Source.
func (f *FakeSource) Name() string { return "fake" }

// Fetch implements vault.Source.
func (f *FakeSource) Fetch(ctx context.Context) (vault.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := ctx.Err(); err != nil {
		return vault.Credentials{}, err
	}
	if f.Err != nil {
		return vault.Credentials{}, f.Err
	}
	return f.Creds, nil
}

// Calls returns how many times Fetch ran.
func (f *FakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Response is the scripted outcome of one command.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// FakeRunner answers commands from a script keyed by the full command line,
// e.g. "bw get item cscs --raw".
type FakeRunner struct {
	mu        sync.Mutex
	Responses map[string]Response
	// Installed lists the executables LookPath finds.
	Installed map[string]bool
	Commands  []string
}

// NewFakeRunner returns a runner where the given executables are installed.
func NewFakeRunner(installed ...string) *FakeRunner {
	r := &FakeRunner{
		Responses: make(map[string]Response),
		Installed: make(map[string]bool),
	}
	for _, name := range installed {
		r.Installed[name] = true
	}
	return r
}

// On scripts the response for a command line.
func (r *FakeRunner) On(cmdline string, resp Response) *FakeRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Responses[cmdline] = resp
	return r
}

// Run implements vault.Runner.
func (r *FakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmdline := strings.Join(append([]string{name}, args...), " ")

	r.mu.Lock()
	r.Commands = append(r.Commands, cmdline)
	resp, ok := r.Responses[cmdline]
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, &vault.ExitError{Command: name, ExitCode: 127, Stderr: "unexpected command: " + cmdline}
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	if resp.ExitCode != 0 {
		return []byte(resp.Stdout), &vault.ExitError{Command: name, ExitCode: resp.ExitCode, Stderr: resp.Stderr}
	}
	return []byte(resp.Stdout), nil
}

// LookPath implements vault.Runner.
func (r *FakeRunner) LookPath(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Installed[name] {
		return "/usr/local/bin/" + name, nil
	}
	return "", fmt.Errorf("exec: %q: executable file not found in $PATH", name)
}

// Ran reports whether cmdline was executed.
func (r *FakeRunner) Ran(cmdline string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.Commands {
		if c == cmdline {
			return true
		}
	}
	return false
}
