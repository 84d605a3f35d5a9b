package doctor

import (
	"context"
	"fmt"
	"time"

	"github.com/cscs-keygen/cscs-keygen/internal/errors"
	"github.com/cscs-keygen/cscs-keygen/internal/vault"
)

// sessionTimeout bounds the CLI calls a session check makes.
const sessionTimeout = 15 * time.Second

// VaultCLICheck verifies a password manager CLI is on PATH.
type VaultCLICheck struct {
	Backend vault.Backend
	Runner  vault.Runner
	// Required fails the check instead of warning when the CLI is missing.
	Required bool
}

func (c *VaultCLICheck) Name() string     { return c.Backend.Command() + "_cli" }
func (c *VaultCLICheck) Category() string { return "VAULT" }

func (c *VaultCLICheck) Run(_ context.Context) CheckResult {
	path, err := c.Runner.LookPath(c.Backend.Command())
	if err != nil {
		status := StatusWarn
		if c.Required {
			status = StatusFail
		}
		return CheckResult{
			Name:       c.Name(),
			Status:     status,
			Message:    fmt.Sprintf("%s CLI (%s) not found", c.Backend.DisplayName(), c.Backend.Command()),
			Suggestion: "Install it: " + c.Backend.InstallURL(),
		}
	}

	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("%s CLI: %s", c.Backend.DisplayName(), path),
	}
}

func (c *VaultCLICheck) Fix() error { return nil }

// VaultSessionCheck verifies the vault can be read without prompting.
type VaultSessionCheck struct {
	Backend vault.Backend
	Options vault.Options
}

func (c *VaultSessionCheck) Name() string     { return c.Backend.Command() + "_session" }
func (c *VaultSessionCheck) Category() string { return "VAULT" }

func (c *VaultSessionCheck) Run(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, sessionTimeout)
	defer cancel()

	desc, err := vault.CheckSession(ctx, c.Backend, c.Options)
	if err != nil {
		msg, sugg := errors.Describe(err)
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    msg,
			Suggestion: sugg,
		}
	}

	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("%s session: %s", c.Backend.DisplayName(), desc),
	}
}

func (c *VaultSessionCheck) Fix() error { return nil }

// VaultItemCheck verifies a backend and item are configured.
type VaultItemCheck struct {
	Backend string
	Item    string
}

func (c *VaultItemCheck) Name() string     { return "vault_item" }
func (c *VaultItemCheck) Category() string { return "VAULT" }

func (c *VaultItemCheck) Run(_ context.Context) CheckResult {
	if c.Backend == "" || c.Item == "" {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    "No default backend and item configured",
			Suggestion: "Pass them to fetch (cscs-keygen fetch bw <item>) or set 'backend' and 'item' in the config",
		}
	}

	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("Item %q in %s", c.Item, c.Backend),
	}
}

func (c *VaultItemCheck) Fix() error { return nil }

// NewVaultChecks returns the password manager checks. With a configured
// backend only that backend is checked, and its CLI is required.
func NewVaultChecks(backend, item string, opts vault.Options) []Check {
	if opts.Runner == nil {
		opts.Runner = vault.ExecRunner{}
	}

	checks := []Check{&VaultItemCheck{Backend: backend, Item: item}}

	if b, err := vault.ParseBackend(backend); err == nil && backend != "" {
		return append(checks,
			&VaultCLICheck{Backend: b, Runner: opts.Runner, Required: true},
			&VaultSessionCheck{Backend: b, Options: opts},
		)
	}

	for _, b := range vault.Backends() {
		checks = append(checks, &VaultCLICheck{Backend: b, Runner: opts.Runner})
	}
	return checks
}
