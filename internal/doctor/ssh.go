package doctor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/cscs-keygen/cscs-keygen/internal/errors"
	"github.com/cscs-keygen/cscs-keygen/internal/keys"
	"github.com/cscs-keygen/cscs-keygen/pkg/sshutil"
)

// ExpiryWarning is how close to expiry a key starts to warn.
const ExpiryWarning = time.Hour

// AgentProbe is the read-only part of the agent registrar.
type AgentProbe interface {
	Running() bool
	Contains(pub ssh.PublicKey) (bool, error)
}

// SSHAgentCheck verifies an SSH agent is reachable.
type SSHAgentCheck struct {
	Agent AgentProbe
}

func (c *SSHAgentCheck) Name() string     { return "ssh_agent" }
func (c *SSHAgentCheck) Category() string { return "SSH" }

func (c *SSHAgentCheck) Run(_ context.Context) CheckResult {
	if !c.Agent.Running() {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    "SSH agent not running",
			Suggestion: "Start one with: eval \"$(ssh-agent)\" (only needed for --add and 'cscs-keygen add')",
		}
	}

	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: "SSH agent running",
	}
}

func (c *SSHAgentCheck) Fix() error { return nil }

// KeyDirCheck verifies the key directory is private.
type KeyDirCheck struct {
	Pair keys.Pair
}

func (c *KeyDirCheck) Name() string     { return "key_dir" }
func (c *KeyDirCheck) Category() string { return "SSH" }

func (c *KeyDirCheck) Run(_ context.Context) CheckResult {
	info, err := os.Stat(c.Pair.Dir)
	if os.IsNotExist(err) {
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusPass,
			Message: fmt.Sprintf("%s will be created on the first fetch", c.Pair.Dir),
		}
	}
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("Cannot access %s: %v", c.Pair.Dir, err),
			Suggestion: "Check directory permissions",
		}
	}
	if !info.IsDir() {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("%s is not a directory", c.Pair.Dir),
			Suggestion: "Set key_dir to a directory",
		}
	}

	if runtime.GOOS != "windows" && info.Mode().Perm()&0o077 != 0 {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    fmt.Sprintf("%s is accessible by other users (%04o)", c.Pair.Dir, info.Mode().Perm()),
			Suggestion: fmt.Sprintf("Fix: chmod 700 %s", c.Pair.Dir),
			Fixable:    true,
		}
	}

	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("Key directory: %s", c.Pair.Dir),
	}
}

func (c *KeyDirCheck) Fix() error {
	return os.Chmod(c.Pair.Dir, keys.DirMode)
}

// KeyPairCheck verifies the key pair is present, readable and valid.
type KeyPairCheck struct {
	Pair keys.Pair
	Now  func() time.Time
}

func (c *KeyPairCheck) Name() string     { return "key_pair" }
func (c *KeyPairCheck) Category() string { return "SSH" }

func (c *KeyPairCheck) Run(_ context.Context) CheckResult {
	if !c.Pair.Exists() {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    "No key pair yet",
			Suggestion: "Fetch one: cscs-keygen fetch",
		}
	}
	if !c.Pair.Complete() {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    "Only one half of the key pair is present",
			Suggestion: "Fetch a new pair: cscs-keygen fetch --force",
		}
	}

	m, err := c.Pair.Load()
	if err != nil {
		msg, _ := errors.Describe(err)
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    msg,
			Suggestion: "Fetch a new pair: cscs-keygen fetch --force",
		}
	}

	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	if m.Expired(now) {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("Key expired %s ago", formatRemaining(now.Sub(m.ExpiresAt))),
			Suggestion: "Fetch a new pair: cscs-keygen fetch --force",
		}
	}

	remaining := m.ExpiresAt.Sub(now)
	if remaining < ExpiryWarning {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    fmt.Sprintf("Key expires in %s", formatRemaining(remaining)),
			Suggestion: "Fetch a new pair soon: cscs-keygen fetch --force",
		}
	}

	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("Key valid for %s (%s)", formatRemaining(remaining), m.Fingerprint()),
	}
}

func (c *KeyPairCheck) Fix() error { return nil }

// KeyPermissionsCheck verifies the private key is readable only by its owner.
type KeyPermissionsCheck struct {
	Pair keys.Pair
}

func (c *KeyPermissionsCheck) Name() string     { return "key_permissions" }
func (c *KeyPermissionsCheck) Category() string { return "SSH" }

func (c *KeyPermissionsCheck) Run(_ context.Context) CheckResult {
	info, err := os.Stat(c.Pair.PrivatePath())
	if err != nil || runtime.GOOS == "windows" {
		// KeyPairCheck reports missing files
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusPass,
			Message: "Skipped",
		}
	}

	if mode := info.Mode().Perm(); mode != keys.PrivateKeyMode {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("Private key has mode %04o, ssh refuses keys other users can read", mode),
			Suggestion: fmt.Sprintf("Fix: chmod 600 %s", c.Pair.PrivatePath()),
			Fixable:    true,
		}
	}

	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: "Private key permissions are 0600",
	}
}

func (c *KeyPermissionsCheck) Fix() error {
	return os.Chmod(c.Pair.PrivatePath(), keys.PrivateKeyMode)
}

// AgentKeyCheck verifies the key pair is loaded in the agent.
type AgentKeyCheck struct {
	Agent AgentProbe
	Pair  keys.Pair
}

func (c *AgentKeyCheck) Name() string     { return "agent_key" }
func (c *AgentKeyCheck) Category() string { return "SSH" }

func (c *AgentKeyCheck) Run(_ context.Context) CheckResult {
	if !c.Agent.Running() || !c.Pair.Complete() {
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusPass,
			Message: "Skipped (no agent or no key pair)",
		}
	}

	m, err := c.Pair.Load()
	if err != nil {
		// KeyPairCheck reports this
		return CheckResult{Name: c.Name(), Status: StatusPass, Message: "Skipped (key pair unreadable)"}
	}

	loaded, err := c.Agent.Contains(m.Info().Key)
	if err != nil {
		msg, _ := errors.Describe(err)
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusWarn,
			Message: msg,
		}
	}
	if !loaded {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    "Key is not loaded in the agent",
			Suggestion: "Load it: cscs-keygen add",
		}
	}

	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: "Key is loaded in the agent",
	}
}

func (c *AgentKeyCheck) Fix() error { return nil }

// SSHConfigCheck verifies some ssh_config host uses the key.
type SSHConfigCheck struct {
	Path string
	Pair keys.Pair
}

func (c *SSHConfigCheck) Name() string     { return "ssh_config" }
func (c *SSHConfigCheck) Category() string { return "SSH" }

func (c *SSHConfigCheck) Run(_ context.Context) CheckResult {
	hosts, err := sshutil.ParseSSHConfigFile(c.Path)
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    fmt.Sprintf("Cannot read %s: %v", c.Path, err),
			Suggestion: c.suggestion(),
		}
	}

	using := sshutil.HostsUsingIdentity(hosts, c.Pair.PrivatePath(), c.Pair.CertificatePath())
	if len(using) > 0 {
		names := make([]string, len(using))
		for i, h := range using {
			names[i] = h.Alias
		}
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusPass,
			Message: "Used by: " + strings.Join(names, ", "),
		}
	}

	msg := "No ssh_config host uses the key"
	if cscs := sshutil.CSCSHosts(hosts); len(cscs) > 0 {
		msg = fmt.Sprintf("%d CSCS host(s) in %s don't use the key", len(cscs), c.Path)
	}
	return CheckResult{
		Name:       c.Name(),
		Status:     StatusWarn,
		Message:    msg,
		Suggestion: c.suggestion(),
	}
}

func (c *SSHConfigCheck) suggestion() string {
	return fmt.Sprintf("Add 'IdentityFile %s' and 'CertificateFile %s' to your CSCS hosts",
		c.Pair.PrivatePath(), c.Pair.CertificatePath())
}

func (c *SSHConfigCheck) Fix() error { return nil }

// NewSSHChecks returns the key, agent and ssh_config checks.
func NewSSHChecks(pair keys.Pair, agent AgentProbe, sshConfigPath string) []Check {
	return []Check{
		&KeyDirCheck{Pair: pair},
		&KeyPairCheck{Pair: pair},
		&KeyPermissionsCheck{Pair: pair},
		&SSHAgentCheck{Agent: agent},
		&AgentKeyCheck{Agent: agent, Pair: pair},
		&SSHConfigCheck{Path: sshConfigPath, Pair: pair},
	}
}

// formatRemaining renders a duration as hours and minutes.
func formatRemaining(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh%dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}
