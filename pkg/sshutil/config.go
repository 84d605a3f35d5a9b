package sshutil

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// CSCSDomain is the domain suffix of CSCS login and jump hosts.
const CSCSDomain = "cscs.ch"

// SSHHostEntry represents a parsed host entry from SSH config.
type SSHHostEntry struct {
	Alias           string // The Host pattern (alias)
	Hostname        string // The HostName value (actual host to connect to)
	User            string // The User value
	Port            string // The Port value
	IdentityFile    string // The IdentityFile value
	CertificateFile string // The CertificateFile value
	ProxyJump       string // The ProxyJump value
}

// Description returns a user-friendly description of the host.
func (h SSHHostEntry) Description() string {
	parts := []string{}

	if h.Hostname != "" && h.Hostname != h.Alias {
		parts = append(parts, h.Hostname)
	}

	if h.User != "" {
		parts = append(parts, "user: "+h.User)
	}

	if h.Port != "" && h.Port != "22" {
		parts = append(parts, "port: "+h.Port)
	}

	if h.ProxyJump != "" {
		parts = append(parts, "via: "+h.ProxyJump)
	}

	if len(parts) == 0 {
		return h.Alias
	}

	return strings.Join(parts, ", ")
}

// IsCSCS reports whether the entry points at a CSCS host.
func (h SSHHostEntry) IsCSCS() bool {
	name := h.Hostname
	if name == "" {
		name = h.Alias
	}
	name = strings.ToLower(name)
	return name == CSCSDomain || strings.HasSuffix(name, "."+CSCSDomain)
}

// UsesIdentity reports whether the entry's IdentityFile or CertificateFile
// points at the given private key (or its certificate).
func (h SSHHostEntry) UsesIdentity(privateKeyPath, certPath string) bool {
	return samePath(h.IdentityFile, privateKeyPath) ||
		(certPath != "" && samePath(h.CertificateFile, certPath))
}

// DefaultConfigPath is the per-user OpenSSH client config.
func DefaultConfigPath() string {
	return filepath.Join(homeDir(), ".ssh", "config")
}

// ParseSSHConfigFile parses the specified SSH config file.
// It filters out wildcards, returning only concrete host aliases.
func ParseSSHConfigFile(configPath string) ([]SSHHostEntry, error) {
	content, _, err := preprocessSSHConfig(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No SSH config is fine
		}
		return nil, err
	}

	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	var hosts []SSHHostEntry
	seen := make(map[string]bool)

	for _, host := range cfg.Hosts {
		for _, pattern := range host.Patterns {
			alias := pattern.String()

			if strings.Contains(alias, "*") || strings.Contains(alias, "?") {
				continue
			}

			if seen[alias] {
				continue
			}
			seen[alias] = true

			entry := SSHHostEntry{
				Alias: alias,
			}

			if hostname, _ := cfg.Get(alias, "HostName"); hostname != "" {
				entry.Hostname = hostname
			}

			if user, _ := cfg.Get(alias, "User"); user != "" {
				entry.User = user
			}

			if port, _ := cfg.Get(alias, "Port"); port != "" {
				entry.Port = port
			}

			if identity, _ := cfg.Get(alias, "IdentityFile"); identity != "" {
				entry.IdentityFile = expandPath(identity)
			}

			if cert, _ := cfg.Get(alias, "CertificateFile"); cert != "" {
				entry.CertificateFile = expandPath(cert)
			}

			if jump, _ := cfg.Get(alias, "ProxyJump"); jump != "" {
				entry.ProxyJump = jump
			}

			hosts = append(hosts, entry)
		}
	}

	sort.Slice(hosts, func(i, j int) bool {
		return hosts[i].Alias < hosts[j].Alias
	})

	return hosts, nil
}

// HostsUsingIdentity returns the entries that reference the key pair.
func HostsUsingIdentity(hosts []SSHHostEntry, privateKeyPath, certPath string) []SSHHostEntry {
	var filtered []SSHHostEntry
	for _, h := range hosts {
		if h.UsesIdentity(privateKeyPath, certPath) {
			filtered = append(filtered, h)
		}
	}
	return filtered
}

// CSCSHosts returns the entries that point at CSCS machines.
func CSCSHosts(hosts []SSHHostEntry) []SSHHostEntry {
	var filtered []SSHHostEntry
	for _, h := range hosts {
		if h.IsCSCS() {
			filtered = append(filtered, h)
		}
	}
	return filtered
}

// preprocessSSHConfig reads the SSH config and returns content up to the first Match directive.
// Returns the original content if no Match directive is found.
// Also returns the line number where Match was found (0 if not found).
func preprocessSSHConfig(configPath string) ([]byte, int, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	var result []string
	matchLine := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "match ") {
			matchLine = i + 1
			break
		}
		result = append(result, line)
	}

	return []byte(strings.Join(result, "\n")), matchLine, nil
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return filepath.Clean(expandPath(a)) == filepath.Clean(expandPath(b))
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func expandPath(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	return expandPath(path)
}
