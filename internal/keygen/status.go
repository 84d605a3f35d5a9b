package keygen

import (
	"time"

	"github.com/cscs-keygen/cscs-keygen/pkg/sshutil"
)

// Status is a snapshot of the key pair and the agent.
type Status struct {
	PrivatePath     string
	CertificatePath string
	Exists          bool
	Complete        bool

	Fingerprint string
	Principals  []string
	ExpiresAt   time.Time
	Expired     bool
	Encrypted   bool
	// LoadError is set when the files exist but couldn't be parsed.
	LoadError error

	AgentRunning bool
	InAgent      bool

	// Hosts are ssh_config entries that use this key.
	Hosts []sshutil.SSHHostEntry
}

// Remaining is the validity left at now, zero once expired.
func (s *Status) Remaining(now time.Time) time.Duration {
	if s.ExpiresAt.IsZero() || !now.Before(s.ExpiresAt) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// Status inspects the pair, the agent and the given ssh_config file. An
// empty sshConfigPath skips the host lookup.
func (s *Service) Status(sshConfigPath string) *Status {
	st := &Status{
		PrivatePath:     s.Pair.PrivatePath(),
		CertificatePath: s.Pair.CertificatePath(),
		Exists:          s.Pair.Exists(),
		Complete:        s.Pair.Complete(),
	}

	if sshConfigPath != "" {
		hosts, err := sshutil.ParseSSHConfigFile(sshConfigPath)
		if err != nil {
			s.log().Debug("reading %s: %v", sshConfigPath, err)
		}
		st.Hosts = sshutil.HostsUsingIdentity(hosts, st.PrivatePath, st.CertificatePath)
	}

	if s.Agent != nil {
		st.AgentRunning = s.Agent.Running()
	}

	if !st.Complete {
		return st
	}

	m, err := s.Pair.Load()
	if err != nil {
		st.LoadError = err
		return st
	}

	st.Fingerprint = m.Fingerprint()
	st.ExpiresAt = m.ExpiresAt
	st.Expired = m.Expired(s.now())
	st.Encrypted = m.Encrypted()
	if info := m.Info(); info != nil && info.Cert != nil {
		st.Principals = info.Cert.ValidPrincipals
	}

	if st.AgentRunning {
		if ok, err := s.Agent.Contains(m.Info().Key); err == nil {
			st.InAgent = ok
		}
	}
	return st
}
