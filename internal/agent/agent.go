// Package agent loads the CSCS key into the running SSH agent.
package agent

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/ssh"
	sshagent "golang.org/x/crypto/ssh/agent"

	kgerrors "github.com/cscs-keygen/cscs-keygen/internal/errors"
	"github.com/cscs-keygen/cscs-keygen/internal/keys"
	"github.com/cscs-keygen/cscs-keygen/internal/logger"
	"github.com/cscs-keygen/cscs-keygen/pkg/sshutil"
)

// DefaultLifetime matches the validity of a CSCS key.
const DefaultLifetime = 24 * time.Hour

// Comment is attached to keys added by cscs-keygen.
const Comment = "cscs-key"

// ErrNoAgent means no agent could be reached.
var ErrNoAgent = errors.New("no SSH agent is running")

// AgentError is a failure talking to the agent.
type AgentError struct {
	Op  string
	Err error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("ssh-agent %s: %v", e.Op, e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

// Dialer connects to an agent. The closer may be nil.
type Dialer func() (sshagent.Agent, io.Closer, error)

// Registrar adds keys to an agent and inspects its contents.
type Registrar struct {
	dial     Dialer
	Lifetime time.Duration
	Logger   logger.Logger
}

// New returns a registrar for the agent of the current session.
func New(log logger.Logger) *Registrar {
	return NewWithDialer(dialSystem, log)
}

// NewWithDialer returns a registrar using dial.
func NewWithDialer(dial Dialer, log logger.Logger) *Registrar {
	if log == nil {
		log = logger.Noop()
	}
	return &Registrar{dial: dial, Lifetime: DefaultLifetime, Logger: log}
}

// NewWithAgent wraps an existing agent, such as agent.NewKeyring().
func NewWithAgent(a sshagent.Agent, log logger.Logger) *Registrar {
	return NewWithDialer(func() (sshagent.Agent, io.Closer, error) {
		return a, nil, nil
	}, log)
}

// Running reports whether an agent can be reached.
func (r *Registrar) Running() bool {
	a, closer, err := r.dial()
	if err != nil || a == nil {
		return false
	}
	closeQuietly(closer)
	return true
}

// Add loads the private key (and its certificate, when the public half is
// one) into the agent with the configured lifetime. passphrase decrypts a
// protected key and is ignored otherwise.
func (r *Registrar) Add(m *keys.Material, passphrase string) error {
	key, err := sshutil.ParsePrivateKey(m.PrivateKey, passphrase)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return agentErr("add", err, "The private key is passphrase-protected",
				"Store the passphrase in the vault item, or add the key with ssh-add")
		}
		return agentErr("add", err, "Couldn't read the private key", "")
	}

	a, closer, err := r.connect()
	if err != nil {
		return err
	}
	defer closeQuietly(closer)

	lifetime := uint32(0)
	if r.Lifetime > 0 {
		lifetime = uint32(r.Lifetime / time.Second)
	}

	added := sshagent.AddedKey{
		PrivateKey:   key,
		Comment:      Comment,
		LifetimeSecs: lifetime,
	}
	if err := a.Add(added); err != nil {
		return agentErr("add", err, "The SSH agent refused the key", "")
	}

	if info := m.Info(); info != nil && info.Cert != nil {
		added.Certificate = info.Cert
		if err := a.Add(added); err != nil {
			return agentErr("add", err, "The SSH agent refused the certificate", "")
		}
	}

	r.Logger.Info("added %s to the agent for %s", m.Fingerprint(), r.Lifetime)
	return nil
}

// Contains reports whether pub (or a certificate for it) is loaded.
func (r *Registrar) Contains(pub ssh.PublicKey) (bool, error) {
	a, closer, err := r.connect()
	if err != nil {
		return false, err
	}
	defer closeQuietly(closer)

	loaded, err := a.List()
	if err != nil {
		return false, agentErr("list", err, "Couldn't list the agent's keys", "")
	}

	want := baseKey(pub).Marshal()
	for _, k := range loaded {
		parsed, err := ssh.ParsePublicKey(k.Blob)
		if err != nil {
			continue
		}
		if bytes.Equal(baseKey(parsed).Marshal(), want) {
			return true, nil
		}
	}
	return false, nil
}

func (r *Registrar) connect() (sshagent.Agent, io.Closer, error) {
	a, closer, err := r.dial()
	if err != nil {
		return nil, nil, agentErr("connect", err, "Couldn't reach the SSH agent",
			"Start one with: eval \"$(ssh-agent)\"")
	}
	if a == nil {
		return nil, nil, agentErr("connect", ErrNoAgent, "Couldn't reach the SSH agent",
			"Start one with: eval \"$(ssh-agent)\"")
	}
	return a, closer, nil
}

func baseKey(pub ssh.PublicKey) ssh.PublicKey {
	if cert, ok := pub.(*ssh.Certificate); ok {
		return cert.Key
	}
	return pub
}

func agentErr(op string, err error, message, suggestion string) error {
	return kgerrors.WrapWithCode(&AgentError{Op: op, Err: err}, kgerrors.ErrAgent, message, suggestion)
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
