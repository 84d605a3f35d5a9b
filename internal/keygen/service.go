// Package keygen runs the fetch and add workflows: credentials from the
// vault, a key from the CSCS service, files on disk, the key in the agent.
package keygen

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/cscs-keygen/cscs-keygen/internal/errors"
	"github.com/cscs-keygen/cscs-keygen/internal/exchange"
	"github.com/cscs-keygen/cscs-keygen/internal/keys"
	"github.com/cscs-keygen/cscs-keygen/internal/logger"
	"github.com/cscs-keygen/cscs-keygen/internal/vault"
)

// AgentRegistrar is the part of agent.Registrar the workflows use.
type AgentRegistrar interface {
	Running() bool
	Add(m *keys.Material, passphrase string) error
	Contains(pub ssh.PublicKey) (bool, error)
}

// Progress reports workflow steps, typically to a spinner.
type Progress interface {
	Step(label string)
	Success()
	Fail()
}

type noopProgress struct{}

func (noopProgress) Step(string) {}
func (noopProgress) Success()    {}
func (noopProgress) Fail()       {}

// Service wires the collaborators together. Source and Exchange are only
// needed by Fetch.
type Service struct {
	Source    vault.Source
	Exchange  exchange.KeyRequester
	Pair      keys.Pair
	Installer keys.Installer
	Agent     AgentRegistrar

	// Confirm is asked before replacing an existing pair without Force.
	// Nil means refuse.
	Confirm func(question string) (bool, error)
	// Passphrase supplies the passphrase of a protected key for Add.
	Passphrase func(ctx context.Context) (string, error)

	Progress Progress
	Logger   logger.Logger
	Now      func() time.Time
}

func (s *Service) log() logger.Logger {
	if s.Logger == nil {
		return logger.Noop()
	}
	return s.Logger
}

func (s *Service) progress() Progress {
	if s.Progress == nil {
		return noopProgress{}
	}
	return s.Progress
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// FetchOptions control Fetch.
type FetchOptions struct {
	// Force replaces an existing pair.
	Force bool
	// DryRun stops after the credentials were read.
	DryRun bool
	// AddToAgent loads the new key into the agent.
	AddToAgent bool
}

// FetchResult describes what Fetch did.
type FetchResult struct {
	Pair keys.Pair
	// Material describes the issued key. Its private key bytes are zeroed
	// before Fetch returns.
	Material *keys.Material
	Replaced bool
	// Added is true when the key was loaded into the agent.
	Added bool
	// Plan lists the actions a dry run would have taken.
	Plan []string
}

// Fetch obtains a new key pair and installs it.
//
// Credentials are read before anything touches the network; a credential
// failure means no request is made. Existing keys are replaced in place
// once a new pair has been issued, and survive a failed install. When the key is installed but cannot be added
// to the agent, the result is returned together with the agent error.
func (s *Service) Fetch(ctx context.Context, opts FetchOptions) (*FetchResult, error) {
	res := &FetchResult{Pair: s.Pair}
	log := s.log()
	prog := s.progress()

	exists := s.Pair.Exists()
	if exists && !opts.Force {
		ok, err := s.confirmReplace()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New(errors.ErrKeysExist,
				fmt.Sprintf("A key pair already exists in %s", s.Pair.Dir),
				"Use --force to replace it")
		}
	}
	res.Replaced = exists

	if s.Source == nil {
		return nil, errors.New(errors.ErrConfig, "No password manager configured",
			"Pass the backend and item: cscs-keygen fetch <bw|op> <item>")
	}

	prog.Step(fmt.Sprintf("Reading credentials from %s", s.Source.Name()))
	creds, err := s.Source.Fetch(ctx)
	if err != nil {
		prog.Fail()
		if errors.CodeOf(err) == "" && ctx.Err() == nil {
			err = errors.WrapWithCode(err, errors.ErrCredential,
				fmt.Sprintf("Couldn't read credentials from %s", s.Source.Name()), "")
		}
		return nil, err
	}
	prog.Success()
	log.Debug("credentials for %s loaded", creds.Username)

	if opts.DryRun {
		res.Plan = s.fetchPlan(exists, opts)
		return res, nil
	}

	prog.Step("Requesting a signed key from CSCS")
	material, err := s.Exchange.RequestKey(ctx, creds)
	if err != nil {
		prog.Fail()
		return nil, err
	}
	prog.Success()
	res.Material = material
	defer material.Zero()

	onDisk, err := material.Encrypt(creds.Passphrase)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrInstall,
			"Couldn't protect the private key with the passphrase",
			"Check the passphrase field of the vault item")
	}

	if onDisk != material {
		defer onDisk.Zero()
	}

	prog.Step(fmt.Sprintf("Saving keys to %s", s.Pair.Dir))
	if exists {
		log.Warn("Replacing existing keys in %s", s.Pair.Dir)
	}
	if err := s.Installer.Install(ctx, onDisk, keys.InstallOptions{Overwrite: exists}); err != nil {
		prog.Fail()
		return nil, err
	}
	prog.Success()

	if !opts.AddToAgent {
		return res, nil
	}

	prog.Step("Adding the key to the SSH agent")
	if err := s.Agent.Add(material, ""); err != nil {
		prog.Fail()
		return res, err
	}
	prog.Success()
	res.Added = true
	return res, nil
}

func (s *Service) confirmReplace() (bool, error) {
	if s.Confirm == nil {
		return false, nil
	}
	return s.Confirm(fmt.Sprintf("Replace the existing key pair in %s?", s.Pair.Dir))
}

func (s *Service) fetchPlan(exists bool, opts FetchOptions) []string {
	var plan []string
	if exists {
		plan = append(plan, fmt.Sprintf("replace the existing keys in %s", s.Pair.Dir))
	}
	target := "the CSCS key service"
	if e, ok := s.Exchange.(interface{ Endpoint() string }); ok {
		target = e.Endpoint()
	}
	plan = append(plan,
		"request a signed key from "+target,
		fmt.Sprintf("write %s and %s", s.Pair.PrivatePath(), s.Pair.CertificatePath()),
	)
	if opts.AddToAgent {
		plan = append(plan, "add the key to the SSH agent")
	}
	return plan
}

// AddOptions control Add.
type AddOptions struct {
	DryRun bool
}

// AddResult describes what Add did.
type AddResult struct {
	Material *keys.Material
	// AlreadyLoaded means the agent had the key and nothing was added.
	AlreadyLoaded bool
	DryRun        bool
}

// Add loads the existing pair into the agent. The pair must be present and
// not expired, and the agent must be running.
func (s *Service) Add(ctx context.Context, opts AddOptions) (*AddResult, error) {
	if !s.Pair.Exists() {
		return nil, errors.New(errors.ErrConfig,
			"No valid keys found",
			"Fetch a key pair first: cscs-keygen fetch")
	}

	m, err := s.Pair.Load()
	if err != nil {
		return nil, err
	}
	defer m.Zero()
	res := &AddResult{Material: m}

	if m.Expired(s.now()) {
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("The key expired at %s", m.ExpiresAt.Local().Format(time.RFC1123)),
			"Fetch a new one: cscs-keygen fetch --force")
	}

	if opts.DryRun {
		res.DryRun = true
		return res, nil
	}

	if !s.Agent.Running() {
		return nil, errors.New(errors.ErrAgent,
			"SSH agent is not running",
			"Start one with: eval \"$(ssh-agent)\"")
	}

	loaded, err := s.Agent.Contains(m.Info().Key)
	if err != nil {
		return nil, err
	}
	if loaded {
		s.log().Warn("Private key is already in the agent")
		res.AlreadyLoaded = true
		return res, nil
	}

	passphrase := ""
	if m.Encrypted() && s.Passphrase != nil {
		passphrase, err = s.Passphrase(ctx)
		if err != nil {
			return nil, err
		}
	}

	prog := s.progress()
	prog.Step("Adding the key to the SSH agent")
	if err := s.Agent.Add(m, passphrase); err != nil {
		prog.Fail()
		return nil, err
	}
	prog.Success()
	return res, nil
}
