// Package vault reads CSCS credentials out of a password manager through
// its command-line client.
//
// Each supported password manager is a Source. Adding one means adding a
// type that implements Source and an entry in the backends table; nothing
// downstream changes.
package vault

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/cscs-keygen/cscs-keygen/internal/errors"
	"github.com/cscs-keygen/cscs-keygen/internal/logger"
)

// Source yields one set of credentials.
type Source interface {
	// Name is the password manager's display name.
	Name() string
	Fetch(ctx context.Context) (Credentials, error)
}

// Backend identifies a password manager.
type Backend string

const (
	Bitwarden   Backend = "bw"
	OnePassword Backend = "op"
)

type backendInfo struct {
	Name       string
	Command    string
	TokenEnv   string
	InstallURL string
	LoginHint  string
}

var backends = map[Backend]backendInfo{
	Bitwarden: {
		Name:       "Bitwarden",
		Command:    "bw",
		TokenEnv:   "BW_SESSION",
		InstallURL: "https://bitwarden.com/help/cli/",
		LoginHint:  `Unlock the vault and export the session: export BW_SESSION="$(bw unlock --raw)"`,
	},
	OnePassword: {
		Name:       "1Password",
		Command:    "op",
		TokenEnv:   "OP_SERVICE_ACCOUNT_TOKEN",
		InstallURL: "https://developer.1password.com/docs/cli/get-started/",
		LoginHint:  "Sign in with 'op signin', or set OP_SERVICE_ACCOUNT_TOKEN",
	},
}

var aliases = map[string]Backend{
	"bw":        Bitwarden,
	"bitwarden": Bitwarden,
	"op":        OnePassword,
	"1p":        OnePassword,
	"1password": OnePassword,
}

// ParseBackend accepts a backend name or one of its aliases.
func ParseBackend(name string) (Backend, error) {
	if b, ok := aliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return b, nil
	}
	return "", errors.New(errors.ErrConfig,
		fmt.Sprintf("Unknown password manager %q", name),
		"Use one of: "+strings.Join(BackendNames(), ", "))
}

// BackendNames lists the accepted backend names.
func BackendNames() []string {
	names := make([]string, 0, len(aliases))
	for alias := range aliases {
		names = append(names, alias)
	}
	sort.Strings(names)
	return names
}

// Backends returns the supported backends.
func Backends() []Backend {
	return []Backend{Bitwarden, OnePassword}
}

// DisplayName returns the password manager's name.
func (b Backend) DisplayName() string {
	return backends[b].Name
}

// Command returns the CLI executable name.
func (b Backend) Command() string {
	return backends[b].Command
}

// TokenEnv returns the environment variable holding the session or token.
func (b Backend) TokenEnv() string {
	return backends[b].TokenEnv
}

// InstallURL points at the CLI's install instructions.
func (b Backend) InstallURL() string {
	return backends[b].InstallURL
}

// LoginHint tells the user how to open a session.
func (b Backend) LoginHint() string {
	return backends[b].LoginHint
}

// Options are shared by all sources.
type Options struct {
	Runner Runner
	Logger logger.Logger
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

func (o Options) withDefaults() Options {
	if o.Runner == nil {
		o.Runner = ExecRunner{}
	}
	if o.Logger == nil {
		o.Logger = logger.Noop()
	}
	if o.Getenv == nil {
		o.Getenv = os.Getenv
	}
	return o
}

// New returns the Source for backend reading item.
func New(backend Backend, item string, opts Options) (Source, error) {
	if strings.TrimSpace(item) == "" {
		return nil, errors.New(errors.ErrConfig,
			"No vault item given",
			"Pass it as an argument (cscs-keygen fetch <backend> <item>) or set 'item' in the config")
	}

	opts = opts.withDefaults()
	switch backend {
	case Bitwarden:
		return &BitwardenSource{Item: item, opts: opts}, nil
	case OnePassword:
		return &OnePasswordSource{Item: item, opts: opts}, nil
	default:
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown password manager %q", backend),
			"Use one of: "+strings.Join(BackendNames(), ", "))
	}
}

// checkInstalled fails with CLINotInstalled when the backend's CLI is missing.
func checkInstalled(backend Backend, item string, opts Options) error {
	path, err := opts.Runner.LookPath(backend.Command())
	if err != nil {
		return credentialErr(backend, CLINotInstalled, item, err)
	}
	opts.Logger.Debug("using %s at %s", backend.Command(), path)
	return nil
}

// validate turns a parsed item into Credentials or an InvalidCredentials error.
func validate(backend Backend, item string, creds Credentials) (Credentials, error) {
	if err := creds.Validate(); err != nil {
		return Credentials{}, credentialErr(backend, InvalidCredentials, item, err)
	}
	return creds, nil
}
