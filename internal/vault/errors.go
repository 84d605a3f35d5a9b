package vault

import (
	"fmt"

	"github.com/cscs-keygen/cscs-keygen/internal/errors"
)

// Kind classifies a credential failure.
type Kind string

const (
	CLINotInstalled    Kind = "cli-not-installed"
	NotAuthenticated   Kind = "not-authenticated"
	ItemNotFound       Kind = "item-not-found"
	InvalidCredentials Kind = "invalid-credentials"
	CommandFailed      Kind = "command-failed"
)

// CredentialError is any failure to obtain credentials. It is always fatal:
// no key request is made after one.
type CredentialError struct {
	Backend string
	Kind    Kind
	Err     error
}

func (e *CredentialError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Backend, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Kind, e.Err)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// credentialErr builds the coded error reported to the user.
func credentialErr(backend Backend, kind Kind, item string, err error) error {
	info := backends[backend]
	ce := &CredentialError{Backend: info.Name, Kind: kind, Err: err}

	var message, suggestion string
	switch kind {
	case CLINotInstalled:
		message = fmt.Sprintf("Can't find the %s CLI (%s)", info.Name, info.Command)
		suggestion = "Install it: " + info.InstallURL
	case NotAuthenticated:
		message = fmt.Sprintf("%s vault is locked or you never logged in", info.Name)
		suggestion = info.LoginHint
	case ItemNotFound:
		message = fmt.Sprintf("No %s item named %q", info.Name, item)
		suggestion = "Check the item name or ID (cscs-keygen fetch <backend> <item>)"
	case InvalidCredentials:
		message = fmt.Sprintf("The %s item %q doesn't hold usable CSCS credentials", info.Name, item)
		suggestion = "The item needs a username, a password and a one-time password (TOTP) secret"
	default:
		message = fmt.Sprintf("Reading %q from %s failed", item, info.Name)
		suggestion = "Run with -vv for details, or try the command by hand"
	}

	return errors.WrapWithCode(ce, errors.ErrCredential, message, suggestion)
}
