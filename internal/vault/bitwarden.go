package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// BitwardenSource reads a login item with the bw CLI. The vault must be
// unlocked and BW_SESSION exported.
type BitwardenSource struct {
	Item string
	opts Options
}

type bwItem struct {
	Login struct {
		Username string `json:"username"`
		Password string `json:"password"`
		TOTP     string `json:"totp"`
	} `json:"login"`
	Fields []bwField `json:"fields"`
}

type bwField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  int    `json:"type"`
}

// Name implements Source.
func (s *BitwardenSource) Name() string { return Bitwarden.DisplayName() }

// Fetch implements Source.
func (s *BitwardenSource) Fetch(ctx context.Context) (Credentials, error) {
	if err := checkInstalled(Bitwarden, s.Item, s.opts); err != nil {
		return Credentials{}, err
	}
	if s.opts.Getenv(Bitwarden.TokenEnv()) == "" {
		return Credentials{}, credentialErr(Bitwarden, NotAuthenticated, s.Item,
			fmt.Errorf("%s is not set", Bitwarden.TokenEnv()))
	}

	s.opts.Logger.Debug("bw get item %q", s.Item)
	out, err := s.opts.Runner.Run(ctx, "bw", "get", "item", s.Item, "--raw")
	if err != nil {
		return Credentials{}, s.classify(err)
	}

	var item bwItem
	if err := json.Unmarshal(out, &item); err != nil {
		return Credentials{}, credentialErr(Bitwarden, CommandFailed, s.Item,
			fmt.Errorf("decode bw output: %w", err))
	}

	return validate(Bitwarden, s.Item, Credentials{
		Username:   strings.TrimSpace(item.Login.Username),
		Password:   item.Login.Password,
		TOTPSeed:   strings.TrimSpace(item.Login.TOTP),
		Passphrase: item.passphrase(),
	})
}

// passphrase prefers a custom field called "passphrase" and falls back to
// the first custom field.
func (i bwItem) passphrase() string {
	for _, f := range i.Fields {
		if strings.EqualFold(strings.TrimSpace(f.Name), "passphrase") {
			return f.Value
		}
	}
	if len(i.Fields) > 0 {
		return i.Fields[0].Value
	}
	return ""
}

func (s *BitwardenSource) classify(err error) error {
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return credentialErr(Bitwarden, CommandFailed, s.Item, err)
	}

	stderr := strings.ToLower(exitErr.Stderr)
	switch {
	case strings.Contains(stderr, "not found"):
		return credentialErr(Bitwarden, ItemNotFound, s.Item, err)
	case strings.Contains(stderr, "not logged in"),
		strings.Contains(stderr, "vault is locked"),
		strings.Contains(stderr, "session key is invalid"):
		return credentialErr(Bitwarden, NotAuthenticated, s.Item, err)
	default:
		return credentialErr(Bitwarden, CommandFailed, s.Item, err)
	}
}
