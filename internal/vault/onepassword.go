package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// OnePasswordSource reads an item with the op CLI, using either a service
// account token or an interactive session.
type OnePasswordSource struct {
	Item string
	opts Options
}

type opItem struct {
	Fields []opField `json:"fields"`
}

type opField struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Purpose string `json:"purpose"`
	Label   string `json:"label"`
	Value   string `json:"value"`
}

// Name implements Source.
func (s *OnePasswordSource) Name() string { return OnePassword.DisplayName() }

// Fetch implements Source.
func (s *OnePasswordSource) Fetch(ctx context.Context) (Credentials, error) {
	if err := checkInstalled(OnePassword, s.Item, s.opts); err != nil {
		return Credentials{}, err
	}
	if err := s.ensureSession(ctx); err != nil {
		return Credentials{}, err
	}

	s.opts.Logger.Debug("op item get %q", s.Item)
	out, err := s.opts.Runner.Run(ctx, "op", "item", "get", s.Item, "--format", "json")
	if err != nil {
		return Credentials{}, s.classify(err)
	}

	var item opItem
	if err := json.Unmarshal(out, &item); err != nil {
		return Credentials{}, credentialErr(OnePassword, CommandFailed, s.Item,
			fmt.Errorf("decode op output: %w", err))
	}

	return validate(OnePassword, s.Item, Credentials{
		Username:   strings.TrimSpace(item.field("USERNAME", "username")),
		Password:   item.field("PASSWORD", "password"),
		TOTPSeed:   strings.TrimSpace(item.otp()),
		Passphrase: item.field("", "passphrase"),
	})
}

// ensureSession accepts a service account token as is; otherwise an
// interactive session must already exist.
func (s *OnePasswordSource) ensureSession(ctx context.Context) error {
	if s.opts.Getenv(OnePassword.TokenEnv()) != "" {
		return nil
	}
	if _, err := s.opts.Runner.Run(ctx, "op", "whoami"); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return credentialErr(OnePassword, NotAuthenticated, s.Item, err)
	}
	return nil
}

// field finds a field by purpose first, then by label.
func (i opItem) field(purpose, label string) string {
	if purpose != "" {
		for _, f := range i.Fields {
			if f.Purpose == purpose {
				return f.Value
			}
		}
	}
	for _, f := range i.Fields {
		if strings.EqualFold(f.Label, label) {
			return f.Value
		}
	}
	return ""
}

// otp returns the value of the first one-time password field, which op
// reports as the otpauth:// URI or the raw secret.
func (i opItem) otp() string {
	for _, f := range i.Fields {
		if f.Type == "OTP" {
			return f.Value
		}
	}
	for _, f := range i.Fields {
		if strings.EqualFold(f.Label, "totp") || strings.EqualFold(f.Label, "one-time password") {
			return f.Value
		}
	}
	return ""
}

func (s *OnePasswordSource) classify(err error) error {
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return credentialErr(OnePassword, CommandFailed, s.Item, err)
	}

	stderr := strings.ToLower(exitErr.Stderr)
	switch {
	case strings.Contains(stderr, "isn't an item"),
		strings.Contains(stderr, "not found"):
		return credentialErr(OnePassword, ItemNotFound, s.Item, err)
	case strings.Contains(stderr, "not currently signed in"),
		strings.Contains(stderr, "not signed in"),
		strings.Contains(stderr, "session expired"),
		strings.Contains(stderr, "authorization"):
		return credentialErr(OnePassword, NotAuthenticated, s.Item, err)
	default:
		return credentialErr(OnePassword, CommandFailed, s.Item, err)
	}
}
