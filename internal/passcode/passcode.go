// Package passcode derives time-based one-time passwords (RFC 6238) from the
// TOTP seed stored in the password manager.
//
// Codes are 6 digits, HMAC-SHA1, 30-second steps counted from the Unix epoch,
// unless the seed is an otpauth:// URI that says otherwise. Clock skew is not
// compensated; the issuance service accepts the usual one-step tolerance.
//
// A Code remembers the step it was generated for. Next waits for a later
// step so that a retried request never carries a code that was already sent.
package passcode

import (
	"context"
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// DefaultPeriod is the TOTP step length.
	DefaultPeriod = 30 * time.Second
	// DefaultDigits is the code length.
	DefaultDigits = otp.DigitsSix
)

// Code is a one-time password together with the step it belongs to.
type Code struct {
	Value       string
	GeneratedAt time.Time
	Step        uint64
	Validity    time.Duration
}

// ExpiresAt is the start of the step following the code's step.
func (c Code) ExpiresAt() time.Time {
	return time.Unix(int64(c.Step+1)*int64(c.Validity/time.Second), 0)
}

// Stale reports whether the code's step has ended at now.
func (c Code) Stale(now time.Time) bool {
	return !now.Before(c.ExpiresAt())
}

// String hides the code so it never ends up in logs by accident.
func (c Code) String() string {
	return fmt.Sprintf("otp(step=%d)", c.Step)
}

// Generator produces codes for a single seed.
type Generator struct {
	secret    string
	period    time.Duration
	digits    otp.Digits
	algorithm otp.Algorithm
	clock     Clock
}

// NewGenerator validates seed and returns a generator bound to clock.
// A nil clock means SystemClock.
func NewGenerator(seed string, clock Clock) (*Generator, error) {
	if clock == nil {
		clock = SystemClock{}
	}

	g := &Generator{
		period:    DefaultPeriod,
		digits:    DefaultDigits,
		algorithm: otp.AlgorithmSHA1,
		clock:     clock,
	}

	trimmed := strings.TrimSpace(seed)
	if strings.HasPrefix(strings.ToLower(trimmed), "otpauth://") {
		key, err := otp.NewKeyFromURL(trimmed)
		if err != nil {
			return nil, fmt.Errorf("parse otpauth URI: %w", err)
		}
		trimmed = key.Secret()
		if p := key.Period(); p > 0 {
			g.period = time.Duration(p) * time.Second
		}
		if d := key.Digits(); d > 0 {
			g.digits = d
		}
		g.algorithm = key.Algorithm()
	}

	secret, err := NormalizeSeed(trimmed)
	if err != nil {
		return nil, err
	}
	g.secret = secret

	return g, nil
}

// NormalizeSeed strips spaces and dashes, upper-cases, and checks that the
// result decodes as base32 (padding optional).
func NormalizeSeed(seed string) (string, error) {
	s := strings.ToUpper(strings.NewReplacer(" ", "", "-", "", "\t", "").Replace(strings.TrimSpace(seed)))
	if s == "" {
		return "", fmt.Errorf("TOTP seed is empty")
	}

	padded := s
	if n := len(padded) % 8; n != 0 {
		padded += strings.Repeat("=", 8-n)
	}
	if _, err := base32.StdEncoding.DecodeString(padded); err != nil {
		return "", fmt.Errorf("TOTP seed is not valid base32: %w", err)
	}

	return s, nil
}

// Period returns the step length.
func (g *Generator) Period() time.Duration { return g.period }

// StepAt returns the step index for t.
func (g *Generator) StepAt(t time.Time) uint64 {
	secs := t.Unix()
	if secs < 0 {
		return 0
	}
	return uint64(secs) / uint64(g.period/time.Second)
}

// At generates the code for the step containing t.
func (g *Generator) At(t time.Time) (Code, error) {
	value, err := totp.GenerateCodeCustom(g.secret, t, totp.ValidateOpts{
		Period:    uint(g.period / time.Second),
		Digits:    g.digits,
		Algorithm: g.algorithm,
	})
	if err != nil {
		return Code{}, fmt.Errorf("generate TOTP code: %w", err)
	}

	return Code{
		Value:       value,
		GeneratedAt: t,
		Step:        g.StepAt(t),
		Validity:    g.period,
	}, nil
}

// Generate returns the code for the current clock time.
func (g *Generator) Generate() (Code, error) {
	return g.At(g.clock.Now())
}

// Next returns a code for a step strictly after prev.Step, sleeping on the
// generator's clock until that step begins if necessary.
func (g *Generator) Next(ctx context.Context, prev Code) (Code, error) {
	for {
		now := g.clock.Now()
		if g.StepAt(now) > prev.Step {
			return g.At(now)
		}

		wait := time.Unix(int64(prev.Step+1)*int64(g.period/time.Second), 0).Sub(now)
		if wait <= 0 {
			wait = time.Millisecond
		}
		if err := g.clock.Sleep(ctx, wait); err != nil {
			return Code{}, err
		}
	}
}
