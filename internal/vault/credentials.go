package vault

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cscs-keygen/cscs-keygen/internal/passcode"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_-]{2,15}$`)

// Credentials are what the key service needs to issue a key. They live for
// one exchange and are never written anywhere.
type Credentials struct {
	Username string
	Password string
	// TOTPSeed is a base32 secret or an otpauth:// URI.
	TOTPSeed string
	// Passphrase, when set, protects the private key on disk.
	Passphrase string
}

// Validate checks the fields the key service will reject anyway, so a typo
// in the vault item fails before a network call.
func (c Credentials) Validate() error {
	if !usernamePattern.MatchString(c.Username) {
		return fmt.Errorf("username %q is not a valid CSCS username", c.Username)
	}
	if c.Password == "" {
		return fmt.Errorf("password is empty")
	}
	if strings.TrimSpace(c.TOTPSeed) == "" {
		return fmt.Errorf("TOTP seed is empty")
	}
	if _, err := passcode.NewGenerator(c.TOTPSeed, nil); err != nil {
		return err
	}
	return nil
}

// String redacts everything but the username.
func (c Credentials) String() string {
	return fmt.Sprintf("credentials(%s)", c.Username)
}

// GoString keeps %#v from printing secrets.
func (c Credentials) GoString() string {
	return c.String()
}
