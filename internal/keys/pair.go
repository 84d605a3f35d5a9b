package keys

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cscs-keygen/cscs-keygen/internal/errors"
)

// File names inside the key directory.
const (
	PrivateKeyName  = "cscs-key"
	CertificateName = "cscs-key-cert.pub"
)

// Pair locates the CSCS key files in a directory.
type Pair struct {
	Dir string
}

// DefaultDir returns ~/.ssh.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("~", ".ssh")
	}
	return filepath.Join(home, ".ssh")
}

// NewPair returns the pair stored in dir, expanding a leading ~.
// An empty dir means DefaultDir.
func NewPair(dir string) Pair {
	if dir == "" {
		return Pair{Dir: DefaultDir()}
	}
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, dir[1:])
		}
	}
	return Pair{Dir: dir}
}

// PrivatePath is the path of the private key.
func (p Pair) PrivatePath() string {
	return filepath.Join(p.Dir, PrivateKeyName)
}

// CertificatePath is the path of the signed public key.
func (p Pair) CertificatePath() string {
	return filepath.Join(p.Dir, CertificateName)
}

// Exists reports whether either file of the pair is present.
func (p Pair) Exists() bool {
	return fileExists(p.PrivatePath()) || fileExists(p.CertificatePath())
}

// Complete reports whether both files are present.
func (p Pair) Complete() bool {
	return fileExists(p.PrivatePath()) && fileExists(p.CertificatePath())
}

// ModTime returns the private key's modification time.
func (p Pair) ModTime() (time.Time, error) {
	fi, err := os.Stat(p.PrivatePath())
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

// Load reads both files. The private key is returned as stored, encrypted
// or not.
func (p Pair) Load() (*Material, error) {
	private, err := os.ReadFile(p.PrivatePath())
	if err != nil {
		return nil, missingOrUnreadable(err, p.PrivatePath())
	}
	public, err := os.ReadFile(p.CertificatePath())
	if err != nil {
		return nil, missingOrUnreadable(err, p.CertificatePath())
	}

	modTime, err := p.ModTime()
	if err != nil {
		return nil, missingOrUnreadable(err, p.PrivatePath())
	}

	m, err := LoadMaterial(public, private, modTime)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrInstall,
			"The stored key pair is damaged",
			"Fetch a new pair: cscs-keygen fetch --force")
	}
	return m, nil
}

func missingOrUnreadable(err error, path string) error {
	if os.IsNotExist(err) {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("No key at %s", path),
			"Fetch a key pair first: cscs-keygen fetch")
	}
	return errors.WrapWithCode(err, errors.ErrInstall,
		fmt.Sprintf("Couldn't read %s", path),
		"Check the file permissions")
}

func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
