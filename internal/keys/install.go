package keys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cscs-keygen/cscs-keygen/internal/errors"
	"github.com/cscs-keygen/cscs-keygen/internal/logger"
)

// File and directory modes for the installed pair.
const (
	DirMode         os.FileMode = 0700
	PrivateKeyMode  os.FileMode = 0600
	CertificateMode os.FileMode = 0644
)

// Installer persists issued key material.
type Installer interface {
	Install(ctx context.Context, m *Material, opts InstallOptions) error
}

// InstallOptions control an install.
type InstallOptions struct {
	// Overwrite replaces an existing pair instead of refusing. The old
	// files stay in place until the new ones are written.
	Overwrite bool
}

// InstallError means the key was issued but could not be saved.
type InstallError struct {
	Path string
	Err  error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install %s: %v", e.Path, e.Err)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// FileInstaller writes the pair into Pair.Dir.
type FileInstaller struct {
	Pair   Pair
	Logger logger.Logger
}

// NewFileInstaller returns an installer for pair.
func NewFileInstaller(pair Pair, log logger.Logger) *FileInstaller {
	if log == nil {
		log = logger.Noop()
	}
	return &FileInstaller{Pair: pair, Logger: log}
}

// Install writes the private key and certificate. Either both new files end
// up in place or the directory is left as it was.
func (f *FileInstaller) Install(ctx context.Context, m *Material, opts InstallOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log := f.Logger
	if log == nil {
		log = logger.Noop()
	}

	if !opts.Overwrite && f.Pair.Exists() {
		return errors.New(errors.ErrKeysExist,
			fmt.Sprintf("A key pair already exists in %s", f.Pair.Dir),
			"Use --force to replace it")
	}

	if err := os.MkdirAll(f.Pair.Dir, DirMode); err != nil {
		return installErr(f.Pair.Dir, err, "Couldn't create the key directory")
	}

	privTmp, err := writeTemp(f.Pair.Dir, PrivateKeyName, m.PrivateKey, PrivateKeyMode)
	if err != nil {
		return installErr(f.Pair.PrivatePath(), err, "Couldn't write the private key")
	}
	certTmp, err := writeTemp(f.Pair.Dir, CertificateName, m.PublicKey, CertificateMode)
	if err != nil {
		os.Remove(privTmp)
		return installErr(f.Pair.CertificatePath(), err, "Couldn't write the certificate")
	}

	// The old private key is parked next to the new one so a failed
	// certificate rename can put it back.
	backup := ""
	if fileExists(f.Pair.PrivatePath()) {
		backup = privTmp + ".old"
		if err := os.Rename(f.Pair.PrivatePath(), backup); err != nil {
			os.Remove(privTmp)
			os.Remove(certTmp)
			return installErr(f.Pair.PrivatePath(), err, "Couldn't move the existing private key aside")
		}
	}
	restore := func() {
		if backup == "" {
			return
		}
		if err := os.Rename(backup, f.Pair.PrivatePath()); err != nil {
			log.Error("rollback: couldn't restore %s from %s: %v", f.Pair.PrivatePath(), backup, err)
		}
	}

	if err := os.Rename(privTmp, f.Pair.PrivatePath()); err != nil {
		os.Remove(privTmp)
		os.Remove(certTmp)
		restore()
		return installErr(f.Pair.PrivatePath(), err, "Couldn't move the private key into place")
	}
	log.Debug("wrote %s", f.Pair.PrivatePath())

	if err := os.Rename(certTmp, f.Pair.CertificatePath()); err != nil {
		os.Remove(certTmp)
		if rmErr := os.Remove(f.Pair.PrivatePath()); rmErr != nil {
			log.Error("rollback: couldn't remove %s: %v", f.Pair.PrivatePath(), rmErr)
		}
		restore()
		return installErr(f.Pair.CertificatePath(), err, "Couldn't move the certificate into place")
	}
	log.Debug("wrote %s", f.Pair.CertificatePath())

	if backup != "" {
		if err := os.Remove(backup); err != nil {
			log.Warn("couldn't remove %s: %v", backup, err)
		}
	}
	return nil
}

// writeTemp writes data to a new file next to its final name and returns
// the temporary path.
func writeTemp(dir, name string, data []byte, mode os.FileMode) (string, error) {
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return "", err
	}
	path := tmp.Name()

	fail := func(err error) (string, error) {
		tmp.Close()
		os.Remove(path)
		return "", err
	}

	if err := tmp.Chmod(mode); err != nil {
		return fail(err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return filepath.Clean(path), nil
}

func installErr(path string, err error, message string) error {
	return errors.WrapWithCode(&InstallError{Path: path, Err: err}, errors.ErrInstall,
		message,
		"The key was issued but not saved. Fix the problem and fetch again")
}
