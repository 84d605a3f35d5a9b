package keys

import (
	"bytes"
	"fmt"
	"time"

	"github.com/cscs-keygen/cscs-keygen/pkg/sshutil"
)

// DefaultValidity is how long CSCS keys stay valid when the public half
// carries no certificate expiry.
const DefaultValidity = 24 * time.Hour

// Material is a validated key pair as issued by the key service.
type Material struct {
	PublicKey  []byte
	PrivateKey []byte
	ExpiresAt  time.Time

	info      *sshutil.PublicKeyInfo
	encrypted bool
}

// NewMaterial validates the two halves returned by the service. issuedAt is
// used to derive the expiry when the public half is not a certificate.
func NewMaterial(public, private []byte, issuedAt time.Time) (*Material, error) {
	if len(bytes.TrimSpace(public)) == 0 {
		return nil, fmt.Errorf("public key is empty")
	}
	if len(bytes.TrimSpace(private)) == 0 {
		return nil, fmt.Errorf("private key is empty")
	}

	info, err := sshutil.ParsePublicKey(public)
	if err != nil {
		return nil, err
	}

	key, err := sshutil.ParsePrivateKey(private, "")
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	if !sshutil.MatchesPublicKey(key, info.Key) {
		return nil, fmt.Errorf("private key does not match public key %s", info.Fingerprint())
	}

	m := &Material{
		PublicKey:  public,
		PrivateKey: bytes.Clone(private),
		info:       info,
	}
	m.ExpiresAt = expiry(info, issuedAt)
	return m, nil
}

// LoadMaterial builds Material from files already on disk. The private key is
// not decrypted; passphrase-protected keys are accepted as they are.
func LoadMaterial(public, private []byte, modTime time.Time) (*Material, error) {
	info, err := sshutil.ParsePublicKey(public)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(private)) == 0 {
		return nil, fmt.Errorf("private key is empty")
	}

	return &Material{
		PublicKey:  public,
		PrivateKey: private,
		ExpiresAt:  expiry(info, modTime),
		info:       info,
		encrypted:  sshutil.IsEncryptedPEM(private),
	}, nil
}

// Info returns the parsed public half.
func (m *Material) Info() *sshutil.PublicKeyInfo {
	return m.info
}

// Fingerprint returns the SHA256 fingerprint of the key.
func (m *Material) Fingerprint() string {
	if m.info == nil {
		return ""
	}
	return m.info.Fingerprint()
}

// Encrypted reports whether the private key is passphrase-protected.
func (m *Material) Encrypted() bool {
	return m.encrypted
}

// Expired reports whether the pair is no longer valid at now.
func (m *Material) Expired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}

// Encrypt returns a copy whose private key is protected by passphrase.
// An empty passphrase returns m unchanged.
func (m *Material) Encrypt(passphrase string) (*Material, error) {
	if passphrase == "" || m.encrypted {
		return m, nil
	}

	comment := ""
	if m.info != nil && m.info.Cert != nil {
		comment = m.info.Cert.KeyId
	}

	enc, err := sshutil.EncryptPrivateKey(m.PrivateKey, passphrase, comment)
	if err != nil {
		return nil, err
	}

	out := *m
	out.PrivateKey = enc
	out.encrypted = true
	return &out, nil
}

// Zero overwrites the private key bytes. NewMaterial keeps its own copy, so
// the caller's buffer is not affected.
func (m *Material) Zero() {
	for i := range m.PrivateKey {
		m.PrivateKey[i] = 0
	}
}

// String never includes the private key.
func (m *Material) String() string {
	return fmt.Sprintf("key(%s, expires %s)", m.Fingerprint(), m.ExpiresAt.Format(time.RFC3339))
}

func expiry(info *sshutil.PublicKeyInfo, from time.Time) time.Time {
	if vb := info.ValidBefore(); !vb.IsZero() {
		return vb
	}
	return from.Add(DefaultValidity)
}
