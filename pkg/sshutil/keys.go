package sshutil

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"
)

// PublicKeyInfo describes the public half returned by the key service.
// For a signed key, Cert is set and Key is the certified key.
type PublicKeyInfo struct {
	Key     ssh.PublicKey
	Cert    *ssh.Certificate
	Comment string
}

// IsCertificate reports whether the public half is an SSH certificate.
func (p *PublicKeyInfo) IsCertificate() bool {
	return p.Cert != nil
}

// ValidBefore returns the certificate expiry, or the zero time when the key
// is not a certificate or the certificate never expires.
func (p *PublicKeyInfo) ValidBefore() time.Time {
	if p.Cert == nil || p.Cert.ValidBefore == ssh.CertTimeInfinity {
		return time.Time{}
	}
	return time.Unix(int64(p.Cert.ValidBefore), 0)
}

// Fingerprint returns the SHA256 fingerprint of the underlying key, the same
// value ssh-add -l and ssh-keygen -lf print.
func (p *PublicKeyInfo) Fingerprint() string {
	if p.Cert != nil {
		return ssh.FingerprintSHA256(p.Cert.Key)
	}
	return ssh.FingerprintSHA256(p.Key)
}

// ParsePublicKey parses a single authorized_keys line (plain key or certificate).
func ParsePublicKey(data []byte) (*PublicKeyInfo, error) {
	pub, comment, _, _, err := ssh.ParseAuthorizedKey(bytes.TrimSpace(data))
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	info := &PublicKeyInfo{Key: pub, Comment: comment}
	if cert, ok := pub.(*ssh.Certificate); ok {
		info.Cert = cert
		info.Key = cert.Key
	}
	return info, nil
}

// ParsePrivateKey parses an OpenSSH or PEM private key, decrypting it with
// passphrase when the key is encrypted.
func ParsePrivateKey(data []byte, passphrase string) (crypto.PrivateKey, error) {
	var (
		raw interface{}
		err error
	)
	if passphrase != "" && IsEncryptedPEM(data) {
		raw, err = ssh.ParseRawPrivateKeyWithPassphrase(data, []byte(passphrase))
	} else {
		raw, err = ssh.ParseRawPrivateKey(data)
	}
	if err != nil {
		return nil, err
	}
	return normalizePrivateKey(raw), nil
}

// EncryptPrivateKey re-encodes an unencrypted private key in OpenSSH format
// protected by passphrase.
func EncryptPrivateKey(data []byte, passphrase, comment string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("empty passphrase")
	}

	key, err := ParsePrivateKey(data, "")
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	block, err := ssh.MarshalPrivateKeyWithPassphrase(key, comment, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("encrypt private key: %w", err)
	}
	return pem.EncodeToMemory(block), nil
}

// MatchesPublicKey reports whether the private key belongs to pub.
func MatchesPublicKey(private crypto.PrivateKey, pub ssh.PublicKey) bool {
	signer, err := ssh.NewSignerFromKey(private)
	if err != nil {
		return false
	}
	return bytes.Equal(signer.PublicKey().Marshal(), pub.Marshal())
}

// IsEncryptedPEM checks if PEM data contains encryption markers.
func IsEncryptedPEM(data []byte) bool {
	if bytes.Contains(data, []byte("ENCRYPTED")) {
		return true
	}
	// OpenSSH format keeps the cipher name inside the base64 body.
	if _, err := ssh.ParseRawPrivateKey(data); err != nil {
		var missing *ssh.PassphraseMissingError
		return errors.As(err, &missing)
	}
	return false
}

// normalizePrivateKey turns *ed25519.PrivateKey (as returned by the OpenSSH
// parser) into the value type the marshal and signer functions expect.
func normalizePrivateKey(raw interface{}) crypto.PrivateKey {
	if k, ok := raw.(*ed25519.PrivateKey); ok {
		return *k
	}
	return raw
}
