// Package testing provides key material fixtures for tests.
package testing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// KeyPair is a freshly generated user key signed by a throwaway CA, encoded
// the way the key service returns it.
type KeyPair struct {
	PrivatePEM  []byte // OpenSSH private key
	PublicCert  []byte // authorized_keys line with the user certificate
	PublicKey   []byte // authorized_keys line with the bare public key
	Fingerprint string
	ValidBefore time.Time
	Signer      ssh.Signer
}

// NewKeyPair generates an ed25519 key and a user certificate valid until
// validBefore (second precision).
func NewKeyPair(t testing.TB, principal string, validBefore time.Time) *KeyPair {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate user key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("wrap user key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("user signer: %v", err)
	}

	_, caPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate CA key: %v", err)
	}
	caSigner, err := ssh.NewSignerFromKey(caPriv)
	if err != nil {
		t.Fatalf("CA signer: %v", err)
	}

	cert := &ssh.Certificate{
		Key:             sshPub,
		Serial:          1,
		CertType:        ssh.UserCert,
		KeyId:           principal,
		ValidPrincipals: []string{principal},
		ValidAfter:      uint64(validBefore.Add(-24 * time.Hour).Unix()),
		ValidBefore:     uint64(validBefore.Unix()),
	}
	if err := cert.SignCert(rand.Reader, caSigner); err != nil {
		t.Fatalf("sign certificate: %v", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, principal)
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}

	return &KeyPair{
		PrivatePEM:  pem.EncodeToMemory(block),
		PublicCert:  ssh.MarshalAuthorizedKey(cert),
		PublicKey:   ssh.MarshalAuthorizedKey(sshPub),
		Fingerprint: ssh.FingerprintSHA256(sshPub),
		ValidBefore: time.Unix(validBefore.Unix(), 0),
		Signer:      signer,
	}
}
